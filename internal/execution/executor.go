package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spot_trader/internal/domain"
	"spot_trader/internal/event"
	"spot_trader/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds the executor limits.
type Config struct {
	MinBuyKRW     decimal.Decimal
	MinSellKRW    decimal.Decimal
	MinPyramidKRW decimal.Decimal
	TakerFee      decimal.Decimal
	SettleDelay   time.Duration
	Retry         domain.RetryPolicy
}

// ConfigFrom builds executor limits from the application config.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		MinBuyKRW:     cfg.Trading.MinBuyKRW,
		MinSellKRW:    cfg.Trading.MinSellKRW,
		MinPyramidKRW: cfg.Trading.MinPyramidKRW,
		TakerFee:      cfg.Trading.TakerFee,
		SettleDelay:   time.Duration(cfg.Trading.SettleSec) * time.Second,
		Retry:         cfg.RetryPolicy(),
	}
}

// statusFetchTimeout bounds the status check once an order is on the exchange,
// even if the caller's context was cancelled during settle.
const statusFetchTimeout = 15 * time.Second

// Executor turns sized order intents into exchange orders and ledger rows.
// Every call ends in exactly one ledger row and one OrderResult.
type Executor struct {
	client   domain.ExchangeClient
	ledger   domain.TradeLedger
	notifier event.Notifier
	metrics  *infra.Metrics
	cfg      Config

	mu       sync.Mutex
	inFlight map[string]struct{}

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	logger *slog.Logger
}

// NewExecutor creates a new order executor
func NewExecutor(client domain.ExchangeClient, ledger domain.TradeLedger, notifier event.Notifier, metrics *infra.Metrics, cfg Config) *Executor {
	if notifier == nil {
		notifier = event.Nop{}
	}
	return &Executor{
		client:   client,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		inFlight: make(map[string]struct{}),
		sleep:    sleepCtx,
		now:      time.Now,
		logger:   slog.Default().With("module", "executor"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SubmitMarketOrder runs one order through pre-check, submit, settle, status
// fetch and classification, then writes the ledger and notifies.
func (e *Executor) SubmitMarketOrder(ctx context.Context, req domain.OrderRequest) domain.OrderResult {
	if req.Action == "" {
		req.Action = domain.ActionBuy
		if req.Side == domain.SideSell {
			req.Action = domain.ActionSell
		}
	}

	order := domain.Order{
		ClientOrderID:   uuid.NewString(),
		Ticker:          req.Ticker,
		Side:            req.Side,
		RequestedAmount: req.Amount,
		State:           domain.OrderStateSubmitted,
		CreatedAt:       e.now(),
	}

	if !e.acquire(req.Ticker) {
		return e.finish(ctx, req, e.skip(order, "order already in flight"))
	}
	defer e.release(req.Ticker)

	return e.finish(ctx, req, e.execute(ctx, req, order))
}

func (e *Executor) acquire(ticker string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[ticker]; busy {
		return false
	}
	e.inFlight[ticker] = struct{}{}
	return true
}

func (e *Executor) release(ticker string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, ticker)
}

func (e *Executor) skip(order domain.Order, reason string) domain.OrderResult {
	order.State = domain.OrderStateSkipped
	return domain.OrderResult{
		Status: domain.StatusSkipped,
		Kind:   domain.KindInvalidOrder,
		Order:  order,
		Err:    &domain.InvalidOrderError{Ticker: order.Ticker, Reason: reason},
	}
}

func (e *Executor) fail(order domain.Order, kind domain.ErrorKind, err error, raw string) domain.OrderResult {
	order.State = domain.OrderStateFailed
	return domain.OrderResult{
		Status: domain.StatusFailure,
		Kind:   kind,
		Order:  order,
		Err:    err,
		Raw:    raw,
	}
}

// precheck validates size limits without touching the network.
func (e *Executor) precheck(req domain.OrderRequest) string {
	if req.Ticker == "" {
		return "empty ticker"
	}
	switch req.Side {
	case domain.SideBuy:
		minAmount := e.cfg.MinBuyKRW
		if req.Action == domain.ActionPyramidBuy {
			minAmount = e.cfg.MinPyramidKRW
		}
		if req.Amount.LessThan(minAmount) {
			return fmt.Sprintf("buy amount %s below minimum %s KRW", req.Amount.StringFixed(0), minAmount.String())
		}
	case domain.SideSell:
		if !req.Amount.IsPositive() {
			return "sell quantity must be positive"
		}
		if req.ReferencePrice.IsPositive() {
			notional := req.Amount.Mul(req.ReferencePrice)
			if notional.LessThan(e.cfg.MinSellKRW) {
				return fmt.Sprintf("sell notional %s below minimum %s KRW", notional.StringFixed(0), e.cfg.MinSellKRW.String())
			}
		}
	default:
		return "unknown side " + string(req.Side)
	}
	return ""
}

func (e *Executor) execute(ctx context.Context, req domain.OrderRequest, order domain.Order) domain.OrderResult {
	if reason := e.precheck(req); reason != "" {
		return e.skip(order, reason)
	}

	amount := req.Amount
	switch req.Side {
	case domain.SideSell:
		var balance decimal.Decimal
		_, err := e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			balance, err = e.client.GetBalance(ctx, domain.Currency(req.Ticker))
			return err
		})
		if err != nil {
			return e.fail(order, domain.KindOf(err), fmt.Errorf("balance check failed: %w", err), "")
		}
		if !balance.IsPositive() {
			return e.skip(order, "no balance to sell")
		}
		if amount.GreaterThan(balance) {
			e.logger.Warn("sell quantity capped to balance", "ticker", req.Ticker, "requested", amount.String(), "balance", balance.String())
			amount = balance
		}
	case domain.SideBuy:
		// 수수료 포함 금액이 요청 금액을 넘지 않도록 조정
		amount = amount.Div(decimal.NewFromInt(1).Add(e.cfg.TakerFee)).Floor()
	}
	order.RequestedAmount = amount

	orderID, err := e.submit(ctx, req, order.ClientOrderID, amount)
	if err != nil {
		kind := domain.KindOf(err)
		var unresolved *unresolvedSubmit
		if errors.As(err, &unresolved) {
			kind = domain.KindUnknownOrderState
		}
		return e.fail(order, kind, err, "")
	}
	order.ID = orderID

	// The order is live; a cancelled caller must not lose its fills.
	_ = e.sleep(ctx, e.cfg.SettleDelay)
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusFetchTimeout)
	defer cancel()

	var xo *domain.ExchangeOrder
	_, err = e.cfg.Retry.Do(fetchCtx, func(ctx context.Context) error {
		var err error
		xo, err = e.client.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return e.fail(order, domain.KindUnknownOrderState, fmt.Errorf("order %s status unresolved: %w", orderID, err), "")
	}

	return e.classify(fetchCtx, req, order, xo)
}

// submit places the order under one client identifier for every attempt.
// After a retriable failure the order may already be live, so the identifier
// is looked up before placing again.
func (e *Executor) submit(ctx context.Context, req domain.OrderRequest, identifier string, amount decimal.Decimal) (string, error) {
	var (
		orderID   string
		ambiguous bool
	)
	attempts, err := e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		if ambiguous {
			id, found, err := e.lookup(ctx, identifier)
			if err != nil {
				return err
			}
			if found {
				orderID = id
				return nil
			}
		}
		var err error
		orderID, err = e.client.SubmitMarketOrder(ctx, req.Ticker, req.Side, amount, identifier)
		if err != nil && (domain.IsRetriable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			ambiguous = true
		}
		return err
	})
	if err == nil {
		return orderID, nil
	}

	if ambiguous {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusFetchTimeout)
		id, found, lookupErr := e.lookup(lookupCtx, identifier)
		cancel()
		switch {
		case lookupErr != nil:
			e.logger.Error("🚨 order state unknown after submit failure", "ticker", req.Ticker, "identifier", identifier, "error", lookupErr)
			return "", &unresolvedSubmit{identifier: identifier, submitErr: err, lookupErr: lookupErr}
		case found:
			e.logger.Warn("⚠️ order was placed despite submit error", "ticker", req.Ticker, "identifier", identifier, "order_id", id, "error", err)
			return id, nil
		}
	}

	e.logger.Error("❌ order submit failed", "ticker", req.Ticker, "side", req.Side, "identifier", identifier, "attempts", attempts, "error", err)
	return "", err
}

// lookup reports whether an order with identifier exists on the exchange.
func (e *Executor) lookup(ctx context.Context, identifier string) (string, bool, error) {
	xo, err := e.client.GetOrderByIdentifier(ctx, identifier)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return xo.ID, true, nil
}

// unresolvedSubmit is a submit failure where the exchange could not say
// whether the order exists.
type unresolvedSubmit struct {
	identifier string
	submitErr  error
	lookupErr  error
}

func (u *unresolvedSubmit) Error() string {
	return fmt.Sprintf("order %s state unresolved: submit: %v; lookup: %v", u.identifier, u.submitErr, u.lookupErr)
}

func (u *unresolvedSubmit) Unwrap() []error {
	return []error{u.submitErr, u.lookupErr}
}

func (e *Executor) classify(ctx context.Context, req domain.OrderRequest, order domain.Order, xo *domain.ExchangeOrder) domain.OrderResult {
	avg, fillVolume, hasFills := xo.AverageFillPrice()
	executed := xo.ExecutedVolume
	if !executed.IsPositive() {
		executed = fillVolume
	}

	if !executed.IsPositive() {
		res := e.fail(order, domain.KindUnknownOrderState,
			fmt.Errorf("order %s ended in state %q with nothing executed", xo.ID, xo.State), string(xo.Raw))
		if xo.State == domain.ExchangeStateCancel {
			res.Order.State = domain.OrderStateCancelled
		}
		return res
	}

	order.ExecutedQty = executed
	if !hasFills {
		avg = e.fallbackPrice(ctx, req)
	}
	if !avg.IsPositive() {
		// 체결가 없이 성공으로 기록하면 원가가 0이 된다
		e.logger.Error("🚨 executed order has no fill price", "ticker", req.Ticker, "order_id", xo.ID, "executed", executed.String())
		return e.fail(order, domain.KindUnknownOrderState,
			fmt.Errorf("order %s executed %s but fill price is unknown: %w", xo.ID, executed.String(), domain.ErrPriceUnavailable), string(xo.Raw))
	}
	order.ExecutedAvgPrice = avg

	if xo.State == domain.ExchangeStateDone {
		order.State = domain.OrderStateFilled
		return domain.OrderResult{Status: domain.StatusSuccess, Kind: domain.KindNone, Order: order, Raw: string(xo.Raw)}
	}

	// cancel with fills, or still open: keep what executed
	order.State = domain.OrderStatePartiallyFilled
	return domain.OrderResult{
		Status: domain.StatusSuccessPartial,
		Kind:   domain.KindPartialExecution,
		Order:  order,
		Err:    fmt.Errorf("order %s %s with %s executed", xo.ID, xo.State, executed.String()),
		Raw:    string(xo.Raw),
	}
}

func (e *Executor) fallbackPrice(ctx context.Context, req domain.OrderRequest) decimal.Decimal {
	if req.ReferencePrice.IsPositive() {
		return req.ReferencePrice
	}
	var price decimal.Decimal
	_, err := e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		price, err = e.client.GetCurrentPrice(ctx, req.Ticker)
		return err
	})
	if err != nil {
		e.logger.Error("no fill price available", "ticker", req.Ticker, "error", err)
		return decimal.Zero
	}
	return price
}

// finish writes the ledger row, then metrics and notifications.
func (e *Executor) finish(ctx context.Context, req domain.OrderRequest, res domain.OrderResult) domain.OrderResult {
	rec := &domain.TradeRecord{
		Ticker:        req.Ticker,
		Action:        req.Action,
		Qty:           decimal.Zero,
		Price:         decimal.Zero,
		ExecutedAt:    e.now(),
		Status:        res.Status,
		StrategyCombo: req.Reason,
		OrderID:       res.Order.ID,
	}
	if res.Status.Filled() {
		rec.Qty = res.Order.ExecutedQty
		rec.Price = res.Order.ExecutedAvgPrice
	}
	switch {
	case res.Raw != "" && res.Status == domain.StatusFailure:
		rec.Detail = res.Raw
	case res.Err != nil:
		rec.Detail = res.Err.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.ledger.Append(writeCtx, rec); err != nil {
		res.LedgerErr = err
		e.logger.Error("🚨 ledger write failed", "ticker", req.Ticker, "order_id", res.Order.ID, "status", res.Status, "error", err)
	}

	e.metrics.RecordOrder(string(req.Side), string(res.Status))
	e.log(req, res)

	var evType event.Type
	switch res.Status {
	case domain.StatusSuccess:
		evType = event.TypeOrderSuccess
	case domain.StatusSuccessPartial:
		evType = event.TypeOrderPartial
	case domain.StatusFailure:
		evType = event.TypeOrderFailure
	default:
		return res
	}
	e.notifier.Notify(ctx, event.Event{
		Ticker: req.Ticker,
		Type:   evType,
		Detail: fmt.Sprintf("%s %s qty=%s avg=%s reason=%s", req.Action, res.Order.ID, res.Order.ExecutedQty.String(), res.Order.ExecutedAvgPrice.String(), req.Reason),
		At:     rec.ExecutedAt,
	})
	return res
}

func (e *Executor) log(req domain.OrderRequest, res domain.OrderResult) {
	attrs := []any{
		"ticker", req.Ticker,
		"action", req.Action,
		"status", res.Status,
		"kind", res.Kind.String(),
		"qty", res.Order.ExecutedQty.String(),
		"avg", res.Order.ExecutedAvgPrice.String(),
	}
	switch res.Status {
	case domain.StatusSuccess:
		e.logger.Info("✅ order filled", attrs...)
	case domain.StatusSuccessPartial:
		e.logger.Warn("⚠️ order partially filled", append(attrs, "error", res.Err)...)
	case domain.StatusFailure:
		e.logger.Error("❌ order failed", append(attrs, "error", res.Err)...)
	default:
		e.logger.Info("order skipped", append(attrs, "error", res.Err)...)
	}
}
