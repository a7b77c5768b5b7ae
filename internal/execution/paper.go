package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"spot_trader/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CandleFetcher provides public market data to the paper venue.
type CandleFetcher interface {
	GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error)
}

type paperHolding struct {
	balance decimal.Decimal
	avg     decimal.Decimal
}

// PaperFill records one simulated execution.
type PaperFill struct {
	OrderID string
	Ticker  string
	Side    domain.Side
	Price   decimal.Decimal
	Volume  decimal.Decimal
	Fee     decimal.Decimal
	At      time.Time
}

// upbitOrder mirrors the exchange payload so paper orders parse like live ones.
type upbitOrder struct {
	UUID           string       `json:"uuid"`
	Side           string       `json:"side"`
	OrdType        string       `json:"ord_type"`
	State          string       `json:"state"`
	Market         string       `json:"market"`
	ExecutedVolume string       `json:"executed_volume"`
	PaidFee        string       `json:"paid_fee"`
	CreatedAt      string       `json:"created_at"`
	Trades         []upbitTrade `json:"trades"`
}

type upbitTrade struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
	Funds  string `json:"funds"`
}

// PaperExchange is an in-memory ExchangeClient that fills market orders
// immediately at the current price and charges the taker fee.
type PaperExchange struct {
	mu       sync.Mutex
	holdings map[string]*paperHolding
	orders   map[string]*domain.ExchangeOrder
	byClient map[string]string // identifier -> order id
	fills    []PaperFill
	fee      decimal.Decimal
	prices   domain.PriceSource
	candles  CandleFetcher
	logger   *slog.Logger
}

// NewPaperExchange creates a paper venue funded with cashKRW.
func NewPaperExchange(cashKRW, fee decimal.Decimal, prices domain.PriceSource, candles CandleFetcher) *PaperExchange {
	p := &PaperExchange{
		holdings: make(map[string]*paperHolding),
		orders:   make(map[string]*domain.ExchangeOrder),
		byClient: make(map[string]string),
		fee:      fee,
		prices:   prices,
		candles:  candles,
		logger:   slog.Default().With("module", "paper"),
	}
	p.Deposit("KRW", cashKRW)
	return p
}

var _ domain.ExchangeClient = (*PaperExchange)(nil)

// Deposit credits a currency balance.
func (p *PaperExchange) Deposit(currency string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holding(currency).balance = p.holding(currency).balance.Add(amount)
}

func (p *PaperExchange) holding(currency string) *paperHolding {
	h, ok := p.holdings[currency]
	if !ok {
		h = &paperHolding{}
		p.holdings[currency] = h
	}
	return h
}

// Seed loads every open ledger position into the paper balances so a
// restarted paper session reconciles against what it holds.
func (p *PaperExchange) Seed(ctx context.Context, ledger domain.TradeLedger) (int, error) {
	tickers, err := ledger.OpenTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("open tickers: %w", err)
	}

	positions := make([]domain.Position, 0, len(tickers))
	for _, ticker := range tickers {
		records, err := ledger.ListByTicker(ctx, ticker)
		if err != nil {
			return 0, fmt.Errorf("ledger read for %s: %w", ticker, err)
		}
		if pos := domain.ProjectPosition(ticker, records); pos.Exists() {
			positions = append(positions, pos)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pos := range positions {
		h := p.holding(domain.Currency(pos.Ticker))
		h.balance = pos.TotalQuantity
		h.avg = pos.WeightedAvgPrice
		p.logger.Info("📝 Paper holding restored", "ticker", pos.Ticker, "qty", pos.TotalQuantity.String(), "avg", pos.WeightedAvgPrice.String())
	}
	return len(positions), nil
}

// SubmitMarketOrder fills the whole order at the current price.
// A reused identifier is refused like on the exchange.
func (p *PaperExchange) SubmitMarketOrder(ctx context.Context, ticker string, side domain.Side, amount decimal.Decimal, identifier string) (string, error) {
	price, err := p.prices.CurrentPrice(ctx, ticker)
	if err != nil {
		return "", err
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, ticker)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.byClient[identifier]; identifier != "" && dup {
		return "", &domain.APIError{Status: 400, Name: "duplicate_identifier", Message: identifier}
	}

	krw := p.holding("KRW")
	coin := p.holding(domain.Currency(ticker))

	var volume, funds, fee decimal.Decimal
	var sideCode, ordType string

	switch side {
	case domain.SideBuy:
		funds = amount.Truncate(0)
		fee = funds.Mul(p.fee)
		if krw.balance.LessThan(funds.Add(fee)) {
			return "", &domain.APIError{Status: 400, Name: "insufficient_funds_bid", Message: "not enough KRW"}
		}
		volume = funds.Div(price).Truncate(8)
		if !volume.IsPositive() {
			return "", &domain.APIError{Status: 400, Name: "under_min_total_bid", Message: "order too small"}
		}
		krw.balance = krw.balance.Sub(funds).Sub(fee)
		cost := coin.avg.Mul(coin.balance).Add(funds)
		coin.balance = coin.balance.Add(volume)
		coin.avg = cost.Div(coin.balance)
		sideCode, ordType = "bid", "price"

	case domain.SideSell:
		volume = amount.Truncate(8)
		if coin.balance.LessThan(volume) || !volume.IsPositive() {
			return "", &domain.APIError{Status: 400, Name: "insufficient_funds_ask", Message: "not enough " + domain.Currency(ticker)}
		}
		funds = volume.Mul(price)
		fee = funds.Mul(p.fee)
		coin.balance = coin.balance.Sub(volume)
		if coin.balance.IsZero() {
			coin.avg = decimal.Zero
		}
		krw.balance = krw.balance.Add(funds).Sub(fee)
		sideCode, ordType = "ask", "market"

	default:
		return "", &domain.InvalidOrderError{Ticker: ticker, Reason: "unknown side " + string(side)}
	}

	id := uuid.NewString()
	now := time.Now()
	raw, err := json.Marshal(upbitOrder{
		UUID:           id,
		Side:           sideCode,
		OrdType:        ordType,
		State:          domain.ExchangeStateDone,
		Market:         ticker,
		ExecutedVolume: volume.String(),
		PaidFee:        fee.String(),
		CreatedAt:      now.Format(time.RFC3339),
		Trades:         []upbitTrade{{Price: price.String(), Volume: volume.String(), Funds: funds.String()}},
	})
	if err != nil {
		return "", err
	}

	if identifier != "" {
		p.byClient[identifier] = id
	}
	p.orders[id] = &domain.ExchangeOrder{
		ID:             id,
		State:          domain.ExchangeStateDone,
		ExecutedVolume: volume,
		Fills:          []domain.Fill{{Price: price, Volume: volume}},
		Raw:            raw,
	}
	p.fills = append(p.fills, PaperFill{OrderID: id, Ticker: ticker, Side: side, Price: price, Volume: volume, Fee: fee, At: now})

	p.logger.Info("📝 Paper fill", "ticker", ticker, "side", side, "price", price.String(), "volume", volume.String())
	return id, nil
}

func (p *PaperExchange) GetOrder(_ context.Context, orderID string) (*domain.ExchangeOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, &domain.APIError{Status: 404, Name: "order_not_found", Message: orderID}
	}
	cp := *o
	cp.Fills = append([]domain.Fill(nil), o.Fills...)
	return &cp, nil
}

func (p *PaperExchange) GetOrderByIdentifier(ctx context.Context, identifier string) (*domain.ExchangeOrder, error) {
	p.mu.Lock()
	id, ok := p.byClient[identifier]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: identifier=%s", domain.ErrOrderNotFound, identifier)
	}
	return p.GetOrder(ctx, id)
}

func (p *PaperExchange) GetBalance(_ context.Context, currency string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.holdings[currency]; ok {
		return h.balance, nil
	}
	return decimal.Zero, nil
}

func (p *PaperExchange) GetAccounts(_ context.Context) ([]domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accounts := make([]domain.Account, 0, len(p.holdings))
	for cur, h := range p.holdings {
		if h.balance.IsZero() {
			continue
		}
		accounts = append(accounts, domain.Account{Currency: cur, Balance: h.balance, AvgBuyPrice: h.avg})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Currency < accounts[j].Currency })
	return accounts, nil
}

func (p *PaperExchange) GetCurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return p.prices.CurrentPrice(ctx, ticker)
}

func (p *PaperExchange) GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error) {
	if p.candles == nil {
		return nil, fmt.Errorf("paper venue has no candle source for %s", ticker)
	}
	return p.candles.GetDailyCandles(ctx, ticker, count)
}

// GetFills returns a copy of the simulated executions
func (p *PaperExchange) GetFills() []PaperFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperFill(nil), p.fills...)
}
