package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"spot_trader/internal/domain"
	"spot_trader/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	wsURL        = "wss://api.upbit.com/websocket/v1"
	maxRetries   = 10
	baseDelay    = 1 * time.Second
	maxDelay     = 60 * time.Second
	readTimeout  = 60 * time.Second
	maxSubscribe = 50
)

// tickerResponse represents Upbit WebSocket ticker response
type tickerResponse struct {
	Type string `json:"type"` // ticker
	Code string `json:"code"` // KRW-BTC

	TradePrice        float64 `json:"trade_price"`
	SignedChangeRate  float64 `json:"signed_change_rate"`
	AccTradeVolume24h float64 `json:"acc_trade_volume_24h"`
	Timestamp         int64   `json:"timestamp"`
}

// TickerSink receives parsed quotes.
type TickerSink interface {
	Update(t domain.Ticker)
}

// Worker handles Upbit WebSocket connection
type Worker struct {
	url       string
	markets   []string
	sink      TickerSink
	metrics   *infra.Metrics
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a new Upbit price feed worker. markets are KRW market codes.
func NewWorker(url string, markets []string, sink TickerSink, metrics *infra.Metrics) *Worker {
	if url == "" {
		url = wsURL
	}
	if len(markets) > maxSubscribe {
		markets = markets[:maxSubscribe]
	}
	return &Worker{
		url:     url,
		markets: markets,
		sink:    sink,
		metrics: metrics,
	}
}

var _ domain.ExchangeWorker = (*Worker)(nil)

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Upbit panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Upbit connection loop stopped")
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Upbit connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount, baseDelay, maxDelay)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		w.readLoop(ctx)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.metrics.SetConnected(true)

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("✅ Upbit Connected", slog.Int("subs", len(w.markets)))
	return nil
}

func (w *Worker) subscribe() error {
	msg := []map[string]interface{}{
		{"ticket": fmt.Sprintf("spot-trader-%d", time.Now().UnixNano())},
		{"type": "ticker", "codes": w.markets},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Upbit WebSocket read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var resp tickerResponse
	if json.Unmarshal(msg, &resp) != nil || resp.Type != "ticker" || resp.TradePrice <= 0 {
		return
	}

	ts := time.Now()
	if resp.Timestamp > 0 {
		ts = time.UnixMilli(resp.Timestamp)
	}

	w.sink.Update(domain.Ticker{
		Market:     resp.Code,
		Price:      decimal.NewFromFloat(resp.TradePrice),
		Volume:     decimal.NewFromFloat(resp.AccTradeVolume24h),
		ChangeRate: decimal.NewFromFloat(resp.SignedChangeRate * 100), // Convert to percentage
		UpdatedAt:  ts,
	})
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
	w.metrics.SetConnected(false)
}

// Disconnect closes the WebSocket connection
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	slog.Info("Upbit WebSocket disconnected")
}

// IsConnected returns connection status
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
