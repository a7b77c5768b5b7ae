package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("module", "notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) {
	level := slog.LevelInfo
	if ev.Type == TypeOrderFailure {
		level = slog.LevelWarn
	}
	n.logger.Log(context.Background(), level, "📣 "+string(ev.Type),
		slog.String("ticker", ev.Ticker),
		slog.String("detail", ev.Detail),
		slog.Time("at", ev.At),
	)
}

// WebhookNotifier posts events to a Discord/Slack compatible webhook
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     slog.Default().With("module", "webhook"),
	}
}

// Send posts one event and reports delivery errors.
func (n *WebhookNotifier) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(map[string]interface{}{
		"content": ev.String(),
		"event":   ev,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

// Notify sends and logs failures; delivery problems never reach the trading path.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) {
	if err := n.Send(ctx, ev); err != nil {
		n.logger.Warn("webhook delivery failed", "type", ev.Type, "ticker", ev.Ticker, "error", err)
	}
}

// Dispatcher fans events out to every sink from a single background goroutine.
// Notify only enqueues; a full inbox drops the event with a warning.
type Dispatcher struct {
	inbox  chan Event
	sinks  []Notifier
	logger *slog.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(buffer int, sinks ...Notifier) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		inbox:  make(chan Event, buffer),
		sinks:  sinks,
		logger: slog.Default().With("module", "dispatcher"),
	}
}

// Start runs the fan-out loop until ctx is done or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				d.drain()
				return
			case ev, ok := <-d.inbox:
				if !ok {
					return
				}
				d.deliver(ev)
			}
		}
	}()
}

func (d *Dispatcher) Notify(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.inbox <- ev:
	default:
		d.logger.Warn("notifier inbox full, event dropped", "type", ev.Type, "ticker", ev.Ticker)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.inbox)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev, ok := <-d.inbox:
			if !ok {
				return
			}
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range d.sinks {
		s.Notify(ctx, ev)
	}
}
