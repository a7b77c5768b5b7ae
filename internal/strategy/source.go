package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"spot_trader/internal/domain"

	"go.uber.org/multierr"
)

// CandleSource supplies daily candles, oldest first, the last one being today.
type CandleSource interface {
	GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error)
}

// CrossSource replays completed daily bars of each watched ticker through a
// fresh SMACrossStrategy and reports crosses on the latest completed bar.
type CrossSource struct {
	candles   CandleSource
	watchlist []string
	short     int
	long      int
	retry     domain.RetryPolicy
	logger    *slog.Logger
}

func NewCrossSource(candles CandleSource, watchlist []string, short, long int, retry domain.RetryPolicy) (*CrossSource, error) {
	if _, err := NewSMACrossStrategy("", short, long); err != nil {
		return nil, err
	}
	return &CrossSource{
		candles:   candles,
		watchlist: append([]string(nil), watchlist...),
		short:     short,
		long:      long,
		retry:     retry,
		logger:    slog.Default().With("module", "strategy"),
	}, nil
}

// Signals evaluates every ticker; a failing ticker does not hide the others.
func (s *CrossSource) Signals(ctx context.Context) ([]Signal, error) {
	var (
		out  []Signal
		errs error
	)
	for _, ticker := range s.watchlist {
		sig, err := s.evaluate(ctx, ticker)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ticker, err))
			continue
		}
		out = append(out, sig...)
	}
	return out, errs
}

func (s *CrossSource) evaluate(ctx context.Context, ticker string) ([]Signal, error) {
	var candles []domain.Candle
	if _, err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		candles, err = s.candles.GetDailyCandles(ctx, ticker, s.long+2)
		return err
	}); err != nil {
		return nil, err
	}
	// today's bar is still forming
	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	if len(candles) <= s.long {
		return nil, fmt.Errorf("%w: %d bars for sma %d", domain.ErrInsufficientCandles, len(candles), s.long)
	}

	strat, err := NewSMACrossStrategy(ticker, s.short, s.long)
	if err != nil {
		return nil, err
	}
	var last []Signal
	for _, c := range candles {
		last = strat.OnClose(c.Close)
	}
	for _, sig := range last {
		s.logger.Info("📈 Signal", "ticker", ticker, "intent", sig.Intent.String(), "confidence", sig.Confidence)
	}
	return last, nil
}

// StaticSource returns a fixed set of signals once. Useful for manual entries.
type StaticSource struct {
	signals []Signal
	done    bool
}

func NewStaticSource(signals ...Signal) *StaticSource {
	return &StaticSource{signals: signals}
}

func (s *StaticSource) Signals(context.Context) ([]Signal, error) {
	if s.done {
		return nil, nil
	}
	s.done = true
	return s.signals, nil
}
