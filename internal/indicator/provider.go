package indicator

import (
	"context"
	"fmt"
	"time"

	"spot_trader/internal/domain"
)

// CandleSource supplies daily candles, oldest first.
type CandleSource interface {
	GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error)
}

// Provider builds snapshots from live candles and the current price.
type Provider struct {
	candles CandleSource
	prices  domain.PriceSource
	count   int
	retry   domain.RetryPolicy
	now     func() time.Time
}

func NewProvider(candles CandleSource, prices domain.PriceSource, count int, retry domain.RetryPolicy) *Provider {
	if count < MinCandles {
		count = MinCandles
	}
	return &Provider{candles: candles, prices: prices, count: count, retry: retry, now: time.Now}
}

// Snapshot fetches market data for ticker and computes indicators.
// entryAt is the position's first buy, zero when flat.
func (p *Provider) Snapshot(ctx context.Context, ticker string, entryAt time.Time) (domain.Snapshot, error) {
	var candles []domain.Candle
	_, err := p.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		candles, err = p.candles.GetDailyCandles(ctx, ticker, p.count)
		return err
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("candles for %s: %w", ticker, err)
	}

	price, err := p.prices.CurrentPrice(ctx, ticker)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("price for %s: %w", ticker, err)
	}

	return Build(ticker, candles, price.InexactFloat64(), p.now(), entryAt)
}
