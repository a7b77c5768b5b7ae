package indicator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"spot_trader/internal/domain"

	"github.com/shopspring/decimal"
)

var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// trendCandles builds n daily bars moving by step per day.
func trendCandles(n int, start, step float64) []domain.Candle {
	out := make([]domain.Candle, n)
	price := start
	for i := range out {
		open := price
		price += step
		out[i] = domain.Candle{
			Time:   day0.AddDate(0, 0, i),
			Open:   open,
			High:   math.Max(open, price) + 1,
			Low:    math.Min(open, price) - 1,
			Close:  price,
			Volume: 100,
		}
	}
	return out
}

func TestBuild_InsufficientCandles(t *testing.T) {
	_, err := Build("KRW-BTC", trendCandles(10, 100, 1), 0, day0, time.Time{})
	if !errors.Is(err, domain.ErrInsufficientCandles) {
		t.Errorf("Expected ErrInsufficientCandles, got %v", err)
	}
}

func TestBuild_Uptrend(t *testing.T) {
	candles := trendCandles(150, 100, 1)
	snap, err := Build("KRW-BTC", candles, 0, day0.AddDate(0, 0, 150), time.Time{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if snap.Price != 250 {
		t.Errorf("Expected last close as price, got %v", snap.Price)
	}
	if snap.PrevClose != 249 || snap.PrevHigh != 250 {
		t.Errorf("unexpected previous bar %v/%v", snap.PrevClose, snap.PrevHigh)
	}
	if snap.MA20 <= 0 || snap.MA20 >= snap.Price {
		t.Errorf("Expected MA20 below price in uptrend, got %v", snap.MA20)
	}
	if snap.MALong <= 0 || snap.MALong >= snap.MA20 {
		t.Errorf("Expected MA120 below MA20 in uptrend, got %v", snap.MALong)
	}
	if snap.RSI < 70 {
		t.Errorf("Expected overbought RSI in steady uptrend, got %v", snap.RSI)
	}
	if snap.ATR <= 0 {
		t.Errorf("Expected positive ATR, got %v", snap.ATR)
	}
	if snap.PlusDI <= snap.MinusDI {
		t.Errorf("Expected +DI > -DI, got %v/%v", snap.PlusDI, snap.MinusDI)
	}
	if !snap.SupertrendBull {
		t.Error("Expected bullish supertrend")
	}
	if snap.BBUpper <= snap.BBLower {
		t.Errorf("Expected BB upper above lower, got %v/%v", snap.BBUpper, snap.BBLower)
	}
	if math.Abs(snap.VolumeRatio-1) > 1e-9 {
		t.Errorf("Expected flat volume ratio 1, got %v", snap.VolumeRatio)
	}
	if snap.RecentHigh != 250 {
		t.Errorf("Expected recent high 250, got %v", snap.RecentHigh)
	}
}

func TestBuild_Downtrend(t *testing.T) {
	candles := trendCandles(150, 400, -1)
	snap, err := Build("KRW-BTC", candles, 0, day0, time.Time{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if snap.SupertrendBull {
		t.Error("Expected bearish supertrend")
	}
	if snap.RSI > 30 {
		t.Errorf("Expected oversold RSI, got %v", snap.RSI)
	}
	if snap.MinusDI <= snap.PlusDI {
		t.Errorf("Expected -DI > +DI, got %v/%v", snap.MinusDI, snap.PlusDI)
	}
}

func TestBuild_ShortHistoryHasNoLongMA(t *testing.T) {
	snap, err := Build("KRW-BTC", trendCandles(60, 100, 1), 0, day0, time.Time{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if snap.MALong != 0 {
		t.Errorf("Expected MALong 0 without 120 bars, got %v", snap.MALong)
	}
}

func TestBuild_LivePriceAndHighSinceEntry(t *testing.T) {
	candles := trendCandles(60, 100, 1)
	entry := candles[50].Time.Add(3 * time.Hour)

	snap, err := Build("KRW-BTC", candles, 200, day0, entry)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if snap.Price != 200 || snap.TodayHigh != 200 {
		t.Errorf("Expected live price to extend today's bar, got price=%v high=%v", snap.Price, snap.TodayHigh)
	}
	if snap.HighSinceEntry != 200 {
		t.Errorf("Expected high since entry 200, got %v", snap.HighSinceEntry)
	}

	snap, _ = Build("KRW-BTC", candles, 0, day0, entry)
	// bars 50..59 close at 151..160, highs close+1
	if snap.HighSinceEntry != 161 {
		t.Errorf("Expected high since entry 161, got %v", snap.HighSinceEntry)
	}
}

func TestVolumeRatios(t *testing.T) {
	candles := trendCandles(30, 100, 1)
	candles[29].Volume = 300
	if got := VolumeRatio(candles, 20); got != 3 {
		t.Errorf("Expected volume ratio 3, got %v", got)
	}

	mixed := []domain.Candle{
		{Open: 10, Close: 11, Volume: 100},
		{Open: 11, Close: 10, Volume: 300},
		{Open: 10, Close: 11, Volume: 100},
		{Open: 11, Close: 10, Volume: 200},
	}
	if got := DownVolumeRatio(mixed, 10); got != 2.5 {
		t.Errorf("Expected down volume ratio 2.5, got %v", got)
	}
	if got := DownVolumeRatio(mixed[1:2], 10); got != 10 {
		t.Errorf("Expected capped ratio with only down bars, got %v", got)
	}
	if got := DownVolumeRatio(mixed[0:1], 10); got != 0 {
		t.Errorf("Expected 0 without down bars, got %v", got)
	}
}

type stubCandles struct {
	candles []domain.Candle
	calls   int
}

func (s *stubCandles) GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error) {
	s.calls++
	return s.candles, nil
}

type stubPrice decimal.Decimal

func (p stubPrice) CurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal(p), nil
}

func TestProvider_Snapshot(t *testing.T) {
	src := &stubCandles{candles: trendCandles(150, 100, 1)}
	p := NewProvider(src, stubPrice(decimal.NewFromInt(245)), 200, domain.RetryPolicy{MaxAttempts: 1})
	p.now = func() time.Time { return day0 }

	snap, err := p.Snapshot(context.Background(), "KRW-BTC", time.Time{})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Price != 245 || snap.Ticker != "KRW-BTC" || !snap.Now.Equal(day0) {
		t.Errorf("unexpected snapshot header %+v", snap)
	}
	if src.calls != 1 {
		t.Errorf("Expected one candle fetch, got %d", src.calls)
	}
}
