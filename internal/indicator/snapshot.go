package indicator

import (
	"fmt"
	"math"
	"time"

	"spot_trader/internal/domain"

	"github.com/markcheno/go-talib"
)

const (
	atrPeriod      = 14
	rsiPeriod      = 14
	adxPeriod      = 14
	maShort        = 20
	maLong         = 120
	bbPeriod       = 20
	volumeLookback = 20
	distLookback   = 10
	stPeriod       = 10
	stMultiplier   = 3.0

	// MinCandles covers MACD(12,26,9) warm-up plus ADX smoothing.
	MinCandles = 40
)

// Build computes the market snapshot from daily candles (oldest first, the
// last candle being today). price overrides today's close when positive.
// entryAt selects the candles counted for HighSinceEntry.
func Build(ticker string, candles []domain.Candle, price float64, now, entryAt time.Time) (domain.Snapshot, error) {
	n := len(candles)
	if n < MinCandles {
		return domain.Snapshot{}, fmt.Errorf("%w: %s has %d, need %d", domain.ErrInsufficientCandles, ticker, n, MinCandles)
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	if price > 0 {
		closes[n-1] = price
		highs[n-1] = math.Max(highs[n-1], price)
		lows[n-1] = math.Min(lows[n-1], price)
	} else {
		price = closes[n-1]
	}

	today, prev := candles[n-1], candles[n-2]
	snap := domain.Snapshot{
		Ticker:    ticker,
		Now:       now,
		Price:     price,
		TodayOpen: today.Open,
		TodayHigh: highs[n-1],
		TodayLow:  lows[n-1],
		PrevHigh:  prev.High,
		PrevClose: prev.Close,
	}

	snap.ATR = last(talib.Atr(highs, lows, closes, atrPeriod))
	snap.RSI = last(talib.Rsi(closes, rsiPeriod))

	macd, signal, _ := talib.Macd(closes, 12, 26, 9)
	snap.MACD, snap.MACDSignal = last(macd), last(signal)
	snap.PrevMACD, snap.PrevMACDSignal = at(macd, 2), at(signal, 2)

	snap.ADX = last(talib.Adx(highs, lows, closes, adxPeriod))
	snap.PlusDI = last(talib.PlusDI(highs, lows, closes, adxPeriod))
	snap.MinusDI = last(talib.MinusDI(highs, lows, closes, adxPeriod))

	snap.MA20 = last(talib.Sma(closes, maShort))
	if n >= maLong {
		snap.MALong = last(talib.Sma(closes, maLong))
	}

	upper, _, lower := talib.BBands(closes, bbPeriod, 2.0, 2.0, talib.SMA)
	snap.BBUpper, snap.BBLower = last(upper), last(lower)

	snap.SupertrendBull = Supertrend(highs, lows, closes, stPeriod, stMultiplier)
	snap.VolumeRatio = VolumeRatio(candles, volumeLookback)
	snap.DownVolumeRatio = DownVolumeRatio(candles, distLookback)
	snap.RecentHigh = recentHigh(candles, volumeLookback)
	snap.HighSinceEntry = highSince(candles, entryAt)
	if !entryAt.IsZero() && price > snap.HighSinceEntry {
		snap.HighSinceEntry = price
	}

	return snap, nil
}

func last(v []float64) float64 {
	return at(v, 1)
}

// at returns the k-th value from the end (1 = last), 0 when out of range.
func at(v []float64, k int) float64 {
	if len(v) < k {
		return 0
	}
	x := v[len(v)-k]
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// VolumeRatio is today's volume over the average of the previous lookback bars.
func VolumeRatio(candles []domain.Candle, lookback int) float64 {
	n := len(candles)
	if n < lookback+1 {
		return 0
	}
	var sum float64
	for _, c := range candles[n-1-lookback : n-1] {
		sum += c.Volume
	}
	avg := sum / float64(lookback)
	if avg <= 0 {
		return 0
	}
	return candles[n-1].Volume / avg
}

// DownVolumeRatio compares average volume on down bars with average volume on
// up bars over the last lookback bars. With no up bars it returns 10 when
// there were down bars.
func DownVolumeRatio(candles []domain.Candle, lookback int) float64 {
	n := len(candles)
	if n < lookback {
		lookback = n
	}
	var upSum, downSum float64
	var up, down int
	for _, c := range candles[n-lookback:] {
		switch {
		case c.Close > c.Open:
			upSum += c.Volume
			up++
		case c.Close < c.Open:
			downSum += c.Volume
			down++
		}
	}
	if down == 0 {
		return 0
	}
	if up == 0 || upSum == 0 {
		return 10
	}
	return (downSum / float64(down)) / (upSum / float64(up))
}

func recentHigh(candles []domain.Candle, lookback int) float64 {
	n := len(candles)
	start := n - 1 - lookback
	if start < 0 {
		start = 0
	}
	var hi float64
	for _, c := range candles[start : n-1] {
		hi = math.Max(hi, c.High)
	}
	return hi
}

func highSince(candles []domain.Candle, entryAt time.Time) float64 {
	if entryAt.IsZero() {
		return 0
	}
	day := entryAt.UTC().Truncate(24 * time.Hour)
	var hi float64
	for _, c := range candles {
		if c.Time.Before(day) {
			continue
		}
		hi = math.Max(hi, c.High)
	}
	return hi
}

// Supertrend reports whether the last bar is in a bullish supertrend regime.
func Supertrend(highs, lows, closes []float64, period int, multiplier float64) bool {
	n := len(closes)
	if n <= period+1 {
		return false
	}
	atr := talib.Atr(highs, lows, closes, period)

	var upper, lower float64
	bull := true
	for i := period; i < n; i++ {
		hl2 := (highs[i] + lows[i]) / 2
		basicUpper := hl2 + multiplier*atr[i]
		basicLower := hl2 - multiplier*atr[i]

		if i == period {
			upper, lower = basicUpper, basicLower
			bull = closes[i] >= hl2
			continue
		}

		if basicUpper < upper || closes[i-1] > upper {
			upper = basicUpper
		}
		if basicLower > lower || closes[i-1] < lower {
			lower = basicLower
		}

		if bull && closes[i] < lower {
			bull = false
		} else if !bull && closes[i] > upper {
			bull = true
		}
	}
	return bull
}
