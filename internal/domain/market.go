package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one daily OHLCV bar, oldest first when in a slice.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Snapshot is the market view the risk engine and pyramid gate evaluate.
// It is built once per ticker per cycle; conditions never fetch data.
type Snapshot struct {
	Ticker string
	Now    time.Time
	Price  float64

	// Today and yesterday bars.
	TodayOpen float64
	TodayHigh float64
	TodayLow  float64
	PrevHigh  float64
	PrevClose float64

	ATR            float64
	RSI            float64
	MACD           float64
	MACDSignal     float64
	PrevMACD       float64
	PrevMACDSignal float64
	ADX            float64
	PlusDI         float64
	MinusDI        float64
	MA20           float64
	MALong         float64
	BBUpper        float64
	BBLower        float64
	SupertrendBull bool

	// VolumeRatio is today's volume over the 20-day average.
	VolumeRatio float64
	// DownVolumeRatio is average down-day volume over average up-day volume
	// across the last 10 bars.
	DownVolumeRatio float64
	// RecentHigh is the highest high of the 20 bars before today.
	RecentHigh float64
	// HighSinceEntry is the highest high since the position was opened.
	HighSinceEntry float64
}

// ATRRatio is ATR relative to price.
func (s Snapshot) ATRRatio() float64 {
	if s.Price <= 0 {
		return 0
	}
	return s.ATR / s.Price
}

// MACDCrossedDown reports a bearish MACD/signal cross on the latest bar.
func (s Snapshot) MACDCrossedDown() bool {
	return s.PrevMACD >= s.PrevMACDSignal && s.MACD < s.MACDSignal
}

// Ticker is a streamed quote for one market.
type Ticker struct {
	Market     string          `json:"market"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	ChangeRate decimal.Decimal `json:"change_rate"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
