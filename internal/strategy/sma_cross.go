package strategy

import (
	"fmt"
	"math"
)

// SMACrossStrategy emits BUY on a golden cross and SELL on a dead cross of
// two simple moving averages.
// Ring buffer keeps the hot path allocation-free.
type SMACrossStrategy struct {
	ticker      string
	shortPeriod int
	longPeriod  int

	// State (Ring Buffer)
	prices []float64
	head   int     // Current write position
	count  int     // Number of elements filled
	sum    float64 // Running sum for the long period

	prevShortSMA float64
	prevLongSMA  float64
}

// NewSMACrossStrategy creates a new instance.
func NewSMACrossStrategy(ticker string, shortPeriod, longPeriod int) (*SMACrossStrategy, error) {
	if shortPeriod <= 0 || shortPeriod >= longPeriod {
		return nil, fmt.Errorf("sma cross: short period %d must be in (0, %d)", shortPeriod, longPeriod)
	}
	return &SMACrossStrategy{
		ticker:      ticker,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		prices:      make([]float64, longPeriod), // Fixed size allocation
	}, nil
}

// OnClose processes one close and returns a signal on a cross.
func (s *SMACrossStrategy) OnClose(price float64) []Signal {
	// 1. Update price history
	if s.count == s.longPeriod {
		s.sum -= s.prices[s.head] // head points to the oldest value when full
	}
	s.prices[s.head] = price
	s.sum += price
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
	}

	// 2. Warm-up
	if s.count < s.longPeriod {
		return nil
	}

	currLong := s.sum / float64(s.longPeriod)
	currShort := s.shortSMA()

	var signals []Signal

	// 3. Check for cross
	if s.prevShortSMA != 0 && s.prevLongSMA != 0 {
		switch {
		case s.prevShortSMA <= s.prevLongSMA && currShort > currLong:
			signals = append(signals, Signal{
				Ticker:     s.ticker,
				Intent:     IntentBuy,
				Confidence: confidence(currShort, currLong),
				Reason:     "sma_golden_cross",
			})
		case s.prevShortSMA >= s.prevLongSMA && currShort < currLong:
			signals = append(signals, Signal{
				Ticker:     s.ticker,
				Intent:     IntentSell,
				Confidence: confidence(currShort, currLong),
				Reason:     "sma_dead_cross",
			})
		}
	}

	s.prevShortSMA = currShort
	s.prevLongSMA = currLong

	return signals
}

// shortSMA walks back from the latest slot over the short period.
func (s *SMACrossStrategy) shortSMA() float64 {
	var sum float64
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum += s.prices[idx]
	}
	return sum / float64(s.shortPeriod)
}

// confidence grows with the spread between the averages, saturating at 5%.
func confidence(short, long float64) float64 {
	if long == 0 {
		return 0
	}
	spread := math.Abs(short-long) / long * 100
	return math.Min(spread/5, 1)
}
