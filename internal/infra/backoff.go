package infra

import (
	"math"
	"time"
)

// CalculateBackoff returns base * 2^retryCount capped at max.
func CalculateBackoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}
