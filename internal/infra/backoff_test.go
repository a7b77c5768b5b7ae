package infra

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name  string
		retry int
		want  time.Duration
	}{
		{"first attempt", 0, time.Second},
		{"second attempt", 1, 2 * time.Second},
		{"fourth attempt", 3, 8 * time.Second},
		{"capped", 10, 60 * time.Second},
		{"negative treated as zero", -1, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBackoff(tt.retry, time.Second, 60*time.Second)
			if got != tt.want {
				t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.retry, got, tt.want)
			}
		})
	}
}
