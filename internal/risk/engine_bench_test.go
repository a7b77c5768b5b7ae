package risk

import (
	"testing"
)

// BenchmarkEngine_Evaluate measures a full pass through all three branches.
func BenchmarkEngine_Evaluate(b *testing.B) {
	e := NewEngine(DefaultThresholds())
	pos := position(100, 5)
	snap := calm(105)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		e.Evaluate(pos, snap)
	}
}
