package infra

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordOrder(t *testing.T) {
	m := NewMetrics()

	m.RecordOrder("BUY", "SUCCESS")
	m.RecordOrder("BUY", "SUCCESS")
	m.RecordOrder("SELL", "SUCCESS_PARTIAL")

	if got := testutil.ToFloat64(m.orders.WithLabelValues("BUY", "SUCCESS")); got != 2 {
		t.Errorf("Expected 2 successful buys, got %v", got)
	}
	if got := testutil.ToFloat64(m.orders.WithLabelValues("SELL", "SUCCESS_PARTIAL")); got != 1 {
		t.Errorf("Expected 1 partial sell, got %v", got)
	}
}

func TestMetrics_RecordCycle(t *testing.T) {
	m := NewMetrics()

	m.RecordCycle(2*time.Second, 3, 4)
	m.RecordCycle(time.Second, 1, 2)

	if got := testutil.ToFloat64(m.cycleErrors); got != 4 {
		t.Errorf("Expected 4 cycle errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.openPositions); got != 2 {
		t.Errorf("Expected open positions gauge 2, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	// Must not panic
	m.RecordOrder("BUY", "FAILURE")
	m.RecordExit("basic_stop_loss")
	m.RecordPyramid()
	m.RecordInconsistency("price_mismatch")
	m.RecordCycle(time.Second, 0, 0)
	m.SetConnected(true)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordExit("trailing_stop")
	m.SetConnected(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`trader_exits_total{type="trailing_stop"} 1`,
		"trader_ws_connected 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected exposition to contain %q", want)
		}
	}
}
