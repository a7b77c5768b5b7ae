package consistency

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"spot_trader/internal/domain"
	"spot_trader/internal/infra"
	"spot_trader/internal/infra/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

type stubAccounts struct {
	accounts []domain.Account
	err      error
}

func (s *stubAccounts) GetAccounts(context.Context) ([]domain.Account, error) {
	return s.accounts, s.err
}

func setupLedger(t *testing.T, rows ...*domain.TradeRecord) *storage.Storage {
	t.Helper()
	s, err := storage.NewStorage(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	for _, r := range rows {
		if err := s.Append(context.Background(), r); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	return s
}

func buy(qty, price string) *domain.TradeRecord {
	return &domain.TradeRecord{
		Ticker:     "KRW-BTC",
		Action:     domain.ActionBuy,
		Qty:        decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		ExecutedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:     domain.StatusSuccess,
	}
}

func btc(qty, avg string) domain.Account {
	return domain.Account{
		Currency:    "BTC",
		Balance:     decimal.RequireFromString(qty),
		AvgBuyPrice: decimal.RequireFromString(avg),
	}
}

var noRetry = domain.RetryPolicy{MaxAttempts: 1}

func TestValidator_Reconcile(t *testing.T) {
	tests := []struct {
		name       string
		rows       []*domain.TradeRecord
		accounts   []domain.Account
		consistent bool
		reason     string
		avg        string
		qty        string
	}{
		{
			name:       "within tolerance uses ledger values",
			rows:       []*domain.TradeRecord{buy("10", "100.2")},
			accounts:   []domain.Account{btc("10", "101.0")},
			consistent: true,
			avg:        "100.2",
			qty:        "10",
		},
		{
			name:     "price beyond tolerance uses exchange values",
			rows:     []*domain.TradeRecord{buy("10", "100")},
			accounts: []domain.Account{btc("10", "102")},
			reason:   ReasonPriceMismatch,
			avg:      "102",
			qty:      "10",
		},
		{
			name:     "exchange holds less",
			rows:     []*domain.TradeRecord{buy("10", "100")},
			accounts: []domain.Account{btc("8", "100")},
			reason:   ReasonQuantityMismatch,
			avg:      "100",
			qty:      "8",
		},
		{
			name:     "exchange holds more",
			rows:     []*domain.TradeRecord{buy("10", "100")},
			accounts: []domain.Account{btc("12", "100")},
			reason:   ReasonManualIntervention,
			avg:      "100",
			qty:      "12",
		},
		{
			name:     "bought outside the ledger",
			accounts: []domain.Account{btc("3", "90")},
			reason:   ReasonManualIntervention,
			avg:      "90",
			qty:      "3",
		},
		{
			name:     "sold outside the ledger",
			rows:     []*domain.TradeRecord{buy("10", "100")},
			accounts: []domain.Account{{Currency: "KRW", Balance: decimal.NewFromInt(1000)}},
			reason:   ReasonMissingOnExchange,
			avg:      "0",
			qty:      "0",
		},
		{
			name:       "nothing anywhere",
			accounts:   nil,
			consistent: true,
			avg:        "0",
			qty:        "0",
		},
		{
			name:       "exchange dust is ignored",
			accounts:   []domain.Account{btc("0.000000001", "100")},
			consistent: true,
			avg:        "0",
			qty:        "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := setupLedger(t, tt.rows...)
			metrics := infra.NewMetrics()
			v := NewValidator(ledger, &stubAccounts{accounts: tt.accounts}, 1.0, noRetry, metrics)

			rec, err := v.Reconcile(context.Background(), "KRW-BTC")
			if err != nil {
				t.Fatalf("Reconcile failed: %v", err)
			}
			if rec.Consistent != tt.consistent || rec.Reason != tt.reason {
				t.Errorf("Expected consistent=%v reason=%q, got %v %q", tt.consistent, tt.reason, rec.Consistent, rec.Reason)
			}
			if !rec.AvgPrice.Equal(decimal.RequireFromString(tt.avg)) || !rec.TotalQty.Equal(decimal.RequireFromString(tt.qty)) {
				t.Errorf("Expected %s @ %s, got %s @ %s", tt.qty, tt.avg, rec.TotalQty, rec.AvgPrice)
			}
			if !rec.Position.TotalQuantity.Equal(rec.TotalQty) || !rec.Position.WeightedAvgPrice.Equal(rec.AvgPrice) {
				t.Errorf("Position must carry authoritative values, got %+v", rec.Position)
			}
			if rec.Position.CostBasisDrift() > 1e-9 {
				t.Errorf("Position breaks cost basis invariant: %+v", rec.Position)
			}

			wantMetric := 0.0
			if !tt.consistent {
				wantMetric = 1
			}
			if got := testutil.ToFloat64(metrics.InconsistencyCounter(tt.reason)); tt.reason != "" && got != wantMetric {
				t.Errorf("Expected inconsistency metric %v, got %v", wantMetric, got)
			}
		})
	}
}

func TestValidator_KeepsPyramidCount(t *testing.T) {
	add := buy("5", "110")
	add.Action = domain.ActionPyramidBuy
	add.ExecutedAt = add.ExecutedAt.Add(time.Hour)

	ledger := setupLedger(t, buy("10", "100"), add)
	v := NewValidator(ledger, &stubAccounts{accounts: []domain.Account{btc("20", "103")}}, 1.0, noRetry, nil)

	rec, err := v.Reconcile(context.Background(), "KRW-BTC")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if rec.Consistent {
		t.Fatal("Expected mismatch")
	}
	if rec.PyramidCount != 1 || rec.Position.PyramidCount != 1 {
		t.Errorf("Expected pyramid count from ledger, got %d", rec.PyramidCount)
	}
	if rec.Position.EntryAt.IsZero() {
		t.Error("Expected entry time from ledger")
	}
}

func TestValidator_ExchangeError(t *testing.T) {
	ledger := setupLedger(t)
	boom := errors.New("boom")
	v := NewValidator(ledger, &stubAccounts{err: boom}, 1.0, noRetry, nil)

	if _, err := v.Reconcile(context.Background(), "KRW-BTC"); !errors.Is(err, boom) {
		t.Errorf("Expected exchange error, got %v", err)
	}
}
