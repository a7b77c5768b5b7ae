package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestExchangeOrder_AverageFillPrice(t *testing.T) {
	t.Run("weighted by volume", func(t *testing.T) {
		o := ExchangeOrder{Fills: []Fill{
			{Price: decimal.NewFromInt(100), Volume: decimal.RequireFromString("0.3")},
			{Price: decimal.NewFromInt(110), Volume: decimal.RequireFromString("0.2")},
		}}
		avg, vol, ok := o.AverageFillPrice()
		if !ok {
			t.Fatal("Expected fills to be usable")
		}
		if !avg.Equal(decimal.NewFromInt(104)) {
			t.Errorf("Expected avg 104, got %s", avg)
		}
		if !vol.Equal(decimal.RequireFromString("0.5")) {
			t.Errorf("Expected volume 0.5, got %s", vol)
		}
	})

	t.Run("no fills", func(t *testing.T) {
		o := ExchangeOrder{}
		if _, _, ok := o.AverageFillPrice(); ok {
			t.Error("Expected ok=false without fills")
		}
	})
}

func TestOrder_IsTerminal(t *testing.T) {
	tests := []struct {
		name  string
		state OrderState
		qty   decimal.Decimal
		want  bool
	}{
		{"submitted", OrderStateSubmitted, decimal.Zero, false},
		{"filled", OrderStateFilled, decimal.NewFromInt(1), true},
		{"partial", OrderStatePartiallyFilled, decimal.NewFromInt(1), true},
		{"cancelled empty", OrderStateCancelled, decimal.Zero, true},
		{"cancelled with fill", OrderStateCancelled, decimal.NewFromInt(1), false},
		{"skipped", OrderStateSkipped, decimal.Zero, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{State: tt.state, ExecutedQty: tt.qty}
			if got := o.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarketCode(t *testing.T) {
	if MarketCode("BTC") != "KRW-BTC" {
		t.Errorf("Expected KRW-BTC, got %s", MarketCode("BTC"))
	}
	if MarketCode("KRW-ETH") != "KRW-ETH" {
		t.Errorf("Expected KRW-ETH, got %s", MarketCode("KRW-ETH"))
	}
	if Currency("KRW-XRP") != "XRP" {
		t.Errorf("Expected XRP, got %s", Currency("KRW-XRP"))
	}
}
