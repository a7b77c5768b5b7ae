package upbit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"spot_trader/internal/domain"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
)

func parseToken(t *testing.T, header, secret string) jwt.MapClaims {
	t.Helper()
	if !strings.HasPrefix(header, "Bearer ") {
		t.Fatalf("Expected bearer token, got %q", header)
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(tok *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	return claims
}

func TestSigner_Authorization(t *testing.T) {
	s := NewSigner("access", "secret")

	t.Run("without query", func(t *testing.T) {
		h, err := s.Authorization("")
		if err != nil {
			t.Fatalf("Authorization failed: %v", err)
		}
		claims := parseToken(t, h, "secret")
		if claims["access_key"] != "access" {
			t.Errorf("Expected access_key claim, got %v", claims["access_key"])
		}
		if claims["nonce"] == "" || claims["nonce"] == nil {
			t.Error("Expected nonce claim")
		}
		if _, ok := claims["query_hash"]; ok {
			t.Error("Did not expect query_hash without query")
		}
	})

	t.Run("with query", func(t *testing.T) {
		h, _ := s.Authorization("uuid=abc")
		claims := parseToken(t, h, "secret")
		if claims["query_hash"] != queryHash("uuid=abc") {
			t.Errorf("query_hash mismatch: %v", claims["query_hash"])
		}
		if claims["query_hash_alg"] != "SHA512" {
			t.Errorf("Expected SHA512, got %v", claims["query_hash_alg"])
		}
	})

	t.Run("unique nonce", func(t *testing.T) {
		a, _ := s.Authorization("")
		b, _ := s.Authorization("")
		if parseToken(t, a, "secret")["nonce"] == parseToken(t, b, "secret")["nonce"] {
			t.Error("Expected a fresh nonce per request")
		}
	})
}

func TestClient_SubmitMarketOrder(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		claims := parseToken(t, r.Header.Get("Authorization"), "sk")
		if claims["query_hash"] == nil {
			t.Error("Expected query_hash for order request")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"uuid":"order-1","state":"wait"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")

	t.Run("market buy spends KRW", func(t *testing.T) {
		id, err := c.SubmitMarketOrder(context.Background(), "KRW-BTC", domain.SideBuy, decimal.RequireFromString("9986.12"), "cid-1")
		if err != nil {
			t.Fatalf("SubmitMarketOrder failed: %v", err)
		}
		if id != "order-1" {
			t.Errorf("Expected order-1, got %s", id)
		}
		if gotBody["side"] != "bid" || gotBody["ord_type"] != "price" || gotBody["price"] != "9986" {
			t.Errorf("unexpected buy body: %v", gotBody)
		}
		if gotBody["identifier"] != "cid-1" {
			t.Errorf("Expected identifier cid-1, got %q", gotBody["identifier"])
		}
	})

	t.Run("market sell sells volume", func(t *testing.T) {
		_, err := c.SubmitMarketOrder(context.Background(), "KRW-BTC", domain.SideSell, decimal.RequireFromString("0.123456789"), "cid-2")
		if err != nil {
			t.Fatalf("SubmitMarketOrder failed: %v", err)
		}
		if gotBody["side"] != "ask" || gotBody["ord_type"] != "market" || gotBody["volume"] != "0.12345678" {
			t.Errorf("unexpected sell body: %v", gotBody)
		}
	})
}

func TestClient_GetOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("uuid") != "order-9" {
			t.Errorf("Expected uuid query, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{
			"uuid":"order-9","state":"cancel","market":"KRW-BTC","executed_volume":"0.5",
			"trades":[{"price":"100","volume":"0.3","funds":"30"},{"price":"110","volume":"0.2","funds":"22"}]
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")
	o, err := c.GetOrder(context.Background(), "order-9")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if o.State != domain.ExchangeStateCancel {
		t.Errorf("Expected cancel, got %s", o.State)
	}
	if !o.ExecutedVolume.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected executed 0.5, got %s", o.ExecutedVolume)
	}
	avg, _, ok := o.AverageFillPrice()
	if !ok || !avg.Equal(decimal.NewFromInt(104)) {
		t.Errorf("Expected avg 104, got %s", avg)
	}
	if len(o.Raw) == 0 {
		t.Error("Expected raw payload to be kept")
	}
}

func TestClient_SubmitRetryKeepsIdentifier(t *testing.T) {
	var (
		mu          sync.Mutex
		identifiers []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		identifiers = append(identifiers, body["identifier"])
		first := len(identifiers) == 1
		mu.Unlock()
		// the order is accepted but the gateway loses the first response
		if first {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`bad gateway`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"name":"duplicate_identifier","message":"identifier already used"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")
	retry := domain.RetryPolicy{MaxAttempts: 3, Backoff: 2}
	_, err := retry.Do(context.Background(), func(ctx context.Context) error {
		_, err := c.SubmitMarketOrder(ctx, "KRW-BTC", domain.SideBuy, decimal.NewFromInt(10000), "cid-7")
		return err
	})

	if err == nil {
		t.Fatal("Expected the duplicate to be refused")
	}
	if len(identifiers) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(identifiers))
	}
	if identifiers[0] != "cid-7" || identifiers[1] != "cid-7" {
		t.Errorf("Expected the same identifier on every attempt, got %v", identifiers)
	}
}

func TestClient_SubmitRequiresIdentifier(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "ak", "sk")
	_, err := c.SubmitMarketOrder(context.Background(), "KRW-BTC", domain.SideBuy, decimal.NewFromInt(10000), "")
	if domain.KindOf(err) != domain.KindInvalidOrder {
		t.Errorf("Expected invalid order error, got %v", err)
	}
}

func TestClient_GetOrderByIdentifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("uuid") != "" {
			t.Errorf("Did not expect uuid query, got %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("identifier") != "cid-1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"name":"order_not_found","message":"주문을 찾지 못했습니다."}}`))
			return
		}
		w.Write([]byte(`{"uuid":"order-3","state":"done","executed_volume":"1","trades":[{"price":"100","volume":"1","funds":"100"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")

	o, err := c.GetOrderByIdentifier(context.Background(), "cid-1")
	if err != nil {
		t.Fatalf("GetOrderByIdentifier failed: %v", err)
	}
	if o.ID != "order-3" || o.State != domain.ExchangeStateDone {
		t.Errorf("unexpected order %+v", o)
	}

	_, err = c.GetOrderByIdentifier(context.Background(), "cid-unknown")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
	if domain.IsRetriable(err) {
		t.Error("not found must not be retried")
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retriable bool
	}{
		{"rate limit", 429, `{"error":{"name":"too_many_requests","message":"slow down"}}`, true},
		{"server error", 503, `oops`, true},
		{"insufficient funds", 400, `{"error":{"name":"insufficient_funds_bid","message":"no money"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, "ak", "sk")
			_, err := c.SubmitMarketOrder(context.Background(), "KRW-BTC", domain.SideBuy, decimal.NewFromInt(10000), "cid-1")
			if err == nil {
				t.Fatal("Expected error")
			}
			if domain.IsRetriable(err) != tt.retriable {
				t.Errorf("IsRetriable = %v, want %v (%v)", !tt.retriable, tt.retriable, err)
			}
		})
	}
}

func TestClient_TransportErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(url, "ak", "sk")
	_, err := c.GetCurrentPrice(context.Background(), "KRW-BTC")
	if !domain.IsRetriable(err) {
		t.Errorf("Expected retriable network error, got %v", err)
	}
}

func TestClient_AccountsAndPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts":
			if r.Header.Get("Authorization") == "" {
				t.Error("accounts requires auth")
			}
			w.Write([]byte(`[
				{"currency":"KRW","balance":"500000.0","locked":"0","avg_buy_price":"0"},
				{"currency":"BTC","balance":"0.01","locked":"0.002","avg_buy_price":"101000000"}
			]`))
		case "/v1/ticker":
			if r.Header.Get("Authorization") != "" {
				t.Error("public endpoint should not be signed")
			}
			w.Write([]byte(`[{"market":"KRW-BTC","trade_price":102500000.0}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")
	ctx := context.Background()

	bal, err := c.GetBalance(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected free balance 0.01, got %s", bal)
	}

	missing, _ := c.GetBalance(ctx, "DOGE")
	if !missing.IsZero() {
		t.Errorf("Expected zero for missing currency, got %s", missing)
	}

	accounts, _ := c.GetAccounts(ctx)
	if len(accounts) != 2 || !accounts[1].Total().Equal(decimal.RequireFromString("0.012")) {
		t.Errorf("unexpected accounts %+v", accounts)
	}

	price, err := c.GetCurrentPrice(ctx, "KRW-BTC")
	if err != nil {
		t.Fatalf("GetCurrentPrice failed: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(102500000)) {
		t.Errorf("Expected 102500000, got %s", price)
	}
}

func TestClient_GetDailyCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("count") != "2" {
			t.Errorf("Expected count=2, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[
			{"candle_date_time_utc":"2025-01-02T00:00:00","opening_price":11,"high_price":13,"low_price":10,"trade_price":12,"candle_acc_trade_volume":200},
			{"candle_date_time_utc":"2025-01-01T00:00:00","opening_price":10,"high_price":12,"low_price":9,"trade_price":11,"candle_acc_trade_volume":100}
		]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")
	candles, err := c.GetDailyCandles(context.Background(), "KRW-BTC", 2)
	if err != nil {
		t.Fatalf("GetDailyCandles failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	if candles[0].Close != 11 || candles[1].Close != 12 {
		t.Errorf("Expected oldest first, got %+v", candles)
	}
}
