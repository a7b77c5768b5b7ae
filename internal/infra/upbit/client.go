package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"spot_trader/internal/domain"
	"spot_trader/internal/infra"

	"github.com/shopspring/decimal"
)

// BaseURL is the Upbit REST endpoint.
const BaseURL = "https://api.upbit.com"

// maxCandles is the per-request cap of the candles endpoint.
const maxCandles = 200

// Client is the Upbit REST API client (Boundary Layer).
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// NewClient creates a new Upbit API client.
func NewClient(baseURL, accessKey, secretKey string) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: NewSigner(accessKey, secretKey),
		logger: slog.Default().With("module", "upbit_client"),
	}
}

var _ domain.ExchangeClient = (*Client)(nil)

type orderResponse struct {
	UUID           string          `json:"uuid"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ord_type"`
	State          string          `json:"state"`
	Market         string          `json:"market"`
	ExecutedVolume decimal.Decimal `json:"executed_volume"`
	Trades         []struct {
		Price  decimal.Decimal `json:"price"`
		Volume decimal.Decimal `json:"volume"`
		Funds  decimal.Decimal `json:"funds"`
	} `json:"trades"`
}

type accountResponse struct {
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	Locked      decimal.Decimal `json:"locked"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"`
}

type tickerRESTResponse struct {
	Market     string          `json:"market"`
	TradePrice decimal.Decimal `json:"trade_price"`
}

type candleResponse struct {
	CandleDateTimeUTC string  `json:"candle_date_time_utc"`
	OpeningPrice      float64 `json:"opening_price"`
	HighPrice         float64 `json:"high_price"`
	LowPrice          float64 `json:"low_price"`
	TradePrice        float64 `json:"trade_price"`
	Volume            float64 `json:"candle_acc_trade_volume"`
}

type errorResponse struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitMarketOrder places a market order. BUY spends amount KRW
// (ord_type=price), SELL sells amount units (ord_type=market).
// Retries must reuse identifier so Upbit refuses a duplicate order.
func (c *Client) SubmitMarketOrder(ctx context.Context, ticker string, side domain.Side, amount decimal.Decimal, identifier string) (string, error) {
	if identifier == "" {
		return "", &domain.InvalidOrderError{Ticker: ticker, Reason: "empty identifier"}
	}
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("identifier", identifier)

	switch side {
	case domain.SideBuy:
		params.Set("side", "bid")
		params.Set("ord_type", "price")
		params.Set("price", amount.Truncate(0).String())
	case domain.SideSell:
		params.Set("side", "ask")
		params.Set("ord_type", "market")
		params.Set("volume", amount.Truncate(8).String())
	default:
		return "", &domain.InvalidOrderError{Ticker: ticker, Reason: "unknown side " + string(side)}
	}

	body := make(map[string]string, len(params))
	for k := range params {
		body[k] = params.Get(k)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/orders", params, body, true, &resp); err != nil {
		return "", fmt.Errorf("upbit place order failed: %w", err)
	}
	if resp.UUID == "" {
		return "", fmt.Errorf("upbit place order: empty uuid in response")
	}

	c.logger.Info("Order Placed Successfully", "uuid", resp.UUID, "identifier", identifier, "market", ticker, "side", side)
	return resp.UUID, nil
}

// GetOrder fetches one order with its trades.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.ExchangeOrder, error) {
	params := url.Values{}
	params.Set("uuid", orderID)
	return c.getOrder(ctx, params)
}

// GetOrderByIdentifier looks an order up by the client identifier it was placed with.
func (c *Client) GetOrderByIdentifier(ctx context.Context, identifier string) (*domain.ExchangeOrder, error) {
	params := url.Values{}
	params.Set("identifier", identifier)
	return c.getOrder(ctx, params)
}

func (c *Client) getOrder(ctx context.Context, params url.Values) (*domain.ExchangeOrder, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, "/v1/order", params, nil, true, &raw); err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, params.Encode())
		}
		return nil, fmt.Errorf("upbit get order failed: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}

	out := &domain.ExchangeOrder{
		ID:             resp.UUID,
		State:          resp.State,
		ExecutedVolume: resp.ExecutedVolume,
		Raw:            raw,
	}
	for _, tr := range resp.Trades {
		out.Fills = append(out.Fills, domain.Fill{Price: tr.Price, Volume: tr.Volume})
	}
	return out, nil
}

// GetAccounts lists every balance row.
func (c *Client) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	var resp []accountResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/accounts", nil, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("upbit accounts failed: %w", err)
	}

	accounts := make([]domain.Account, 0, len(resp))
	for _, a := range resp {
		accounts = append(accounts, domain.Account{
			Currency:    a.Currency,
			Balance:     a.Balance,
			Locked:      a.Locked,
			AvgBuyPrice: a.AvgBuyPrice,
		})
	}
	return accounts, nil
}

// GetBalance returns the free balance of currency, zero when absent.
func (c *Client) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a.Balance, nil
		}
	}
	return decimal.Zero, nil
}

// GetCurrentPrice returns the last trade price from the public ticker endpoint.
func (c *Client) GetCurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("markets", ticker)

	var resp []tickerRESTResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/ticker", params, nil, false, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("upbit ticker failed: %w", err)
	}
	if len(resp) == 0 || !resp[0].TradePrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, ticker)
	}
	return resp[0].TradePrice, nil
}

// GetDailyCandles returns up to count daily candles, oldest first.
func (c *Client) GetDailyCandles(ctx context.Context, ticker string, count int) ([]domain.Candle, error) {
	if count <= 0 || count > maxCandles {
		count = maxCandles
	}
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("count", strconv.Itoa(count))

	var resp []candleResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/candles/days", params, nil, false, &resp); err != nil {
		return nil, fmt.Errorf("upbit candles failed: %w", err)
	}

	// Upbit returns newest first
	candles := make([]domain.Candle, 0, len(resp))
	for i := len(resp) - 1; i >= 0; i-- {
		r := resp[i]
		ts, err := time.Parse("2006-01-02T15:04:05", r.CandleDateTimeUTC)
		if err != nil {
			return nil, fmt.Errorf("bad candle time %q: %w", r.CandleDateTimeUTC, err)
		}
		candles = append(candles, domain.Candle{
			Time:   ts,
			Open:   r.OpeningPrice,
			High:   r.HighPrice,
			Low:    r.LowPrice,
			Close:  r.TradePrice,
			Volume: r.Volume,
		})
	}
	return candles, nil
}

// doRequest handles auth headers, serialization and error mapping.
// Transport failures become retriable NetworkErrors; non-2xx bodies become APIErrors.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}, private bool, out interface{}) error {
	reqURL := c.baseURL + path
	query := ""
	if len(params) > 0 {
		encoded := params.Encode()
		if unescaped, err := url.QueryUnescape(encoded); err == nil {
			query = unescaped
		} else {
			query = encoded
		}
		if body == nil {
			reqURL += "?" + encoded
		}
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if private {
		auth, err := c.signer.Authorization(query)
		if err != nil {
			return domain.NewFatalNetworkError("sign", err)
		}
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("read "+path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &domain.APIError{Status: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error.Name != "" {
			apiErr.Name = er.Error.Name
			apiErr.Message = er.Error.Message
		} else {
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
