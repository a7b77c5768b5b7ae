package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"spot_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceFetcher is the REST fallback used when the stream cache is cold or stale.
type PriceFetcher interface {
	GetCurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// PriceService keeps the last streamed quote per market
type PriceService struct {
	mu       sync.RWMutex
	quotes   map[string]domain.Ticker
	fallback PriceFetcher
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPriceService creates a new PriceService instance.
// maxAge <= 0 means cached quotes never go stale.
func NewPriceService(fallback PriceFetcher, maxAge time.Duration) *PriceService {
	return &PriceService{
		quotes:   make(map[string]domain.Ticker),
		fallback: fallback,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   slog.Default().With("module", "price_service"),
	}
}

var _ domain.PriceSource = (*PriceService)(nil)

// Update stores a streamed quote. Older quotes never replace newer ones.
func (s *PriceService) Update(t domain.Ticker) {
	if !t.Price.IsPositive() {
		return
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.quotes[t.Market]; ok && prev.UpdatedAt.After(t.UpdatedAt) {
		return
	}
	s.quotes[t.Market] = t
}

// ProcessTickers applies a batch of quotes.
func (s *PriceService) ProcessTickers(tickers []domain.Ticker) {
	for _, t := range tickers {
		s.Update(t)
	}
}

// GetData returns the cached quote for a market
func (s *PriceService) GetData(market string) (domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.quotes[market]
	return t, ok
}

// GetAllData returns all cached quotes sorted by market
func (s *PriceService) GetAllData() []domain.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Ticker, 0, len(s.quotes))
	for _, t := range s.quotes {
		result = append(result, t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Market < result[j].Market
	})

	return result
}

// CurrentPrice returns the cached price when fresh, otherwise asks the REST fallback
// and caches its answer.
func (s *PriceService) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if t, ok := s.GetData(ticker); ok && s.fresh(t) {
		return t.Price, nil
	}

	if s.fallback == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, ticker)
	}

	price, err := s.fallback.GetCurrentPrice(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}
	s.Update(domain.Ticker{Market: ticker, Price: price, UpdatedAt: s.now()})
	s.logger.Debug("price cache miss", "ticker", ticker, "price", price.String())
	return price, nil
}

func (s *PriceService) fresh(t domain.Ticker) bool {
	if s.maxAge <= 0 {
		return true
	}
	return s.now().Sub(t.UpdatedAt) <= s.maxAge
}
