package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"spot_trader/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotAppendOnly is returned when a caller tries to write a row that
// already has an identity.
var ErrNotAppendOnly = errors.New("ledger is append-only")

// Storage is the SQLite-backed trade ledger.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the ledger database. An empty path resolves
// to the per-user data directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "SpotTrader", "data", "ledger.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Ledger Operations
// ======================================================================================

// Append inserts one trade row in its own transaction.
func (s *Storage) Append(ctx context.Context, rec *domain.TradeRecord) error {
	if rec.ID != 0 {
		return ErrNotAppendOnly
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
}

// ListByTicker returns every row of ticker in execution order.
func (s *Storage) ListByTicker(ctx context.Context, ticker string) ([]domain.TradeRecord, error) {
	var rows []domain.TradeRecord
	err := s.db.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("executed_at asc, id asc").
		Find(&rows).Error
	return rows, err
}

// ListAll returns the whole ledger in execution order.
func (s *Storage) ListAll(ctx context.Context) ([]domain.TradeRecord, error) {
	var rows []domain.TradeRecord
	err := s.db.WithContext(ctx).Order("executed_at asc, id asc").Find(&rows).Error
	return rows, err
}

// OpenTickers returns the tickers whose projected position is still open.
func (s *Storage) OpenTickers(ctx context.Context) ([]string, error) {
	rows, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	byTicker := groupByTicker(rows)
	open := make([]string, 0, len(byTicker))
	for ticker, recs := range byTicker {
		if domain.ProjectPosition(ticker, recs).Exists() {
			open = append(open, ticker)
		}
	}
	sort.Strings(open)
	return open, nil
}

// ClosedReturns returns realized returns of every closed episode, grouped by
// ticker in name order.
func (s *Storage) ClosedReturns(ctx context.Context) ([]float64, error) {
	rows, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	byTicker := groupByTicker(rows)
	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var out []float64
	for _, t := range tickers {
		out = append(out, domain.RealizedReturns(t, byTicker[t])...)
	}
	return out, nil
}

func groupByTicker(rows []domain.TradeRecord) map[string][]domain.TradeRecord {
	out := make(map[string][]domain.TradeRecord)
	for _, r := range rows {
		out[r.Ticker] = append(out[r.Ticker], r)
	}
	return out
}
