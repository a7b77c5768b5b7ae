package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// InvalidOrderError rejects an order before any network call (below minimum
// size, zero balance, order already in flight). Never retriable.
type InvalidOrderError struct {
	Ticker string
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return "invalid order [" + e.Ticker + "]: " + e.Reason
}

func (e *InvalidOrderError) IsRetriable() bool {
	return false
}

// APIError is a structured error body returned by the exchange.
// Rate limits and server errors are retriable, other statuses are not.
type APIError struct {
	Status  int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error: status=%d name=%s msg=%s", e.Status, e.Name, e.Message)
}

func (e *APIError) IsRetriable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// ErrorKind classifies expected failure modes at the execution boundary.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidOrder
	KindTransientNetwork
	KindPartialExecution
	KindLedgerInconsistency
	KindUnknownOrderState
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidOrder:
		return "invalid_order"
	case KindTransientNetwork:
		return "transient_network"
	case KindPartialExecution:
		return "partial_execution"
	case KindLedgerInconsistency:
		return "ledger_inconsistency"
	case KindUnknownOrderState:
		return "unknown_order_state"
	default:
		return "internal"
	}
}

// KindOf maps an error returned by an exchange call to an ErrorKind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var invalid *InvalidOrderError
	if errors.As(err, &invalid) {
		return KindInvalidOrder
	}
	if IsRetriable(err) {
		return KindTransientNetwork
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return KindTransientNetwork
	}
	return KindInternal
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidTicker is returned when a market code is not supported or malformed. Not retriable.
	ErrInvalidTicker = errors.New("invalid ticker")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrPriceUnavailable is returned when no current price can be resolved.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrOrderNotFound is returned when the exchange has no order for an id or identifier.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientCandles is returned when there is not enough history for indicators.
	ErrInsufficientCandles = errors.New("insufficient candles")
)

