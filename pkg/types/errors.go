package types

import (
	"errors"
	"fmt"
)

// Business-logic failures are values, not panics. Each maps to one kind in
// the session report's failure tally. Recoverable kinds make the current
// decision tick skip the instrument; nothing else changes.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrStalePrice           = errors.New("stale price")
	ErrMissingInstrument    = errors.New("missing instrument")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrFeedStale            = errors.New("feed stale")
	ErrDisconnected         = errors.New("disconnected")
)

// BrokerError wraps a broker API failure. Transient errors are retried with
// jittered backoff; permanent ones quarantine the affected position until
// operator intervention.
type BrokerError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *BrokerError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("broker %s (%s): %v", e.Op, kind, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// IsTransientBroker reports whether err is a retryable broker failure.
func IsTransientBroker(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Transient
}

// FailureKind maps an error to its report-tally label.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientPosition):
		return "insufficient_position"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrMissingInstrument):
		return "missing_instrument"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrFeedStale):
		return "feed_stale"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	case IsTransientBroker(err):
		return "broker_transient"
	default:
		var be *BrokerError
		if errors.As(err, &be) {
			return "broker_permanent"
		}
		return "internal"
	}
}
