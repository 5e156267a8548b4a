package types

import (
	"errors"
	"fmt"

	"github.com/datazip-inc/olake-scaling/constants"
)

var (
	ErrOrderingViolation = errors.New("unexpected change record order")
	ErrSchemaMismatch    = errors.New("schema mismatch")
)

// OrderingError is raised when two change records for the same row cannot
// follow each other inside one merge window.
type OrderingError struct {
	Table    string
	Key      map[string]any
	Prior    ChangeType
	Incoming ChangeType
	Reason   string
}

func (e *OrderingError) Error() string {
	msg := fmt.Sprintf("%s: %s after %s on table[%s] key%v", ErrOrderingViolation, e.Incoming, e.Prior, e.Table, e.Key)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *OrderingError) Unwrap() error {
	return ErrOrderingViolation
}

// IsFatal reports errors that must not be retried
func IsFatal(err error) bool {
	return errors.Is(err, ErrOrderingViolation) || errors.Is(err, ErrSchemaMismatch) || errors.Is(err, constants.ErrNonRetryable)
}
