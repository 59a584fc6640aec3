// Package errors defines the error marks shared by the billing services.
// Import it as ierr.
package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConfiguration     = errors.New("configuration error")
	ErrRemoteSync        = errors.New("remote sync failed")
	ErrDataIntegrity     = errors.New("data integrity anomaly")
	ErrDuplicateGrant    = errors.New("duplicate grant")
	ErrDatabase          = errors.New("database error")
)

// InsufficientFundsError reports the exact shortfall of a debit.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Missing is the amount the user has to top up.
func (e *InsufficientFundsError) Missing() int64 {
	if e.Required <= e.Available {
		return 0
	}
	return e.Required - e.Available
}

func New(msg string) error {
	return errors.New(msg)
}

func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// Mark tags err with a sentinel so callers can classify it with Is.
func Mark(err error, reference error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, reference)
}

func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// AsInsufficientFunds extracts the shortfall details from err, if any.
func AsInsufficientFunds(err error) (*InsufficientFundsError, bool) {
	var e *InsufficientFundsError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
