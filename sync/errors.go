// ABOUTME: Error taxonomy for sync flows
// ABOUTME: Separates rejected input from per-row sync failures surfaced to callers
package sync

import (
	"errors"
	"fmt"
)

// StatusMessageLimit bounds the error text written to a row's status column
// and returned to webhook callers.
const StatusMessageLimit = 50

var (
	ErrInvalidSecret   = errors.New("invalid webhook secret")
	ErrInvalidRowIndex = errors.New("row_index must be >= 2")
	ErrInvalidLeadID   = errors.New("lead id is not a number")
)

// ValidationError rejects an event before any lock or upstream call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error) error {
	return &ValidationError{Err: err}
}

// FatalSyncError is a failed reconciliation of one row, after retries.
type FatalSyncError struct {
	Row int
	Err error
}

func (e *FatalSyncError) Error() string {
	return fmt.Sprintf("sync of row %d failed: %v", e.Row, e.Err)
}

func (e *FatalSyncError) Unwrap() error {
	return e.Err
}

// Message is the truncated cause shown to callers.
func (e *FatalSyncError) Message() string {
	return Truncate(e.Err.Error(), StatusMessageLimit)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func errorStatus(err error) string {
	return "error:" + Truncate(err.Error(), StatusMessageLimit)
}
