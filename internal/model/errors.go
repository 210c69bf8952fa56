package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is executing.
	ErrRunInProgress = errors.New("run in progress")
	// ErrResultTimeout means the caller stopped waiting; the run keeps going.
	ErrResultTimeout = errors.New("run result not available in time")
	// ErrNotFound is returned for unknown rule ids.
	ErrNotFound = errors.New("recurring rule not found")
	// ErrHasHistory is returned when deleting a rule that still has log entries.
	ErrHasHistory = errors.New("recurring rule has execution history")
	// ErrDuplicateSuccess is returned by stores when a second success entry
	// is appended for the same (rule, occurrence date).
	ErrDuplicateSuccess = errors.New("occurrence already succeeded")
)

// ValidationError rejects a malformed rule before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MaterializationError means the template cannot produce a transaction.
type MaterializationError struct {
	RuleID string
	Reason string
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialize rule %s: %s", e.RuleID, e.Reason)
}

// LedgerWriteError means the ledger writer rejected the transaction.
type LedgerWriteError struct {
	Err error
}

func (e *LedgerWriteError) Error() string { return "ledger write: " + e.Err.Error() }
func (e *LedgerWriteError) Unwrap() error { return e.Err }

// PersistenceError means the rule or log store is unavailable. It aborts a run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persistence: " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it already is one or
// is a validation failure or ErrNotFound. ErrDuplicateSuccess is wrapped:
// inside a run it means another writer got there first, and the run must
// stop like for any other log failure. errors.Is still matches it.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	var ve *ValidationError
	if errors.As(err, &pe) || errors.As(err, &ve) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
