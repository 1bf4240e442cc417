// Package ingesterr holds the failure taxonomy shared by every ingestion step.
package ingesterr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	KindTransientIO         Kind = "transient_io"
	KindMalformedExtraction Kind = "malformed_extraction"
	KindPersistence         Kind = "persistence"
	KindInternal            Kind = "internal"
)

// Retryable reports whether a step failing with this kind may be attempted
// again within the run's bounded retry budget.
func (k Kind) Retryable() bool {
	return k == KindTransientIO || k == KindMalformedExtraction
}

// TransientIOError wraps blob store and extraction-service network failures.
type TransientIOError struct {
	Op    string
	Cause error
}

func (e *TransientIOError) Error() string {
	if e.Cause == nil {
		return e.Op + ": transient io failure"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransientIOError) Unwrap() error { return e.Cause }

// MalformedExtraction reports extraction output that is not valid JSON or
// lacks a required top-level section.
type MalformedExtraction struct {
	Reason string
	Raw    string
	Cause  error
}

func (e *MalformedExtraction) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed extraction: %s: %v", e.Reason, e.Cause)
	}
	return "malformed extraction: " + e.Reason
}

func (e *MalformedExtraction) Unwrap() error { return e.Cause }

// PersistenceError wraps constraint violations and transaction failures.
type PersistenceError struct {
	Op    string
	Code  string
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("persist %s (sqlstate %s): %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Cause: err}
}

func Malformed(reason, raw string, err error) error {
	return &MalformedExtraction{Reason: reason, Raw: raw, Cause: err}
}

// Persistence wraps err, capturing the Postgres SQLSTATE when present.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *PersistenceError
	if errors.As(err, &already) {
		return err
	}
	pe := &PersistenceError{Op: op, Cause: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		pe.Code = pgErr.Code
	}
	return pe
}

// IsUniqueViolation reports a Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Classify maps any error to its taxonomy kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return KindPersistence
	}
	var me *MalformedExtraction
	if errors.As(err, &me) {
		return KindMalformedExtraction
	}
	var te *TransientIOError
	if errors.As(err, &te) {
		return KindTransientIO
	}
	return KindInternal
}
