// Package etlerrors defines the error taxonomy shared by every stage of a
// load run, so the orchestrator's top-level handler can classify a failure
// with a single errors.As switch instead of inspecting error strings.
package etlerrors

import (
	"errors"
	"fmt"
)

// Sentinel causes wrapped by the typed errors below. Components return one
// of these (or wrap an underlying cause) rather than ad-hoc fmt.Errorf
// strings, so callers can errors.Is/errors.As reliably.
var (
	ErrNCTIDMissing      = errors.New("nct_id missing or empty")
	ErrFieldKindMismatch = errors.New("field has unexpected JSON kind")
	ErrEnumValueInvalid  = errors.New("field value not permitted by schema")

	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrUnretryableHTTP  = errors.New("unretryable HTTP status")

	ErrNaturalKeyColumnsEmpty = errors.New("natural key column list is empty")
	ErrTransactionNotOpen     = errors.New("no transaction is open")
	ErrTransactionAlreadyOpen = errors.New("a transaction is already open")
)

// Validation wraps a per-record validation failure. The run continues; the
// record is routed to the dead-letter queue.
type Validation struct {
	NCTID string
	Err   error
}

func (e *Validation) Error() string {
	if e.NCTID == "" {
		return fmt.Sprintf("validation error: %v", e.Err)
	}
	return fmt.Sprintf("validation error for %s: %v", e.NCTID, e.Err)
}

func (e *Validation) Unwrap() error { return e.Err }

// NewValidation builds a Validation error for nctID (may be empty when the
// id itself could not be extracted) wrapping cause.
func NewValidation(nctID string, cause error) *Validation {
	return &Validation{NCTID: nctID, Err: cause}
}

// TransientExtraction signals an HTTP failure the API client's retry
// combinator considers recoverable (timeout, 429, 5xx). ExitCode maps it
// to 1. The API client retries such failures internally and does not
// return this type: once retries are exhausted it returns a
// FatalExtraction instead.
type TransientExtraction struct {
	StatusCode int
	PageToken  string
	Err        error
}

func (e *TransientExtraction) Error() string {
	return fmt.Sprintf("transient extraction error (status=%d, page_token=%q): %v", e.StatusCode, e.PageToken, e.Err)
}

func (e *TransientExtraction) Unwrap() error { return e.Err }

// FatalExtraction signals an unretryable HTTP error (4xx other than 429) or
// a retry budget exhausted on a transient condition. Always aborts the run.
type FatalExtraction struct {
	StatusCode int
	PageToken  string
	Err        error
}

func (e *FatalExtraction) Error() string {
	return fmt.Sprintf("fatal extraction error (status=%d, page_token=%q): %v", e.StatusCode, e.PageToken, e.Err)
}

func (e *FatalExtraction) Unwrap() error { return e.Err }

// NewFatalExtraction wraps cause as a FatalExtraction for the given status
// and the page token that failed.
func NewFatalExtraction(statusCode int, pageToken string, cause error) *FatalExtraction {
	return &FatalExtraction{StatusCode: statusCode, PageToken: pageToken, Err: cause}
}

// Transform signals a bug or a shape that slipped past validation — a
// schema-drift defect, not a data-quality issue. Always aborts the run.
type Transform struct {
	NCTID string
	Err   error
}

func (e *Transform) Error() string {
	return fmt.Sprintf("transform error for %s: %v", e.NCTID, e.Err)
}

func (e *Transform) Unwrap() error { return e.Err }

// Load signals a bulk-load or merge failure against the target database.
// Always aborts the run.
type Load struct {
	Table string
	Op    string
	Err   error
}

func (e *Load) Error() string {
	return fmt.Sprintf("load error (table=%s, op=%s): %v", e.Table, e.Op, e.Err)
}

func (e *Load) Unwrap() error { return e.Err }

// Transaction signals a begin/commit/rollback failure. Always aborts the
// run; the orchestrator still attempts to persist a FAILURE load-history
// row in a fresh transaction.
type Transaction struct {
	Op  string
	Err error
}

func (e *Transaction) Error() string {
	return fmt.Sprintf("transaction error (%s): %v", e.Op, e.Err)
}

func (e *Transaction) Unwrap() error { return e.Err }

// ExitCode maps a run's terminal error to the process exit code contract:
// 0 success, 1 transient (advise retry), 2 fatal/configuration error.
// A nil err maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var transient *TransientExtraction
	if errors.As(err, &transient) {
		return 1
	}

	var fatal *FatalExtraction
	if errors.As(err, &fatal) {
		return 2
	}

	var transform *Transform
	if errors.As(err, &transform) {
		return 2
	}

	var load *Load
	if errors.As(err, &load) {
		return 2
	}

	var txn *Transaction
	if errors.As(err, &txn) {
		return 2
	}

	return 2
}
