// Package internaltypes holds the error taxonomy shared by every layer of the
// repricer. Item-level errors are typed so callers can classify them with
// errors.As; run-level conditions are sentinels checked with errors.Is.
package internaltypes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrInterrupted        = errors.New("interrupted")
	ErrTerminal           = errors.New("item already terminal")
	ErrPoolExhausted      = errors.New("worker pool exhausted")
)

// Reason codes written to the failure log and the results ledger.
const (
	ReasonSoldOut            = "SOLD_OUT"
	ReasonSizeNotFoundSuffix = "탭매칭실패"
	ReasonPriceConstraint    = "PRICE_CONSTRAINT"
	ReasonMaxRetries         = "MAX_RETRIES_EXCEEDED"
	ReasonRejected           = "REJECTED"
	ReasonSession            = "SESSION_ERROR"
	ReasonTimeout            = "TIMEOUT"
	ReasonActuation          = "ACTUATION_ERROR"
	ReasonFault              = "WORKER_FAULT"
	ReasonInterrupted        = "INTERRUPTED"
	ReasonPoolExhausted      = "WORKER_POOL_EXHAUSTED"
	ReasonConversionConflict = "CONVERSION_CONFLICT"
)

// SessionError means the shared credential is invalid or could not be obtained.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return "session: " + e.Op
	}
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ActuationError is a transient UI-interaction fault (element not ready,
// stale reference, click intercepted).
type ActuationError struct {
	Op  string
	Err error
}

func (e *ActuationError) Error() string { return fmt.Sprintf("actuation: %s: %v", e.Op, e.Err) }
func (e *ActuationError) Unwrap() error { return e.Err }

// TimeoutError means an operation exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return "timeout: " + e.Op
	}
	return fmt.Sprintf("timeout: %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// FaultError is an actuation fault the worker cannot recover from; the worker
// owning the actuator is discarded and replaced.
type FaultError struct {
	Err error
}

func (e *FaultError) Error() string { return fmt.Sprintf("worker fault: %v", e.Err) }
func (e *FaultError) Unwrap() error { return e.Err }

// PriceConstraintError means no legal price exists under the discount caps.
type PriceConstraintError struct {
	Floor     int64
	Candidate int64
	Ratio     string
	Cap       string
	Detail    string
}

func (e *PriceConstraintError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("price constraint: floor=%d candidate=%d: %s", e.Floor, e.Candidate, e.Detail)
	}
	return fmt.Sprintf("price constraint: floor=%d candidate=%d discount ratio %s exceeds cap %s",
		e.Floor, e.Candidate, e.Ratio, e.Cap)
}

// SizeNotFoundError means no tab contained a label matching the target.
type SizeNotFoundError struct {
	Target string
	Tabs   []string
}

func (e *SizeNotFoundError) Error() string {
	return fmt.Sprintf("size %q not found in tabs [%s]", e.Target, strings.Join(e.Tabs, ", "))
}

// Reason renders the diagnostic code, e.g. "JP탭매칭실패" or "JP/US Men탭매칭실패".
func (e *SizeNotFoundError) Reason() string {
	if len(e.Tabs) == 0 {
		return ReasonSizeNotFoundSuffix
	}
	return strings.Join(e.Tabs, "/") + ReasonSizeNotFoundSuffix
}

// SoldOutError is returned for the specific row whose label carries the
// platform's out-of-stock marker.
type SoldOutError struct {
	Tab   string
	Label string
}

func (e *SoldOutError) Error() string {
	return fmt.Sprintf("sold out: tab %q row %q", e.Tab, e.Label)
}

// ConversionConflictError means the converted size matched nowhere while the
// raw value did, so the brand's conversion table contradicts the site.
type ConversionConflictError struct {
	Target     string
	Normalized string
	Tab        string
	Label      string
}

func (e *ConversionConflictError) Error() string {
	return fmt.Sprintf("size %q converts to %q but only matched unconverted in tab %q row %q", e.Target, e.Normalized, e.Tab, e.Label)
}

// RejectedError is an explicit business-rule rejection reported by the site.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return "rejected: " + e.Message }

// Reason maps an item outcome to its machine-parseable reason code.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var (
		soldOut  *SoldOutError
		notFound *SizeNotFoundError
		price    *PriceConstraintError
		rejected *RejectedError
		sess     *SessionError
		timeout  *TimeoutError
		act      *ActuationError
		fault    *FaultError
		conflict *ConversionConflictError
	)
	switch {
	case errors.Is(err, ErrPoolExhausted):
		return ReasonPoolExhausted
	case errors.Is(err, ErrMaxRetriesExceeded):
		return ReasonMaxRetries
	case errors.Is(err, ErrInterrupted):
		return ReasonInterrupted
	case errors.As(err, &soldOut):
		return ReasonSoldOut
	case errors.As(err, &notFound):
		return notFound.Reason()
	case errors.As(err, &conflict):
		return ReasonConversionConflict
	case errors.As(err, &price):
		return ReasonPriceConstraint
	case errors.As(err, &rejected):
		return ReasonRejected
	case errors.As(err, &sess), errors.Is(err, ErrUnauthorized):
		return ReasonSession
	case errors.As(err, &timeout):
		return ReasonTimeout
	case errors.As(err, &act):
		return ReasonActuation
	case errors.As(err, &fault):
		return ReasonFault
	}
	return ReasonFault
}
