// Package errs holds the failure taxonomy shared by the pipeline stages.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderErrorKind classifies why a provider call failed.
type ProviderErrorKind string

const (
	KindTimeout           ProviderErrorKind = "timeout"
	KindRateLimited       ProviderErrorKind = "rate_limited"
	KindUnauthorized      ProviderErrorKind = "unauthorized"
	KindServerError       ProviderErrorKind = "server_error"
	KindMalformedResponse ProviderErrorKind = "malformed_response"
)

// ProviderError is a failed call to one upstream provider.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider %s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether another attempt with the same credentials could succeed.
func (e *ProviderError) Transient() bool { return e.Kind != KindUnauthorized }

// NewProviderError builds a ProviderError.
func NewProviderError(provider string, kind ProviderErrorKind, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Status: status, Err: err}
}

// BreakerOpenError is returned without contacting the provider while its breaker rejects calls.
type BreakerOpenError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s (retry after %s)", e.Provider, e.RetryAfter)
}

// ProviderFailure is one entry of an aggregate fetch failure.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Kind     string `json:"kind"`
	Err      error  `json:"-"`
}

// AllProvidersFailedError lists why every configured provider failed for a symbol.
type AllProvidersFailedError struct {
	Symbol   string
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Provider, f.Reason))
	}
	return fmt.Sprintf("all providers failed for %s: [%s]", e.Symbol, strings.Join(parts, "; "))
}

// Unwrap exposes the per-provider errors to errors.Is / errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

// SchemaValidationError means a generative provider answered outside the JSON contract.
type SchemaValidationError struct {
	Provider string
	Reason   string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %s: %s", e.Provider, e.Reason)
}

// AnalysisAttempt records one adapter attempt made by the analysis router.
type AnalysisAttempt struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// AnalysisUnavailableError is returned when no adapter produced a valid analysis.
type AnalysisUnavailableError struct {
	Attempts []AnalysisAttempt
}

func (e *AnalysisUnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return "analysis unavailable: no providers configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	return "analysis unavailable: [" + strings.Join(parts, "; ") + "]"
}

func (e *AnalysisUnavailableError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			out = append(out, a.Err)
		}
	}
	return out
}

// EncodingErrorKind distinguishes length from range violations.
type EncodingErrorKind string

const (
	FieldTooLong EncodingErrorKind = "field_too_long"
	OutOfRange   EncodingErrorKind = "out_of_range"
)

// EncodingError rejects a ledger update before it crosses the encode boundary.
type EncodingError struct {
	Field  string
	Kind   EncodingErrorKind
	Detail string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %s: %s", e.Field, e.Kind, e.Detail)
}

// LedgerErrorKind classifies submission failures.
type LedgerErrorKind string

const (
	StaleBlockhash LedgerErrorKind = "stale_blockhash"
	Rejected       LedgerErrorKind = "rejected"
	LedgerTimeout  LedgerErrorKind = "timeout"
)

// LedgerSubmitError is a failed transaction submission.
type LedgerSubmitError struct {
	Kind   LedgerErrorKind
	Reason string
	Err    error
}

func (e *LedgerSubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger submit %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger submit %s: %s", e.Kind, e.Reason)
}

func (e *LedgerSubmitError) Unwrap() error { return e.Err }

// Stage names a pipeline phase.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageAugment Stage = "augment"
	StageAnalyze Stage = "analyze"
	StageFeed    Stage = "feed"
)

// StageError tags a failure with the pipeline stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage a failure was tagged with, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// IsUnauthorized reports whether err carries an Unauthorized provider failure.
func IsUnauthorized(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindUnauthorized
}
