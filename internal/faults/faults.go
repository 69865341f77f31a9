// Package faults defines the error taxonomy shared by the generation
// pipeline, the render queue, and the delivery subsystems. Callers decide
// retry behavior by classifying errors through Retryable, and translate any
// error into a safe user-facing message through UserMessage.
package faults

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies failures from external generative providers.
type ProviderErrorKind string

const (
	KindAuth       ProviderErrorKind = "auth"
	KindQuota      ProviderErrorKind = "quota"
	KindRateLimit  ProviderErrorKind = "rate_limit"
	KindServer     ProviderErrorKind = "transient_server"
	KindConnection ProviderErrorKind = "connection"
)

// ValidationError marks malformed caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError marks a missing referenced entity (template, project, job).
// Fatal to the operation that needed it.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PlanningError marks language-model output that could not be parsed into a
// usable video script.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("script planning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("script planning failed: %s", e.Reason)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ProviderError wraps a failure from an external provider call with a
// classification that drives the retry decision.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Status   int // HTTP status when applicable, 0 otherwise
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the provider failure is worth another attempt.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindConnection:
		return true
	}
	return false
}

// PartialFailure reports that a subset of scenes failed asset generation
// while others succeeded.
type PartialFailure struct {
	FailedScenes []int
	TotalScenes  int
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("asset generation failed for %d of %d scenes (indices %v)",
		len(e.FailedScenes), e.TotalScenes, e.FailedScenes)
}

// StageFailure marks a named stitching stage that failed. The whole stitch
// aborts and no partial artifact is published.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stitch stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// TimeoutError marks a provider call that exceeded its configured bound.
type TimeoutError struct {
	Operation string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Operation, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RetryExhaustedError marks an operation that consumed its entire attempt
// budget. The wrapped error is the last attempt's failure.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// FromHTTPStatus classifies a non-2xx provider response into the taxonomy.
// detail should be a short, already-truncated excerpt of the response body.
func FromHTTPStatus(provider string, status int, detail string) *ProviderError {
	kind := KindServer
	switch {
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 429:
		kind = KindRateLimit
	case status == 408:
		kind = KindServer
	case status == 402:
		kind = KindQuota
	case status >= 400 && status < 500:
		// Remaining 4xx are malformed requests; never retried.
		kind = KindQuota
	}
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Status:   status,
		Err:      fmt.Errorf("status %d: %s", status, detail),
	}
}

// Retryable reports whether err should be retried with backoff. Validation,
// missing-entity, auth, and quota failures are final; rate limits, transient
// server errors, connection errors, and timeouts are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var ve *ValidationError
	var nf *NotFoundError
	var pe *PlanningError
	var re *RetryExhaustedError
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &pe) || errors.As(err, &re) {
		return false
	}

	var provider *ProviderError
	if errors.As(err, &provider) {
		return provider.Retryable()
	}

	var te *TimeoutError
	return errors.As(err, &te)
}

// UserMessage renders err as a message safe to show outside the service.
// It distinguishes "fix your configuration" failures from "try again later"
// ones without leaking raw provider error text for internal failure classes.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Error()
	}

	var provider *ProviderError
	if errors.As(err, &provider) {
		switch provider.Kind {
		case KindAuth, KindQuota:
			return fmt.Sprintf("the %s provider rejected our credentials or quota; check the service configuration", provider.Provider)
		default:
			return fmt.Sprintf("the %s provider is temporarily unavailable; try again later", provider.Provider)
		}
	}

	var pf *PartialFailure
	if errors.As(err, &pf) {
		return fmt.Sprintf("%d of %d scenes could not be generated; try again later", len(pf.FailedScenes), pf.TotalScenes)
	}

	var pe *PlanningError
	if errors.As(err, &pe) {
		return "the script could not be planned for this prompt; try rephrasing it"
	}

	var sf *StageFailure
	if errors.As(err, &sf) {
		return "video assembly failed; try again later"
	}

	var te *TimeoutError
	var re *RetryExhaustedError
	if errors.As(err, &te) || errors.As(err, &re) {
		return "generation took too long or the providers kept failing; try again later"
	}

	return "generation failed; try again later"
}
