// Package errs defines the typed error taxonomy shared by the dispatch
// service, the connectors, the lifecycle manager and the ingestion pipeline.
//
// Every error is a struct type so callers can branch with errors.As.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError means a platform-required secret or setting is missing.
type ConfigurationError struct {
	Platform string
	Missing  []string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing required config: %s", e.Platform, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: invalid config: %s", e.Platform, e.Reason)
}

// Missing builds a ConfigurationError naming the absent fields.
func Missing(platform string, fields ...string) *ConfigurationError {
	return &ConfigurationError{Platform: platform, Missing: fields}
}

// NotFoundError is returned when a requested entity does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.Key
}

// PreconditionError means an operation was attempted in a state that
// does not allow it, e.g. deploying an untrained agent.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// PlatformMismatchError means the platform in the request URL does not
// match the platform stored on the deployment.
type PlatformMismatchError struct {
	DeploymentID string
	Requested    string
	Stored       string
}

func (e *PlatformMismatchError) Error() string {
	return fmt.Sprintf("deployment %s belongs to platform %q, not %q", e.DeploymentID, e.Stored, e.Requested)
}

// UnsupportedPlatformError means no connector is registered for a platform.
type UnsupportedPlatformError struct {
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return "unsupported platform: " + e.Platform
}

// SignatureVerificationError means an inbound request failed the
// platform's authenticity check.
type SignatureVerificationError struct {
	Platform string
	Reason   string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("%s: signature verification failed: %s", e.Platform, e.Reason)
}

// UpstreamProviderError means a third-party API rejected a call.
type UpstreamProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamProviderError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Operation)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamProviderError) Unwrap() error { return e.Err }

// IngestionError means a training job produced no usable text or chunks.
type IngestionError struct {
	Source  string
	Reason  string
	Details map[string]any
}

func (e *IngestionError) Error() string {
	if e.Source == "" {
		return "ingestion failed: " + e.Reason
	}
	return fmt.Sprintf("ingestion failed (%s): %s", e.Source, e.Reason)
}

// InvalidTransitionError means a deployment status change is not allowed.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid deployment status transition %s -> %s", e.From, e.To)
}

// ── Predicates ───────────────────────────────────────────────

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

func IsPrecondition(err error) bool {
	var e *PreconditionError
	return errors.As(err, &e)
}

func IsPlatformMismatch(err error) bool {
	var e *PlatformMismatchError
	return errors.As(err, &e)
}

func IsUnsupportedPlatform(err error) bool {
	var e *UnsupportedPlatformError
	return errors.As(err, &e)
}

func IsSignature(err error) bool {
	var e *SignatureVerificationError
	return errors.As(err, &e)
}

func IsUpstream(err error) bool {
	var e *UpstreamProviderError
	return errors.As(err, &e)
}

func IsIngestion(err error) bool {
	var e *IngestionError
	return errors.As(err, &e)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}
