package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded is returned when the daily request quota is exhausted.
	ErrRateLimitExceeded = errors.New("daily request quota exhausted")
	// ErrNotFound marks a remote record that does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrMissingCredential is returned when a tenant has no usable API token.
	ErrMissingCredential = errors.New("tenant credential not found")
)

// TransportError describes a failed call to an external API.
// StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("transport failure: %v", e.Err)
	default:
		return "transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRateLimited reports a 429 response.
func (e *TransportError) IsRateLimited() bool { return e.StatusCode == 429 }

// IsNotFound reports a 404 response.
func (e *TransportError) IsNotFound() bool { return e.StatusCode == 404 }

// Retryable reports failures worth another attempt: no response, 429 or 5xx.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ProvisioningError is fatal to the job that triggered it.
type ProvisioningError struct {
	Table  string
	Reason string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning %s: %s: %v", e.Table, e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning %s: %s", e.Table, e.Reason)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// MalformedPayloadError marks a payload that is not valid JSON.
type MalformedPayloadError struct {
	RecordID int64
	Err      error
}

func (e *MalformedPayloadError) Error() string {
	if e.RecordID != 0 {
		return fmt.Sprintf("malformed payload in record %d: %v", e.RecordID, e.Err)
	}
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }
