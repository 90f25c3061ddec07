package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Sentinel errors for non-API failure outcomes.
var (
	// ErrInstallCanceled means the user cancelled creation. It is an outcome,
	// not a failure, and must never be reported as an error to the user.
	ErrInstallCanceled = errors.New("server installation canceled")

	// ErrTimedOut means a poll loop exhausted its deadline.
	ErrTimedOut = errors.New("timed out waiting for provider")

	// ErrCreationInProgress means a second CreateServer was attempted while a
	// session was already active on the account.
	ErrCreationInProgress = errors.New("a server creation is already in progress for this account")
)

// NetworkError means no response was received at all: DNS failure, refused
// connection, or the machine is offline.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthAmbiguousError is a failure that could equally be an expired or revoked
// credential, or a request blocked before reaching the provider. The two are
// indistinguishable from the client, so callers must not guess: the user
// decides whether to retry or to reauthenticate.
type AuthAmbiguousError struct {
	Provider ProviderID
	Err      error
}

func (e *AuthAmbiguousError) Error() string {
	return fmt.Sprintf("%s: credential rejected or request blocked: %v", e.Provider, e.Err)
}

func (e *AuthAmbiguousError) Unwrap() error { return e.Err }

// APIError is any other non-2xx provider response. It is never auto-retried.
type APIError struct {
	Provider   ProviderID
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a provider 404.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// OperationFailedError means a provider long-running operation reached its
// failed terminal state. Diagnostic carries the provider's failure payload.
type OperationFailedError struct {
	OperationID string
	Diagnostic  string
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.OperationID, e.Diagnostic)
}

// InstallFailedError means creation failed after the instance itself exists,
// so cleanup must tear the instance down. Step records the last-attempted
// provisioning step for diagnostics.
type InstallFailedError struct {
	Step CreationStep
	Err  error
}

func (e *InstallFailedError) Error() string {
	return fmt.Sprintf("server installation failed at step %q: %v", e.Step, e.Err)
}

func (e *InstallFailedError) Unwrap() error { return e.Err }

// UnreachableServerError means a fully installed server did not respond to a
// health probe. Recoverable by retry, not fatal.
type UnreachableServerError struct {
	ManagementURL string
	Err           error
}

func (e *UnreachableServerError) Error() string {
	return fmt.Sprintf("server %s is unreachable: %v", e.ManagementURL, e.Err)
}

func (e *UnreachableServerError) Unwrap() error { return e.Err }

// WrapHTTPStatus converts a provider HTTP status into the error taxonomy. A
// 401 is auth-ambiguous: an expired token and a blocked request produce the
// same client-visible shape for at least one provider, so both are routed to
// the retry-or-reauthenticate prompt.
func WrapHTTPStatus(provider ProviderID, status int, cause error) error {
	if status == http.StatusUnauthorized {
		return &AuthAmbiguousError{Provider: provider, Err: cause}
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &APIError{Provider: provider, StatusCode: status, Message: msg}
}

// WrapTransport converts a transport-level failure (no HTTP response at all)
// into the taxonomy. Context cancellation passes through untouched so that
// user-initiated cancellation is never misreported as a network failure.
func WrapTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &NetworkError{Err: err}
	}
	return err
}

// IsAuthAmbiguous reports whether err is classified as auth-ambiguous.
func IsAuthAmbiguous(err error) bool {
	var ae *AuthAmbiguousError
	return errors.As(err, &ae)
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.IsNotFound()
}

// IsCanceled reports whether err represents user-initiated cancellation,
// either through the session flag or the context.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrInstallCanceled) || errors.Is(err, context.Canceled)
}
