package cloud

import (
	"context"
	"fmt"

	"github.com/outpost-vpn/outpost/internal/logger"
)

// Decision is the user's answer to an auth-ambiguous failure.
type Decision int

const (
	// DecisionRetry re-executes the failed operation once.
	DecisionRetry Decision = iota
	// DecisionAbandon gives up and clears the stored credential.
	DecisionAbandon
)

// DecisionHandler obtains a retry-or-reauthenticate decision from the user.
// Decide blocks until a decision is available or ctx is cancelled.
type DecisionHandler interface {
	Decide(ctx context.Context, provider ProviderID, cause error) (Decision, error)
}

// DecisionFunc adapts a function to the DecisionHandler interface.
type DecisionFunc func(ctx context.Context, provider ProviderID, cause error) (Decision, error)

// Decide implements DecisionHandler.
func (f DecisionFunc) Decide(ctx context.Context, provider ProviderID, cause error) (Decision, error) {
	return f(ctx, provider, cause)
}

// CredentialClearer removes a provider's stored credential.
type CredentialClearer interface {
	Clear(provider ProviderID) error
}

// RetryPolicy wraps remote provider calls, classifying failures and driving
// the retry-or-reauthenticate flow for auth-ambiguous ones. Network and API
// failures pass through untouched: the caller decides what to do with them.
type RetryPolicy struct {
	Provider    ProviderID
	Handler     DecisionHandler
	Credentials CredentialClearer
}

// Do executes op. On an auth-ambiguous failure it asks the handler whether to
// retry or abandon; it never retries on its own. A retried operation stays
// inside the loop, so a repeated failure re-prompts instead of looping
// silently. Abandon clears the stored credential before the error is
// returned. Without a handler the error surfaces unchanged.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsAuthAmbiguous(err) {
			return err
		}
		if p == nil || p.Handler == nil {
			return err
		}

		decision, derr := p.Handler.Decide(ctx, p.Provider, err)
		if derr != nil {
			return fmt.Errorf("auth decision unavailable: %w (original error: %v)", derr, err)
		}
		switch decision {
		case DecisionRetry:
			continue
		case DecisionAbandon:
			if p.Credentials != nil {
				if cerr := p.Credentials.Clear(p.Provider); cerr != nil {
					logger.Errorf("failed to clear %s credentials: %v", p.Provider, cerr)
				} else {
					logger.Infof("cleared stored credentials for %s", p.Provider)
				}
			}
			return err
		default:
			return err
		}
	}
}
