package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClearer struct {
	cleared []ProviderID
}

func (c *fakeClearer) Clear(provider ProviderID) error {
	c.cleared = append(c.cleared, provider)
	return nil
}

func TestRetryPolicy_SuccessPassesThrough(t *testing.T) {
	policy := &RetryPolicy{Provider: ProviderDigitalOcean}
	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_NetworkErrorSurfacesWithoutPrompt(t *testing.T) {
	prompted := false
	policy := &RetryPolicy{
		Provider: ProviderDigitalOcean,
		Handler: DecisionFunc(func(_ context.Context, _ ProviderID, _ error) (Decision, error) {
			prompted = true
			return DecisionRetry, nil
		}),
	}
	wantErr := &NetworkError{Err: errors.New("offline")}
	err := policy.Do(context.Background(), func(_ context.Context) error {
		return wantErr
	})
	assert.True(t, IsNetwork(err))
	assert.False(t, prompted, "network failures must not trigger the auth prompt")
}

func TestRetryPolicy_RetryDecisionReexecutes(t *testing.T) {
	calls := 0
	prompts := 0
	policy := &RetryPolicy{
		Provider: ProviderGCP,
		Handler: DecisionFunc(func(_ context.Context, provider ProviderID, cause error) (Decision, error) {
			prompts++
			assert.Equal(t, ProviderGCP, provider)
			assert.True(t, IsAuthAmbiguous(cause))
			return DecisionRetry, nil
		}),
	}
	err := policy.Do(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return &AuthAmbiguousError{Provider: ProviderGCP, Err: errors.New("401")}
		}
		return nil
	})
	require.NoError(t, err)
	// Each failure re-prompts; the policy never retries on its own.
	assert.Equal(t, 2, prompts)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_AbandonClearsCredentialsBeforeReturning(t *testing.T) {
	clearer := &fakeClearer{}
	policy := &RetryPolicy{
		Provider: ProviderLightsail,
		Handler: DecisionFunc(func(_ context.Context, _ ProviderID, _ error) (Decision, error) {
			return DecisionAbandon, nil
		}),
		Credentials: clearer,
	}
	err := policy.Do(context.Background(), func(_ context.Context) error {
		return &AuthAmbiguousError{Provider: ProviderLightsail, Err: errors.New("401")}
	})
	assert.True(t, IsAuthAmbiguous(err))
	assert.Equal(t, []ProviderID{ProviderLightsail}, clearer.cleared)
}

func TestRetryPolicy_NoHandlerSurfacesError(t *testing.T) {
	policy := &RetryPolicy{Provider: ProviderDigitalOcean}
	err := policy.Do(context.Background(), func(_ context.Context) error {
		return &AuthAmbiguousError{Provider: ProviderDigitalOcean, Err: errors.New("401")}
	})
	assert.True(t, IsAuthAmbiguous(err))
}

func TestRetryPolicy_HandlerErrorAborts(t *testing.T) {
	policy := &RetryPolicy{
		Provider: ProviderDigitalOcean,
		Handler: DecisionFunc(func(ctx context.Context, _ ProviderID, _ error) (Decision, error) {
			return DecisionAbandon, context.Canceled
		}),
	}
	err := policy.Do(context.Background(), func(_ context.Context) error {
		return &AuthAmbiguousError{Provider: ProviderDigitalOcean, Err: errors.New("401")}
	})
	assert.Error(t, err)
}
