package cloud

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverBootstrapSecrets_WaitsForBothKeys(t *testing.T) {
	calls := 0
	secrets, err := DiscoverBootstrapSecrets(context.Background(), nil, fastPoll, func(_ context.Context) (map[string]string, error) {
		calls++
		switch calls {
		case 1:
			return map[string]string{}, nil
		case 2:
			// Partial secrets must never cause an early return.
			return map[string]string{TagKeyManagementURL: "https://203.0.113.5:8443/abc"}, nil
		default:
			return map[string]string{
				TagKeyManagementURL:   "https://203.0.113.5:8443/abc",
				TagKeyCertFingerprint: "AA:BB:CC",
			}, nil
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "https://203.0.113.5:8443/abc", secrets.ManagementURL)
	assert.Equal(t, "AA:BB:CC", secrets.CertFingerprint)
	assert.Equal(t, 3, calls)
}

func TestDiscoverBootstrapSecrets_NotFoundMeansNotYet(t *testing.T) {
	calls := 0
	secrets, err := DiscoverBootstrapSecrets(context.Background(), nil, fastPoll, func(_ context.Context) (map[string]string, error) {
		calls++
		if calls < 3 {
			return nil, &APIError{StatusCode: http.StatusNotFound, Message: "no attributes yet"}
		}
		return map[string]string{
			TagKeyManagementURL:   "https://a/",
			TagKeyCertFingerprint: "ff",
		}, nil
	})
	require.NoError(t, err)
	assert.True(t, secrets.Complete())
}

func TestDiscoverBootstrapSecrets_CancelledSessionExitsCleanly(t *testing.T) {
	session := &CreationSession{}
	session.Cancel()
	_, err := DiscoverBootstrapSecrets(context.Background(), session, fastPoll, func(_ context.Context) (map[string]string, error) {
		t.Fatal("fetch must not be called after cancellation")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrInstallCanceled)
}

func TestDiscoverBootstrapSecrets_CancellationBeatsCompleteSecrets(t *testing.T) {
	session := &CreationSession{}
	_, err := DiscoverBootstrapSecrets(context.Background(), session, fastPoll, func(_ context.Context) (map[string]string, error) {
		// Cancel between the fetch and the final check: the user's
		// cancellation must win over a success observed in the same
		// iteration.
		session.Cancel()
		return map[string]string{
			TagKeyManagementURL:   "https://a/",
			TagKeyCertFingerprint: "ff",
		}, nil
	})
	assert.ErrorIs(t, err, ErrInstallCanceled)
}

func TestDiscoverBootstrapSecrets_DeadlineReturnsTimedOut(t *testing.T) {
	cfg := PollConfig{Interval: time.Millisecond, Deadline: 10 * time.Millisecond}
	_, err := DiscoverBootstrapSecrets(context.Background(), nil, cfg, func(_ context.Context) (map[string]string, error) {
		return map[string]string{}, nil
	})
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestDiscoverBootstrapSecrets_RepeatedNetworkFailureGivesUp(t *testing.T) {
	_, err := DiscoverBootstrapSecrets(context.Background(), nil, fastPoll, func(_ context.Context) (map[string]string, error) {
		return nil, &NetworkError{Err: errors.New("dial timeout")}
	})
	assert.True(t, IsNetwork(err))
}

func TestSecretsFromTags(t *testing.T) {
	secrets := SecretsFromTags(map[string]string{
		TagKeyManagementURL:   "https://b/",
		TagKeyCertFingerprint: "sha",
		"unrelated":           "ignored",
	})
	assert.True(t, secrets.Complete())

	assert.False(t, SecretsFromTags(map[string]string{TagKeyManagementURL: "https://b/"}).Complete())
	assert.False(t, SecretsFromTags(nil).Complete())
}
