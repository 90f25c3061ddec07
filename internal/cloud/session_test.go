package cloud

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu      sync.Mutex
	deleted int
}

func (h *fakeHost) ID() string              { return "fake-1" }
func (h *fakeHost) Region() string          { return "test-1" }
func (h *fakeHost) MonthlyCostUSD() float64 { return 5 }
func (h *fakeHost) MonthlyTransferGB() int  { return 1000 }
func (h *fakeHost) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted++
	return nil
}

func (h *fakeHost) deleteCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deleted
}

func TestSessionGuard_SecondBeginRejected(t *testing.T) {
	var guard SessionGuard

	first, err := guard.Begin("relay-1", "nyc3")
	require.NoError(t, err)

	_, err = guard.Begin("relay-2", "ams3")
	assert.ErrorIs(t, err, ErrCreationInProgress)

	guard.End(first)
	second, err := guard.Begin("relay-2", "ams3")
	require.NoError(t, err)
	assert.NotNil(t, second)
}

func TestSessionGuard_ConcurrentBeginAdmitsExactlyOne(t *testing.T) {
	var guard SessionGuard

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.Begin("relay", "loc"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestSessionGuard_CancelActiveDeletesHostAndClearsSlot(t *testing.T) {
	var guard SessionGuard
	host := &fakeHost{}

	session, err := guard.Begin("relay-1", "nyc3")
	require.NoError(t, err)
	session.SetHost(host)

	require.NoError(t, guard.CancelActive(context.Background()))
	assert.Equal(t, 1, host.deleteCount())
	assert.True(t, session.Cancelled())
	assert.Nil(t, guard.Active())
}

func TestSessionGuard_CancelActiveWithoutHost(t *testing.T) {
	var guard SessionGuard

	_, err := guard.Begin("relay-1", "nyc3")
	require.NoError(t, err)

	// No host recorded yet: nothing to delete, slot still cleared.
	require.NoError(t, guard.CancelActive(context.Background()))
	assert.Nil(t, guard.Active())
}

func TestCreationSession_TeardownDeletesLateRecordedHost(t *testing.T) {
	var guard SessionGuard
	host := &fakeHost{}

	session, err := guard.Begin("relay-1", "nyc3")
	require.NoError(t, err)

	// Cancel lands before the creator records its host; only the flag is
	// set and nothing is deleted yet.
	require.NoError(t, guard.CancelActive(context.Background()))
	assert.Equal(t, 0, host.deleteCount())

	// The creation goroutine records the host it already made and then
	// observes the cancel. Teardown must delete it even when the ctx that
	// carried the cancellation is already done.
	session.SetHost(host)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, session.Teardown(ctx))
	assert.Equal(t, 1, host.deleteCount())
}

func TestCreationSession_TeardownWithoutHost(t *testing.T) {
	var guard SessionGuard
	session, err := guard.Begin("relay-1", "nyc3")
	require.NoError(t, err)
	assert.NoError(t, session.Teardown(context.Background()))
}

func TestSessionGuard_CancelActiveNoSession(t *testing.T) {
	var guard SessionGuard
	assert.NoError(t, guard.CancelActive(context.Background()))
}

func TestCreationSession_StatusSnapshot(t *testing.T) {
	var guard SessionGuard
	session, err := guard.Begin("relay-1", "nyc3")
	require.NoError(t, err)

	session.SetStep(StepBootstrapping)
	status := session.Status()
	assert.Equal(t, "relay-1", status.Name)
	assert.Equal(t, "nyc3", status.LocationID)
	assert.Equal(t, StepBootstrapping.String(), status.Step)
	assert.False(t, status.Cancelled)
}
