package cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPoll keeps test poll loops quick.
var fastPoll = PollConfig{Interval: time.Millisecond, Deadline: 250 * time.Millisecond}

func TestPollOperation_Succeeds(t *testing.T) {
	calls := 0
	op, err := PollOperation(context.Background(), fastPoll, func(_ context.Context) (AsyncOperation, error) {
		calls++
		if calls < 3 {
			return AsyncOperation{ID: "op-1", Status: OperationPending}, nil
		}
		return AsyncOperation{ID: "op-1", Status: OperationSucceeded, TargetResourceID: "srv-1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", op.TargetResourceID)
	assert.Equal(t, 3, calls)
}

func TestPollOperation_FailedStateCarriesDiagnostic(t *testing.T) {
	_, err := PollOperation(context.Background(), fastPoll, func(_ context.Context) (AsyncOperation, error) {
		return AsyncOperation{ID: "op-2", Status: OperationFailed, Diagnostic: "quota exceeded"}, nil
	})
	var opErr *OperationFailedError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "op-2", opErr.OperationID)
	assert.Contains(t, opErr.Diagnostic, "quota exceeded")
}

func TestPollOperation_DeadlineReturnsTimedOut(t *testing.T) {
	cfg := PollConfig{Interval: time.Millisecond, Deadline: 10 * time.Millisecond}
	_, err := PollOperation(context.Background(), cfg, func(_ context.Context) (AsyncOperation, error) {
		return AsyncOperation{Status: OperationPending}, nil
	})
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestPollOperation_ToleratesTransientNetworkErrors(t *testing.T) {
	calls := 0
	op, err := PollOperation(context.Background(), fastPoll, func(_ context.Context) (AsyncOperation, error) {
		calls++
		if calls <= 2 {
			return AsyncOperation{}, &NetworkError{Err: errors.New("connection reset")}
		}
		return AsyncOperation{Status: OperationSucceeded}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, OperationSucceeded, op.Status)
}

func TestPollOperation_GivesUpAfterRepeatedNetworkErrors(t *testing.T) {
	_, err := PollOperation(context.Background(), fastPoll, func(_ context.Context) (AsyncOperation, error) {
		return AsyncOperation{}, &NetworkError{Err: errors.New("no route to host")}
	})
	assert.True(t, IsNetwork(err))
}

func TestPollOperation_APIErrorAbortsImmediately(t *testing.T) {
	calls := 0
	_, err := PollOperation(context.Background(), fastPoll, func(_ context.Context) (AsyncOperation, error) {
		calls++
		return AsyncOperation{}, &APIError{StatusCode: 500, Message: "boom"}
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, calls)
}

func TestPollOperation_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PollOperation(ctx, fastPoll, func(_ context.Context) (AsyncOperation, error) {
		return AsyncOperation{Status: OperationPending}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForState_ReturnsFreshDescriptor(t *testing.T) {
	calls := 0
	inst, err := WaitForState(context.Background(), fastPoll, StateRunning, func(_ context.Context) (InstanceDescriptor, error) {
		calls++
		state := StatePending
		if calls >= 2 {
			state = StateRunning
		}
		return InstanceDescriptor{ID: "42", Name: "relay-1", State: state, IPAddress: "192.0.2.7"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, inst.State)
	assert.Equal(t, "192.0.2.7", inst.IPAddress)
}

func TestWaitForState_ErrorStateFails(t *testing.T) {
	_, err := WaitForState(context.Background(), fastPoll, StateRunning, func(_ context.Context) (InstanceDescriptor, error) {
		return InstanceDescriptor{ID: "42", Name: "relay-1", State: StateError}, nil
	})
	var opErr *OperationFailedError
	assert.ErrorAs(t, err, &opErr)
}
