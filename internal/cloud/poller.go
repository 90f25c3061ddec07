package cloud

import (
	"context"
	"fmt"
	"time"
)

// Polling defaults. Operation status moves quickly; bootstrap discovery waits
// on a guest-side install script and is polled more gently.
const (
	DefaultOperationPollInterval = 1 * time.Second
	DefaultOperationDeadline     = 5 * time.Minute

	DefaultDiscoveryPollInterval = 5 * time.Second
	DefaultDiscoveryDeadline     = 15 * time.Minute
)

// maxTransientPollErrors is the number of consecutive network-level fetch
// failures tolerated before a poll loop gives up. A brief blip must not
// abandon an operation that is still running server-side.
const maxTransientPollErrors = 3

// timeNow is a variable so tests can control the clock.
var timeNow = time.Now

// PollConfig bounds a poll loop. Every poll carries an explicit deadline so a
// wedged provider cannot leak a request loop forever.
type PollConfig struct {
	Interval time.Duration
	Deadline time.Duration
}

func (c PollConfig) withDefaults(interval, deadline time.Duration) PollConfig {
	if c.Interval <= 0 {
		c.Interval = interval
	}
	if c.Deadline <= 0 {
		c.Deadline = deadline
	}
	return c
}

// FetchOperationFunc fetches the current state of a long-running operation.
type FetchOperationFunc func(ctx context.Context) (AsyncOperation, error)

// PollOperation repeatedly fetches a provider long-running operation until it
// reaches a terminal state, the deadline passes, or ctx is cancelled. A failed
// terminal state is returned as an OperationFailedError carrying the
// provider's diagnostic payload.
func PollOperation(ctx context.Context, cfg PollConfig, fetch FetchOperationFunc) (AsyncOperation, error) {
	cfg = cfg.withDefaults(DefaultOperationPollInterval, DefaultOperationDeadline)
	deadline := timeNow().Add(cfg.Deadline)

	transient := 0
	for {
		op, err := fetch(ctx)
		switch {
		case err == nil:
			transient = 0
			switch op.Status {
			case OperationSucceeded:
				return op, nil
			case OperationFailed:
				return op, &OperationFailedError{OperationID: op.ID, Diagnostic: op.Diagnostic}
			}
		case IsNetwork(err):
			transient++
			if transient >= maxTransientPollErrors {
				return AsyncOperation{}, err
			}
		default:
			return AsyncOperation{}, err
		}

		if timeNow().After(deadline) {
			return AsyncOperation{}, fmt.Errorf("%w after %s", ErrTimedOut, cfg.Deadline)
		}
		if err := sleep(ctx, cfg.Interval); err != nil {
			return AsyncOperation{}, err
		}
	}
}

// WaitForState polls an instance until its lifecycle state matches want. Used
// for providers without an operation handle, where readiness is observed off
// the instance itself.
func WaitForState(ctx context.Context, cfg PollConfig, want LifecycleState, fetch func(ctx context.Context) (InstanceDescriptor, error)) (InstanceDescriptor, error) {
	_, err := PollOperation(ctx, cfg, func(ctx context.Context) (AsyncOperation, error) {
		inst, err := fetch(ctx)
		if err != nil {
			return AsyncOperation{}, err
		}
		status := OperationPending
		switch inst.State {
		case want:
			status = OperationSucceeded
		case StateError:
			return AsyncOperation{
				ID:         inst.ID,
				Status:     OperationFailed,
				Diagnostic: fmt.Sprintf("instance %s entered error state", inst.Name),
			}, nil
		}
		return AsyncOperation{ID: inst.ID, Status: status, TargetResourceID: inst.ID}, nil
	})
	if err != nil {
		return InstanceDescriptor{}, err
	}
	return fetch(ctx)
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
