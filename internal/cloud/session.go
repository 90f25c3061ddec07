package cloud

import (
	"context"
	"sync"
	"sync/atomic"
)

// CreationSession tracks the single in-flight server creation for an account.
// It exists only in memory: a restart abandons the session, and the resulting
// half-created host is picked up (or cleaned up) by the operator.
type CreationSession struct {
	mu        sync.Mutex
	step      CreationStep
	name      string
	location  string
	host      Host
	cancelled atomic.Bool
}

// SessionStatus is a read-only snapshot of a session for status reporting.
type SessionStatus struct {
	Name       string `json:"name"`
	LocationID string `json:"location_id"`
	Step       string `json:"step"`
	Cancelled  bool   `json:"cancelled"`
}

// SetStep records the step the creation protocol is currently attempting.
func (s *CreationSession) SetStep(step CreationStep) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
}

// Step returns the last recorded step.
func (s *CreationSession) Step() CreationStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// SetHost records the host handle once enough of it exists to be deletable.
// From this point on, cancellation tears the host down.
func (s *CreationSession) SetHost(h Host) {
	s.mu.Lock()
	s.host = h
	s.mu.Unlock()
}

// Host returns the partially or fully created host, or nil.
func (s *CreationSession) Host() Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Cancel marks the session cancelled. Poll loops observe the flag on each
// iteration and exit with ErrInstallCanceled.
func (s *CreationSession) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether the session has been cancelled.
func (s *CreationSession) Cancelled() bool {
	return s.cancelled.Load()
}

// Teardown deletes the partial host, if any. Cancellation can land between
// the provider's create call and SetHost, in which case CancelActive saw no
// host yet and only the creation goroutine holds the handle; it calls
// Teardown on the way out so the host is deleted no matter which side lost
// the race. Host deletes are idempotent, so both sides deleting is fine.
// The delete runs even when ctx itself carried the cancellation.
func (s *CreationSession) Teardown(ctx context.Context) error {
	h := s.Host()
	if h == nil {
		return nil
	}
	return h.Delete(context.WithoutCancel(ctx))
}

// Status returns a snapshot for status endpoints.
func (s *CreationSession) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		Name:       s.name,
		LocationID: s.location,
		Step:       s.step.String(),
		Cancelled:  s.cancelled.Load(),
	}
}

// SessionGuard enforces the at-most-one-creation-per-account invariant with a
// compare-and-swap on the session slot, so the guarantee holds even when
// CreateServer is entered concurrently from multiple entry points.
type SessionGuard struct {
	active atomic.Pointer[CreationSession]
}

// Begin claims the session slot. It returns ErrCreationInProgress, without
// any provider call having been made, when a session is already active.
func (g *SessionGuard) Begin(name, locationID string) (*CreationSession, error) {
	s := &CreationSession{step: StepRequested, name: name, location: locationID}
	if !g.active.CompareAndSwap(nil, s) {
		return nil, ErrCreationInProgress
	}
	return s, nil
}

// End releases the slot if s still owns it.
func (g *SessionGuard) End(s *CreationSession) {
	g.active.CompareAndSwap(s, nil)
}

// Active returns the in-flight session, or nil.
func (g *SessionGuard) Active() *CreationSession {
	return g.active.Load()
}

// CancelActive cancels the in-flight session if any, deletes whatever part of
// the host already exists, and releases the slot. Deleting a host that was
// never created (or is already gone) is a no-op, which makes cancellation
// safe to race against the creation goroutine.
func (g *SessionGuard) CancelActive(ctx context.Context) error {
	s := g.active.Load()
	if s == nil {
		return nil
	}
	s.Cancel()
	if h := s.Host(); h != nil {
		if err := h.Delete(ctx); err != nil {
			return err
		}
	}
	g.End(s)
	return nil
}
