package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/db/models"
	"github.com/outpost-vpn/outpost/internal/db/repos"
	"github.com/outpost-vpn/outpost/internal/events"
	"github.com/outpost-vpn/outpost/internal/logger"
	"github.com/outpost-vpn/outpost/internal/metrics"
)

// ErrServerNotFound is returned for lookups against a management URL that no
// connected account reports.
var ErrServerNotFound = errors.New("server not found")

// CreationStatus describes the in-flight creation on one account, if any.
type CreationStatus struct {
	Provider cloud.ProviderID `json:"provider"`
	Name     string           `json:"name"`
	Location string           `json:"location"`
	Step     string           `json:"step"`
}

// ServerService coordinates server lifecycle across all connected accounts
// and keeps the display-record cache in step with what the providers report.
type ServerService struct {
	accounts   *AccountManager
	records    DisplayRecordStore
	settings   *repos.SettingRepository
	reconciler *Reconciler
	bus        *events.Bus

	mu   sync.Mutex
	last []*cloud.ManagedServer
}

// NewServerService creates the server orchestration service.
func NewServerService(accounts *AccountManager, records DisplayRecordStore, settings *repos.SettingRepository, reconciler *Reconciler, bus *events.Bus) *ServerService {
	return &ServerService{
		accounts:   accounts,
		records:    records,
		settings:   settings,
		reconciler: reconciler,
		bus:        bus,
	}
}

// Create starts an asynchronous server creation on the given provider. It
// returns immediately after the session is established; progress is exposed
// through CreatingStatus and the events bus. A second creation on the same
// account is rejected before any provider call is made.
func (s *ServerService) Create(ctx context.Context, provider cloud.ProviderID, locationID, name string) error {
	account, err := s.accounts.Get(provider)
	if err != nil {
		return err
	}
	if account.ActiveSession() != nil {
		return cloud.ErrCreationInProgress
	}

	go func() {
		// Detached from the request context: creation outlives the
		// HTTP call that started it.
		runCtx := context.Background()
		server, err := account.CreateServer(runCtx, locationID, name)
		switch {
		case err == nil:
			metrics.ServerCreations.WithLabelValues(string(provider), "ready").Inc()
			s.bus.Publish(runCtx, events.Event{
				Type:     events.TypeServerCreated,
				Provider: string(provider),
				Servers:  []string{server.Instance.Name},
				Message:  fmt.Sprintf("Server %q is ready", server.Instance.Name),
			})
			s.cacheCreated(runCtx, server)
		case errors.Is(err, cloud.ErrInstallCanceled):
			metrics.ServerCreations.WithLabelValues(string(provider), "canceled").Inc()
			logger.InfoWithFields("server creation canceled", map[string]interface{}{
				"provider": provider,
				"name":     name,
			})
		default:
			metrics.ServerCreations.WithLabelValues(string(provider), "failed").Inc()
			s.bus.Publish(runCtx, events.Event{
				Type:     events.TypeServerCreateFailed,
				Provider: string(provider),
				Servers:  []string{name},
				Message:  fmt.Sprintf("Creating server %q failed: %v", name, err),
			})
			logger.ErrorWithFields("server creation failed", map[string]interface{}{
				"provider": provider,
				"name":     name,
				"error":    err.Error(),
			})
		}
	}()
	return nil
}

// cacheCreated writes the display record for a freshly installed server so it
// is visible before the next reconcile tick.
func (s *ServerService) cacheCreated(ctx context.Context, server *cloud.ManagedServer) {
	record := &models.DisplayRecord{
		ID:              server.ManagementURL(),
		Name:            server.Instance.Name,
		IsManaged:       true,
		CloudProviderID: string(server.Provider),
		IsSynced:        true,
	}
	if err := s.records.Upsert(ctx, record); err != nil {
		logger.Errorf("caching display record for %s: %v", record.ID, err)
	}
}

// List returns the known servers. With cachedOnly set it serves the last
// live snapshot plus persisted records without touching any provider;
// otherwise it queries every connected account, runs a reconciliation pass
// and returns the fresh snapshot.
func (s *ServerService) List(ctx context.Context, cachedOnly bool) ([]*cloud.ManagedServer, error) {
	if cachedOnly {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]*cloud.ManagedServer, len(s.last))
		copy(out, s.last)
		return out, nil
	}
	return s.Refresh(ctx)
}

// Refresh queries every connected account for its live servers, reconciles
// the display-record cache against the full snapshot and returns it. Any
// account that fails to list aborts the refresh: a partial snapshot must not
// reach the reconciler or its servers would be treated as orphans.
func (s *ServerService) Refresh(ctx context.Context) ([]*cloud.ManagedServer, error) {
	var live []*cloud.ManagedServer
	for _, account := range s.accounts.List() {
		servers, err := account.ListServers(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s servers: %w", account.Provider(), err)
		}
		live = append(live, servers...)
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].ManagementURL() < live[j].ManagementURL()
	})

	if err := s.reconciler.Reconcile(ctx, live); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.last = live
	s.mu.Unlock()
	return live, nil
}

// RunReconcileLoop refreshes the live snapshot immediately, then on every
// tick until ctx ends. The startup pass heals drift from changes made while
// the daemon was down and seeds the snapshot so cache-only listings have
// data before the first interval elapses.
func (s *ServerService) RunReconcileLoop(ctx context.Context, interval time.Duration) {
	refresh := func() {
		if _, err := s.Refresh(ctx); err != nil {
			logger.Errorf("reconcile failed: %v", err)
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// find locates a live server by its management URL, refreshing the snapshot
// when the cached one does not contain it.
func (s *ServerService) find(ctx context.Context, id string) (*cloud.ManagedServer, error) {
	s.mu.Lock()
	for _, server := range s.last {
		if server.ManagementURL() == id {
			s.mu.Unlock()
			return server, nil
		}
	}
	s.mu.Unlock()

	live, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	for _, server := range live {
		if server.ManagementURL() == id {
			return server, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
}

// Delete destroys the server identified by its management URL, releasing the
// provider-side address reservation before the instance, then drops its
// display record.
func (s *ServerService) Delete(ctx context.Context, id string) error {
	server, err := s.find(ctx, id)
	if err != nil {
		// A record with no live counterpart can still be removed.
		if errors.Is(err, ErrServerNotFound) {
			return s.deleteRecord(ctx, id)
		}
		return err
	}

	if err := server.Host.Delete(ctx); err != nil {
		return fmt.Errorf("deleting server %s: %w", id, err)
	}
	s.bus.Publish(ctx, events.Event{
		Type:     events.TypeServerDeleted,
		Provider: string(server.Provider),
		Servers:  []string{server.Instance.Name},
		Message:  fmt.Sprintf("Server %q deleted", server.Instance.Name),
	})
	return s.deleteRecord(ctx, id)
}

func (s *ServerService) deleteRecord(ctx context.Context, id string) error {
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting display record %s: %w", id, err)
	}
	s.mu.Lock()
	kept := s.last[:0]
	for _, server := range s.last {
		if server.ManagementURL() != id {
			kept = append(kept, server)
		}
	}
	s.last = kept
	s.mu.Unlock()
	return nil
}

// Probe checks that the server behind id answers on its management URL with
// the pinned certificate.
func (s *ServerService) Probe(ctx context.Context, id string) error {
	server, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	return ProbeServer(ctx, server)
}

// Rename updates the display name of a server's record. The change is local
// to the record cache; the cloud instance keeps its original name.
func (s *ServerService) Rename(ctx context.Context, id, name string) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	if err := s.records.UpdateName(ctx, id, name); err != nil {
		return fmt.Errorf("renaming server %s: %w", id, err)
	}
	return nil
}

// Records returns the persisted display records, ordered by creation time.
func (s *ServerService) Records(ctx context.Context) ([]models.DisplayRecord, error) {
	return s.records.List(ctx)
}

// CreatingStatus reports every in-flight creation session across connected
// accounts.
func (s *ServerService) CreatingStatus() []CreationStatus {
	var out []CreationStatus
	for _, account := range s.accounts.List() {
		session := account.ActiveSession()
		if session == nil {
			continue
		}
		status := session.Status()
		out = append(out, CreationStatus{
			Provider: account.Provider(),
			Name:     status.Name,
			Location: status.LocationID,
			Step:     status.Step,
		})
	}
	return out
}

// CancelCreation cancels the in-flight creation on the given provider,
// deleting the partially created host.
func (s *ServerService) CancelCreation(ctx context.Context, provider cloud.ProviderID) error {
	account, err := s.accounts.Get(provider)
	if err != nil {
		return err
	}
	return account.CancelCreation(ctx)
}

// LastShownServer returns the persisted "last shown server" management URL,
// or the empty string when none has been stored.
func (s *ServerService) LastShownServer(ctx context.Context) (string, error) {
	return s.settings.Get(ctx, models.SettingLastShownServerID)
}

// SetLastShownServer persists the "last shown server" management URL.
func (s *ServerService) SetLastShownServer(ctx context.Context, id string) error {
	return s.settings.Set(ctx, models.SettingLastShownServerID, id)
}
