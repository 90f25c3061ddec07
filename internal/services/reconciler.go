// Package services provides the orchestration logic between the provider
// accounts, the persisted display-record cache and the API surface.
package services

import (
	"context"
	"fmt"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/db/models"
	"github.com/outpost-vpn/outpost/internal/events"
	"github.com/outpost-vpn/outpost/internal/logger"
	"github.com/outpost-vpn/outpost/internal/metrics"
)

// Reconciler merges the cached display-record list with the live
// provider-reported server list, healing drift in both directions: names are
// refreshed from live truth, unknown live servers gain records, and cached
// cloud-managed records whose instance disappeared are removed with a
// user-visible notification.
type Reconciler struct {
	records DisplayRecordStore
	bus     *events.Bus
}

// DisplayRecordStore is the slice of the record repository the reconciler
// and server service need.
type DisplayRecordStore interface {
	List(ctx context.Context) ([]models.DisplayRecord, error)
	Get(ctx context.Context, id string) (*models.DisplayRecord, error)
	Upsert(ctx context.Context, record *models.DisplayRecord) error
	UpdateName(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
	DeleteBatch(ctx context.Context, ids []string) error
}

// NewReconciler creates a reconciler over the given record store.
func NewReconciler(records DisplayRecordStore, bus *events.Bus) *Reconciler {
	return &Reconciler{records: records, bus: bus}
}

// reconcileResult is the outcome of one pure reconciliation pass.
type reconcileResult struct {
	upserts []models.DisplayRecord
	removed []models.DisplayRecord
}

// reconcile computes one pass over a FULL live snapshot. Live servers are
// matched to cached records by management URL; unmatched live servers get a
// fresh record, matched ones have their display name refreshed. Cached
// cloud-managed records not touched by any live server are orphans. Manual
// records have no cloud existence to check and never participate in orphan
// detection. The pass is a pure function of its inputs, which makes it
// idempotent by construction.
func reconcile(live []*cloud.ManagedServer, cached []models.DisplayRecord) reconcileResult {
	byID := make(map[string]models.DisplayRecord, len(cached))
	for _, rec := range cached {
		byID[rec.ID] = rec
	}

	var result reconcileResult
	touched := make(map[string]bool, len(live))
	for _, server := range live {
		id := server.ManagementURL()
		if id == "" {
			continue
		}
		touched[id] = true

		rec, ok := byID[id]
		if !ok {
			result.upserts = append(result.upserts, models.DisplayRecord{
				ID:              id,
				Name:            server.Instance.Name,
				IsManaged:       true,
				CloudProviderID: string(server.Provider),
				IsSynced:        true,
			})
			continue
		}
		dirty := false
		if server.Instance.Name != "" && rec.Name != server.Instance.Name {
			rec.Name = server.Instance.Name
			dirty = true
		}
		if !rec.IsSynced {
			rec.IsSynced = true
			dirty = true
		}
		if dirty {
			result.upserts = append(result.upserts, rec)
		}
	}

	for _, rec := range cached {
		if !rec.IsManaged {
			continue
		}
		if !touched[rec.ID] {
			result.removed = append(result.removed, rec)
		}
	}
	return result
}

// Reconcile applies one pass against the persisted cache. The live slice
// must be a complete snapshot: a partial listing would make still-live
// servers look orphaned.
func (r *Reconciler) Reconcile(ctx context.Context, live []*cloud.ManagedServer) error {
	cached, err := r.records.List(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("reconcile: %w", err)
	}

	result := reconcile(live, cached)

	for i := range result.upserts {
		if err := r.records.Upsert(ctx, &result.upserts[i]); err != nil {
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("reconcile: %w", err)
		}
	}

	if len(result.removed) > 0 {
		ids := make([]string, len(result.removed))
		names := make([]string, len(result.removed))
		for i, rec := range result.removed {
			ids[i] = rec.ID
			names[i] = rec.Name
		}
		if err := r.records.DeleteBatch(ctx, ids); err != nil {
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("reconcile: %w", err)
		}
		metrics.ReconcileRemoved.Add(float64(len(result.removed)))
		r.bus.Publish(ctx, events.Event{
			Type:    events.TypeServerRemoved,
			Servers: names,
			Message: fmt.Sprintf("Removed servers no longer present in the cloud: %v", names),
		})
		logger.WarnWithFields("removed orphaned display records", map[string]interface{}{
			"servers": names,
		})
	}

	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	return nil
}
