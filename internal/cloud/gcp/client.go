// Package gcp implements the managed-server account contract on Google
// Compute Engine.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/outpost-vpn/outpost/internal/cloud"
)

// guestAttributeNamespace is the guest-attribute namespace the install
// script publishes its secrets under.
const guestAttributeNamespace = "outpost"

// API is the narrow view of the Compute Engine surface the account uses.
// The real implementation wraps *compute.Service; tests substitute a mock.
type API interface {
	InsertInstance(ctx context.Context, zone string, inst *compute.Instance) (*compute.Operation, error)
	GetInstance(ctx context.Context, zone, name string) (*compute.Instance, error)
	DeleteInstance(ctx context.Context, zone, name string) (*compute.Operation, error)
	ListInstances(ctx context.Context, filter string) (map[string][]*compute.Instance, error)
	GetGuestAttributes(ctx context.Context, zone, name, queryPath string) (*compute.GuestAttributes, error)

	InsertFirewall(ctx context.Context, fw *compute.Firewall) (*compute.Operation, error)
	DeleteFirewall(ctx context.Context, name string) (*compute.Operation, error)

	InsertAddress(ctx context.Context, region string, addr *compute.Address) (*compute.Operation, error)
	DeleteAddress(ctx context.Context, region, name string) (*compute.Operation, error)

	GetZoneOperation(ctx context.Context, zone, name string) (*compute.Operation, error)
	GetRegionOperation(ctx context.Context, region, name string) (*compute.Operation, error)
	GetGlobalOperation(ctx context.Context, name string) (*compute.Operation, error)

	ListZones(ctx context.Context) ([]*compute.Zone, error)
}

// computeAPI is the production API backed by the Compute Engine service.
type computeAPI struct {
	project string
	svc     *compute.Service
}

// NewAPI creates the production Compute Engine API client for a project.
func NewAPI(ctx context.Context, project string, ts oauth2.TokenSource) (API, error) {
	svc, err := compute.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}
	return &computeAPI{project: project, svc: svc}, nil
}

func (c *computeAPI) InsertInstance(ctx context.Context, zone string, inst *compute.Instance) (*compute.Operation, error) {
	return c.svc.Instances.Insert(c.project, zone, inst).Context(ctx).Do()
}

func (c *computeAPI) GetInstance(ctx context.Context, zone, name string) (*compute.Instance, error) {
	return c.svc.Instances.Get(c.project, zone, name).Context(ctx).Do()
}

func (c *computeAPI) DeleteInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	return c.svc.Instances.Delete(c.project, zone, name).Context(ctx).Do()
}

func (c *computeAPI) ListInstances(ctx context.Context, filter string) (map[string][]*compute.Instance, error) {
	out := make(map[string][]*compute.Instance)
	call := c.svc.Instances.AggregatedList(c.project).Context(ctx)
	if filter != "" {
		call = call.Filter(filter)
	}
	err := call.Pages(ctx, func(page *compute.InstanceAggregatedList) error {
		for scope, list := range page.Items {
			if len(list.Instances) == 0 {
				continue
			}
			zone := strings.TrimPrefix(scope, "zones/")
			out[zone] = append(out[zone], list.Instances...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *computeAPI) GetGuestAttributes(ctx context.Context, zone, name, queryPath string) (*compute.GuestAttributes, error) {
	return c.svc.Instances.GetGuestAttributes(c.project, zone, name).QueryPath(queryPath).Context(ctx).Do()
}

func (c *computeAPI) InsertFirewall(ctx context.Context, fw *compute.Firewall) (*compute.Operation, error) {
	return c.svc.Firewalls.Insert(c.project, fw).Context(ctx).Do()
}

func (c *computeAPI) DeleteFirewall(ctx context.Context, name string) (*compute.Operation, error) {
	return c.svc.Firewalls.Delete(c.project, name).Context(ctx).Do()
}

func (c *computeAPI) InsertAddress(ctx context.Context, region string, addr *compute.Address) (*compute.Operation, error) {
	return c.svc.Addresses.Insert(c.project, region, addr).Context(ctx).Do()
}

func (c *computeAPI) DeleteAddress(ctx context.Context, region, name string) (*compute.Operation, error) {
	return c.svc.Addresses.Delete(c.project, region, name).Context(ctx).Do()
}

func (c *computeAPI) GetZoneOperation(ctx context.Context, zone, name string) (*compute.Operation, error) {
	return c.svc.ZoneOperations.Get(c.project, zone, name).Context(ctx).Do()
}

func (c *computeAPI) GetRegionOperation(ctx context.Context, region, name string) (*compute.Operation, error) {
	return c.svc.RegionOperations.Get(c.project, region, name).Context(ctx).Do()
}

func (c *computeAPI) GetGlobalOperation(ctx context.Context, name string) (*compute.Operation, error) {
	return c.svc.GlobalOperations.Get(c.project, name).Context(ctx).Do()
}

func (c *computeAPI) ListZones(ctx context.Context) ([]*compute.Zone, error) {
	var zones []*compute.Zone
	err := c.svc.Zones.List(c.project).Context(ctx).Pages(ctx, func(page *compute.ZoneList) error {
		zones = append(zones, page.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zones, nil
}

// wrapErr maps a Compute Engine call result into the shared error taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return cloud.WrapHTTPStatus(cloud.ProviderGCP, gerr.Code, err)
	}
	return cloud.WrapTransport(err)
}

// toAsyncOperation normalizes a Compute Engine operation handle.
func toAsyncOperation(op *compute.Operation) cloud.AsyncOperation {
	out := cloud.AsyncOperation{ID: op.Name, Status: cloud.OperationPending, TargetResourceID: op.TargetLink}
	if op.Status == "DONE" {
		out.Status = cloud.OperationSucceeded
		if op.Error != nil && len(op.Error.Errors) > 0 {
			out.Status = cloud.OperationFailed
			msgs := make([]string, 0, len(op.Error.Errors))
			for _, e := range op.Error.Errors {
				msgs = append(msgs, e.Message)
			}
			out.Diagnostic = strings.Join(msgs, "; ")
		}
	}
	return out
}

// instanceState maps an instance status string to the normalized state.
func instanceState(status string) cloud.LifecycleState {
	switch status {
	case "PROVISIONING", "STAGING":
		return cloud.StatePending
	case "RUNNING":
		return cloud.StateRunning
	case "STOPPING", "SUSPENDING":
		return cloud.StateStopping
	case "TERMINATED", "SUSPENDED":
		return cloud.StateTerminated
	default:
		return cloud.StateUnknown
	}
}

// zoneRegion derives the region from a zone name: "us-central1-a" →
// "us-central1".
func zoneRegion(zone string) string {
	if i := strings.LastIndex(zone, "-"); i > 0 {
		return zone[:i]
	}
	return zone
}

// regionCountry maps a Compute Engine region to its country code.
func regionCountry(region string) string {
	known := map[string]string{
		"europe-west1": "BE", "europe-west2": "GB", "europe-west3": "DE",
		"europe-west4": "NL", "europe-west6": "CH", "europe-north1": "FI",
		"northamerica-northeast1": "CA", "southamerica-east1": "BR",
		"asia-east1": "TW", "asia-east2": "HK", "asia-northeast1": "JP",
		"asia-south1": "IN", "asia-southeast1": "SG", "australia-southeast1": "AU",
	}
	if cc, ok := known[region]; ok {
		return cc
	}
	if strings.HasPrefix(region, "us-") {
		return "US"
	}
	return ""
}
