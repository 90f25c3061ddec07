package digitalocean

import (
	"context"

	"github.com/digitalocean/godo"
)

// Mock godo services in the FuncField style; nil funcs fail loudly via panic
// so a test exercising an unexpected call is visible immediately.

type mockDroplets struct {
	CreateFunc    func(ctx context.Context, req *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error)
	GetFunc       func(ctx context.Context, dropletID int) (*godo.Droplet, *godo.Response, error)
	ListByTagFunc func(ctx context.Context, tag string, opt *godo.ListOptions) ([]godo.Droplet, *godo.Response, error)
	DeleteFunc    func(ctx context.Context, dropletID int) (*godo.Response, error)
}

func (m *mockDroplets) Create(ctx context.Context, req *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error) {
	return m.CreateFunc(ctx, req)
}

func (m *mockDroplets) Get(ctx context.Context, dropletID int) (*godo.Droplet, *godo.Response, error) {
	return m.GetFunc(ctx, dropletID)
}

func (m *mockDroplets) ListByTag(ctx context.Context, tag string, opt *godo.ListOptions) ([]godo.Droplet, *godo.Response, error) {
	return m.ListByTagFunc(ctx, tag, opt)
}

func (m *mockDroplets) Delete(ctx context.Context, dropletID int) (*godo.Response, error) {
	return m.DeleteFunc(ctx, dropletID)
}

type mockFirewalls struct {
	CreateFunc func(ctx context.Context, fr *godo.FirewallRequest) (*godo.Firewall, *godo.Response, error)
	ListFunc   func(ctx context.Context, opt *godo.ListOptions) ([]godo.Firewall, *godo.Response, error)
}

func (m *mockFirewalls) Create(ctx context.Context, fr *godo.FirewallRequest) (*godo.Firewall, *godo.Response, error) {
	return m.CreateFunc(ctx, fr)
}

func (m *mockFirewalls) List(ctx context.Context, opt *godo.ListOptions) ([]godo.Firewall, *godo.Response, error) {
	if m.ListFunc == nil {
		return nil, nil, nil
	}
	return m.ListFunc(ctx, opt)
}

type mockReservedIPs struct {
	CreateFunc func(ctx context.Context, req *godo.ReservedIPCreateRequest) (*godo.ReservedIP, *godo.Response, error)
	ListFunc   func(ctx context.Context, opt *godo.ListOptions) ([]godo.ReservedIP, *godo.Response, error)
	DeleteFunc func(ctx context.Context, ip string) (*godo.Response, error)
}

func (m *mockReservedIPs) Create(ctx context.Context, req *godo.ReservedIPCreateRequest) (*godo.ReservedIP, *godo.Response, error) {
	return m.CreateFunc(ctx, req)
}

func (m *mockReservedIPs) List(ctx context.Context, opt *godo.ListOptions) ([]godo.ReservedIP, *godo.Response, error) {
	return m.ListFunc(ctx, opt)
}

func (m *mockReservedIPs) Delete(ctx context.Context, ip string) (*godo.Response, error) {
	return m.DeleteFunc(ctx, ip)
}

type mockReservedIPActions struct {
	AssignFunc func(ctx context.Context, ip string, dropletID int) (*godo.Action, *godo.Response, error)
}

func (m *mockReservedIPActions) Assign(ctx context.Context, ip string, dropletID int) (*godo.Action, *godo.Response, error) {
	return m.AssignFunc(ctx, ip, dropletID)
}

type mockRegions struct {
	ListFunc func(ctx context.Context, opt *godo.ListOptions) ([]godo.Region, *godo.Response, error)
}

func (m *mockRegions) List(ctx context.Context, opt *godo.ListOptions) ([]godo.Region, *godo.Response, error) {
	return m.ListFunc(ctx, opt)
}

type mockSizes struct {
	ListFunc func(ctx context.Context, opt *godo.ListOptions) ([]godo.Size, *godo.Response, error)
}

func (m *mockSizes) List(ctx context.Context, opt *godo.ListOptions) ([]godo.Size, *godo.Response, error) {
	if m.ListFunc == nil {
		return nil, nil, nil
	}
	return m.ListFunc(ctx, opt)
}

// newMockClient bundles fresh mocks into a Client.
func newMockClient() (*Client, *mockDroplets, *mockFirewalls, *mockReservedIPs, *mockReservedIPActions) {
	droplets := &mockDroplets{}
	firewalls := &mockFirewalls{}
	reservedIPs := &mockReservedIPs{}
	actions := &mockReservedIPActions{}
	client := &Client{
		Droplets:          droplets,
		Firewalls:         firewalls,
		ReservedIPs:       reservedIPs,
		ReservedIPActions: actions,
		Regions:           &mockRegions{},
		Sizes:             &mockSizes{},
	}
	return client, droplets, firewalls, reservedIPs, actions
}
