package digitalocean

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/digitalocean/godo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-vpn/outpost/internal/cloud"
)

var testPoll = cloud.PollConfig{Interval: time.Millisecond, Deadline: time.Second}

func testConfig() Config {
	return Config{OperationPoll: testPoll, DiscoveryPoll: testPoll}
}

func testDroplet(id int, status string, tags []string) *godo.Droplet {
	return &godo.Droplet{
		ID:     id,
		Name:   "relay-1",
		Status: status,
		Tags:   tags,
		Region: &godo.Region{Slug: "ams3", Name: "Amsterdam 3"},
		Networks: &godo.Networks{
			V4: []godo.NetworkV4{{Type: "public", IPAddress: "198.51.100.10"}},
		},
		Created: time.Now().UTC().Format(time.RFC3339),
	}
}

func secretTags() []string {
	return []string{
		MarkerTag,
		encodeKVTag(cloud.TagKeyManagementURL, "https://198.51.100.99:8443/x"),
		encodeKVTag(cloud.TagKeyCertFingerprint, "AA:BB"),
	}
}

func TestCreateServer_FullFlow(t *testing.T) {
	client, droplets, firewalls, reservedIPs, actions := newMockClient()
	account := NewAccountWithClient(client, "tok", testConfig(), nil)

	var mu sync.Mutex
	gets := 0

	droplets.CreateFunc = func(_ context.Context, req *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error) {
		assert.Equal(t, "relay-1", req.Name)
		assert.Equal(t, "ams3", req.Region)
		assert.Contains(t, req.Tags, MarkerTag)
		assert.Contains(t, req.UserData, "publish_tag")
		return testDroplet(7, "new", []string{MarkerTag}), nil, nil
	}
	droplets.GetFunc = func(_ context.Context, id int) (*godo.Droplet, *godo.Response, error) {
		require.Equal(t, 7, id)
		mu.Lock()
		defer mu.Unlock()
		gets++
		switch {
		case gets == 1:
			return testDroplet(7, "new", []string{MarkerTag}), nil, nil
		case gets < 4:
			// Running but the install script has not published yet.
			return testDroplet(7, "active", []string{MarkerTag}), nil, nil
		default:
			return testDroplet(7, "active", secretTags()), nil, nil
		}
	}
	firewalls.CreateFunc = func(_ context.Context, fr *godo.FirewallRequest) (*godo.Firewall, *godo.Response, error) {
		assert.Contains(t, fr.Tags, MarkerTag)
		return &godo.Firewall{ID: "fw-1"}, nil, nil
	}
	reservedIPs.CreateFunc = func(_ context.Context, req *godo.ReservedIPCreateRequest) (*godo.ReservedIP, *godo.Response, error) {
		assert.Equal(t, "ams3", req.Region)
		return &godo.ReservedIP{IP: "203.0.113.20"}, nil, nil
	}
	actions.AssignFunc = func(_ context.Context, ip string, dropletID int) (*godo.Action, *godo.Response, error) {
		assert.Equal(t, "203.0.113.20", ip)
		assert.Equal(t, 7, dropletID)
		return &godo.Action{}, nil, nil
	}

	server, err := account.CreateServer(context.Background(), "ams3", "relay-1")
	require.NoError(t, err)
	assert.Equal(t, cloud.ProviderDigitalOcean, server.Provider)
	assert.Equal(t, "https://198.51.100.99:8443/x", server.ManagementURL())
	assert.Equal(t, "AA:BB", server.Secrets.CertFingerprint)
	// The reserved IP is the server's address, not the ephemeral one.
	assert.Equal(t, "203.0.113.20", server.Instance.IPAddress)
	assert.Nil(t, account.ActiveSession(), "session must be cleared on completion")
}

func TestCreateServer_ReusesExistingAccountFirewall(t *testing.T) {
	client, droplets, firewalls, reservedIPs, actions := newMockClient()
	account := NewAccountWithClient(client, "tok", testConfig(), nil)

	var mu sync.Mutex
	gets := 0
	firewallCreates := 0

	droplets.CreateFunc = func(_ context.Context, _ *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error) {
		return testDroplet(7, "new", []string{MarkerTag}), nil, nil
	}
	droplets.GetFunc = func(_ context.Context, _ int) (*godo.Droplet, *godo.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		gets++
		if gets < 2 {
			return testDroplet(7, "active", []string{MarkerTag}), nil, nil
		}
		return testDroplet(7, "active", secretTags()), nil, nil
	}
	firewalls.ListFunc = func(_ context.Context, _ *godo.ListOptions) ([]godo.Firewall, *godo.Response, error) {
		return []godo.Firewall{{ID: "fw-1", Name: MarkerTag}}, nil, nil
	}
	firewalls.CreateFunc = func(_ context.Context, _ *godo.FirewallRequest) (*godo.Firewall, *godo.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		firewallCreates++
		return &godo.Firewall{ID: "fw-2"}, nil, nil
	}
	reservedIPs.CreateFunc = func(_ context.Context, _ *godo.ReservedIPCreateRequest) (*godo.ReservedIP, *godo.Response, error) {
		return &godo.ReservedIP{IP: "203.0.113.20"}, nil, nil
	}
	actions.AssignFunc = func(_ context.Context, _ string, _ int) (*godo.Action, *godo.Response, error) {
		return &godo.Action{}, nil, nil
	}

	_, err := account.CreateServer(context.Background(), "ams3", "relay-1")
	require.NoError(t, err)

	// The tag-scoped rule already covers the new droplet; a second identical
	// account-wide firewall must not stack up.
	mu.Lock()
	assert.Equal(t, 0, firewallCreates)
	mu.Unlock()
}

func TestCreateServer_SecondCallRejected(t *testing.T) {
	client, droplets, _, _, _ := newMockClient()
	account := NewAccountWithClient(client, "tok", testConfig(), nil)

	started := make(chan struct{})
	release := make(chan struct{})

	droplets.CreateFunc = func(_ context.Context, _ *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error) {
		return testDroplet(7, "new", []string{MarkerTag}), nil, nil
	}
	var once sync.Once
	droplets.GetFunc = func(_ context.Context, _ int) (*godo.Droplet, *godo.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return testDroplet(7, "active", secretTags()), nil, nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := account.CreateServer(context.Background(), "ams3", "relay-1")
		errCh <- err
	}()
	<-started

	// The orchestrator itself rejects overlap; no provider call is made.
	_, err := account.CreateServer(context.Background(), "ams3", "relay-2")
	assert.ErrorIs(t, err, cloud.ErrCreationInProgress)

	close(release)
	require.NoError(t, <-errCh)
}

func TestCreateServer_CancelDeletesHostAndReportsCanceled(t *testing.T) {
	client, droplets, _, reservedIPs, _ := newMockClient()
	account := NewAccountWithClient(client, "tok", testConfig(), nil)

	var mu sync.Mutex
	var deletedDroplet bool

	droplets.CreateFunc = func(_ context.Context, _ *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error) {
		return testDroplet(7, "new", []string{MarkerTag}), nil, nil
	}
	started := make(chan struct{})
	var once sync.Once
	droplets.GetFunc = func(_ context.Context, _ int) (*godo.Droplet, *godo.Response, error) {
		once.Do(func() { close(started) })
		// Never reaches running; the user cancels first.
		return testDroplet(7, "new", []string{MarkerTag}), nil, nil
	}
	droplets.DeleteFunc = func(_ context.Context, id int) (*godo.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		deletedDroplet = true
		return nil, nil
	}
	reservedIPs.ListFunc = func(_ context.Context, _ *godo.ListOptions) ([]godo.ReservedIP, *godo.Response, error) {
		return nil, nil, nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := account.CreateServer(context.Background(), "ams3", "relay-1")
		errCh <- err
	}()
	<-started

	require.NoError(t, account.CancelCreation(context.Background()))

	err := <-errCh
	assert.ErrorIs(t, err, cloud.ErrInstallCanceled)
	var installErr *cloud.InstallFailedError
	assert.False(t, errors.As(err, &installErr), "cancellation must not surface as install failure")

	mu.Lock()
	assert.True(t, deletedDroplet)
	mu.Unlock()
	assert.Nil(t, account.ActiveSession())
}

func TestCreateServer_CancelDuringDropletCreateStillDeletesDroplet(t *testing.T) {
	client, droplets, _, reservedIPs, _ := newMockClient()
	account := NewAccountWithClient(client, "tok", testConfig(), nil)

	var mu sync.Mutex
	var deleted []int

	droplets.CreateFunc = func(_ context.Context, _ *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error) {
		// Cancel lands while the create call is in flight, before the host
		// handle is recorded on the session. CancelActive finds nothing to
		// delete; the creation goroutine owns the cleanup.
		require.NoError(t, account.CancelCreation(context.Background()))
		return testDroplet(7, "new", []string{MarkerTag}), nil, nil
	}
	droplets.DeleteFunc = func(_ context.Context, id int) (*godo.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		deleted = append(deleted, id)
		return nil, nil
	}
	reservedIPs.ListFunc = func(_ context.Context, _ *godo.ListOptions) ([]godo.ReservedIP, *godo.Response, error) {
		return nil, nil, nil
	}

	_, err := account.CreateServer(context.Background(), "ams3", "relay-1")
	assert.ErrorIs(t, err, cloud.ErrInstallCanceled)

	mu.Lock()
	assert.Equal(t, []int{7}, deleted, "the droplet created under a cancelled session must be deleted")
	mu.Unlock()
	assert.Nil(t, account.ActiveSession())
}

func TestDeleteServer_ReleasesReservedIPBeforeDroplet(t *testing.T) {
	client, droplets, _, reservedIPs, _ := newMockClient()
	account := NewAccountWithClient(client, "tok", testConfig(), nil)

	var order []string
	reservedIPs.ListFunc = func(_ context.Context, _ *godo.ListOptions) ([]godo.ReservedIP, *godo.Response, error) {
		return []godo.ReservedIP{
			{IP: "203.0.113.20", Droplet: &godo.Droplet{ID: 7}},
			{IP: "203.0.113.99", Droplet: &godo.Droplet{ID: 42}},
		}, nil, nil
	}
	reservedIPs.DeleteFunc = func(_ context.Context, ip string) (*godo.Response, error) {
		order = append(order, "release:"+ip)
		return nil, nil
	}
	droplets.DeleteFunc = func(_ context.Context, id int) (*godo.Response, error) {
		order = append(order, "droplet")
		return nil, nil
	}

	require.NoError(t, account.DeleteServer(context.Background(), "7"))
	// Only the droplet's own IP is released, and before the droplet dies.
	assert.Equal(t, []string{"release:203.0.113.20", "droplet"}, order)
}

func TestListServers_SkipsInstancesWithoutSecrets(t *testing.T) {
	client, droplets, _, _, _ := newMockClient()
	account := NewAccountWithClient(client, "tok", testConfig(), nil)

	droplets.ListByTagFunc = func(_ context.Context, tag string, _ *godo.ListOptions) ([]godo.Droplet, *godo.Response, error) {
		assert.Equal(t, MarkerTag, tag)
		installed := testDroplet(1, "active", secretTags())
		installing := testDroplet(2, "active", []string{MarkerTag})
		return []godo.Droplet{*installed, *installing}, nil, nil
	}

	servers, err := account.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "1", servers[0].Instance.ID)
	assert.True(t, servers[0].Secrets.Complete())
}
