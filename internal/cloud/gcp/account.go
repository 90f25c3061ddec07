package gcp

import (
	"context"
	"fmt"
	"path"
	"time"

	compute "google.golang.org/api/compute/v1"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/logger"
)

// Defaults for new instances.
const (
	defaultMachineType = "e2-micro"
	defaultSourceImage = "projects/ubuntu-os-cloud/global/images/family/ubuntu-2204-lts"
	defaultNetwork     = "global/networks/default"

	// defaultMonthlyCostUSD approximates the on-demand price of the default
	// machine type; Compute Engine has no per-instance price API.
	defaultMonthlyCostUSD = 7.11
)

// publishCommand writes a key/value pair into the instance's guest
// attributes via the metadata server. No credential is needed inside the
// guest for this channel.
const publishCommand = `  curl -fsS -X PUT --data "$2" -H "Metadata-Flavor: Google" \
    "http://metadata.google.internal/computeMetadata/v1/instance/guest-attributes/` + guestAttributeNamespace + `/$1"`

// managedLabel marks instances managed by this tool.
const managedLabel = "outpost"

// Config carries the account's instance parameters.
type Config struct {
	MachineType string
	SourceImage string

	ContainerImage    string
	MetricsURL        string
	ErrorReportingURL string

	OperationPoll cloud.PollConfig
	DiscoveryPoll cloud.PollConfig
}

func (c Config) withDefaults() Config {
	if c.MachineType == "" {
		c.MachineType = defaultMachineType
	}
	if c.SourceImage == "" {
		c.SourceImage = defaultSourceImage
	}
	return c
}

// Account drives the Compute Engine provisioning protocol: create a firewall
// rule scoped to the instance name, insert the instance with cloud-init user
// data, wait for the creation operation, then promote the ephemeral address
// to a static reservation and poll guest attributes for bootstrap secrets.
// Everything is project/zone scoped.
type Account struct {
	api      API
	cfg      Config
	retry    *cloud.RetryPolicy
	sessions cloud.SessionGuard
}

// NewAccount creates a Compute Engine account backend.
func NewAccount(api API, cfg Config, retry *cloud.RetryPolicy) *Account {
	if retry == nil {
		retry = &cloud.RetryPolicy{Provider: cloud.ProviderGCP}
	}
	return &Account{api: api, cfg: cfg.withDefaults(), retry: retry}
}

// Provider implements cloud.Account.
func (a *Account) Provider() cloud.ProviderID { return cloud.ProviderGCP }

// ActiveSession implements cloud.Account.
func (a *Account) ActiveSession() *cloud.CreationSession { return a.sessions.Active() }

// CancelCreation implements cloud.Account.
func (a *Account) CancelCreation(ctx context.Context) error {
	return a.sessions.CancelActive(ctx)
}

// ListLocations implements cloud.Account. Locations are zones.
func (a *Account) ListLocations(ctx context.Context) ([]cloud.Location, error) {
	var zones []*compute.Zone
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		zones, err = a.api.ListZones(ctx)
		return wrapErr(err)
	})
	if err != nil {
		return nil, err
	}

	locations := make([]cloud.Location, 0, len(zones))
	for _, z := range zones {
		if z.Status != "UP" {
			continue
		}
		region := zoneRegion(z.Name)
		locations = append(locations, cloud.Location{
			ID:          z.Name,
			DisplayName: region,
			CountryCode: regionCountry(region),
		})
	}
	return locations, nil
}

// firewallName scopes the firewall rule to the instance it protects.
func firewallName(instanceName string) string {
	return fmt.Sprintf("%s-%s", managedLabel, instanceName)
}

// addressName names the static reservation the ephemeral IP is promoted to.
func addressName(instanceName string) string {
	return fmt.Sprintf("%s-%s-ip", managedLabel, instanceName)
}

// CreateServer implements cloud.Account. locationID is a zone name.
func (a *Account) CreateServer(ctx context.Context, locationID, name string) (*cloud.ManagedServer, error) {
	session, err := a.sessions.Begin(name, locationID)
	if err != nil {
		return nil, err
	}
	defer a.sessions.End(session)

	server, err := a.createServer(ctx, session, locationID, name)
	if err != nil {
		if cloud.IsCanceled(err) || session.Cancelled() {
			if derr := session.Teardown(ctx); derr != nil {
				logger.Warnf("failed to delete host after cancelled creation: %v", derr)
			}
			return nil, cloud.ErrInstallCanceled
		}
		session.SetStep(cloud.StepFailed)
		return nil, err
	}
	session.SetStep(cloud.StepReady)
	return server, nil
}

func (a *Account) createServer(ctx context.Context, session *cloud.CreationSession, zone, name string) (*cloud.ManagedServer, error) {
	userData, err := cloud.RenderUserData(cloud.UserDataParams{
		ServerName:        name,
		ContainerImage:    a.cfg.ContainerImage,
		MetricsURL:        a.cfg.MetricsURL,
		ErrorReportingURL: a.cfg.ErrorReportingURL,
		PublishCommand:    publishCommand,
	})
	if err != nil {
		return nil, err
	}

	// Step 1: a firewall rule scoped to the instance's own network tag, so
	// tearing down the server can remove exactly its rule.
	session.SetStep(cloud.StepNetworkConfigured)
	var fwOp *compute.Operation
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		fwOp, err = a.api.InsertFirewall(ctx, &compute.Firewall{
			Name:    firewallName(name),
			Network: defaultNetwork,
			Allowed: []*compute.FirewallAllowed{
				{IPProtocol: "tcp"},
				{IPProtocol: "udp"},
			},
			SourceRanges: []string{"0.0.0.0/0"},
			TargetTags:   []string{name},
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create firewall rule: %w", err)
	}
	if err := a.waitGlobal(ctx, session, fwOp); err != nil {
		return nil, fmt.Errorf("failed to create firewall rule: %w", err)
	}

	// Step 2: insert the instance with cloud-init user data and guest
	// attributes enabled, then wait for the zone operation.
	session.SetStep(cloud.StepInstanceCreating)
	trueStr := "true"
	userDataCopy := userData
	inst := &compute.Instance{
		Name:        name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", zone, a.cfg.MachineType),
		Labels:      map[string]string{managedLabel: "true"},
		Tags:        &compute.Tags{Items: []string{name}},
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: a.cfg.SourceImage,
			},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network: defaultNetwork,
			AccessConfigs: []*compute.AccessConfig{{
				Type: "ONE_TO_ONE_NAT",
				Name: "External NAT",
			}},
		}},
		Metadata: &compute.Metadata{Items: []*compute.MetadataItems{
			{Key: "user-data", Value: &userDataCopy},
			{Key: "enable-guest-attributes", Value: &trueStr},
		}},
	}
	var instOp *compute.Operation
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		instOp, err = a.api.InsertInstance(ctx, zone, inst)
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepInstanceCreating, err)
	}

	h := &host{account: a, name: name, zone: zone, costUSD: defaultMonthlyCostUSD}
	session.SetHost(h)

	if err := a.waitZone(ctx, session, zone, instOp); err != nil {
		return nil, a.installFailed(cloud.StepInstanceCreating, err)
	}

	// Step 3: the instance boots with an ephemeral NAT address; promote it
	// to a static reservation so it survives the instance's lifetime.
	session.SetStep(cloud.StepAddressAssigned)
	created, err := a.getInstance(ctx, zone, name)
	if err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}
	natIP := ephemeralIP(created)
	if natIP == "" {
		return nil, a.installFailed(cloud.StepAddressAssigned, fmt.Errorf("instance %s has no external address", name))
	}
	region := zoneRegion(zone)
	var addrOp *compute.Operation
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		addrOp, err = a.api.InsertAddress(ctx, region, &compute.Address{
			Name:    addressName(name),
			Address: natIP,
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}
	if err := a.waitRegion(ctx, session, region, addrOp); err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}

	// Step 4: wait for the install script to publish its guest attributes.
	session.SetStep(cloud.StepBootstrapping)
	secrets, err := cloud.DiscoverBootstrapSecrets(ctx, session, a.cfg.DiscoveryPoll, func(ctx context.Context) (map[string]string, error) {
		attrs, err := a.api.GetGuestAttributes(ctx, zone, name, guestAttributeNamespace+"/")
		if err != nil {
			return nil, wrapErr(err)
		}
		return guestAttributeMap(attrs), nil
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepBootstrapping, err)
	}

	final, err := a.getInstance(ctx, zone, name)
	if err != nil {
		return nil, a.installFailed(cloud.StepBootstrapping, err)
	}
	desc := a.toDescriptor(final, zone)
	desc.Tags[cloud.TagKeyManagementURL] = secrets.ManagementURL
	desc.Tags[cloud.TagKeyCertFingerprint] = secrets.CertFingerprint

	return &cloud.ManagedServer{Provider: cloud.ProviderGCP, Instance: desc, Secrets: secrets, Host: h}, nil
}

// installFailed attributes a mid-creation failure to its step. Cancellation
// passes through so a user-initiated deletion is never reported as failure.
func (a *Account) installFailed(step cloud.CreationStep, err error) error {
	if cloud.IsCanceled(err) {
		return err
	}
	return &cloud.InstallFailedError{Step: step, Err: err}
}

// ListServers implements cloud.Account.
func (a *Account) ListServers(ctx context.Context) ([]*cloud.ManagedServer, error) {
	var byZone map[string][]*compute.Instance
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		byZone, err = a.api.ListInstances(ctx, fmt.Sprintf("labels.%s=true", managedLabel))
		return wrapErr(err)
	})
	if err != nil {
		return nil, err
	}

	var servers []*cloud.ManagedServer
	for zone, instances := range byZone {
		for _, inst := range instances {
			attrs, err := a.api.GetGuestAttributes(ctx, zone, inst.Name, guestAttributeNamespace+"/")
			if err != nil {
				if cloud.IsNotFound(wrapErr(err)) {
					continue // still installing
				}
				return nil, wrapErr(err)
			}
			secrets := cloud.SecretsFromTags(guestAttributeMap(attrs))
			if !secrets.Complete() {
				continue
			}
			desc := a.toDescriptor(inst, zone)
			servers = append(servers, &cloud.ManagedServer{
				Provider: cloud.ProviderGCP,
				Instance: desc,
				Secrets:  secrets,
				Host:     &host{account: a, name: inst.Name, zone: zone, costUSD: defaultMonthlyCostUSD},
			})
		}
	}
	return servers, nil
}

// DeleteServer implements cloud.Account. instanceID is "zone/name". The
// static address and the per-instance firewall rule are independent
// resources and are removed first; every step tolerates already-gone
// resources so deletion is idempotent.
func (a *Account) DeleteServer(ctx context.Context, instanceID string) error {
	zone, name := path.Dir(instanceID), path.Base(instanceID)
	if zone == "." || name == "" {
		return fmt.Errorf("invalid instance id %q, want zone/name", instanceID)
	}

	return a.retry.Do(ctx, func(ctx context.Context) error {
		if _, err := a.api.DeleteAddress(ctx, zoneRegion(zone), addressName(name)); err != nil {
			if werr := wrapErr(err); !cloud.IsNotFound(werr) {
				return werr
			}
		}
		if _, err := a.api.DeleteFirewall(ctx, firewallName(name)); err != nil {
			if werr := wrapErr(err); !cloud.IsNotFound(werr) {
				return werr
			}
		}
		if _, err := a.api.DeleteInstance(ctx, zone, name); err != nil {
			if werr := wrapErr(err); !cloud.IsNotFound(werr) {
				return werr
			}
		}
		return nil
	})
}

func (a *Account) getInstance(ctx context.Context, zone, name string) (*compute.Instance, error) {
	var inst *compute.Instance
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		inst, err = a.api.GetInstance(ctx, zone, name)
		return wrapErr(err)
	})
	return inst, err
}

func (a *Account) toDescriptor(inst *compute.Instance, zone string) cloud.InstanceDescriptor {
	region := zoneRegion(zone)
	desc := cloud.InstanceDescriptor{
		ID:    zone + "/" + inst.Name,
		Name:  inst.Name,
		State: instanceState(inst.Status),
		Location: cloud.Location{
			ID:          zone,
			DisplayName: region,
			CountryCode: regionCountry(region),
		},
		IPAddress: ephemeralIP(inst),
		Tags:      map[string]string{},
	}
	if t, err := time.Parse(time.RFC3339, inst.CreationTimestamp); err == nil {
		desc.CreatedAt = t
	}
	return desc
}

// ephemeralIP returns the instance's external NAT address, or "".
func ephemeralIP(inst *compute.Instance) string {
	for _, iface := range inst.NetworkInterfaces {
		for _, ac := range iface.AccessConfigs {
			if ac.NatIP != "" {
				return ac.NatIP
			}
		}
	}
	return ""
}

// guestAttributeMap flattens a guest-attribute query result.
func guestAttributeMap(attrs *compute.GuestAttributes) map[string]string {
	out := make(map[string]string)
	if attrs == nil || attrs.QueryValue == nil {
		return out
	}
	for _, item := range attrs.QueryValue.Items {
		out[item.Key] = item.Value
	}
	return out
}

// Operation waits, each observing the session's cancellation flag.

func (a *Account) waitZone(ctx context.Context, session *cloud.CreationSession, zone string, op *compute.Operation) error {
	return a.waitOperation(ctx, session, op, func(ctx context.Context) (*compute.Operation, error) {
		return a.api.GetZoneOperation(ctx, zone, op.Name)
	})
}

func (a *Account) waitRegion(ctx context.Context, session *cloud.CreationSession, region string, op *compute.Operation) error {
	return a.waitOperation(ctx, session, op, func(ctx context.Context) (*compute.Operation, error) {
		return a.api.GetRegionOperation(ctx, region, op.Name)
	})
}

func (a *Account) waitGlobal(ctx context.Context, session *cloud.CreationSession, op *compute.Operation) error {
	return a.waitOperation(ctx, session, op, func(ctx context.Context) (*compute.Operation, error) {
		return a.api.GetGlobalOperation(ctx, op.Name)
	})
}

func (a *Account) waitOperation(ctx context.Context, session *cloud.CreationSession, op *compute.Operation, fetch func(ctx context.Context) (*compute.Operation, error)) error {
	if op == nil {
		return nil
	}
	_, err := cloud.PollOperation(ctx, a.cfg.OperationPoll, func(ctx context.Context) (cloud.AsyncOperation, error) {
		if session != nil && session.Cancelled() {
			return cloud.AsyncOperation{}, cloud.ErrInstallCanceled
		}
		current, err := fetch(ctx)
		if err != nil {
			return cloud.AsyncOperation{}, wrapErr(err)
		}
		return toAsyncOperation(current), nil
	})
	if err != nil {
		logger.Debugf("gcp operation %s: %v", op.Name, err)
	}
	return err
}
