package lightsail

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lightsail"
	lstypes "github.com/aws/aws-sdk-go-v2/service/lightsail/types"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/logger"
)

// Defaults for new instances.
const (
	defaultBundleID    = "nano_2_0"
	defaultBlueprintID = "ubuntu_22_04"
)

// markerTagKey marks instances managed by this tool.
const markerTagKey = "outpost"

// publishCommand pushes a key/value pair into the instance's tags. The guest
// authenticates with the key pair passed through ACCESS_TOKEN as
// "<access-key-id>:<secret>"; the instance shares its name with the server.
const publishCommand = `  AWS_ACCESS_KEY_ID="${ACCESS_TOKEN%%%%:*}" AWS_SECRET_ACCESS_KEY="${ACCESS_TOKEN#*:}" \
    aws lightsail tag-resource --region %s \
    --resource-name "${SERVER_NAME}" --tags "key=$1,value=$2"`

// Config carries the account's instance parameters.
type Config struct {
	BundleID    string
	BlueprintID string

	ContainerImage    string
	MetricsURL        string
	ErrorReportingURL string

	OperationPoll cloud.PollConfig
	DiscoveryPoll cloud.PollConfig
}

func (c Config) withDefaults() Config {
	if c.BundleID == "" {
		c.BundleID = defaultBundleID
	}
	if c.BlueprintID == "" {
		c.BlueprintID = defaultBlueprintID
	}
	return c
}

// Account drives the Lightsail provisioning protocol. Lightsail is
// operation-based throughout: every mutating command returns an operation id
// that must be waited on before the next step.
type Account struct {
	clients   ClientFactory
	accessKey string
	secretKey string
	cfg       Config
	retry     *cloud.RetryPolicy
	sessions  cloud.SessionGuard

	// listRegion is the region ListServers and GetRegions are issued
	// against; any region answers GetRegions.
	listRegion string

	pricingOnce sync.Once
	pricing     map[string]lstypes.Bundle
}

// NewAccount creates a Lightsail account backend for a static key pair.
func NewAccount(accessKeyID, secretAccessKey string, cfg Config, retry *cloud.RetryPolicy) *Account {
	return NewAccountWithClients(NewClientFactory(accessKeyID, secretAccessKey), accessKeyID, secretAccessKey, cfg, retry)
}

// NewAccountWithClients creates an account over an existing client factory.
// Tests use this to substitute mocks.
func NewAccountWithClients(clients ClientFactory, accessKeyID, secretAccessKey string, cfg Config, retry *cloud.RetryPolicy) *Account {
	if retry == nil {
		retry = &cloud.RetryPolicy{Provider: cloud.ProviderLightsail}
	}
	return &Account{
		clients:    clients,
		accessKey:  accessKeyID,
		secretKey:  secretAccessKey,
		cfg:        cfg.withDefaults(),
		retry:      retry,
		listRegion: "us-east-1",
	}
}

// Provider implements cloud.Account.
func (a *Account) Provider() cloud.ProviderID { return cloud.ProviderLightsail }

// ActiveSession implements cloud.Account.
func (a *Account) ActiveSession() *cloud.CreationSession { return a.sessions.Active() }

// CancelCreation implements cloud.Account.
func (a *Account) CancelCreation(ctx context.Context) error {
	return a.sessions.CancelActive(ctx)
}

// ListLocations implements cloud.Account. Locations are availability zones.
func (a *Account) ListLocations(ctx context.Context) ([]cloud.Location, error) {
	api, err := a.clients(a.listRegion)
	if err != nil {
		return nil, err
	}

	var out *lightsail.GetRegionsOutput
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = api.GetRegions(ctx, &lightsail.GetRegionsInput{
			IncludeAvailabilityZones: aws.Bool(true),
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, err
	}

	var locations []cloud.Location
	for _, region := range out.Regions {
		for _, az := range region.AvailabilityZones {
			zone := deref(az.ZoneName)
			if zone == "" {
				continue
			}
			locations = append(locations, cloud.Location{
				ID:          zone,
				DisplayName: deref(region.DisplayName),
				CountryCode: regionCountry(string(region.Name)),
			})
		}
	}
	return locations, nil
}

// CreateServer implements cloud.Account. locationID is an availability zone.
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
	region := zoneRegion(zone)
	api, err := a.clients(region)
	if err != nil {
		return nil, err
	}

	userData, err := cloud.RenderUserData(cloud.UserDataParams{
		AccessToken:       a.accessKey + ":" + a.secretKey,
		ServerName:        name,
		ContainerImage:    a.cfg.ContainerImage,
		MetricsURL:        a.cfg.MetricsURL,
		ErrorReportingURL: a.cfg.ErrorReportingURL,
		PublishCommand:    fmt.Sprintf(publishCommand, region),
	})
	if err != nil {
		return nil, err
	}

	// Step 1: create the instance and wait on the returned operation.
	session.SetStep(cloud.StepInstanceCreating)
	var createOut *lightsail.CreateInstancesOutput
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		createOut, err = api.CreateInstances(ctx, &lightsail.CreateInstancesInput{
			InstanceNames:    []string{name},
			AvailabilityZone: aws.String(zone),
			BlueprintId:      aws.String(a.cfg.BlueprintID),
			BundleId:         aws.String(a.cfg.BundleID),
			UserData:         aws.String(userData),
			Tags:             []lstypes.Tag{{Key: aws.String(markerTagKey), Value: aws.String("true")}},
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	logger.Infof("created lightsail instance %s in %s", name, zone)

	cost, transfer := a.bundlePricing(ctx, api, a.cfg.BundleID)
	h := &host{account: a, name: name, region: region, costUSD: cost, transferGB: transfer}
	session.SetHost(h)

	if err := a.waitOperations(ctx, session, api, createOut.Operations); err != nil {
		return nil, a.installFailed(cloud.StepInstanceCreating, err)
	}

	// Step 2: open all public ports and wait on that operation.
	session.SetStep(cloud.StepNetworkConfigured)
	var portsOut *lightsail.OpenInstancePublicPortsOutput
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		portsOut, err = api.OpenInstancePublicPorts(ctx, &lightsail.OpenInstancePublicPortsInput{
			InstanceName: aws.String(name),
			PortInfo: &lstypes.PortInfo{
				FromPort: 0,
				ToPort:   65535,
				Protocol: lstypes.NetworkProtocolAll,
			},
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepNetworkConfigured, err)
	}
	if err := a.waitOperation(ctx, session, api, portsOut.Operation); err != nil {
		return nil, a.installFailed(cloud.StepNetworkConfigured, err)
	}

	// Step 3: allocate a static IP, wait, attach it, wait.
	session.SetStep(cloud.StepAddressAssigned)
	ipName := staticIPName(name)
	var allocOut *lightsail.AllocateStaticIpOutput
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		allocOut, err = api.AllocateStaticIp(ctx, &lightsail.AllocateStaticIpInput{
			StaticIpName: aws.String(ipName),
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}
	if err := a.waitOperations(ctx, session, api, allocOut.Operations); err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}
	var attachOut *lightsail.AttachStaticIpOutput
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		attachOut, err = api.AttachStaticIp(ctx, &lightsail.AttachStaticIpInput{
			StaticIpName: aws.String(ipName),
			InstanceName: aws.String(name),
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}
	if err := a.waitOperations(ctx, session, api, attachOut.Operations); err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}

	// Step 4: poll instance tags until both secret values are present.
	session.SetStep(cloud.StepBootstrapping)
	secrets, err := cloud.DiscoverBootstrapSecrets(ctx, session, a.cfg.DiscoveryPoll, func(ctx context.Context) (map[string]string, error) {
		out, err := api.GetInstance(ctx, &lightsail.GetInstanceInput{InstanceName: aws.String(name)})
		if err != nil {
			return nil, wrapErr(err)
		}
		return tagMap(out.Instance.Tags), nil
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepBootstrapping, err)
	}

	var final *lightsail.GetInstanceOutput
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		final, err = api.GetInstance(ctx, &lightsail.GetInstanceInput{InstanceName: aws.String(name)})
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepBootstrapping, err)
	}

	return &cloud.ManagedServer{
		Provider: cloud.ProviderLightsail,
		Instance: a.toDescriptor(final.Instance, region),
		Secrets:  secrets,
		Host:     h,
	}, nil
}

func (a *Account) installFailed(step cloud.CreationStep, err error) error {
	if cloud.IsCanceled(err) {
		return err
	}
	return &cloud.InstallFailedError{Step: step, Err: err}
}

// ListServers implements cloud.Account. Every region with a configured
// client could hold servers; for predictability the account lists the
// regions reported by GetRegions and queries each.
func (a *Account) ListServers(ctx context.Context) ([]*cloud.ManagedServer, error) {
	listAPI, err := a.clients(a.listRegion)
	if err != nil {
		return nil, err
	}
	var regionsOut *lightsail.GetRegionsOutput
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		regionsOut, err = listAPI.GetRegions(ctx, &lightsail.GetRegionsInput{})
		return wrapErr(err)
	})
	if err != nil {
		return nil, err
	}

	var servers []*cloud.ManagedServer
	for _, region := range regionsOut.Regions {
		regionName := string(region.Name)
		api, err := a.clients(regionName)
		if err != nil {
			return nil, err
		}
		var instances []lstypes.Instance
		err = a.retry.Do(ctx, func(ctx context.Context) error {
			instances = instances[:0]
			var pageToken *string
			for {
				out, err := api.GetInstances(ctx, &lightsail.GetInstancesInput{PageToken: pageToken})
				if err != nil {
					return wrapErr(err)
				}
				instances = append(instances, out.Instances...)
				if out.NextPageToken == nil {
					return nil
				}
				pageToken = out.NextPageToken
			}
		})
		if err != nil {
			return nil, err
		}

		for i := range instances {
			inst := &instances[i]
			tags := tagMap(inst.Tags)
			if _, managed := tags[markerTagKey]; !managed {
				continue
			}
			secrets := cloud.SecretsFromTags(tags)
			if !secrets.Complete() {
				continue
			}
			cost, transfer := a.bundlePricing(ctx, api, deref(inst.BundleId))
			servers = append(servers, &cloud.ManagedServer{
				Provider: cloud.ProviderLightsail,
				Instance: a.toDescriptor(inst, regionName),
				Secrets:  secrets,
				Host: &host{
					account:    a,
					name:       deref(inst.Name),
					region:     regionName,
					costUSD:    cost,
					transferGB: transfer,
				},
			})
		}
	}
	return servers, nil
}

// DeleteServer implements cloud.Account. instanceID is "region/name". The
// static IP is an independent billable resource and is released before the
// instance is deleted; both tolerate already-gone resources.
func (a *Account) DeleteServer(ctx context.Context, instanceID string) error {
	region, name := path.Dir(instanceID), path.Base(instanceID)
	if region == "." || name == "" {
		return fmt.Errorf("invalid instance id %q, want region/name", instanceID)
	}
	api, err := a.clients(region)
	if err != nil {
		return err
	}

	return a.retry.Do(ctx, func(ctx context.Context) error {
		if _, err := api.ReleaseStaticIp(ctx, &lightsail.ReleaseStaticIpInput{
			StaticIpName: aws.String(staticIPName(name)),
		}); err != nil {
			if werr := wrapErr(err); !cloud.IsNotFound(werr) {
				return werr
			}
		}
		if _, err := api.DeleteInstance(ctx, &lightsail.DeleteInstanceInput{
			InstanceName: aws.String(name),
		}); err != nil {
			if werr := wrapErr(err); !cloud.IsNotFound(werr) {
				return werr
			}
		}
		return nil
	})
}

func staticIPName(instanceName string) string {
	return fmt.Sprintf("%s-%s-ip", markerTagKey, instanceName)
}

func (a *Account) toDescriptor(inst *lstypes.Instance, region string) cloud.InstanceDescriptor {
	desc := cloud.InstanceDescriptor{
		ID:    region + "/" + deref(inst.Name),
		Name:  deref(inst.Name),
		State: instanceState(inst.State),
		Tags:  tagMap(inst.Tags),
	}
	if inst.Location != nil {
		zone := deref(inst.Location.AvailabilityZone)
		desc.Location = cloud.Location{
			ID:          zone,
			DisplayName: region,
			CountryCode: regionCountry(region),
		}
	}
	if inst.PublicIpAddress != nil {
		desc.IPAddress = *inst.PublicIpAddress
	}
	if inst.CreatedAt != nil {
		desc.CreatedAt = *inst.CreatedAt
	}
	return desc
}

// waitOperation waits for a single Lightsail operation to reach a terminal
// state, observing the session's cancellation flag.
func (a *Account) waitOperation(ctx context.Context, session *cloud.CreationSession, api API, op *lstypes.Operation) error {
	if op == nil || op.Id == nil {
		return nil
	}
	_, err := cloud.PollOperation(ctx, a.cfg.OperationPoll, func(ctx context.Context) (cloud.AsyncOperation, error) {
		if session != nil && session.Cancelled() {
			return cloud.AsyncOperation{}, cloud.ErrInstallCanceled
		}
		out, err := api.GetOperation(ctx, &lightsail.GetOperationInput{OperationId: op.Id})
		if err != nil {
			return cloud.AsyncOperation{}, wrapErr(err)
		}
		return toAsyncOperation(out.Operation), nil
	})
	return err
}

func (a *Account) waitOperations(ctx context.Context, session *cloud.CreationSession, api API, ops []lstypes.Operation) error {
	for i := range ops {
		if err := a.waitOperation(ctx, session, api, &ops[i]); err != nil {
			return err
		}
	}
	return nil
}

// bundlePricing returns the monthly cost and transfer cap for a bundle.
// Fetched once per account; failures degrade to zeros.
func (a *Account) bundlePricing(ctx context.Context, api API, bundleID string) (float64, int) {
	a.pricingOnce.Do(func() {
		a.pricing = make(map[string]lstypes.Bundle)
		err := a.retry.Do(ctx, func(ctx context.Context) error {
			out, err := api.GetBundles(ctx, &lightsail.GetBundlesInput{})
			if err != nil {
				return wrapErr(err)
			}
			for _, b := range out.Bundles {
				a.pricing[deref(b.BundleId)] = b
			}
			return nil
		})
		if err != nil {
			logger.Warnf("failed to fetch lightsail pricing: %v", err)
		}
	})
	b, ok := a.pricing[bundleID]
	if !ok {
		return 0, 0
	}
	cost := 0.0
	if b.Price != nil {
		cost = float64(*b.Price)
	}
	transfer := 0
	if b.TransferPerMonthInGb != nil {
		transfer = int(*b.TransferPerMonthInGb)
	}
	return cost, transfer
}
