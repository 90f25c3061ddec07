package digitalocean

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/digitalocean/godo"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/logger"
)

// Defaults for new droplets.
const (
	defaultSize  = "s-1vcpu-1gb"
	defaultImage = "docker-20-04"
)

// publishCommand is the shell snippet the guest uses to push a key/value
// pair back through the droplet tag channel. Invoked as
// `publish_tag <key> <value>`.
const publishCommand = `  local droplet_id encoded tag
  droplet_id="$(curl -fsS http://169.254.169.254/metadata/v1/id)"
  encoded="$(printf '%s' "$2" | base64 -w0 | tr '+/' '-_' | tr -d '=')"
  tag="kv:$1:${encoded}"
  curl -fsS -X POST "https://api.digitalocean.com/v2/tags" \
    -H "Authorization: Bearer ${ACCESS_TOKEN}" -H 'Content-Type: application/json' \
    -d "{\"name\":\"${tag}\"}"
  curl -fsS -X POST "https://api.digitalocean.com/v2/tags/${tag}/resources" \
    -H "Authorization: Bearer ${ACCESS_TOKEN}" -H 'Content-Type: application/json' \
    -d "{\"resources\":[{\"resource_id\":\"${droplet_id}\",\"resource_type\":\"droplet\"}]}"`

// Config carries the account's droplet parameters and the optional values
// forwarded to the guest install script.
type Config struct {
	Size  string
	Image string

	ContainerImage    string
	MetricsURL        string
	ErrorReportingURL string

	// OperationPoll and DiscoveryPoll override the poll bounds. Zero values
	// use the shared defaults.
	OperationPoll cloud.PollConfig
	DiscoveryPoll cloud.PollConfig
}

func (c Config) withDefaults() Config {
	if c.Size == "" {
		c.Size = defaultSize
	}
	if c.Image == "" {
		c.Image = defaultImage
	}
	return c
}

// Account drives the droplet provisioning protocol: create the droplet with
// the marker tag, open all inbound ports, allocate and attach a reserved IP,
// then poll the tag channel for bootstrap secrets. DigitalOcean has no
// long-running-operation handle; droplet readiness is observed off the
// droplet itself.
type Account struct {
	client   *Client
	token    string
	cfg      Config
	retry    *cloud.RetryPolicy
	sessions cloud.SessionGuard

	pricingOnce sync.Once
	pricing     map[string]godo.Size
	pricingErr  error
}

// NewAccount creates a DigitalOcean account backend.
func NewAccount(token string, cfg Config, retry *cloud.RetryPolicy) *Account {
	if retry == nil {
		retry = &cloud.RetryPolicy{Provider: cloud.ProviderDigitalOcean}
	}
	return &Account{
		client: NewClient(token),
		token:  token,
		cfg:    cfg.withDefaults(),
		retry:  retry,
	}
}

// NewAccountWithClient creates an account over an existing client. Tests use
// this to substitute mock services.
func NewAccountWithClient(client *Client, token string, cfg Config, retry *cloud.RetryPolicy) *Account {
	a := NewAccount("unused", cfg, retry)
	a.client = client
	a.token = token
	return a
}

// Provider implements cloud.Account.
func (a *Account) Provider() cloud.ProviderID { return cloud.ProviderDigitalOcean }

// ActiveSession implements cloud.Account.
func (a *Account) ActiveSession() *cloud.CreationSession { return a.sessions.Active() }

// CancelCreation implements cloud.Account.
func (a *Account) CancelCreation(ctx context.Context) error {
	return a.sessions.CancelActive(ctx)
}

// ListLocations implements cloud.Account.
func (a *Account) ListLocations(ctx context.Context) ([]cloud.Location, error) {
	var regions []godo.Region
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		regions, _, err = a.client.Regions.List(ctx, &godo.ListOptions{PerPage: 200})
		return wrapErr(err)
	})
	if err != nil {
		return nil, err
	}

	locations := make([]cloud.Location, 0, len(regions))
	for _, r := range regions {
		if !r.Available {
			continue
		}
		locations = append(locations, cloud.Location{
			ID:          r.Slug,
			DisplayName: r.Name,
			CountryCode: regionCountry(r.Slug),
		})
	}
	return locations, nil
}

// CreateServer implements cloud.Account.
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

func (a *Account) createServer(ctx context.Context, session *cloud.CreationSession, locationID, name string) (*cloud.ManagedServer, error) {
	userData, err := cloud.RenderUserData(cloud.UserDataParams{
		AccessToken:       a.token,
		ServerName:        name,
		ContainerImage:    a.cfg.ContainerImage,
		MetricsURL:        a.cfg.MetricsURL,
		ErrorReportingURL: a.cfg.ErrorReportingURL,
		PublishCommand:    publishCommand,
	})
	if err != nil {
		return nil, err
	}

	// Step 1: create the droplet, tagged with the account marker.
	session.SetStep(cloud.StepInstanceCreating)
	var droplet *godo.Droplet
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		droplet, _, err = a.client.Droplets.Create(ctx, &godo.DropletCreateRequest{
			Name:     name,
			Region:   locationID,
			Size:     a.cfg.Size,
			Image:    godo.DropletCreateImage{Slug: a.cfg.Image},
			UserData: userData,
			Tags:     []string{MarkerTag},
		})
		return wrapErr(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create droplet: %w", err)
	}
	logger.Infof("created droplet %d (%s) in %s", droplet.ID, name, locationID)

	cost, transfer := a.sizePricing(ctx, a.cfg.Size)
	h := &host{account: a, dropletID: droplet.ID, region: locationID, costUSD: cost, transferGB: transfer}
	session.SetHost(h)

	if _, err := cloud.WaitForState(ctx, a.cfg.OperationPoll, cloud.StateRunning, func(ctx context.Context) (cloud.InstanceDescriptor, error) {
		if session.Cancelled() {
			return cloud.InstanceDescriptor{}, cloud.ErrInstallCanceled
		}
		return a.getDescriptor(ctx, droplet.ID)
	}); err != nil {
		return nil, a.installFailed(cloud.StepInstanceCreating, err)
	}

	// Step 2: one tag-scoped firewall covers every droplet carrying the
	// marker tag; ensure it exists rather than stacking an identical rule
	// per creation.
	session.SetStep(cloud.StepNetworkConfigured)
	if err := a.ensureFirewall(ctx); err != nil {
		return nil, a.installFailed(cloud.StepNetworkConfigured, err)
	}

	// Step 3: droplets come up with an ephemeral address; allocate a
	// reserved IP and attach it so the address outlives reboots.
	session.SetStep(cloud.StepAddressAssigned)
	var reserved *godo.ReservedIP
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		reserved, _, err = a.client.ReservedIPs.Create(ctx, &godo.ReservedIPCreateRequest{Region: locationID})
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}
	err = a.retry.Do(ctx, func(ctx context.Context) error {
		_, _, err := a.client.ReservedIPActions.Assign(ctx, reserved.IP, droplet.ID)
		return wrapErr(err)
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepAddressAssigned, err)
	}

	// Step 4: wait for the guest install script to publish its secrets.
	session.SetStep(cloud.StepBootstrapping)
	secrets, err := cloud.DiscoverBootstrapSecrets(ctx, session, a.cfg.DiscoveryPoll, func(ctx context.Context) (map[string]string, error) {
		d, _, err := a.client.Droplets.Get(ctx, droplet.ID)
		if err != nil {
			return nil, wrapErr(err)
		}
		return decodeKVTags(d.Tags), nil
	})
	if err != nil {
		return nil, a.installFailed(cloud.StepBootstrapping, err)
	}

	descriptor, err := a.getDescriptor(ctx, droplet.ID)
	if err != nil {
		return nil, a.installFailed(cloud.StepBootstrapping, err)
	}
	descriptor.IPAddress = reserved.IP

	return &cloud.ManagedServer{Provider: cloud.ProviderDigitalOcean, Instance: descriptor, Secrets: secrets, Host: h}, nil
}

// ensureFirewall creates the shared open-all firewall for the marker tag if
// the account does not have it yet. The rule belongs to the tag, not to any
// one droplet, so it is never torn down with a server.
func (a *Account) ensureFirewall(ctx context.Context) error {
	return a.retry.Do(ctx, func(ctx context.Context) error {
		firewalls, _, err := a.client.Firewalls.List(ctx, &godo.ListOptions{PerPage: 200})
		if err != nil {
			return wrapErr(err)
		}
		for _, fw := range firewalls {
			if fw.Name == MarkerTag {
				return nil
			}
		}
		_, _, err = a.client.Firewalls.Create(ctx, &godo.FirewallRequest{
			Name: MarkerTag,
			InboundRules: []godo.InboundRule{
				{Protocol: "tcp", PortRange: "all", Sources: &godo.Sources{Addresses: []string{"0.0.0.0/0", "::/0"}}},
				{Protocol: "udp", PortRange: "all", Sources: &godo.Sources{Addresses: []string{"0.0.0.0/0", "::/0"}}},
			},
			OutboundRules: []godo.OutboundRule{
				{Protocol: "tcp", PortRange: "all", Destinations: &godo.Destinations{Addresses: []string{"0.0.0.0/0", "::/0"}}},
				{Protocol: "udp", PortRange: "all", Destinations: &godo.Destinations{Addresses: []string{"0.0.0.0/0", "::/0"}}},
			},
			Tags: []string{MarkerTag},
		})
		return wrapErr(err)
	})
}

// installFailed classifies a mid-creation failure. At this point the
// instance exists, so cleanup differs from a pre-instance failure and the
// failing step travels with the error. Cancellation passes through.
func (a *Account) installFailed(step cloud.CreationStep, err error) error {
	if cloud.IsCanceled(err) {
		return err
	}
	return &cloud.InstallFailedError{Step: step, Err: err}
}

// ListServers implements cloud.Account. A droplet becomes a managed server
// only once both bootstrap secrets are published; anything earlier is still
// installing and has no stable identity yet.
func (a *Account) ListServers(ctx context.Context) ([]*cloud.ManagedServer, error) {
	var droplets []godo.Droplet
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		droplets = droplets[:0]
		opt := &godo.ListOptions{PerPage: 200}
		for {
			page, resp, err := a.client.Droplets.ListByTag(ctx, MarkerTag, opt)
			if err != nil {
				return wrapErr(err)
			}
			droplets = append(droplets, page...)
			if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
				return nil
			}
			next, err := resp.Links.CurrentPage()
			if err != nil {
				return nil
			}
			opt.Page = next + 1
		}
	})
	if err != nil {
		return nil, err
	}

	servers := make([]*cloud.ManagedServer, 0, len(droplets))
	for i := range droplets {
		d := &droplets[i]
		secrets := cloud.SecretsFromTags(decodeKVTags(d.Tags))
		if !secrets.Complete() {
			continue
		}
		cost, transfer := a.sizePricing(ctx, d.SizeSlug)
		servers = append(servers, &cloud.ManagedServer{
			Provider: cloud.ProviderDigitalOcean,
			Instance: toDescriptor(d),
			Secrets:  secrets,
			Host: &host{
				account:    a,
				dropletID:  d.ID,
				region:     d.Region.Slug,
				costUSD:    cost,
				transferGB: transfer,
			},
		})
	}
	return servers, nil
}

// DeleteServer implements cloud.Account. The reserved IP is an independent
// billable resource: it must be released before the droplet is destroyed or
// it is orphaned. Both deletions tolerate already-gone resources.
func (a *Account) DeleteServer(ctx context.Context, instanceID string) error {
	dropletID, err := strconv.Atoi(instanceID)
	if err != nil {
		return fmt.Errorf("invalid droplet id %q: %w", instanceID, err)
	}

	return a.retry.Do(ctx, func(ctx context.Context) error {
		ips, _, err := a.client.ReservedIPs.List(ctx, &godo.ListOptions{PerPage: 200})
		if err != nil {
			return wrapErr(err)
		}
		for _, ip := range ips {
			if ip.Droplet == nil || ip.Droplet.ID != dropletID {
				continue
			}
			if _, err := a.client.ReservedIPs.Delete(ctx, ip.IP); err != nil {
				if werr := wrapErr(err); !cloud.IsNotFound(werr) {
					return werr
				}
			}
		}
		if _, err := a.client.Droplets.Delete(ctx, dropletID); err != nil {
			if werr := wrapErr(err); !cloud.IsNotFound(werr) {
				return werr
			}
		}
		return nil
	})
}

// getDescriptor fetches a droplet and normalizes it.
func (a *Account) getDescriptor(ctx context.Context, dropletID int) (cloud.InstanceDescriptor, error) {
	var droplet *godo.Droplet
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		droplet, _, err = a.client.Droplets.Get(ctx, dropletID)
		return wrapErr(err)
	})
	if err != nil {
		return cloud.InstanceDescriptor{}, err
	}
	return toDescriptor(droplet), nil
}

func toDescriptor(d *godo.Droplet) cloud.InstanceDescriptor {
	desc := cloud.InstanceDescriptor{
		ID:    strconv.Itoa(d.ID),
		Name:  d.Name,
		State: dropletState(d.Status),
		Tags:  decodeKVTags(d.Tags),
	}
	if d.Region != nil {
		desc.Location = cloud.Location{
			ID:          d.Region.Slug,
			DisplayName: d.Region.Name,
			CountryCode: regionCountry(d.Region.Slug),
		}
	}
	if ip, err := d.PublicIPv4(); err == nil {
		desc.IPAddress = ip
	}
	if t, err := time.Parse(time.RFC3339, d.Created); err == nil {
		desc.CreatedAt = t
	}
	return desc
}

// sizePricing returns the monthly cost and transfer cap for a droplet size.
// Pricing is fetched once per account; lookup failures degrade to zeros
// rather than failing the creation.
func (a *Account) sizePricing(ctx context.Context, slug string) (float64, int) {
	a.pricingOnce.Do(func() {
		a.pricing = make(map[string]godo.Size)
		err := a.retry.Do(ctx, func(ctx context.Context) error {
			sizes, _, err := a.client.Sizes.List(ctx, &godo.ListOptions{PerPage: 200})
			if err != nil {
				return wrapErr(err)
			}
			for _, s := range sizes {
				a.pricing[s.Slug] = s
			}
			return nil
		})
		if err != nil {
			a.pricingErr = err
			logger.Warnf("failed to fetch droplet pricing: %v", err)
		}
	})
	s, ok := a.pricing[slug]
	if !ok {
		return 0, 0
	}
	// godo reports transfer in terabytes.
	return s.PriceMonthly, int(s.Transfer * 1000)
}
