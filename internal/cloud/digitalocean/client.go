// Package digitalocean implements the managed-server account contract on
// DigitalOcean droplets.
package digitalocean

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/digitalocean/godo"

	"github.com/outpost-vpn/outpost/internal/cloud"
)

// MarkerTag identifies droplets managed by this tool.
const MarkerTag = "outpost"

// kvTagPrefix prefixes droplet tags that carry an encoded key/value pair.
// Droplet tags only allow letters, digits, colons, dashes and underscores,
// so values travel base64url-encoded: "kv:<key>:<encoded-value>".
const kvTagPrefix = "kv"

// Narrow views over the godo services the account uses. godo's own service
// interfaces satisfy these, and tests substitute mocks.
type DropletsService interface {
	Create(ctx context.Context, createRequest *godo.DropletCreateRequest) (*godo.Droplet, *godo.Response, error)
	Get(ctx context.Context, dropletID int) (*godo.Droplet, *godo.Response, error)
	ListByTag(ctx context.Context, tag string, opt *godo.ListOptions) ([]godo.Droplet, *godo.Response, error)
	Delete(ctx context.Context, dropletID int) (*godo.Response, error)
}

type FirewallsService interface {
	Create(ctx context.Context, fr *godo.FirewallRequest) (*godo.Firewall, *godo.Response, error)
	List(ctx context.Context, opt *godo.ListOptions) ([]godo.Firewall, *godo.Response, error)
}

type ReservedIPsService interface {
	Create(ctx context.Context, createRequest *godo.ReservedIPCreateRequest) (*godo.ReservedIP, *godo.Response, error)
	List(ctx context.Context, opt *godo.ListOptions) ([]godo.ReservedIP, *godo.Response, error)
	Delete(ctx context.Context, ip string) (*godo.Response, error)
}

type ReservedIPActionsService interface {
	Assign(ctx context.Context, ip string, dropletID int) (*godo.Action, *godo.Response, error)
}

type RegionsService interface {
	List(ctx context.Context, opt *godo.ListOptions) ([]godo.Region, *godo.Response, error)
}

type SizesService interface {
	List(ctx context.Context, opt *godo.ListOptions) ([]godo.Size, *godo.Response, error)
}

// Client bundles the godo services the account talks to.
type Client struct {
	Droplets          DropletsService
	Firewalls         FirewallsService
	ReservedIPs       ReservedIPsService
	ReservedIPActions ReservedIPActionsService
	Regions           RegionsService
	Sizes             SizesService
}

// NewClient creates a Client backed by the DigitalOcean API.
func NewClient(token string) *Client {
	g := godo.NewFromToken(token)
	return &Client{
		Droplets:          g.Droplets,
		Firewalls:         g.Firewalls,
		ReservedIPs:       g.ReservedIPs,
		ReservedIPActions: g.ReservedIPActions,
		Regions:           g.Regions,
		Sizes:             g.Sizes,
	}
}

// wrapErr maps a godo call result into the shared error taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var errResp *godo.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return cloud.WrapHTTPStatus(cloud.ProviderDigitalOcean, errResp.Response.StatusCode, err)
	}
	return cloud.WrapTransport(err)
}

// encodeKVTag encodes a key/value pair into the droplet tag charset.
func encodeKVTag(key, value string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(value))
	return fmt.Sprintf("%s:%s:%s", kvTagPrefix, key, encoded)
}

// decodeKVTags extracts the encoded key/value pairs from a droplet tag list.
// Tags that are not in the kv format (the marker tag, user tags) are ignored,
// as are pairs whose value fails to decode.
func decodeKVTags(tags []string) map[string]string {
	out := make(map[string]string)
	for _, tag := range tags {
		parts := strings.SplitN(tag, ":", 3)
		if len(parts) != 3 || parts[0] != kvTagPrefix {
			continue
		}
		value, err := base64.RawURLEncoding.DecodeString(parts[2])
		if err != nil {
			continue
		}
		out[parts[1]] = string(value)
	}
	return out
}

// dropletState maps a droplet status string to the normalized lifecycle state.
func dropletState(status string) cloud.LifecycleState {
	switch status {
	case "new":
		return cloud.StatePending
	case "active":
		return cloud.StateRunning
	case "off", "archive":
		return cloud.StateStopping
	default:
		return cloud.StateUnknown
	}
}

// regionCountry maps a DigitalOcean region slug to its country code.
func regionCountry(slug string) string {
	prefixes := map[string]string{
		"nyc": "US", "sfo": "US", "ams": "NL", "sgp": "SG",
		"lon": "GB", "fra": "DE", "tor": "CA", "blr": "IN", "syd": "AU",
	}
	if len(slug) >= 3 {
		if cc, ok := prefixes[slug[:3]]; ok {
			return cc
		}
	}
	return ""
}
