// Package cloud defines the provider-agnostic contract for managed relay
// servers: the normalized resource shapes every provider client must produce,
// the Account capability interface the rest of the system programs against,
// and the shared provisioning primitives (operation polling, bootstrap secret
// discovery, creation sessions, auth-retry policy).
package cloud

import (
	"context"
	"time"
)

// ProviderID identifies a supported cloud provider.
type ProviderID string

const (
	// ProviderDigitalOcean is the DigitalOcean droplet backend.
	ProviderDigitalOcean ProviderID = "digitalocean"
	// ProviderGCP is the Google Compute Engine backend.
	ProviderGCP ProviderID = "gcp"
	// ProviderLightsail is the AWS Lightsail backend.
	ProviderLightsail ProviderID = "lightsail"
)

// IsValidProvider checks whether the given provider ID is supported.
func IsValidProvider(provider ProviderID) bool {
	switch provider {
	case ProviderDigitalOcean, ProviderGCP, ProviderLightsail:
		return true
	}
	return false
}

// Location is a normalized provider region or zone.
type Location struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CountryCode string `json:"country_code"`
}

// LifecycleState is the normalized lifecycle state of a compute instance.
type LifecycleState string

const (
	StatePending    LifecycleState = "pending"
	StateRunning    LifecycleState = "running"
	StateError      LifecycleState = "error"
	StateStopping   LifecycleState = "stopping"
	StateTerminated LifecycleState = "terminated"
	StateUnknown    LifecycleState = "unknown"
)

// InstanceDescriptor is the normalized view of a compute instance. Tags carry
// the provider's tag/label/guest-attribute set; this is the side channel the
// guest install script uses to publish its bootstrap secrets.
type InstanceDescriptor struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	State     LifecycleState    `json:"state"`
	Location  Location          `json:"location"`
	IPAddress string            `json:"ip_address,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// OperationStatus is the normalized status of a provider long-running task.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationSucceeded OperationStatus = "succeeded"
	OperationFailed    OperationStatus = "failed"
)

// AsyncOperation is a provider long-running-task handle. Not every provider
// exposes one; DigitalOcean readiness is polled off the droplet itself.
type AsyncOperation struct {
	ID               string          `json:"id"`
	Status           OperationStatus `json:"status"`
	TargetResourceID string          `json:"target_resource_id,omitempty"`
	// Diagnostic carries the provider's failure payload when Status is failed.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Tag keys the guest install script publishes its secrets under.
const (
	TagKeyManagementURL   = "apiurl"
	TagKeyCertFingerprint = "certsha256"
)

// BootstrapSecrets are the values a freshly created instance publishes once
// its install script completes. Both fields are required before a server is
// considered installed.
type BootstrapSecrets struct {
	ManagementURL   string `json:"management_url"`
	CertFingerprint string `json:"cert_fingerprint"`
}

// Complete reports whether both secrets are present.
func (s BootstrapSecrets) Complete() bool {
	return s.ManagementURL != "" && s.CertFingerprint != ""
}

// SecretsFromTags extracts bootstrap secrets from a normalized tag set.
func SecretsFromTags(tags map[string]string) BootstrapSecrets {
	return BootstrapSecrets{
		ManagementURL:   tags[TagKeyManagementURL],
		CertFingerprint: tags[TagKeyCertFingerprint],
	}
}

// Host is the per-instance handle for a provisioned relay host. Delete must
// release any independent static-address reservation before deleting the
// compute instance, and must treat already-deleted resources as success.
type Host interface {
	ID() string
	Region() string
	MonthlyCostUSD() float64
	MonthlyTransferGB() int
	Delete(ctx context.Context) error
}

// ManagedServer is the composition of a live instance, its host handle and
// its bootstrap secrets. It is re-derived from the provider on every listing;
// the instance ID is its only identity.
type ManagedServer struct {
	Provider ProviderID         `json:"provider"`
	Instance InstanceDescriptor `json:"instance"`
	Secrets  BootstrapSecrets   `json:"secrets"`
	Host     Host               `json:"-"`
}

// ManagementURL is the server's stable, globally unique identifier.
func (s *ManagedServer) ManagementURL() string {
	return s.Secrets.ManagementURL
}

// Account is the capability contract every provider backend implements. The
// rest of the system never branches on provider identity beyond selecting an
// Account.
type Account interface {
	// Provider returns the backend's provider ID.
	Provider() ProviderID

	// ListLocations returns the locations servers can be created in.
	ListLocations(ctx context.Context) ([]Location, error)

	// CreateServer provisions a new relay server and returns only once the
	// server is installed and its bootstrap secrets are known. At most one
	// creation may be in flight per account.
	CreateServer(ctx context.Context, locationID, name string) (*ManagedServer, error)

	// ListServers returns all installed relay servers owned by this account.
	ListServers(ctx context.Context) ([]*ManagedServer, error)

	// DeleteServer tears down the server backed by the given instance ID,
	// releasing any static address it holds first.
	DeleteServer(ctx context.Context, instanceID string) error

	// ActiveSession returns the in-flight creation session, or nil.
	ActiveSession() *CreationSession

	// CancelCreation cancels the in-flight creation, deleting whatever part
	// of the host already exists. It is a no-op when nothing is in flight.
	CancelCreation(ctx context.Context) error
}

// CreationStep identifies where in the provisioning protocol a creation
// currently is, and which step a failure should be attributed to.
type CreationStep int

const (
	StepRequested CreationStep = iota
	StepInstanceCreating
	StepNetworkConfigured
	StepAddressAssigned
	StepBootstrapping
	StepReady
	StepFailed
)

var creationStepNames = []string{
	"requested",
	"instance_creating",
	"network_configured",
	"address_assigned",
	"bootstrapping",
	"ready",
	"failed",
}

func (s CreationStep) String() string {
	if s < 0 || int(s) >= len(creationStepNames) {
		return "unknown"
	}
	return creationStepNames[s]
}
