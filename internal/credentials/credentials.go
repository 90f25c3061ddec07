// Package credentials stores provider credentials in the operating system
// keyring. Credentials are opaque to the rest of the system: a bearer token,
// an access/secret key pair, or an OAuth refresh token, depending on the
// provider.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/outpost-vpn/outpost/internal/cloud"
)

// ErrNotFound is returned when no credential is stored for a provider.
var ErrNotFound = errors.New("no stored credential")

// Credential is a provider-specific secret. Exactly the fields relevant to
// the provider are set.
type Credential struct {
	// Token is a bearer API token (DigitalOcean).
	Token string `json:"token,omitempty"`
	// AccessKeyID and SecretAccessKey form a signing key pair (Lightsail).
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	// RefreshToken is an OAuth refresh token (GCP).
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Validate checks that the credential carries the fields its provider needs.
func (c Credential) Validate(provider cloud.ProviderID) error {
	switch provider {
	case cloud.ProviderDigitalOcean:
		if c.Token == "" {
			return fmt.Errorf("digitalocean credential requires a token")
		}
	case cloud.ProviderGCP:
		if c.RefreshToken == "" {
			return fmt.Errorf("gcp credential requires a refresh token")
		}
	case cloud.ProviderLightsail:
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return fmt.Errorf("lightsail credential requires an access key pair")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", provider)
	}
	return nil
}

// Store reads and writes credentials. The zero value is not usable; construct
// with NewKeyringStore or NewMemoryStore.
type Store interface {
	Set(provider cloud.ProviderID, cred Credential) error
	Get(provider cloud.ProviderID) (Credential, error)
	// Clear removes the stored credential. Clearing an absent credential is
	// not an error.
	Clear(provider cloud.ProviderID) error
}

const keyringService = "outpost"

// KeyringStore persists credentials in the OS keyring, keyed by provider.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring-backed credential store.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringService}
}

// Set stores a credential for a provider.
func (s *KeyringStore) Set(provider cloud.ProviderID, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := keyring.Set(s.service, string(provider), string(data)); err != nil {
		return fmt.Errorf("failed to store %s credential: %w", provider, err)
	}
	return nil
}

// Get retrieves the credential for a provider.
func (s *KeyringStore) Get(provider cloud.ProviderID) (Credential, error) {
	data, err := keyring.Get(s.service, string(provider))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("failed to read %s credential: %w", provider, err)
	}
	var cred Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return Credential{}, fmt.Errorf("failed to decode %s credential: %w", provider, err)
	}
	return cred, nil
}

// Clear removes the credential for a provider.
func (s *KeyringStore) Clear(provider cloud.ProviderID) error {
	err := keyring.Delete(s.service, string(provider))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s credential: %w", provider, err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and headless environments
// without a keyring daemon.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[cloud.ProviderID]Credential
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[cloud.ProviderID]Credential)}
}

// Set stores a credential.
func (s *MemoryStore) Set(provider cloud.ProviderID, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[provider] = cred
	return nil
}

// Get retrieves a credential.
func (s *MemoryStore) Get(provider cloud.ProviderID) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[provider]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

// Clear removes a credential.
func (s *MemoryStore) Clear(provider cloud.ProviderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, provider)
	return nil
}
