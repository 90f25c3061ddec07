package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/outpost-vpn/outpost/config"
	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/cloud/digitalocean"
	"github.com/outpost-vpn/outpost/internal/cloud/gcp"
	"github.com/outpost-vpn/outpost/internal/cloud/lightsail"
	"github.com/outpost-vpn/outpost/internal/credentials"
	"github.com/outpost-vpn/outpost/internal/logger"
)

// AccountFactory builds a provider account backend from a stored credential.
type AccountFactory func(ctx context.Context, provider cloud.ProviderID, cred credentials.Credential, retry *cloud.RetryPolicy) (cloud.Account, error)

// AccountManager owns the set of connected provider accounts. Credentials
// live in the credential store; connecting a provider validates and persists
// the credential, then instantiates the backend.
type AccountManager struct {
	store   credentials.Store
	factory AccountFactory
	broker  cloud.DecisionHandler

	mu       sync.RWMutex
	accounts map[cloud.ProviderID]cloud.Account
}

// NewAccountManager creates an account manager over the given credential
// store. The broker receives auth-ambiguous retry prompts for every account.
func NewAccountManager(store credentials.Store, factory AccountFactory, broker cloud.DecisionHandler) *AccountManager {
	return &AccountManager{
		store:    store,
		factory:  factory,
		broker:   broker,
		accounts: make(map[cloud.ProviderID]cloud.Account),
	}
}

// NewDefaultFactory returns the production account factory, wiring each
// provider backend with the install-script parameters from cfg.
func NewDefaultFactory(cfg config.Server) AccountFactory {
	return func(ctx context.Context, provider cloud.ProviderID, cred credentials.Credential, retry *cloud.RetryPolicy) (cloud.Account, error) {
		switch provider {
		case cloud.ProviderDigitalOcean:
			return digitalocean.NewAccount(cred.Token, digitalocean.Config{
				ContainerImage:    cfg.ContainerImage,
				MetricsURL:        cfg.MetricsURL,
				ErrorReportingURL: cfg.ErrorReportingURL,
			}, retry), nil
		case cloud.ProviderGCP:
			if cfg.GCPProjectID == "" {
				return nil, fmt.Errorf("gcp: project id is not configured")
			}
			conf := &oauth2.Config{
				ClientID:     config.GetEnv("OUTPOST_GCP_CLIENT_ID", ""),
				ClientSecret: config.GetEnv("OUTPOST_GCP_CLIENT_SECRET", ""),
				Endpoint:     google.Endpoint,
			}
			source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
			api, err := gcp.NewAPI(ctx, cfg.GCPProjectID, source)
			if err != nil {
				return nil, err
			}
			return gcp.NewAccount(api, gcp.Config{
				ContainerImage:    cfg.ContainerImage,
				MetricsURL:        cfg.MetricsURL,
				ErrorReportingURL: cfg.ErrorReportingURL,
			}, retry), nil
		case cloud.ProviderLightsail:
			return lightsail.NewAccount(cred.AccessKeyID, cred.SecretAccessKey, lightsail.Config{
				ContainerImage:    cfg.ContainerImage,
				MetricsURL:        cfg.MetricsURL,
				ErrorReportingURL: cfg.ErrorReportingURL,
			}, retry), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
	}
}

// Connect stores the credential for a provider and brings its account online.
// An existing account for the provider is replaced.
func (m *AccountManager) Connect(ctx context.Context, provider cloud.ProviderID, cred credentials.Credential) error {
	if err := cred.Validate(provider); err != nil {
		return err
	}
	if err := m.store.Set(provider, cred); err != nil {
		return fmt.Errorf("storing %s credential: %w", provider, err)
	}
	return m.connect(ctx, provider, cred)
}

func (m *AccountManager) connect(ctx context.Context, provider cloud.ProviderID, cred credentials.Credential) error {
	retry := &cloud.RetryPolicy{
		Provider:    provider,
		Handler:     m.broker,
		Credentials: m,
	}
	account, err := m.factory(ctx, provider, cred, retry)
	if err != nil {
		return fmt.Errorf("connecting %s account: %w", provider, err)
	}
	m.mu.Lock()
	m.accounts[provider] = account
	m.mu.Unlock()
	logger.InfoWithFields("provider account connected", map[string]interface{}{
		"provider": provider,
	})
	return nil
}

// LoadStored brings online every provider with a stored credential. A
// credential that fails to connect is logged and skipped so one bad provider
// does not block the rest.
func (m *AccountManager) LoadStored(ctx context.Context) {
	for _, provider := range []cloud.ProviderID{
		cloud.ProviderDigitalOcean,
		cloud.ProviderGCP,
		cloud.ProviderLightsail,
	} {
		cred, err := m.store.Get(provider)
		if err != nil {
			if err != credentials.ErrNotFound {
				logger.Errorf("reading stored %s credential: %v", provider, err)
			}
			continue
		}
		if err := m.connect(ctx, provider, cred); err != nil {
			logger.Errorf("connecting stored %s account: %v", provider, err)
		}
	}
}

// Disconnect takes a provider's account offline and removes its stored
// credential. Servers created through the account keep running; they simply
// stop being listed until the provider is reconnected.
func (m *AccountManager) Disconnect(provider cloud.ProviderID) error {
	m.mu.Lock()
	delete(m.accounts, provider)
	m.mu.Unlock()
	if err := m.store.Clear(provider); err != nil {
		return fmt.Errorf("clearing %s credential: %w", provider, err)
	}
	return nil
}

// Clear implements cloud.CredentialClearer: an abandoned auth-ambiguous
// retry drops both the credential and the account.
func (m *AccountManager) Clear(provider cloud.ProviderID) error {
	return m.Disconnect(provider)
}

// Get returns the connected account for a provider.
func (m *AccountManager) Get(provider cloud.ProviderID) (cloud.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[provider]
	if !ok {
		return nil, fmt.Errorf("no connected account for provider %q", provider)
	}
	return account, nil
}

// Connected reports whether a provider has a connected account.
func (m *AccountManager) Connected(provider cloud.ProviderID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[provider]
	return ok
}

// List returns the connected accounts in stable provider order.
func (m *AccountManager) List() []cloud.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []cloud.Account
	for _, provider := range []cloud.ProviderID{
		cloud.ProviderDigitalOcean,
		cloud.ProviderGCP,
		cloud.ProviderLightsail,
	} {
		if account, ok := m.accounts[provider]; ok {
			out = append(out, account)
		}
	}
	return out
}
