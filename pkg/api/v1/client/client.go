// Package client provides the Go client for the Outpost management API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/outpost-vpn/outpost/internal/api/v1/routes"
	"github.com/outpost-vpn/outpost/pkg/types"
)

// DefaultTimeout is the default timeout for API requests.
const DefaultTimeout = 30 * time.Second

// Client is the interface for the API client.
type Client interface {
	// Health check
	HealthCheck(ctx context.Context) (map[string]string, error)

	// Server endpoints
	GetServers(ctx context.Context, cached bool) ([]types.Server, error)
	GetServerRecords(ctx context.Context) ([]types.ServerRecord, error)
	CreateServer(ctx context.Context, req types.CreateServerRequest) error
	GetCreatingStatus(ctx context.Context) ([]types.CreationStatus, error)
	CancelCreation(ctx context.Context, provider string) error
	ProbeServer(ctx context.Context, id string) error
	RenameServer(ctx context.Context, id, name string) error
	DeleteServer(ctx context.Context, id string) error
	GetLastShown(ctx context.Context) (string, error)
	SetLastShown(ctx context.Context, id string) error

	// Account endpoints
	GetAccounts(ctx context.Context) ([]types.AccountStatus, error)
	GetLocations(ctx context.Context, provider string) ([]types.Location, error)
	ConnectAccount(ctx context.Context, provider string, req types.ConnectAccountRequest) error
	DisconnectAccount(ctx context.Context, provider string) error

	// Prompt endpoints
	GetPrompts(ctx context.Context) ([]types.Prompt, error)
	AnswerPrompt(ctx context.Context, id, decision string) error

	// Notification endpoints
	GetNotifications(ctx context.Context) ([]types.Notification, error)
}

var _ Client = &APIClient{}

// Options contains configuration options for the API client.
type Options struct {
	// BaseURL is the base URL of the API.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultOptions returns the default client options.
func DefaultOptions() *Options {
	return &Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface.
type APIClient struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a new API client with the given options.
func NewClient(opts *Options) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &APIClient{
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
	}, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint.
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodPut:
		agent = fiber.Put(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")

	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// doRequest sends the request, unwraps the slug envelope and decodes the
// Data field into v when provided.
func (c *APIClient) doRequest(agent *fiber.Agent, v interface{}) error {
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	var envelope types.SlugResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &envelope); err != nil {
			if statusCode < 200 || statusCode >= 300 {
				return &fiber.Error{Code: statusCode, Message: string(body)}
			}
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	if statusCode < 200 || statusCode >= 300 {
		msg := envelope.Error
		if msg == "" {
			msg = string(body)
		}
		return &fiber.Error{Code: statusCode, Message: msg}
	}

	if v != nil && envelope.Data != nil {
		dataJSON, err := json.Marshal(envelope.Data)
		if err != nil {
			return fmt.Errorf("error marshaling data: %w", err)
		}
		if err := json.Unmarshal(dataJSON, v); err != nil {
			return fmt.Errorf("error decoding data: %w", err)
		}
	}
	return nil
}

// executeRequest creates an agent, sends the request, and processes the
// response.
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return c.doRequest(agent, response)
}

// HealthCheck checks the API health endpoint.
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	agent, err := c.createAgent(ctx, http.MethodGet, routes.HealthCheckURL(), nil)
	if err != nil {
		return nil, err
	}
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode != http.StatusOK {
		return nil, &fiber.Error{Code: statusCode, Message: string(body)}
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return out, nil
}

// GetServers lists the known servers. With cached set the daemon serves its
// last snapshot without contacting any provider.
func (c *APIClient) GetServers(ctx context.Context, cached bool) ([]types.Server, error) {
	query := url.Values{}
	if cached {
		query.Set("cached", "true")
	}
	var out []types.Server
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetServersURL(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetServerRecords lists the persisted display records.
func (c *APIClient) GetServerRecords(ctx context.Context) ([]types.ServerRecord, error) {
	var out []types.ServerRecord
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetServerRecordsURL(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateServer starts an asynchronous server creation.
func (c *APIClient) CreateServer(ctx context.Context, req types.CreateServerRequest) error {
	return c.executeRequest(ctx, http.MethodPost, routes.CreateServerURL(), req, nil)
}

// GetCreatingStatus reports in-flight creations.
func (c *APIClient) GetCreatingStatus(ctx context.Context) ([]types.CreationStatus, error) {
	var out []types.CreationStatus
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetCreatingStatusURL(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelCreation cancels the in-flight creation on a provider.
func (c *APIClient) CancelCreation(ctx context.Context, provider string) error {
	query := url.Values{}
	query.Set("provider", provider)
	return c.executeRequest(ctx, http.MethodPost, routes.CancelCreationURL(query), nil, nil)
}

// ProbeServer checks that a server answers on its management URL.
func (c *APIClient) ProbeServer(ctx context.Context, id string) error {
	return c.executeRequest(ctx, http.MethodGet, routes.ProbeServerURL(id), nil, nil)
}

// RenameServer updates a server's display name.
func (c *APIClient) RenameServer(ctx context.Context, id, name string) error {
	req := types.RenameServerRequest{Name: name}
	return c.executeRequest(ctx, http.MethodPut, routes.RenameServerURL(id), req, nil)
}

// DeleteServer destroys a server.
func (c *APIClient) DeleteServer(ctx context.Context, id string) error {
	return c.executeRequest(ctx, http.MethodDelete, routes.DeleteServerURL(id), nil, nil)
}

// GetLastShown returns the persisted last-shown server id.
func (c *APIClient) GetLastShown(ctx context.Context) (string, error) {
	var out types.LastShownRequest
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetLastShownURL(), nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// SetLastShown persists the last-shown server id.
func (c *APIClient) SetLastShown(ctx context.Context, id string) error {
	req := types.LastShownRequest{ID: id}
	return c.executeRequest(ctx, http.MethodPost, routes.SetLastShownURL(), req, nil)
}

// GetAccounts reports the connection state of every supported provider.
func (c *APIClient) GetAccounts(ctx context.Context) ([]types.AccountStatus, error) {
	var out []types.AccountStatus
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetAccountsURL(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLocations lists a provider's server locations.
func (c *APIClient) GetLocations(ctx context.Context, provider string) ([]types.Location, error) {
	var out []types.Location
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetLocationsURL(provider), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConnectAccount stores a provider credential and brings its account online.
func (c *APIClient) ConnectAccount(ctx context.Context, provider string, req types.ConnectAccountRequest) error {
	return c.executeRequest(ctx, http.MethodPost, routes.ConnectAccountURL(provider), req, nil)
}

// DisconnectAccount removes a provider's credential.
func (c *APIClient) DisconnectAccount(ctx context.Context, provider string) error {
	return c.executeRequest(ctx, http.MethodDelete, routes.DisconnectAccountURL(provider), nil, nil)
}

// GetPrompts lists pending retry-or-reauthenticate prompts.
func (c *APIClient) GetPrompts(ctx context.Context) ([]types.Prompt, error) {
	var out []types.Prompt
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetPromptsURL(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnswerPrompt resolves a pending prompt; decision is "retry" or "abandon".
func (c *APIClient) AnswerPrompt(ctx context.Context, id, decision string) error {
	req := types.AnswerPromptRequest{Decision: decision}
	return c.executeRequest(ctx, http.MethodPost, routes.AnswerPromptURL(id), req, nil)
}

// GetNotifications drains the daemon's queued notifications.
func (c *APIClient) GetNotifications(ctx context.Context) ([]types.Notification, error) {
	var out []types.Notification
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetNotificationsURL(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
