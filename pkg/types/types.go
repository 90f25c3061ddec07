// Package types defines the public request and response shapes of the
// management API, shared by the server handlers and the Go client.
package types

import "time"

// Slug is a machine-readable response category. Clients switch on it
// instead of parsing error strings.
type Slug string

const (
	SuccessSlug      Slug = "success"
	ErrorSlug        Slug = "error"
	InvalidInputSlug Slug = "invalid-input"
	ServerErrorSlug  Slug = "server-error"
	NotFoundSlug     Slug = "not-found"
	ConflictSlug     Slug = "conflict"
)

// SlugResponse is the envelope every API endpoint answers with.
type SlugResponse struct {
	Slug  Slug        `json:"slug"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrInvalidInput returns an invalid-input envelope with the error message.
func ErrInvalidInput(msg string) SlugResponse {
	return SlugResponse{Slug: InvalidInputSlug, Error: msg}
}

// ErrServer returns a server-error envelope with the error message.
func ErrServer(msg string) SlugResponse {
	return SlugResponse{Slug: ServerErrorSlug, Error: msg}
}

// ErrNotFound returns a not-found envelope with the error message.
func ErrNotFound(msg string) SlugResponse {
	return SlugResponse{Slug: NotFoundSlug, Error: msg}
}

// ErrConflict returns a conflict envelope with the error message.
func ErrConflict(msg string) SlugResponse {
	return SlugResponse{Slug: ConflictSlug, Error: msg}
}

// Success returns a success envelope wrapping data.
func Success(data interface{}) SlugResponse {
	return SlugResponse{Slug: SuccessSlug, Data: data}
}

// Server is the API view of a relay server. ID is the server's management
// URL, stable across providers for the life of the instance.
type Server struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Provider          string            `json:"provider"`
	State             string            `json:"state"`
	Location          Location          `json:"location"`
	IPAddress         string            `json:"ip_address,omitempty"`
	CreatedAt         *time.Time        `json:"created_at,omitempty"`
	CertFingerprint   string            `json:"cert_fingerprint,omitempty"`
	MonthlyCostUSD    float64           `json:"monthly_cost_usd,omitempty"`
	MonthlyTransferGB int               `json:"monthly_transfer_gb,omitempty"`
	IsManaged         bool              `json:"is_managed"`
	Tags              map[string]string `json:"tags,omitempty"`
}

// ServerRecord is a persisted display record: the name and provenance kept
// for a server independent of live provider state.
type ServerRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	IsManaged bool   `json:"is_managed"`
	IsSynced  bool   `json:"is_synced"`
}

// Location is a place servers can be created in.
type Location struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CountryCode string `json:"country_code,omitempty"`
}

// CreateServerRequest asks for a new relay server.
type CreateServerRequest struct {
	Provider   string `json:"provider"`
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
}

// RenameServerRequest updates a server's display name. The change is local;
// the cloud instance keeps its original name.
type RenameServerRequest struct {
	Name string `json:"name"`
}

// CreationStatus reports an in-flight creation.
type CreationStatus struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Step     string `json:"step"`
}

// ConnectAccountRequest carries a provider credential. Exactly the fields
// the named provider needs must be set.
type ConnectAccountRequest struct {
	Token           string `json:"token,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
}

// AccountStatus reports whether a provider account is connected.
type AccountStatus struct {
	Provider  string `json:"provider"`
	Connected bool   `json:"connected"`
}

// Prompt is a pending retry-or-reauthenticate question.
type Prompt struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Cause     string    `json:"cause"`
	CreatedAt time.Time `json:"created_at"`
}

// AnswerPromptRequest resolves a prompt. Decision is "retry" or "abandon".
type AnswerPromptRequest struct {
	Decision string `json:"decision"`
}

// Notification is a user-visible event (server removed, creation failed).
type Notification struct {
	Type     string    `json:"type"`
	Provider string    `json:"provider,omitempty"`
	Servers  []string  `json:"servers,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// LastShownRequest persists which server the UI showed last.
type LastShownRequest struct {
	ID string `json:"id"`
}
