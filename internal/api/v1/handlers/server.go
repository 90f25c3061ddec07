// Package handlers provides HTTP request handlers for the management API.
package handlers

import (
	"errors"
	"fmt"
	"net/url"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/services"
	"github.com/outpost-vpn/outpost/pkg/types"
)

// ServerHandler handles HTTP requests for server lifecycle operations.
type ServerHandler struct {
	service *services.ServerService
}

// NewServerHandler creates a new server handler.
func NewServerHandler(service *services.ServerService) *ServerHandler {
	return &ServerHandler{service: service}
}

// toAPIServer converts a live server into its API shape.
func toAPIServer(s *cloud.ManagedServer) types.Server {
	out := types.Server{
		ID:       s.ManagementURL(),
		Name:     s.Instance.Name,
		Provider: string(s.Provider),
		State:    string(s.Instance.State),
		Location: types.Location{
			ID:          s.Instance.Location.ID,
			DisplayName: s.Instance.Location.DisplayName,
			CountryCode: s.Instance.Location.CountryCode,
		},
		IPAddress:       s.Instance.IPAddress,
		CertFingerprint: s.Secrets.CertFingerprint,
		IsManaged:       true,
		Tags:            s.Instance.Tags,
	}
	if !s.Instance.CreatedAt.IsZero() {
		t := s.Instance.CreatedAt
		out.CreatedAt = &t
	}
	if s.Host != nil {
		out.MonthlyCostUSD = s.Host.MonthlyCostUSD()
		out.MonthlyTransferGB = s.Host.MonthlyTransferGB()
	}
	return out
}

// ListServers returns the known servers. With ?cached=true it serves the
// last snapshot without contacting any provider.
func (h *ServerHandler) ListServers(c *fiber.Ctx) error {
	cached := c.QueryBool("cached", false)
	servers, err := h.service.List(c.Context(), cached)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to list servers: %v", err)))
	}
	out := make([]types.Server, 0, len(servers))
	for _, s := range servers {
		out = append(out, toAPIServer(s))
	}
	return c.JSON(types.Success(out))
}

// ListRecords returns the persisted display records without contacting any
// provider. Unlike a cached listing it also covers servers the daemon has
// not observed live yet, so display names survive provider outages.
func (h *ServerHandler) ListRecords(c *fiber.Ctx) error {
	records, err := h.service.Records(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to list server records: %v", err)))
	}
	out := make([]types.ServerRecord, 0, len(records))
	for _, r := range records {
		out = append(out, types.ServerRecord{
			ID:        r.ID,
			Name:      r.Name,
			Provider:  r.CloudProviderID,
			IsManaged: r.IsManaged,
			IsSynced:  r.IsSynced,
		})
	}
	return c.JSON(types.Success(out))
}

// serverID extracts and decodes the :id path parameter, which is a
// URL-encoded management URL.
func serverID(c *fiber.Ctx) (string, error) {
	raw := c.Params("id")
	if raw == "" {
		return "", errors.New("server id is required")
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server id: %v", err)
	}
	return id, nil
}

// CreateServer starts an asynchronous server creation.
func (h *ServerHandler) CreateServer(c *fiber.Ctx) error {
	var req types.CreateServerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(err.Error()))
	}
	if req.Provider == "" || req.LocationID == "" || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput("provider, location_id and name are required"))
	}

	err := h.service.Create(c.Context(), cloud.ProviderID(req.Provider), req.LocationID, req.Name)
	switch {
	case errors.Is(err, cloud.ErrCreationInProgress):
		return c.Status(fiber.StatusConflict).
			JSON(types.ErrConflict(err.Error()))
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to start creation: %v", err)))
	}
	return c.Status(fiber.StatusAccepted).JSON(types.Success(nil))
}

// GetCreatingStatus reports every in-flight creation.
func (h *ServerHandler) GetCreatingStatus(c *fiber.Ctx) error {
	statuses := h.service.CreatingStatus()
	out := make([]types.CreationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, types.CreationStatus{
			Provider: string(s.Provider),
			Name:     s.Name,
			Location: s.Location,
			Step:     s.Step,
		})
	}
	return c.JSON(types.Success(out))
}

// CancelCreation cancels an in-flight creation, deleting the partial host.
func (h *ServerHandler) CancelCreation(c *fiber.Ctx) error {
	provider := c.Query("provider")
	if provider == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput("provider is required"))
	}
	if err := h.service.CancelCreation(c.Context(), cloud.ProviderID(provider)); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to cancel creation: %v", err)))
	}
	return c.JSON(types.Success(nil))
}

// DeleteServer destroys a server and its display record.
func (h *ServerHandler) DeleteServer(c *fiber.Ctx) error {
	id, err := serverID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	if err := h.service.Delete(c.Context(), id); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to delete server: %v", err)))
	}
	return c.JSON(types.Success(nil))
}

// ProbeServer checks that an installed server answers on its management URL.
func (h *ServerHandler) ProbeServer(c *fiber.Ctx) error {
	id, err := serverID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	err = h.service.Probe(c.Context(), id)
	switch {
	case err == nil:
		return c.JSON(types.Success(nil))
	case errors.Is(err, services.ErrServerNotFound):
		return c.Status(fiber.StatusNotFound).JSON(types.ErrNotFound(err.Error()))
	default:
		var unreachable *cloud.UnreachableServerError
		if errors.As(err, &unreachable) {
			return c.Status(fiber.StatusServiceUnavailable).
				JSON(types.ErrServer(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to probe server: %v", err)))
	}
}

// RenameServer updates a server's display name.
func (h *ServerHandler) RenameServer(c *fiber.Ctx) error {
	id, err := serverID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	var req types.RenameServerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput("name is required"))
	}
	if err := h.service.Rename(c.Context(), id, req.Name); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to rename server: %v", err)))
	}
	return c.JSON(types.Success(nil))
}

// GetLastShown returns the persisted "last shown server" id.
func (h *ServerHandler) GetLastShown(c *fiber.Ctx) error {
	id, err := h.service.LastShownServer(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(err.Error()))
	}
	return c.JSON(types.Success(types.LastShownRequest{ID: id}))
}

// SetLastShown persists the "last shown server" id.
func (h *ServerHandler) SetLastShown(c *fiber.Ctx) error {
	var req types.LastShownRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	if err := h.service.SetLastShownServer(c.Context(), req.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(err.Error()))
	}
	return c.JSON(types.Success(nil))
}
