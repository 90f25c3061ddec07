package handlers

import (
	"fmt"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/credentials"
	"github.com/outpost-vpn/outpost/internal/services"
	"github.com/outpost-vpn/outpost/pkg/types"
)

// AccountHandler handles HTTP requests for provider account management.
type AccountHandler struct {
	manager *services.AccountManager
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(manager *services.AccountManager) *AccountHandler {
	return &AccountHandler{manager: manager}
}

func providerParam(c *fiber.Ctx) (cloud.ProviderID, error) {
	provider := cloud.ProviderID(c.Params("provider"))
	switch provider {
	case cloud.ProviderDigitalOcean, cloud.ProviderGCP, cloud.ProviderLightsail:
		return provider, nil
	default:
		return "", fmt.Errorf("unknown provider %q", provider)
	}
}

// ListAccounts reports the connection state of every supported provider.
func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	out := []types.AccountStatus{}
	for _, provider := range []cloud.ProviderID{
		cloud.ProviderDigitalOcean,
		cloud.ProviderGCP,
		cloud.ProviderLightsail,
	} {
		out = append(out, types.AccountStatus{
			Provider:  string(provider),
			Connected: h.manager.Connected(provider),
		})
	}
	return c.JSON(types.Success(out))
}

// ConnectAccount stores a provider credential and brings the account online.
func (h *AccountHandler) ConnectAccount(c *fiber.Ctx) error {
	provider, err := providerParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	var req types.ConnectAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	cred := credentials.Credential{
		Token:           req.Token,
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
		RefreshToken:    req.RefreshToken,
	}
	if err := h.manager.Connect(c.Context(), provider, cred); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to connect account: %v", err)))
	}
	return c.Status(fiber.StatusCreated).JSON(types.Success(nil))
}

// DisconnectAccount removes a provider's credential and takes it offline.
func (h *AccountHandler) DisconnectAccount(c *fiber.Ctx) error {
	provider, err := providerParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	if err := h.manager.Disconnect(provider); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to disconnect account: %v", err)))
	}
	return c.JSON(types.Success(nil))
}

// ListLocations returns the locations the provider's account can create
// servers in.
func (h *AccountHandler) ListLocations(c *fiber.Ctx) error {
	provider, err := providerParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	account, err := h.manager.Get(provider)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(types.ErrNotFound(err.Error()))
	}
	locations, err := account.ListLocations(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(fmt.Sprintf("failed to list locations: %v", err)))
	}
	out := make([]types.Location, 0, len(locations))
	for _, l := range locations {
		out = append(out, types.Location{
			ID:          l.ID,
			DisplayName: l.DisplayName,
			CountryCode: l.CountryCode,
		})
	}
	return c.JSON(types.Success(out))
}
