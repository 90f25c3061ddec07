package handlers

import (
	"fmt"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/events"
	"github.com/outpost-vpn/outpost/internal/services"
	"github.com/outpost-vpn/outpost/pkg/types"
)

// PromptHandler exposes pending retry-or-reauthenticate prompts.
type PromptHandler struct {
	broker *services.DecisionBroker
}

// NewPromptHandler creates a new prompt handler.
func NewPromptHandler(broker *services.DecisionBroker) *PromptHandler {
	return &PromptHandler{broker: broker}
}

// ListPrompts returns the pending prompts.
func (h *PromptHandler) ListPrompts(c *fiber.Ctx) error {
	pending := h.broker.List()
	out := make([]types.Prompt, 0, len(pending))
	for _, p := range pending {
		out = append(out, types.Prompt{
			ID:        p.ID,
			Provider:  string(p.Provider),
			Cause:     p.Cause,
			CreatedAt: p.CreatedAt,
		})
	}
	return c.JSON(types.Success(out))
}

// AnswerPrompt resolves a pending prompt with a retry or abandon decision.
func (h *PromptHandler) AnswerPrompt(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput("prompt id is required"))
	}
	var req types.AnswerPromptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	var decision cloud.Decision
	switch req.Decision {
	case "retry":
		decision = cloud.DecisionRetry
	case "abandon":
		decision = cloud.DecisionAbandon
	default:
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(fmt.Sprintf("decision must be %q or %q", "retry", "abandon")))
	}

	if err := h.broker.Answer(id, decision); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(types.ErrNotFound(err.Error()))
	}
	return c.JSON(types.Success(nil))
}

// NotificationHandler serves recent user-visible events.
type NotificationHandler struct {
	bus *events.Bus
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(bus *events.Bus) *NotificationHandler {
	return &NotificationHandler{bus: bus}
}

// ListNotifications drains and returns the queued notifications.
func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	drained := h.bus.Drain()
	out := make([]types.Notification, 0, len(drained))
	for _, e := range drained {
		out = append(out, types.Notification{
			Type:     string(e.Type),
			Provider: e.Provider,
			Servers:  e.Servers,
			Message:  e.Message,
			At:       e.At,
		})
	}
	return c.JSON(types.Success(out))
}
