// Package middleware provides HTTP middleware for the management API.
package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/outpost-vpn/outpost/internal/logger"
)

// Logger returns a middleware that logs every HTTP request with its
// outcome and latency.
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		logger.InfoWithFields("request", map[string]interface{}{
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start).String(),
			"ip":      c.IP(),
			"method":  c.Method(),
			"path":    c.Path(),
			"handler": c.Route().Name,
		})

		return err
	}
}
