// Package routes defines the API routes and URL structure.
package routes

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outpost-vpn/outpost/internal/api/v1/handlers"
	"github.com/outpost-vpn/outpost/internal/api/v1/middleware"
)

// API base configuration.
const (
	// DefaultAddress is the default listen address for the API.
	DefaultAddress = "127.0.0.1:7355"
	// APIv1Prefix is the prefix for all API endpoints.
	APIv1Prefix = "/api/v1"
)

// DefaultBaseURL is the default base URL for the API.
var DefaultBaseURL = fmt.Sprintf("http://%s", DefaultAddress)

// Route names for lookup.
const (
	// Health check
	HealthCheck = "HealthCheck"

	// Server routes
	GetServers        = "GetServers"
	GetServerRecords  = "GetServerRecords"
	GetCreatingStatus = "GetCreatingStatus"
	GetLastShown      = "GetLastShown"
	CreateServer      = "CreateServer"
	CancelCreation    = "CancelCreation"
	SetLastShown      = "SetLastShown"
	ProbeServer       = "ProbeServer"
	RenameServer      = "RenameServer"
	DeleteServer      = "DeleteServer"

	// Account routes
	GetAccounts       = "GetAccounts"
	GetLocations      = "GetLocations"
	ConnectAccount    = "ConnectAccount"
	DisconnectAccount = "DisconnectAccount"

	// Prompt routes
	GetPrompts   = "GetPrompts"
	AnswerPrompt = "AnswerPrompt"

	// Notification routes
	GetNotifications = "GetNotifications"
)

// routeCache stores extracted routes for URL building.
var (
	routeCache     map[string]string
	routeCacheMu   sync.RWMutex
	routeCacheInit sync.Once
)

// RegisterRoutes configures all the v1 routes.
//
// NOTE: route ordering matters; fiber matches in registration order, so
// literal segments (e.g. /creating) must be registered before /:id or the
// segment is swallowed as a param value.
func RegisterRoutes(
	app *fiber.App,
	serverHandler *handlers.ServerHandler,
	accountHandler *handlers.AccountHandler,
	promptHandler *handlers.PromptHandler,
	notificationHandler *handlers.NotificationHandler,
) {
	app.Use(middleware.Logger())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}).Name(HealthCheck)

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 routes
	v1 := app.Group(APIv1Prefix)

	// Server endpoints
	servers := v1.Group("/servers")
	servers.Get("/", serverHandler.ListServers).Name(GetServers)
	servers.Get("/records", serverHandler.ListRecords).Name(GetServerRecords)
	servers.Get("/creating", serverHandler.GetCreatingStatus).Name(GetCreatingStatus)
	servers.Get("/last-shown", serverHandler.GetLastShown).Name(GetLastShown)
	servers.Post("/", serverHandler.CreateServer).Name(CreateServer)
	servers.Post("/creating/cancel", serverHandler.CancelCreation).Name(CancelCreation)
	servers.Post("/last-shown", serverHandler.SetLastShown).Name(SetLastShown)
	servers.Get("/:id/health", serverHandler.ProbeServer).Name(ProbeServer)
	servers.Put("/:id/name", serverHandler.RenameServer).Name(RenameServer)
	servers.Delete("/:id", serverHandler.DeleteServer).Name(DeleteServer)

	// Account endpoints
	accounts := v1.Group("/accounts")
	accounts.Get("/", accountHandler.ListAccounts).Name(GetAccounts)
	accounts.Get("/:provider/locations", accountHandler.ListLocations).Name(GetLocations)
	accounts.Post("/:provider", accountHandler.ConnectAccount).Name(ConnectAccount)
	accounts.Delete("/:provider", accountHandler.DisconnectAccount).Name(DisconnectAccount)

	// Prompt endpoints
	prompts := v1.Group("/prompts")
	prompts.Get("/", promptHandler.ListPrompts).Name(GetPrompts)
	prompts.Post("/:id", promptHandler.AnswerPrompt).Name(AnswerPrompt)

	// Notification endpoints
	v1.Get("/notifications", notificationHandler.ListNotifications).Name(GetNotifications)
}

// initRouteCache extracts the registered route patterns from a throwaway app.
func initRouteCache() {
	routeCacheInit.Do(func() {
		routeCache = make(map[string]string)

		app := fiber.New()
		RegisterRoutes(app,
			&handlers.ServerHandler{},
			&handlers.AccountHandler{},
			&handlers.PromptHandler{},
			&handlers.NotificationHandler{},
		)

		for _, route := range app.GetRoutes() {
			if route.Name != "" {
				routeCache[route.Name] = route.Path
			}
		}
	})
}

// GetRoute returns the route pattern for the given route name.
func GetRoute(name string) string {
	initRouteCache()
	routeCacheMu.RLock()
	defer routeCacheMu.RUnlock()
	return routeCache[name]
}

// BuildURL builds a URL for the given route name and parameters. Param
// values are path-escaped; server ids are management URLs and must survive
// the round trip.
func BuildURL(routeName string, params map[string]string, queryParams url.Values) string {
	route := GetRoute(routeName)
	if route == "" {
		return ""
	}

	for param, value := range params {
		route = strings.ReplaceAll(route, ":"+param, url.PathEscape(value))
	}

	if strings.HasSuffix(route, "/") && !strings.Contains(route, ":") {
		route = strings.TrimSuffix(route, "/")
	}

	if len(queryParams) > 0 {
		route = fmt.Sprintf("%s?%s", route, queryParams.Encode())
	}

	return route
}

// Health check route helper

// HealthCheckURL returns the URL for the health check endpoint.
func HealthCheckURL() string {
	return BuildURL(HealthCheck, nil, nil)
}

// Server route helpers

// GetServersURL returns the URL for listing servers.
func GetServersURL(queryParams url.Values) string {
	return BuildURL(GetServers, nil, queryParams)
}

// GetServerRecordsURL returns the URL for listing persisted display records.
func GetServerRecordsURL() string {
	return BuildURL(GetServerRecords, nil, nil)
}

// GetCreatingStatusURL returns the URL for in-flight creation status.
func GetCreatingStatusURL() string {
	return BuildURL(GetCreatingStatus, nil, nil)
}

// GetLastShownURL returns the URL for the last-shown server id.
func GetLastShownURL() string {
	return BuildURL(GetLastShown, nil, nil)
}

// CreateServerURL returns the URL for creating a server.
func CreateServerURL() string {
	return BuildURL(CreateServer, nil, nil)
}

// CancelCreationURL returns the URL for cancelling a creation.
func CancelCreationURL(queryParams url.Values) string {
	return BuildURL(CancelCreation, nil, queryParams)
}

// SetLastShownURL returns the URL for persisting the last-shown server id.
func SetLastShownURL() string {
	return BuildURL(SetLastShown, nil, nil)
}

// ProbeServerURL returns the URL for probing a server's management endpoint.
func ProbeServerURL(id string) string {
	return BuildURL(ProbeServer, map[string]string{"id": id}, nil)
}

// RenameServerURL returns the URL for renaming a server.
func RenameServerURL(id string) string {
	return BuildURL(RenameServer, map[string]string{"id": id}, nil)
}

// DeleteServerURL returns the URL for deleting a server.
func DeleteServerURL(id string) string {
	return BuildURL(DeleteServer, map[string]string{"id": id}, nil)
}

// Account route helpers

// GetAccountsURL returns the URL for listing account states.
func GetAccountsURL() string {
	return BuildURL(GetAccounts, nil, nil)
}

// GetLocationsURL returns the URL for listing a provider's locations.
func GetLocationsURL(provider string) string {
	return BuildURL(GetLocations, map[string]string{"provider": provider}, nil)
}

// ConnectAccountURL returns the URL for connecting a provider account.
func ConnectAccountURL(provider string) string {
	return BuildURL(ConnectAccount, map[string]string{"provider": provider}, nil)
}

// DisconnectAccountURL returns the URL for disconnecting a provider account.
func DisconnectAccountURL(provider string) string {
	return BuildURL(DisconnectAccount, map[string]string{"provider": provider}, nil)
}

// Prompt route helpers

// GetPromptsURL returns the URL for listing pending prompts.
func GetPromptsURL() string {
	return BuildURL(GetPrompts, nil, nil)
}

// AnswerPromptURL returns the URL for answering a prompt.
func AnswerPromptURL(id string) string {
	return BuildURL(AnswerPrompt, map[string]string{"id": id}, nil)
}

// Notification route helpers

// GetNotificationsURL returns the URL for draining notifications.
func GetNotificationsURL() string {
	return BuildURL(GetNotifications, nil, nil)
}
