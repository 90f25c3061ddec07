package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/outpost-vpn/outpost/config"
	"github.com/outpost-vpn/outpost/internal/api/v1/handlers"
	"github.com/outpost-vpn/outpost/internal/api/v1/routes"
	"github.com/outpost-vpn/outpost/internal/credentials"
	"github.com/outpost-vpn/outpost/internal/db"
	"github.com/outpost-vpn/outpost/internal/db/repos"
	"github.com/outpost-vpn/outpost/internal/events"
	"github.com/outpost-vpn/outpost/internal/logger"
	"github.com/outpost-vpn/outpost/internal/services"
	"github.com/outpost-vpn/outpost/pkg/types"
)

func main() {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()
	logger.Initialize()

	cfg := config.LoadServer()

	gdb, err := db.New(db.Options{
		Host:     config.GetEnv("DB_HOST", ""),
		User:     config.GetEnv("DB_USER", ""),
		Password: config.GetEnv("DB_PASSWORD", ""),
		DBName:   config.GetEnv("DB_NAME", ""),
		Port:     config.GetEnvInt("DB_PORT", 0),
	})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}

	records := repos.NewDisplayRecordRepository(gdb)
	settings := repos.NewSettingRepository(gdb)

	bus := events.NewBus()
	broker := services.NewDecisionBroker()
	accounts := services.NewAccountManager(
		credentials.NewKeyringStore(),
		services.NewDefaultFactory(cfg),
		broker,
	)
	reconciler := services.NewReconciler(records, bus)
	servers := services.NewServerService(accounts, records, settings, reconciler, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts.LoadStored(ctx)

	// Reconciliation against live provider state: once at startup, then
	// periodically.
	go servers.RunReconcileLoop(ctx, cfg.ReconcileInterval)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	routes.RegisterRoutes(app,
		handlers.NewServerHandler(servers),
		handlers.NewAccountHandler(accounts),
		handlers.NewPromptHandler(broker),
		handlers.NewNotificationHandler(bus),
	)

	go func() {
		if err := app.Listen(cfg.ListenAddress); err != nil {
			logger.Fatalf("server stopped: %v", err)
		}
	}()
	logger.Infof("listening on %s", cfg.ListenAddress)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(types.ErrServer(err.Error()))
}
