package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/noetl/noetl/cmd/server/container"
	"github.com/noetl/noetl/common/bootstrap"
	"github.com/noetl/noetl/common/config"
	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/migrate"
	"github.com/noetl/noetl/common/routes"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	if err := applySchema(ctx, cfg, log); err != nil {
		log.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	components, err := bootstrap.Setup(ctx, "server", bootstrap.WithCustomConfig(cfg), bootstrap.WithCustomLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap server: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.New(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startServer(e, components)
}

// applySchema connects with the admin role just long enough to create the
// schema and its tables, then closes the connection: the application pool
// that bootstrap.Setup opens afterward never needs DDL privileges.
func applySchema(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	adminDB, err := dbx.NewAdmin(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect as admin: %w", err)
	}
	defer adminDB.Close()

	return migrate.Apply(adminDB, cfg.Database.Schema)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(200, map[string]string{"status": "ok", "service": "server"})
	})
}

func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterCatalogRoutes(e, c.CatalogHandler)
	routes.RegisterExecutionRoutes(e, c.ExecutionHandler)
	routes.RegisterEventRoutes(e, c.EventHandler)
	routes.RegisterQueueRoutes(e, c.QueueHandler)
	routes.RegisterRuntimeRoutes(e, c.RuntimeHandler)
	routes.RegisterContextRoutes(e, c.ContextHandler)
}

func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("starting server", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
