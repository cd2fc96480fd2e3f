package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/dukex/checkinhub/pkg/scheduler"
	"github.com/dukex/checkinhub/pkg/services"
	"github.com/dukex/checkinhub/pkg/vault"
	"github.com/dukex/checkinhub/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	scheduler   *scheduler.Service
	runner      web.SiteRunner
	webhook     web.WebhookTester
	vault       *vault.Vault
	validate    *validator.Validate
	adminToken  string
	corsOrigins []string
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	scheduler *scheduler.Service,
	runner web.SiteRunner,
	webhook web.WebhookTester,
	vault *vault.Vault,
	adminToken string,
	corsOrigins []string,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		scheduler:   scheduler,
		runner:      runner,
		webhook:     webhook,
		vault:       vault,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		adminToken:  adminToken,
		corsOrigins: corsOrigins,
	}
}

func (a *API) App() *fiber.App {
	siteService := services.NewSite(a.persistence, a.scheduler, a.vault, a.logger)

	handlers := web.NewAPIHandlers(
		siteService,
		a.runner,
		a.scheduler,
		a.persistence,
		a.webhook,
		a.vault,
		a.validate,
		version,
	)

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: a.corsOrigins,
	}))
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("CheckinHub API")
	})

	app.Get("/health", handlers.HealthCheck)

	api := app.Group("/api", web.RequireAdminToken(a.adminToken))
	handlers.Register(api)

	return app
}

func (a *API) Start(app *fiber.App, port int) error {
	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{
		DisableStartupMessage: true,
	})
}
