// Package web provides the HTTP handlers of the admin API.
package web

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/checkinhub/pkg/har"
	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/notify"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/dukex/checkinhub/pkg/scheduler"
	"github.com/dukex/checkinhub/pkg/services"
	"github.com/dukex/checkinhub/pkg/worker"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	siteRunsLimit      = 50
	defaultRecentLimit = 10
)

// SiteRunner executes a run on demand. *worker.Worker satisfies it.
type SiteRunner interface {
	RunSite(ctx context.Context, siteID string, trigger models.Trigger) models.RunOutcome
}

// JobLister exposes the scheduler state. *scheduler.Service satisfies it.
type JobLister interface {
	Running() bool
	Jobs() []scheduler.JobInfo
}

// WebhookTester checks the failure webhook. *notify.Notifier satisfies it.
type WebhookTester interface {
	Configured() bool
	Test(ctx context.Context) notify.TestResult
}

type APIHandlers struct {
	siteService *services.Site
	runner      SiteRunner
	jobs        JobLister
	persistence persistence.Persistence
	webhook     WebhookTester
	encrypter   services.Encrypter
	validator   *validator.Validate
	version     string
}

func NewAPIHandlers(
	siteService *services.Site,
	runner SiteRunner,
	jobs JobLister,
	persistence persistence.Persistence,
	webhook WebhookTester,
	encrypter services.Encrypter,
	validator *validator.Validate,
	version string,
) *APIHandlers {
	return &APIHandlers{
		siteService: siteService,
		runner:      runner,
		jobs:        jobs,
		persistence: persistence,
		webhook:     webhook,
		encrypter:   encrypter,
		validator:   validator,
		version:     version,
	}
}

// Register mounts every admin route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	sites := router.Group("/sites")
	sites.Get("/", h.ListSites)
	sites.Post("/", h.CreateSite)
	sites.Get("/:id", h.GetSite)
	sites.Put("/:id", h.UpdateSite)
	sites.Delete("/:id", h.DeleteSite)
	sites.Post("/:id/run", h.RunSite)
	sites.Post("/:id/pause", h.PauseSite)
	sites.Post("/:id/resume", h.ResumeSite)
	sites.Get("/:id/runs", h.ListSiteRuns)

	router.Get("/runs/:id", h.GetRun)

	system := router.Group("/system")
	system.Get("/status", h.SystemStatus)
	system.Get("/jobs", h.SystemJobs)
	system.Get("/runs/recent", h.RecentRuns)
	system.Post("/webhook/test", h.TestWebhook)

	router.Post("/har/parse", h.ParseHAR)
	router.Post("/har/generate-flow", h.GenerateFlow)

	router.Post("/vault/encrypt", h.Encrypt)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.siteService.HealthCheck(c.Context())
	schedulerOk := h.jobs.Running()

	schedulerCheck := "Scheduler is running"
	if !schedulerOk {
		schedulerCheck = "Scheduler is stopped"
	}

	status := "unhealthy"
	message := "CheckinHub is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk && schedulerOk {
		status = "healthy"
		message = "CheckinHub is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"scheduler":  schedulerCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListSites(c fiber.Ctx) error {
	sites, err := h.siteService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(publicSites(sites))
}

func (h *APIHandlers) CreateSite(c fiber.Ctx) error {
	var req services.CreateSiteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	site, err := h.siteService.Create(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(PublicSite(site))
}

func (h *APIHandlers) GetSite(c fiber.Ctx) error {
	site, err := h.siteService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(PublicSite(site))
}

func (h *APIHandlers) UpdateSite(c fiber.Ctx) error {
	var req services.UpdateSiteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	site, err := h.siteService.Update(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(PublicSite(site))
}

func (h *APIHandlers) DeleteSite(c fiber.Ctx) error {
	err := h.siteService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Site deleted"})
}

// RunSite executes the site synchronously and returns the outcome.
func (h *APIHandlers) RunSite(c fiber.Ctx) error {
	outcome := h.runner.RunSite(c.Context(), c.Params("id"), models.TriggerManual)

	if outcome.Status == models.OutcomeError && outcome.Message == worker.MessageSiteNotFound {
		return notFound(c, "Site not found")
	}

	return c.JSON(outcome)
}

func (h *APIHandlers) PauseSite(c fiber.Ctx) error {
	site, err := h.siteService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(PublicSite(site))
}

func (h *APIHandlers) ResumeSite(c fiber.Ctx) error {
	site, err := h.siteService.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(PublicSite(site))
}

func (h *APIHandlers) ListSiteRuns(c fiber.Ctx) error {
	runs, err := h.siteService.Runs(c.Context(), c.Params("id"), siteRunsLimit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(runs)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.persistence.RunByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) SystemStatus(c fiber.Ctx) error {
	sites, err := h.persistence.Sites(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	counts := SiteCounts{Total: len(sites)}

	for _, site := range sites {
		if site.Schedulable() {
			counts.Enabled++
		}

		if site.Paused {
			counts.Paused++
		}
	}

	return c.JSON(StatusResponse{
		Scheduler: SchedulerStatus{
			Running:  h.jobs.Running(),
			JobCount: len(h.jobs.Jobs()),
		},
		Sites:   counts,
		Config:  ConfigStatus{WebhookConfigured: h.webhook.Configured()},
		Version: h.version,
	})
}

func (h *APIHandlers) SystemJobs(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"jobs": h.jobs.Jobs()})
}

func (h *APIHandlers) RecentRuns(c fiber.Ctx) error {
	limit := defaultRecentLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	runs, err := h.persistence.RecentRuns(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	sites, err := h.persistence.Sites(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	names := make(map[string]string, len(sites))
	for _, site := range sites {
		names[site.ID] = site.Name
	}

	response := make([]RecentRunResponse, 0, len(runs))
	for _, run := range runs {
		response = append(response, NewRecentRunResponse(run, names[run.SiteID]))
	}

	return c.JSON(fiber.Map{"runs": response})
}

func (h *APIHandlers) TestWebhook(c fiber.Ctx) error {
	return c.JSON(h.webhook.Test(c.Context()))
}

// ParseHAR accepts the capture either as a multipart "file" field or as the raw body.
func (h *APIHandlers) ParseHAR(c fiber.Ctx) error {
	var reader io.Reader

	if header, err := c.FormFile("file"); err == nil {
		file, err := header.Open()
		if err != nil {
			return badRequest(c, "Unable to read uploaded file")
		}

		defer func() {
			_ = file.Close()
		}()

		reader = file
	} else {
		reader = bytes.NewReader(c.Body())
	}

	entries, err := har.Parse(reader)
	if err != nil {
		if errors.Is(err, har.ErrInvalidHAR) {
			return badRequest(c, err.Error())
		}

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries})
}

func (h *APIHandlers) GenerateFlow(c fiber.Ctx) error {
	var entries []har.Entry
	if err := c.Bind().JSON(&entries); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Var(entries, "dive"); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(fiber.Map{"flow": har.GenerateFlow(entries)})
}

func (h *APIHandlers) Encrypt(c fiber.Ctx) error {
	var req EncryptRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	encrypted, err := h.encrypter.Encrypt(req.Plaintext)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(encrypted)
}
