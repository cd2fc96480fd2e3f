// Package worker performs one run of a site: it records the run, executes the
// flow and persists the outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/checkinhub/pkg/eventbus"
	"github.com/dukex/checkinhub/pkg/events"
	"github.com/dukex/checkinhub/pkg/flow"
	"github.com/dukex/checkinhub/pkg/log"
	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/otelhelper"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	MessageSiteNotFound = "site not found"
	MessageSiteInactive = "site is disabled or paused"
)

// FlowExecutor runs a flow. *flow.Engine satisfies it.
type FlowExecutor interface {
	Execute(ctx context.Context, steps []models.Step, auth models.AuthSpec) *flow.Result
}

type Worker struct {
	store     persistence.Persistence
	engine    FlowExecutor
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Worker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// NewWorker creates a worker. publisher may be nil, in which case no run
// events are emitted.
func NewWorker(store persistence.Persistence, engine FlowExecutor, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Worker {
	worker := &Worker{
		store:     store,
		engine:    engine,
		publisher: publisher,
		logger:    logger.With("module", "worker"),
		tracer:    otelhelper.Tracer("github.com/dukex/checkinhub/pkg/worker"),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(worker)
	}

	return worker
}

// RunSite executes the flow of siteID once.
func (w *Worker) RunSite(ctx context.Context, siteID string, trigger models.Trigger) models.RunOutcome {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.run_site",
		attribute.String(otelhelper.SiteIDKey, siteID),
		attribute.String(otelhelper.RunTriggerKey, string(trigger)),
	)
	defer span.End()

	logger := w.logger.With("site_id", siteID, "trigger", trigger)

	site, err := w.store.SiteByID(ctx, siteID)
	if err != nil {
		if persistence.IsSiteNotFound(err) {
			logger.WarnContext(ctx, "Site not found")

			return models.RunOutcome{Status: models.OutcomeError, Message: MessageSiteNotFound}
		}

		logger.ErrorContext(ctx, "Failed to load site", "error", err)
		otelhelper.SetError(span, err)

		return models.RunOutcome{Status: models.OutcomeError, Message: err.Error()}
	}

	span.SetAttributes(attribute.String(otelhelper.SiteNameKey, site.Name))

	if !site.Schedulable() {
		logger.InfoContext(ctx, "Skipping inactive site", "enabled", site.Enabled, "paused", site.Paused)

		return models.RunOutcome{Status: models.OutcomeSkipped, Message: MessageSiteInactive}
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return models.RunOutcome{Status: models.OutcomeError, Message: "execution error: " + err.Error()}
	}

	run := &models.Run{
		ID:        runID.String(),
		SiteID:    site.ID,
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: w.timestamp(),
		Steps:     []models.StepResult{},
	}

	logger = logger.With("run_id", run.ID)
	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	err = w.store.CreateRun(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create run", "error", err)
		otelhelper.SetError(span, err)

		return models.RunOutcome{Status: models.OutcomeError, Message: "execution error: " + err.Error()}
	}

	logger.InfoContext(ctx, "Run started")

	result, err := w.execute(log.WithLogger(ctx, logger), site)
	if err != nil {
		return w.abort(ctx, logger, span, site, run, err)
	}

	finished := w.timestamp()

	run.Status = result.Status
	run.FinishedAt = &finished
	run.Summary = result.Summary
	run.Steps = result.Steps
	run.AuthFailed = result.AuthFailed

	site.LastRunAt = &finished
	site.LastRunStatus = run.Status

	if run.AuthFailed {
		site.Paused = true

		logger.WarnContext(ctx, "Authentication rejected, pausing site")
	}

	err = w.store.FinishRun(ctx, run, site)
	if err != nil {
		return w.abort(ctx, logger, span, site, run, err)
	}

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))
	logger.InfoContext(ctx, "Run finished", "status", run.Status, "summary", run.Summary)

	w.publish(ctx, logger, site, run)

	return models.RunOutcome{Status: models.OutcomeSuccess, RunID: run.ID, RunStatus: run.Status}
}

// execute runs the engine, turning a panic into an error.
func (w *Worker) execute(ctx context.Context, site *models.Site) (result *flow.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	return w.engine.Execute(ctx, site.Flow, site.Auth), nil
}

// abort forces the run FAILED after an unexpected error and persists it best
// effort. A rejected credential still pauses the site.
func (w *Worker) abort(ctx context.Context, logger *slog.Logger, span trace.Span, site *models.Site, run *models.Run, cause error) models.RunOutcome {
	logger.ErrorContext(ctx, "Run aborted", "error", cause)
	otelhelper.SetError(span, cause)

	finished := w.timestamp()

	run.Status = models.RunStatusFailed
	run.FinishedAt = &finished
	run.Summary = "execution error: " + cause.Error()

	err := w.store.UpdateRun(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist aborted run", "error", err)
	}

	if run.AuthFailed {
		w.pauseSite(ctx, logger, site.ID)
	}

	w.publish(ctx, logger, site, run)

	return models.RunOutcome{Status: models.OutcomeError, Message: run.Summary, RunID: run.ID, RunStatus: run.Status}
}

// pauseSite pauses the stored site, leaving every other field as stored.
func (w *Worker) pauseSite(ctx context.Context, logger *slog.Logger, siteID string) {
	stored, err := w.store.SiteByID(ctx, siteID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reload site for pausing", "error", err)

		return
	}

	if stored.Paused {
		return
	}

	stored.Paused = true
	stored.UpdatedAt = w.timestamp()

	err = w.store.SaveSite(ctx, stored)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to pause site", "error", err)
	}
}

func (w *Worker) publish(ctx context.Context, logger *slog.Logger, site *models.Site, run *models.Run) {
	if w.publisher == nil {
		return
	}

	details := events.NewRunDetails(site, run)

	if run.Status == models.RunStatusFailed {
		err := w.publisher.Publish(ctx, site.ID, events.RunFailed{
			BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, site.ID),
			RunDetails: details,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to publish run failed event", "error", err)
		}
	}

	err := w.publisher.Publish(ctx, site.ID, events.RunFinished{
		BaseEvent:  events.NewBaseEvent(events.RunFinishedEvent, site.ID),
		RunDetails: details,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish run finished event", "error", err)
	}
}

func (w *Worker) timestamp() time.Time {
	return w.now().UTC().Truncate(time.Millisecond)
}
