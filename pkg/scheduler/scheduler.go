// Package scheduler keeps one timer per active site and triggers the worker
// when it fires.
//
// dailyAfter sites get a self re-arming one-shot timer with random jitter.
// cron sites are entries of a shared cron runner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/robfig/cron/v3"
)

const (
	KindDaily = "dailyAfter"
	KindCron  = "cron"
)

// Runner executes one run of a site. *worker.Worker satisfies it.
type Runner interface {
	RunSite(ctx context.Context, siteID string, trigger models.Trigger) models.RunOutcome
}

// SiteStore is the part of persistence the scheduler reads.
type SiteStore interface {
	SiteByID(ctx context.Context, id string) (*models.Site, error)
	ActiveSites(ctx context.Context) ([]*models.Site, error)
}

// JobInfo describes a scheduled site.
type JobInfo struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	SiteName  string    `json:"site_name"`
	Kind      string    `json:"kind"`
	NextRunAt time.Time `json:"next_run_at"`
}

type job struct {
	siteID     string
	siteName   string
	kind       string
	next       time.Time
	timer      *time.Timer
	entryID    cron.EntryID
	schedule   cron.Schedule
	generation uint64
}

type Service struct {
	store    SiteStore
	runner   Runner
	logger   *slog.Logger
	now      func() time.Time
	random   func(n int) int
	location *time.Location

	mu         sync.Mutex
	inflight   sync.WaitGroup
	jobs       map[string]*job
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	generation uint64
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRandom replaces the jitter source. random(n) must return a value in [0, n).
func WithRandom(random func(n int) int) Option {
	return func(s *Service) {
		s.random = random
	}
}

// WithLocation sets the time zone daily schedules and cron expressions are read in.
func WithLocation(location *time.Location) Option {
	return func(s *Service) {
		s.location = location
	}
}

func NewService(store SiteStore, runner Runner, logger *slog.Logger, opts ...Option) *Service {
	service := &Service{
		store:    store,
		runner:   runner,
		logger:   logger.With("module", "scheduler"),
		now:      time.Now,
		random:   rand.IntN,
		location: time.Local,
		jobs:     make(map[string]*job),
		ctx:      context.Background(),
		cancel:   func() {},
	}

	for _, opt := range opts {
		opt(service)
	}

	cronLogger := newCronLogger(service.logger)
	service.cron = cron.New(
		cron.WithLocation(service.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)

	return service
}

// NextDailyRun returns today at hour:minute in now's location when that is
// strictly after now, otherwise the same time tomorrow, plus a uniform delay
// of [0, jitterSeconds] seconds drawn from random. jitterSeconds is capped at
// models.MaxRandomDelaySeconds.
func NextDailyRun(now time.Time, hour, minute, jitterSeconds int, random func(n int) int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	jitterSeconds = min(jitterSeconds, models.MaxRandomDelaySeconds)

	if jitterSeconds > 0 && random != nil {
		next = next.Add(time.Duration(random(jitterSeconds+1)) * time.Second)
	}

	return next
}

// Start schedules every active site and starts the cron runner. Scheduled
// runs receive a context derived from ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()

		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	sites, err := s.store.ActiveSites(ctx)
	if err != nil {
		s.mu.Lock()
		s.cancel()
		s.running = false
		s.mu.Unlock()

		return fmt.Errorf("failed to load active sites: %w", err)
	}

	var scheduleErrs []error

	for _, site := range sites {
		if err := s.ScheduleSite(site); err != nil {
			scheduleErrs = append(scheduleErrs, err)
		}
	}

	s.cron.Start()

	s.logger.InfoContext(ctx, "Scheduler started", "sites", len(sites), "jobs", len(s.Jobs()))

	if len(scheduleErrs) > 0 {
		s.logger.WarnContext(ctx, "Some sites could not be scheduled", "error", errors.Join(scheduleErrs...))
	}

	return nil
}

// Stop cancels every pending timer without firing it and stops the cron
// runner. In-flight runs keep going; use Wait to drain them.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, j := range s.jobs {
		s.removeLocked(id, j)
	}

	s.cron.Stop()
	s.cancel()
	s.running = false

	s.logger.Info("Scheduler stopped")
}

// Wait blocks until the runs fired before Stop have finished or ctx is done.
// It must be called after Stop.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// ScheduleSite installs the timer of site, replacing any existing one.
// Disabled or paused sites end up with no timer.
func (s *Service) ScheduleSite(site *models.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[site.ID]; ok {
		s.removeLocked(site.ID, existing)
	}

	if !site.Schedulable() {
		return nil
	}

	switch site.Schedule.Type {
	case models.ScheduleTypeDailyAfter, "":
		s.scheduleDailyLocked(site)
	case models.ScheduleTypeCron:
		err := s.scheduleCronLocked(site)
		if err != nil {
			s.logger.Error("Failed to schedule site", "site_id", site.ID, "error", err)

			return err
		}
	default:
		err := fmt.Errorf("%w: unknown schedule type %q", models.ErrInvalidSchedule, site.Schedule.Type)
		s.logger.Error("Failed to schedule site", "site_id", site.ID, "error", err)

		return err
	}

	return nil
}

// UnscheduleSite removes the timer of siteID if there is one.
func (s *Service) UnscheduleSite(siteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[siteID]; ok {
		s.removeLocked(siteID, existing)
	}
}

// NextRun returns when siteID fires next, or nil when it has no timer.
func (s *Service) NextRun(siteID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[siteID]
	if !ok {
		return nil
	}

	next := s.nextLocked(j)

	return &next
}

// Jobs lists the scheduled sites, soonest first.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.jobs))

	for _, j := range s.jobs {
		jobs = append(jobs, JobInfo{
			ID:        jobID(j.siteID),
			SiteID:    j.siteID,
			SiteName:  j.siteName,
			Kind:      j.kind,
			NextRunAt: s.nextLocked(j),
		})
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].NextRunAt.Before(jobs[k].NextRunAt)
	})

	return jobs
}

func jobID(siteID string) string {
	return "site_" + siteID
}

func (s *Service) scheduleDailyLocked(site *models.Site) {
	now := s.now().In(s.location)
	next := NextDailyRun(now, site.Schedule.Hour, site.Schedule.Minute, site.Schedule.RandomDelaySeconds, s.random)

	s.generation++
	generation := s.generation
	siteID := site.ID

	j := &job{
		siteID:     siteID,
		siteName:   site.Name,
		kind:       KindDaily,
		next:       next,
		generation: generation,
	}
	j.timer = time.AfterFunc(next.Sub(now), func() {
		s.fireDaily(siteID, generation)
	})

	s.jobs[siteID] = j

	s.logger.Info("Site scheduled", "site_id", siteID, "kind", KindDaily, "next_run_at", next)
}

func (s *Service) scheduleCronLocked(site *models.Site) error {
	expression := site.Schedule.CronExpression()

	schedule, err := cron.ParseStandard(expression)
	if err != nil {
		return fmt.Errorf("%w: cron expression %q: %w", models.ErrInvalidSchedule, expression, err)
	}

	siteID := site.ID
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fireCron(siteID)
	}))

	s.jobs[siteID] = &job{
		siteID:   siteID,
		siteName: site.Name,
		kind:     KindCron,
		entryID:  entryID,
		schedule: schedule,
	}

	s.logger.Info("Site scheduled", "site_id", siteID, "kind", KindCron, "cron", expression)

	return nil
}

func (s *Service) removeLocked(siteID string, j *job) {
	if j.timer != nil {
		j.timer.Stop()
	}

	if j.kind == KindCron {
		s.cron.Remove(j.entryID)
	}

	delete(s.jobs, siteID)
}

func (s *Service) nextLocked(j *job) time.Time {
	if j.kind != KindCron {
		return j.next
	}

	if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
		return next
	}

	return j.schedule.Next(s.now().In(s.location))
}

// fireDaily runs a one-shot daily timer and re-arms the site afterwards.
// A timer replaced or removed after it started firing is ignored.
func (s *Service) fireDaily(siteID string, generation uint64) {
	s.mu.Lock()

	j, ok := s.jobs[siteID]
	if !ok || j.generation != generation {
		s.mu.Unlock()

		return
	}

	delete(s.jobs, siteID)
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()

	s.fire(siteID)
	s.rearm(siteID)
}

// fireCron runs a cron entry unless the site was unscheduled or the
// scheduler stopped while the entry was being dispatched.
func (s *Service) fireCron(siteID string) {
	s.mu.Lock()

	if _, ok := s.jobs[siteID]; !ok || !s.running {
		s.mu.Unlock()

		return
	}

	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()

	s.fire(siteID)
}

// fire runs the site to completion. Stopping the scheduler does not cancel
// a run that already started.
func (s *Service) fire(siteID string) {
	ctx := context.WithoutCancel(s.lifecycle())
	logger := s.logger.With("site_id", siteID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Scheduled run panicked", "panic", r)
		}
	}()

	outcome := s.runner.RunSite(ctx, siteID, models.TriggerScheduled)

	switch outcome.Status {
	case models.OutcomeError:
		logger.ErrorContext(ctx, "Scheduled run failed", "message", outcome.Message, "run_id", outcome.RunID)
	case models.OutcomeSkipped:
		logger.InfoContext(ctx, "Scheduled run skipped", "message", outcome.Message)
	default:
		logger.InfoContext(ctx, "Scheduled run completed", "run_id", outcome.RunID, "run_status", outcome.RunStatus)
	}
}

// rearm reloads the site and installs its next daily timer when it is still
// active and still on a daily schedule.
func (s *Service) rearm(siteID string) {
	ctx := s.lifecycle()
	if ctx.Err() != nil {
		return
	}

	logger := s.logger.With("site_id", siteID)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Re-arming site panicked", "panic", r)
		}
	}()

	site, err := s.store.SiteByID(ctx, siteID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to reload site for re-arming", "error", err)

		return
	}

	if !site.Schedulable() {
		return
	}

	if site.Schedule.Type != models.ScheduleTypeDailyAfter && site.Schedule.Type != "" {
		return
	}

	s.mu.Lock()
	_, replaced := s.jobs[siteID]
	s.mu.Unlock()

	// the site was rescheduled while it ran
	if replaced {
		return
	}

	err = s.ScheduleSite(site)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to re-arm site", "error", err)
	}
}

func (s *Service) lifecycle() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctx
}
