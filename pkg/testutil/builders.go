// Package testutil provides test data builders and shared persistence tests.
package testutil

import (
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/google/uuid"
)

// CreateTestSite creates an enabled daily site with one step that can be overridden.
func CreateTestSite(overrides ...func(*models.Site)) *models.Site {
	now := time.Now().UTC().Truncate(time.Millisecond)

	site := &models.Site{
		ID:      uuid.NewString(),
		Name:    "Test Site",
		Tags:    []string{"test"},
		Enabled: true,
		BaseURL: "https://example.com",
		Auth:    models.AuthSpec{Type: models.AuthTypeNone},
		Flow: []models.Step{
			{
				Name:   "checkin",
				Method: "POST",
				URL:    "https://example.com/api/checkin",
				Expect: &models.Expect{Type: "json", Path: "code", Equals: 0.0},
			},
		},
		Schedule:  models.DefaultSchedule(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(site)
	}

	return site
}

// WithPaused marks the site paused.
func WithPaused() func(*models.Site) {
	return func(s *models.Site) {
		s.Paused = true
	}
}

// WithDisabled marks the site disabled.
func WithDisabled() func(*models.Site) {
	return func(s *models.Site) {
		s.Enabled = false
	}
}

// WithFlow replaces the site's steps.
func WithFlow(steps ...models.Step) func(*models.Site) {
	return func(s *models.Site) {
		s.Flow = steps
	}
}

// WithSchedule replaces the site's schedule.
func WithSchedule(schedule models.ScheduleSpec) func(*models.Site) {
	return func(s *models.Site) {
		s.Schedule = schedule
	}
}

// WithAuth replaces the site's auth configuration.
func WithAuth(auth models.AuthSpec) func(*models.Site) {
	return func(s *models.Site) {
		s.Auth = auth
	}
}

// CreateTestRun creates a RUNNING manual run for siteID.
func CreateTestRun(siteID string, overrides ...func(*models.Run)) *models.Run {
	run := &models.Run{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		Trigger:   models.TriggerManual,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Steps:     []models.StepResult{},
	}

	for _, override := range overrides {
		override(run)
	}

	return run
}

// WithStartedAt sets the run start time.
func WithStartedAt(at time.Time) func(*models.Run) {
	return func(r *models.Run) {
		r.StartedAt = at.UTC().Truncate(time.Millisecond)
	}
}
