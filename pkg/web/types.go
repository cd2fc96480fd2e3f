package web

import (
	"time"

	"github.com/dukex/checkinhub/pkg/models"
)

// EncryptRequest is the body of POST /api/vault/encrypt.
type EncryptRequest struct {
	Plaintext string `json:"plaintext" validate:"required"`
}

// SchedulerStatus summarizes the scheduler for the status endpoint.
type SchedulerStatus struct {
	Running  bool `json:"running"`
	JobCount int  `json:"job_count"`
}

// SiteCounts groups the sites by state.
type SiteCounts struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
	Paused  int `json:"paused"`
}

type ConfigStatus struct {
	WebhookConfigured bool `json:"webhook_configured"`
}

// StatusResponse is returned by GET /api/system/status.
type StatusResponse struct {
	Scheduler SchedulerStatus `json:"scheduler"`
	Sites     SiteCounts      `json:"sites"`
	Config    ConfigStatus    `json:"config"`
	Version   string          `json:"version"`
}

// RecentRunResponse is a run joined with the name of its site.
type RecentRunResponse struct {
	ID         string           `json:"id"`
	SiteID     string           `json:"site_id"`
	SiteName   string           `json:"site_name"`
	Trigger    models.Trigger   `json:"trigger"`
	Status     models.RunStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Summary    string           `json:"summary,omitempty"`
}

// NewRecentRunResponse builds the response of a run. siteName may be empty
// when the site no longer exists.
func NewRecentRunResponse(run *models.Run, siteName string) RecentRunResponse {
	if siteName == "" {
		siteName = "Unknown"
	}

	return RecentRunResponse{
		ID:         run.ID,
		SiteID:     run.SiteID,
		SiteName:   siteName,
		Trigger:    run.Trigger,
		Status:     run.Status,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Summary:    run.Summary,
	}
}

// PublicSite returns a copy of site that never carries a plaintext token.
func PublicSite(site *models.Site) *models.Site {
	public := *site
	public.Auth = site.Auth.Public()

	return &public
}

func publicSites(sites []*models.Site) []*models.Site {
	out := make([]*models.Site, 0, len(sites))
	for _, site := range sites {
		out = append(out, PublicSite(site))
	}

	return out
}
