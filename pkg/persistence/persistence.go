// Package persistence provides the storage abstraction for sites and their runs.
package persistence

import (
	"context"

	"github.com/dukex/checkinhub/pkg/models"
)

// DefaultRunsLimit is the number of runs returned when a caller passes a non-positive limit.
const DefaultRunsLimit = 50

type Persistence interface {
	Sites(ctx context.Context) ([]*models.Site, error)
	// ActiveSites returns sites that are enabled and not paused.
	ActiveSites(ctx context.Context) ([]*models.Site, error)
	SiteByID(ctx context.Context, id string) (*models.Site, error)
	SaveSite(ctx context.Context, site *models.Site) error
	DeleteSite(ctx context.Context, id string) error

	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	// FinishRun stores the terminal state of run together with the site's
	// last run bookkeeping. It can pause the stored site but never resumes it.
	// Other site fields are left as stored.
	FinishRun(ctx context.Context, run *models.Run, site *models.Site) error
	RunByID(ctx context.Context, id string) (*models.Run, error)
	// RunsBySite returns the newest runs of a site first.
	RunsBySite(ctx context.Context, siteID string, limit int) ([]*models.Run, error)
	RecentRuns(ctx context.Context, limit int) ([]*models.Run, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ApplyRunBookkeeping copies the fields FinishRun owns from src to dst.
// A pause stored while the run was executing is kept.
func ApplyRunBookkeeping(dst, src *models.Site) {
	dst.LastRunAt = src.LastRunAt
	dst.LastRunStatus = src.LastRunStatus

	if src.Paused {
		dst.Paused = true
	}
}

// Limit normalizes a requested list size.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultRunsLimit
	}

	return limit
}
