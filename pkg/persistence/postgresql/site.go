package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/google/uuid"
)

const siteColumns = `
			id
		  , name
		  , tags
		  , enabled
		  , paused
		  , base_url
		  , auth
		  , flow
		  , schedule
		  , last_run_at
		  , last_run_status
		  , created_at
		  , updated_at`

// SiteRepository handles site-related database operations.
type SiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSiteRepository creates a new site repository.
func NewSiteRepository(db *sql.DB, logger *slog.Logger) *SiteRepository {
	return &SiteRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// GetAll returns all sites, optionally only the enabled and unpaused ones.
func (r *SiteRepository) GetAll(ctx context.Context, activeOnly bool) ([]*models.Site, error) {
	query := `SELECT` + siteColumns + `
		FROM sites`

	if activeOnly {
		query += `
		WHERE enabled = true AND paused = false`
	}

	query += `
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	sites := make([]*models.Site, 0)

	for rows.Next() {
		site, err := r.scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}

		sites = append(sites, site)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating sites: %w", err)
	}

	return sites, nil
}

// GetByID returns a site or ErrSiteNotFound.
func (r *SiteRepository) GetByID(ctx context.Context, id string) (*models.Site, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewSiteError("SiteByID", id, persistence.ErrSiteNotFound)
	}

	query := `SELECT` + siteColumns + `
		FROM sites
		WHERE id = $1`

	site, err := r.scanSite(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSiteError("SiteByID", id, persistence.ErrSiteNotFound)
		}

		return nil, persistence.NewSiteError("SiteByID", id, err)
	}

	return site, nil
}

// Save inserts or replaces a site.
func (r *SiteRepository) Save(ctx context.Context, site *models.Site) error {
	now := time.Now().UTC()

	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}

	site.UpdatedAt = now

	if site.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate site ID: %w", err)
		}

		site.ID = id.String()
	}

	tags, auth, flow, schedule, err := marshalSiteDocuments(site)
	if err != nil {
		return persistence.NewSiteError("SaveSite", site.ID, err)
	}

	query := `
		INSERT INTO sites (
			id, name, tags, enabled, paused, base_url, auth, flow, schedule,
			last_run_at, last_run_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			tags = EXCLUDED.tags,
			enabled = EXCLUDED.enabled,
			paused = EXCLUDED.paused,
			base_url = EXCLUDED.base_url,
			auth = EXCLUDED.auth,
			flow = EXCLUDED.flow,
			schedule = EXCLUDED.schedule,
			last_run_at = EXCLUDED.last_run_at,
			last_run_status = EXCLUDED.last_run_status,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		site.ID, site.Name, tags, site.Enabled, site.Paused, site.BaseURL, auth, flow, schedule,
		nullTime(site.LastRunAt), string(site.LastRunStatus), site.CreatedAt, site.UpdatedAt,
	)
	if err != nil {
		return persistence.NewSiteError("SaveSite", site.ID, err)
	}

	return nil
}

// Delete removes a site. Its runs are removed by the foreign key cascade.
func (r *SiteRepository) Delete(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return persistence.NewSiteError("DeleteSite", id, persistence.ErrSiteNotFound)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return persistence.NewSiteError("DeleteSite", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSiteError("DeleteSite", id, err)
	}

	if affected == 0 {
		return persistence.NewSiteError("DeleteSite", id, persistence.ErrSiteNotFound)
	}

	return nil
}

func (r *SiteRepository) scanSite(row rowScanner) (*models.Site, error) {
	var (
		site                       models.Site
		tags, auth, flow, schedule []byte
		lastRunAt                  sql.NullTime
		lastRunStatus              string
	)

	err := row.Scan(
		&site.ID, &site.Name, &tags, &site.Enabled, &site.Paused, &site.BaseURL,
		&auth, &flow, &schedule, &lastRunAt, &lastRunStatus, &site.CreatedAt, &site.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	documents := []struct {
		name   string
		raw    []byte
		target any
	}{
		{"tags", tags, &site.Tags},
		{"auth", auth, &site.Auth},
		{"flow", flow, &site.Flow},
		{"schedule", schedule, &site.Schedule},
	}

	for _, doc := range documents {
		if len(doc.raw) == 0 {
			continue
		}

		if err := json.Unmarshal(doc.raw, doc.target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", doc.name, err)
		}
	}

	if lastRunAt.Valid {
		at := lastRunAt.Time.UTC()
		site.LastRunAt = &at
	}

	site.LastRunStatus = models.RunStatus(lastRunStatus)
	site.CreatedAt = site.CreatedAt.UTC()
	site.UpdatedAt = site.UpdatedAt.UTC()

	return &site, nil
}

func marshalSiteDocuments(site *models.Site) (tags, auth, flow, schedule []byte, err error) {
	siteTags := site.Tags
	if siteTags == nil {
		siteTags = []string{}
	}

	siteFlow := site.Flow
	if siteFlow == nil {
		siteFlow = []models.Step{}
	}

	if tags, err = json.Marshal(siteTags); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	if auth, err = json.Marshal(site.Auth); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal auth: %w", err)
	}

	if flow, err = json.Marshal(siteFlow); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal flow: %w", err)
	}

	if schedule, err = json.Marshal(site.Schedule); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal schedule: %w", err)
	}

	return tags, auth, flow, schedule, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

// Sites returns all sites.
func (p *Persistence) Sites(ctx context.Context) ([]*models.Site, error) {
	return p.siteRepo.GetAll(ctx, false)
}

// ActiveSites returns enabled, non-paused sites.
func (p *Persistence) ActiveSites(ctx context.Context) ([]*models.Site, error) {
	return p.siteRepo.GetAll(ctx, true)
}

// SiteByID returns a site by its ID.
func (p *Persistence) SiteByID(ctx context.Context, id string) (*models.Site, error) {
	return p.siteRepo.GetByID(ctx, id)
}

// SaveSite saves a site to the database.
func (p *Persistence) SaveSite(ctx context.Context, site *models.Site) error {
	return p.siteRepo.Save(ctx, site)
}

// DeleteSite deletes a site and its runs.
func (p *Persistence) DeleteSite(ctx context.Context, id string) error {
	return p.siteRepo.Delete(ctx, id)
}
