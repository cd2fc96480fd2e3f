package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/google/uuid"
)

// Scheduler is the part of the scheduler the site service drives.
type Scheduler interface {
	ScheduleSite(site *models.Site) error
	UnscheduleSite(siteID string)
	NextRun(siteID string) *time.Time
}

// Encrypter seals plaintext tokens before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (models.EncryptedSecret, error)
}

// CreateSiteRequest is the payload of a new site. Flow is kept raw so it can
// be checked against the flow schema before decoding.
type CreateSiteRequest struct {
	Name     string               `json:"name"     validate:"required,max=200"`
	Enabled  *bool                `json:"enabled"`
	Paused   bool                 `json:"paused"`
	Tags     []string             `json:"tags"     validate:"omitempty,dive,max=50"`
	BaseURL  string               `json:"base_url" validate:"omitempty,url"`
	Auth     *models.AuthSpec     `json:"auth"`
	Flow     json.RawMessage      `json:"flow"`
	Schedule *models.ScheduleSpec `json:"schedule"`
}

// UpdateSiteRequest changes only the fields that are present.
type UpdateSiteRequest struct {
	Name     *string              `json:"name"     validate:"omitempty,min=1,max=200"`
	Enabled  *bool                `json:"enabled"`
	Paused   *bool                `json:"paused"`
	Tags     *[]string            `json:"tags"`
	BaseURL  *string              `json:"base_url" validate:"omitempty,url"`
	Auth     *models.AuthSpec     `json:"auth"`
	Flow     json.RawMessage      `json:"flow"`
	Schedule *models.ScheduleSpec `json:"schedule"`
}

type Site struct {
	persistence persistence.Persistence
	scheduler   Scheduler
	encrypter   Encrypter
	logger      *slog.Logger
}

// NewSite creates a new site service.
func NewSite(persistence persistence.Persistence, scheduler Scheduler, encrypter Encrypter, logger *slog.Logger) *Site {
	return &Site{
		persistence: persistence,
		scheduler:   scheduler,
		encrypter:   encrypter,
		logger:      logger.With("module", "site_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Site) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every site with its next run filled in.
func (s *Site) List(ctx context.Context) ([]*models.Site, error) {
	sites, err := s.persistence.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}

	for _, site := range sites {
		s.fillNextRun(site)
	}

	return sites, nil
}

// FetchByID returns a site with its next run filled in.
func (s *Site) FetchByID(ctx context.Context, id string) (*models.Site, error) {
	site, err := s.persistence.SiteByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.fillNextRun(site)

	return site, nil
}

// Create validates, stores and schedules a new site.
func (s *Site) Create(ctx context.Context, req CreateSiteRequest) (*models.Site, error) {
	site := &models.Site{
		Name:     strings.TrimSpace(req.Name),
		Enabled:  true,
		Paused:   req.Paused,
		Tags:     req.Tags,
		BaseURL:  req.BaseURL,
		Auth:     models.AuthSpec{Type: models.AuthTypeNone},
		Flow:     []models.Step{},
		Schedule: models.DefaultSchedule(),
	}

	if req.Enabled != nil {
		site.Enabled = *req.Enabled
	}

	if req.Auth != nil {
		site.Auth = *req.Auth
	}

	if req.Schedule != nil {
		site.Schedule = *req.Schedule
	}

	if site.Tags == nil {
		site.Tags = []string{}
	}

	if len(req.Flow) > 0 && string(req.Flow) != "null" {
		flow, err := decodeFlow("Create", req.Flow)
		if err != nil {
			return nil, err
		}

		site.Flow = flow
	}

	err := s.sealToken(&site.Auth, nil)
	if err != nil {
		return nil, err
	}

	err = site.Validate()
	if err != nil {
		return nil, NewValidationError("Create", "invalid_site", err.Error(), err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate site ID: %w", err)
	}

	site.ID = id.String()

	err = s.persistence.SaveSite(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("failed to save site: %w", err)
	}

	s.schedule(ctx, site)

	s.logger.InfoContext(ctx, "Site created", "site_id", site.ID, "name", site.Name)

	return site, nil
}

// Update applies a partial update and reschedules the site.
func (s *Site) Update(ctx context.Context, id string, req UpdateSiteRequest) (*models.Site, error) {
	site, err := s.persistence.SiteByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		site.Name = strings.TrimSpace(*req.Name)
	}

	if req.Enabled != nil {
		site.Enabled = *req.Enabled
	}

	if req.Paused != nil {
		site.Paused = *req.Paused
	}

	if req.Tags != nil {
		site.Tags = *req.Tags
	}

	if req.BaseURL != nil {
		site.BaseURL = *req.BaseURL
	}

	if req.Schedule != nil {
		site.Schedule = *req.Schedule
	}

	if len(req.Flow) > 0 && string(req.Flow) != "null" {
		flow, err := decodeFlow("Update", req.Flow)
		if err != nil {
			return nil, err
		}

		site.Flow = flow
	}

	if req.Auth != nil {
		previous := site.Auth
		site.Auth = *req.Auth

		err = s.sealToken(&site.Auth, &previous)
		if err != nil {
			return nil, err
		}
	}

	err = site.Validate()
	if err != nil {
		return nil, NewValidationError("Update", "invalid_site", err.Error(), err)
	}

	// drop the old timer before storing so a disabled or paused site never keeps one
	if !site.Schedulable() {
		s.scheduler.UnscheduleSite(site.ID)
	}

	err = s.persistence.SaveSite(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("failed to save site: %w", err)
	}

	s.schedule(ctx, site)

	s.logger.InfoContext(ctx, "Site updated", "site_id", site.ID)

	return site, nil
}

// Delete unschedules a site and removes it with its runs.
func (s *Site) Delete(ctx context.Context, id string) error {
	_, err := s.persistence.SiteByID(ctx, id)
	if err != nil {
		return err
	}

	s.scheduler.UnscheduleSite(id)

	err = s.persistence.DeleteSite(ctx, id)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Site deleted", "site_id", id)

	return nil
}

// Pause stops scheduling a site.
func (s *Site) Pause(ctx context.Context, id string) (*models.Site, error) {
	site, err := s.persistence.SiteByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.scheduler.UnscheduleSite(id)

	site.Paused = true

	err = s.persistence.SaveSite(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("failed to save site: %w", err)
	}

	s.logger.InfoContext(ctx, "Site paused", "site_id", id)

	return site, nil
}

// Resume clears the paused flag and schedules the site again.
func (s *Site) Resume(ctx context.Context, id string) (*models.Site, error) {
	site, err := s.persistence.SiteByID(ctx, id)
	if err != nil {
		return nil, err
	}

	site.Paused = false

	err = s.persistence.SaveSite(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("failed to save site: %w", err)
	}

	s.schedule(ctx, site)

	s.logger.InfoContext(ctx, "Site resumed", "site_id", id)

	return site, nil
}

// Runs returns the newest runs of an existing site.
func (s *Site) Runs(ctx context.Context, id string, limit int) ([]*models.Run, error) {
	_, err := s.persistence.SiteByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.persistence.RunsBySite(ctx, id, limit)
}

// schedule installs the site's timer. A failure is logged; the site is stored either way.
func (s *Site) schedule(ctx context.Context, site *models.Site) {
	err := s.scheduler.ScheduleSite(site)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to schedule site", "site_id", site.ID, "error", err)
	}

	s.fillNextRun(site)
}

func (s *Site) fillNextRun(site *models.Site) {
	site.NextRunAt = s.scheduler.NextRun(site.ID)
}

// sealToken encrypts a plaintext manual bearer token. When the new auth
// carries neither a token nor a ciphertext, the previous ciphertext is kept.
func (s *Site) sealToken(auth *models.AuthSpec, previous *models.AuthSpec) error {
	if auth.Type == "" {
		auth.Type = models.AuthTypeNone
	}

	if auth.Type != models.AuthTypeBearer {
		return nil
	}

	if auth.TokenSource == "" {
		auth.TokenSource = models.TokenSourceManual
	}

	if auth.TokenSource != models.TokenSourceManual {
		return nil
	}

	if auth.Token == "" {
		if auth.Encrypted == nil && previous != nil && previous.Encrypted != nil {
			auth.Encrypted = previous.Encrypted
		}

		return nil
	}

	encrypted, err := s.encrypter.Encrypt(auth.Token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	auth.Encrypted = &encrypted
	auth.Token = ""

	return nil
}

func decodeFlow(op string, raw json.RawMessage) ([]models.Step, error) {
	var document any

	err := json.Unmarshal(raw, &document)
	if err != nil {
		return nil, NewValidationError(op, "invalid_flow", "flow is not valid JSON", fmt.Errorf("%w: %w", models.ErrInvalidFlow, err))
	}

	err = models.ValidateFlow(document)
	if err != nil {
		return nil, NewValidationError(op, "invalid_flow", err.Error(), err)
	}

	var flow []models.Step

	err = json.Unmarshal(raw, &flow)
	if err != nil {
		return nil, NewValidationError(op, "invalid_flow", err.Error(), fmt.Errorf("%w: %w", models.ErrInvalidFlow, err))
	}

	return flow, nil
}
