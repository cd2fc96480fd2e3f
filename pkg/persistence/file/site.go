package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
)

// SiteRepository handles site-related file operations.
type SiteRepository struct {
	root string
}

// NewSiteRepository creates a new site repository.
func NewSiteRepository(root string) *SiteRepository {
	return &SiteRepository{root: root}
}

func (sr *SiteRepository) dir() string {
	return filepath.Join(sr.root, "sites")
}

func (sr *SiteRepository) path(id string) string {
	return filepath.Join(sr.dir(), id+".json")
}

// GetAll returns every stored site ordered by creation time.
func (sr *SiteRepository) GetAll(_ context.Context) ([]*models.Site, error) {
	entries, err := fs.Glob(os.DirFS(sr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list site files: %w", err)
	}

	sites := make([]*models.Site, 0, len(entries))

	for _, entry := range entries {
		var site models.Site

		found, err := readJSON(filepath.Join(sr.dir(), entry), &site)
		if err != nil {
			return nil, fmt.Errorf("failed to load site %s: %w", strings.TrimSuffix(entry, ".json"), err)
		}

		if found {
			sites = append(sites, &site)
		}
	}

	sort.Slice(sites, func(i, j int) bool {
		return sites[i].CreatedAt.Before(sites[j].CreatedAt)
	})

	return sites, nil
}

// GetByID retrieves a site by its ID from the file system.
func (sr *SiteRepository) GetByID(_ context.Context, id string) (*models.Site, error) {
	if !validID(id) {
		return nil, persistence.NewSiteError("SiteByID", id, persistence.ErrSiteNotFound)
	}

	var site models.Site

	found, err := readJSON(sr.path(id), &site)
	if err != nil {
		return nil, persistence.NewSiteError("SiteByID", id, err)
	}

	if !found {
		return nil, persistence.NewSiteError("SiteByID", id, persistence.ErrSiteNotFound)
	}

	return &site, nil
}

// Save writes a site to the file system.
func (sr *SiteRepository) Save(_ context.Context, site *models.Site) error {
	if !validID(site.ID) {
		return persistence.NewSiteError("SaveSite", site.ID, fmt.Errorf("invalid site id"))
	}

	now := time.Now().UTC()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}

	site.UpdatedAt = now

	if err := writeJSON(sr.path(site.ID), site); err != nil {
		return persistence.NewSiteError("SaveSite", site.ID, err)
	}

	return nil
}

// Delete removes a site by its ID.
func (sr *SiteRepository) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return persistence.NewSiteError("DeleteSite", id, persistence.ErrSiteNotFound)
	}

	err := os.Remove(sr.path(id))
	if os.IsNotExist(err) {
		return persistence.NewSiteError("DeleteSite", id, persistence.ErrSiteNotFound)
	}

	if err != nil {
		return persistence.NewSiteError("DeleteSite", id, err)
	}

	return nil
}

// Sites returns all sites.
func (fp *Persistence) Sites(ctx context.Context) ([]*models.Site, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.sites.GetAll(ctx)
}

// ActiveSites returns enabled, non-paused sites.
func (fp *Persistence) ActiveSites(ctx context.Context) ([]*models.Site, error) {
	sites, err := fp.Sites(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Site, 0, len(sites))

	for _, site := range sites {
		if site.Schedulable() {
			active = append(active, site)
		}
	}

	return active, nil
}

// SiteByID returns a site or ErrSiteNotFound.
func (fp *Persistence) SiteByID(ctx context.Context, id string) (*models.Site, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.sites.GetByID(ctx, id)
}

// SaveSite creates or replaces a site.
func (fp *Persistence) SaveSite(ctx context.Context, site *models.Site) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.sites.Save(ctx, site)
}

// DeleteSite removes a site and its runs.
func (fp *Persistence) DeleteSite(ctx context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := fp.sites.Delete(ctx, id); err != nil {
		return err
	}

	return fp.runs.DeleteBySite(ctx, id)
}
