package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// Sites returns all sites, oldest first.
func (p *Persistence) Sites(ctx context.Context) ([]*models.Site, error) {
	ids, err := p.client.SMembers(ctx, p.keys.sites()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}

	sites := make([]*models.Site, 0, len(ids))
	if len(ids) == 0 {
		return sites, nil
	}

	siteKeys := make([]string, len(ids))
	for i, id := range ids {
		siteKeys[i] = p.keys.site(id)
	}

	values, err := p.client.MGet(ctx, siteKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sites: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			p.logger.WarnContext(ctx, "Site indexed but missing", "site_id", ids[i])

			continue
		}

		var site models.Site
		if err := json.Unmarshal([]byte(raw), &site); err != nil {
			return nil, fmt.Errorf("failed to decode site %s: %w", ids[i], err)
		}

		sites = append(sites, &site)
	}

	sort.Slice(sites, func(i, j int) bool {
		return sites[i].CreatedAt.Before(sites[j].CreatedAt)
	})

	return sites, nil
}

// ActiveSites returns enabled, non-paused sites.
func (p *Persistence) ActiveSites(ctx context.Context) ([]*models.Site, error) {
	sites, err := p.Sites(ctx)
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
func (p *Persistence) SiteByID(ctx context.Context, id string) (*models.Site, error) {
	if !validID(id) {
		return nil, persistence.NewSiteError("SiteByID", id, persistence.ErrSiteNotFound)
	}

	var site models.Site

	found, err := getJSON(ctx, p.client, p.keys.site(id), &site)
	if err != nil {
		return nil, persistence.NewSiteError("SiteByID", id, err)
	}

	if !found {
		return nil, persistence.NewSiteError("SiteByID", id, persistence.ErrSiteNotFound)
	}

	return &site, nil
}

// SaveSite creates or replaces a site.
func (p *Persistence) SaveSite(ctx context.Context, site *models.Site) error {
	if !validID(site.ID) {
		return persistence.NewSiteError("SaveSite", site.ID, fmt.Errorf("invalid site id"))
	}

	now := time.Now().UTC()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}

	site.UpdatedAt = now

	encoded, err := json.Marshal(site)
	if err != nil {
		return persistence.NewSiteError("SaveSite", site.ID, err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.keys.site(site.ID), encoded, 0)
		pipe.SAdd(ctx, p.keys.sites(), site.ID)

		return nil
	})
	if err != nil {
		return persistence.NewSiteError("SaveSite", site.ID, err)
	}

	return nil
}

// DeleteSite removes a site and its runs.
func (p *Persistence) DeleteSite(ctx context.Context, id string) error {
	if !validID(id) {
		return persistence.NewSiteError("DeleteSite", id, persistence.ErrSiteNotFound)
	}

	siteKey := p.keys.site(id)
	siteRunsKey := p.keys.siteRuns(id)

	return p.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, siteKey).Result()
		if err != nil {
			return persistence.NewSiteError("DeleteSite", id, err)
		}

		if exists == 0 {
			return persistence.NewSiteError("DeleteSite", id, persistence.ErrSiteNotFound)
		}

		runIDs, err := tx.ZRange(ctx, siteRunsKey, 0, -1).Result()
		if err != nil {
			return persistence.NewSiteError("DeleteSite", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, siteKey, siteRunsKey)
			pipe.SRem(ctx, p.keys.sites(), id)

			for _, runID := range runIDs {
				pipe.Del(ctx, p.keys.run(runID))
				pipe.ZRem(ctx, p.keys.runs(), runID)
			}

			return nil
		})
		if err != nil {
			return err
		}

		return nil
	}, siteKey, siteRunsKey)
}
