package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// CreateRun stores a new run and indexes it by start time.
func (p *Persistence) CreateRun(ctx context.Context, run *models.Run) error {
	if !validID(run.ID) {
		return persistence.NewRunError("CreateRun", run.ID, fmt.Errorf("invalid run id"))
	}

	encoded, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	score := float64(run.StartedAt.UnixMilli())

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.keys.run(run.ID), encoded, 0)
		pipe.ZAdd(ctx, p.keys.runs(), redis.Z{Score: score, Member: run.ID})
		pipe.ZAdd(ctx, p.keys.siteRuns(run.SiteID), redis.Z{Score: score, Member: run.ID})

		return nil
	})
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

// UpdateRun replaces a run that has not reached a terminal state.
func (p *Persistence) UpdateRun(ctx context.Context, run *models.Run) error {
	runKey := p.keys.run(run.ID)

	encoded, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	return p.watch(ctx, func(tx *redis.Tx) error {
		if err := p.ensureRunning(ctx, tx, "UpdateRun", run.ID); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, runKey, encoded, 0)

			return nil
		})

		return err
	}, runKey)
}

// FinishRun writes the terminal run and the site's run bookkeeping in one transaction.
func (p *Persistence) FinishRun(ctx context.Context, run *models.Run, site *models.Site) error {
	runKey := p.keys.run(run.ID)
	siteKey := p.keys.site(site.ID)

	encodedRun, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("FinishRun", run.ID, err)
	}

	return p.watch(ctx, func(tx *redis.Tx) error {
		if err := p.ensureRunning(ctx, tx, "FinishRun", run.ID); err != nil {
			return err
		}

		var stored models.Site

		found, err := getJSON(ctx, tx, siteKey, &stored)
		if err != nil {
			return persistence.NewSiteError("FinishRun", site.ID, err)
		}

		if !found {
			return persistence.NewSiteError("FinishRun", site.ID, persistence.ErrSiteNotFound)
		}

		persistence.ApplyRunBookkeeping(&stored, site)

		encodedSite, err := json.Marshal(&stored)
		if err != nil {
			return persistence.NewSiteError("FinishRun", site.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, runKey, encodedRun, 0)
			pipe.Set(ctx, siteKey, encodedSite, 0)

			return nil
		})

		return err
	}, runKey, siteKey)
}

func (p *Persistence) ensureRunning(ctx context.Context, tx *redis.Tx, op, id string) error {
	var existing models.Run

	found, err := getJSON(ctx, tx, p.keys.run(id), &existing)
	if err != nil {
		return persistence.NewRunError(op, id, err)
	}

	if !found {
		return persistence.NewRunError(op, id, persistence.ErrRunNotFound)
	}

	if existing.Status.Terminal() {
		return persistence.NewRunError(op, id, persistence.ErrRunFinished)
	}

	return nil
}

// RunByID returns a run or ErrRunNotFound.
func (p *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	if !validID(id) {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	var run models.Run

	found, err := getJSON(ctx, p.client, p.keys.run(id), &run)
	if err != nil {
		return nil, persistence.NewRunError("RunByID", id, err)
	}

	if !found {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	return &run, nil
}

// RunsBySite returns the newest runs of a site.
func (p *Persistence) RunsBySite(ctx context.Context, siteID string, limit int) ([]*models.Run, error) {
	if !validID(siteID) {
		return []*models.Run{}, nil
	}

	return p.listRuns(ctx, p.keys.siteRuns(siteID), persistence.Limit(limit))
}

// RecentRuns returns the newest runs across all sites.
func (p *Persistence) RecentRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	return p.listRuns(ctx, p.keys.runs(), persistence.Limit(limit))
}

func (p *Persistence) listRuns(ctx context.Context, index string, limit int) ([]*models.Run, error) {
	ids, err := p.client.ZRevRange(ctx, index, 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.Run, 0, len(ids))
	if len(ids) == 0 {
		return runs, nil
	}

	runKeys := make([]string, len(ids))
	for i, id := range ids {
		runKeys[i] = p.keys.run(id)
	}

	values, err := p.client.MGet(ctx, runKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			p.logger.WarnContext(ctx, "Run indexed but missing", "run_id", ids[i])

			continue
		}

		var run models.Run
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", ids[i], err)
		}

		runs = append(runs, &run)
	}

	return runs, nil
}
