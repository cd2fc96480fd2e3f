package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
)

// RunRepository handles run-related file operations.
type RunRepository struct {
	root string
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) dir() string {
	return filepath.Join(rr.root, "runs")
}

func (rr *RunRepository) path(id string) string {
	return filepath.Join(rr.dir(), id+".json")
}

// GetByID retrieves a run by its ID.
func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	if !validID(id) {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	var run models.Run

	found, err := readJSON(rr.path(id), &run)
	if err != nil {
		return nil, persistence.NewRunError("RunByID", id, err)
	}

	if !found {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	return &run, nil
}

// Save writes a run to the file system.
func (rr *RunRepository) Save(_ context.Context, run *models.Run) error {
	if !validID(run.ID) {
		return persistence.NewRunError("SaveRun", run.ID, fmt.Errorf("invalid run id"))
	}

	if err := writeJSON(rr.path(run.ID), run); err != nil {
		return persistence.NewRunError("SaveRun", run.ID, err)
	}

	return nil
}

// List returns runs matching keep, newest first, at most limit of them.
func (rr *RunRepository) List(_ context.Context, keep func(*models.Run) bool, limit int) ([]*models.Run, error) {
	entries, err := fs.Glob(os.DirFS(rr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.Run, 0)

	for _, entry := range entries {
		var run models.Run

		found, err := readJSON(filepath.Join(rr.dir(), entry), &run)
		if err != nil {
			return nil, err
		}

		if found && keep(&run) {
			runs = append(runs, &run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// DeleteBySite removes every run of a site.
func (rr *RunRepository) DeleteBySite(ctx context.Context, siteID string) error {
	runs, err := rr.List(ctx, func(run *models.Run) bool { return run.SiteID == siteID }, int(^uint(0)>>1))
	if err != nil {
		return err
	}

	for _, run := range runs {
		if err := os.Remove(rr.path(run.ID)); err != nil && !os.IsNotExist(err) {
			return persistence.NewRunError("DeleteRun", run.ID, err)
		}
	}

	return nil
}

// CreateRun stores a new run.
func (fp *Persistence) CreateRun(ctx context.Context, run *models.Run) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.runs.Save(ctx, run)
}

// UpdateRun replaces a run that has not reached a terminal state.
func (fp *Persistence) UpdateRun(ctx context.Context, run *models.Run) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := fp.ensureRunning(ctx, "UpdateRun", run.ID); err != nil {
		return err
	}

	return fp.runs.Save(ctx, run)
}

// FinishRun writes the terminal run and the site's run bookkeeping under one lock.
func (fp *Persistence) FinishRun(ctx context.Context, run *models.Run, site *models.Site) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := fp.ensureRunning(ctx, "FinishRun", run.ID); err != nil {
		return err
	}

	stored, err := fp.sites.GetByID(ctx, site.ID)
	if err != nil {
		return err
	}

	if err := fp.runs.Save(ctx, run); err != nil {
		return err
	}

	persistence.ApplyRunBookkeeping(stored, site)

	return fp.sites.Save(ctx, stored)
}

func (fp *Persistence) ensureRunning(ctx context.Context, op, id string) error {
	existing, err := fp.runs.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if existing.Status.Terminal() {
		return persistence.NewRunError(op, id, persistence.ErrRunFinished)
	}

	return nil
}

// RunByID returns a run or ErrRunNotFound.
func (fp *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.runs.GetByID(ctx, id)
}

// RunsBySite returns the newest runs of a site.
func (fp *Persistence) RunsBySite(ctx context.Context, siteID string, limit int) ([]*models.Run, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.runs.List(ctx, func(run *models.Run) bool { return run.SiteID == siteID }, persistence.Limit(limit))
}

// RecentRuns returns the newest runs across all sites.
func (fp *Persistence) RecentRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.runs.List(ctx, func(*models.Run) bool { return true }, persistence.Limit(limit))
}
