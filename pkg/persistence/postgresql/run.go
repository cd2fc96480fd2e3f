package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/google/uuid"
)

const runColumns = `
			id
		  , site_id
		  , trigger_type
		  , status
		  , started_at
		  , finished_at
		  , summary
		  , steps
		  , auth_failed`

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create inserts a new run.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	steps, err := marshalSteps(run.Steps)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	query := `
		INSERT INTO runs (
			id, site_id, trigger_type, status, started_at, finished_at, summary, steps, auth_failed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.SiteID, string(run.Trigger), string(run.Status), run.StartedAt,
		nullTime(run.FinishedAt), run.Summary, steps, run.AuthFailed,
	)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

// Update rewrites a run that is still RUNNING.
func (r *RunRepository) Update(ctx context.Context, db execer, op string, run *models.Run) error {
	steps, err := marshalSteps(run.Steps)
	if err != nil {
		return persistence.NewRunError(op, run.ID, err)
	}

	query := `
		UPDATE runs
		SET status = $2, finished_at = $3, summary = $4, steps = $5, auth_failed = $6
		WHERE id = $1 AND status = 'RUNNING'
	`

	result, err := db.ExecContext(ctx, query,
		run.ID, string(run.Status), nullTime(run.FinishedAt), run.Summary, steps, run.AuthFailed,
	)
	if err != nil {
		return persistence.NewRunError(op, run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError(op, run.ID, err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, run.ID).Scan(&exists)
	if err != nil {
		return persistence.NewRunError(op, run.ID, err)
	}

	if !exists {
		return persistence.NewRunError(op, run.ID, persistence.ErrRunNotFound)
	}

	return persistence.NewRunError(op, run.ID, persistence.ErrRunFinished)
}

// GetByID returns a run or ErrRunNotFound.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	query := `SELECT` + runColumns + `
		FROM runs
		WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("RunByID", id, err)
	}

	return run, nil
}

// List returns the newest runs, restricted to siteID when it is not empty.
func (r *RunRepository) List(ctx context.Context, siteID string, limit int) ([]*models.Run, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if siteID != "" {
		if uuid.Validate(siteID) != nil {
			return []*models.Run{}, nil
		}

		rows, err = r.db.QueryContext(ctx, `SELECT`+runColumns+`
		FROM runs
		WHERE site_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, siteID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT`+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run        models.Run
		trigger    string
		status     string
		finishedAt sql.NullTime
		steps      []byte
	)

	err := row.Scan(&run.ID, &run.SiteID, &trigger, &status, &run.StartedAt, &finishedAt, &run.Summary, &steps, &run.AuthFailed)
	if err != nil {
		return nil, err
	}

	run.Trigger = models.Trigger(trigger)
	run.Status = models.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()

	if finishedAt.Valid {
		at := finishedAt.Time.UTC()
		run.FinishedAt = &at
	}

	run.Steps = []models.StepResult{}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &run.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &run, nil
}

func marshalSteps(steps []models.StepResult) ([]byte, error) {
	if steps == nil {
		steps = []models.StepResult{}
	}

	encoded, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal steps: %w", err)
	}

	return encoded, nil
}

// CreateRun inserts a new run.
func (p *Persistence) CreateRun(ctx context.Context, run *models.Run) error {
	return p.runRepo.Create(ctx, run)
}

// UpdateRun rewrites a run that is still RUNNING.
func (p *Persistence) UpdateRun(ctx context.Context, run *models.Run) error {
	return p.runRepo.Update(ctx, p.db, "UpdateRun", run)
}

// FinishRun stores the terminal run and the site bookkeeping in one transaction.
func (p *Persistence) FinishRun(ctx context.Context, run *models.Run, site *models.Site) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				p.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
			}
		}
	}()

	err = p.runRepo.Update(ctx, tx, "FinishRun", run)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE sites
		SET last_run_at = $2, last_run_status = $3, paused = paused OR $4, updated_at = NOW()
		WHERE id = $1
	`, site.ID, nullTime(site.LastRunAt), string(site.LastRunStatus), site.Paused)
	if err != nil {
		return persistence.NewSiteError("FinishRun", site.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSiteError("FinishRun", site.ID, err)
	}

	if affected == 0 {
		err = persistence.NewSiteError("FinishRun", site.ID, persistence.ErrSiteNotFound)

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RunByID returns a run by its ID.
func (p *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	return p.runRepo.GetByID(ctx, id)
}

// RunsBySite returns the newest runs of a site.
func (p *Persistence) RunsBySite(ctx context.Context, siteID string, limit int) ([]*models.Run, error) {
	if siteID == "" {
		return []*models.Run{}, nil
	}

	return p.runRepo.List(ctx, siteID, persistence.Limit(limit))
}

// RecentRuns returns the newest runs across all sites.
func (p *Persistence) RecentRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	return p.runRepo.List(ctx, "", persistence.Limit(limit))
}
