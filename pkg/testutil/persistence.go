package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPersistenceSuite exercises the behaviour every persistence backend must share.
// newPersistence must return an empty store.
func RunPersistenceSuite(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Helper()

	ctx := context.Background()

	t.Run("save and load site", func(t *testing.T) {
		p := newPersistence(t)

		site := CreateTestSite(WithAuth(models.AuthSpec{
			Type:        models.AuthTypeBearer,
			TokenSource: models.TokenSourceManual,
			Encrypted:   &models.EncryptedSecret{Ciphertext: "c", Nonce: "n"},
		}))
		require.NoError(t, p.SaveSite(ctx, site))

		loaded, err := p.SiteByID(ctx, site.ID)
		require.NoError(t, err)
		assert.Equal(t, site.ID, loaded.ID)
		assert.Equal(t, site.Name, loaded.Name)
		assert.Equal(t, site.Tags, loaded.Tags)
		assert.Equal(t, site.Flow, loaded.Flow)
		assert.Equal(t, site.Auth, loaded.Auth)
		assert.Equal(t, site.Schedule, loaded.Schedule)
		assert.True(t, site.CreatedAt.Equal(loaded.CreatedAt))
		assert.Nil(t, loaded.LastRunAt)
	})

	t.Run("missing site", func(t *testing.T) {
		p := newPersistence(t)

		_, err := p.SiteByID(ctx, "8a0c7d2e-0000-4000-8000-000000000000")
		assert.True(t, persistence.IsSiteNotFound(err))

		err = p.DeleteSite(ctx, "8a0c7d2e-0000-4000-8000-000000000000")
		assert.True(t, persistence.IsSiteNotFound(err))
	})

	t.Run("update overwrites", func(t *testing.T) {
		p := newPersistence(t)

		site := CreateTestSite()
		require.NoError(t, p.SaveSite(ctx, site))

		site.Name = "Renamed"
		site.Schedule = models.ScheduleSpec{Type: models.ScheduleTypeCron, Cron: "*/5 * * * *"}
		require.NoError(t, p.SaveSite(ctx, site))

		loaded, err := p.SiteByID(ctx, site.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", loaded.Name)
		assert.Equal(t, "*/5 * * * *", loaded.Schedule.Cron)

		sites, err := p.Sites(ctx)
		require.NoError(t, err)
		assert.Len(t, sites, 1)
	})

	t.Run("active sites", func(t *testing.T) {
		p := newPersistence(t)

		active := CreateTestSite()
		paused := CreateTestSite(WithPaused())
		disabled := CreateTestSite(WithDisabled())

		for _, site := range []*models.Site{active, paused, disabled} {
			require.NoError(t, p.SaveSite(ctx, site))
		}

		all, err := p.Sites(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		sites, err := p.ActiveSites(ctx)
		require.NoError(t, err)
		require.Len(t, sites, 1)
		assert.Equal(t, active.ID, sites[0].ID)
	})

	t.Run("run lifecycle", func(t *testing.T) {
		p := newPersistence(t)

		site := CreateTestSite()
		require.NoError(t, p.SaveSite(ctx, site))

		run := CreateTestRun(site.ID)
		require.NoError(t, p.CreateRun(ctx, run))

		loaded, err := p.RunByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusRunning, loaded.Status)
		assert.Nil(t, loaded.FinishedAt)

		// an edit made while the run was executing must survive FinishRun
		edited := *site
		edited.Name = "Edited During Run"
		require.NoError(t, p.SaveSite(ctx, &edited))

		finished := time.Now().UTC().Truncate(time.Millisecond)
		run.Status = models.RunStatusFailed
		run.FinishedAt = &finished
		run.Summary = "step checkin failed: authentication failed: HTTP 401"
		run.AuthFailed = true
		run.Steps = []models.StepResult{{
			Name:       "checkin",
			Status:     models.RunStatusFailed,
			StatusCode: 401,
			Error:      "authentication failed: HTTP 401",
			AuthFailed: true,
			StartedAt:  finished,
			FinishedAt: finished,
		}}

		site.LastRunAt = &finished
		site.LastRunStatus = models.RunStatusFailed
		site.Paused = true
		require.NoError(t, p.FinishRun(ctx, run, site))

		loaded, err = p.RunByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusFailed, loaded.Status)
		assert.True(t, loaded.AuthFailed)
		require.NotNil(t, loaded.FinishedAt)
		assert.True(t, finished.Equal(*loaded.FinishedAt))
		require.Len(t, loaded.Steps, 1)
		assert.Equal(t, 401, loaded.Steps[0].StatusCode)

		storedSite, err := p.SiteByID(ctx, site.ID)
		require.NoError(t, err)
		assert.Equal(t, "Edited During Run", storedSite.Name)
		assert.True(t, storedSite.Paused)
		assert.Equal(t, models.RunStatusFailed, storedSite.LastRunStatus)
		require.NotNil(t, storedSite.LastRunAt)
		assert.True(t, finished.Equal(*storedSite.LastRunAt))

		err = p.FinishRun(ctx, run, site)
		assert.True(t, persistence.IsRunFinished(err))

		err = p.UpdateRun(ctx, run)
		assert.True(t, persistence.IsRunFinished(err))
	})

	t.Run("finish run keeps a pause made during the run", func(t *testing.T) {
		p := newPersistence(t)

		site := CreateTestSite()
		require.NoError(t, p.SaveSite(ctx, site))

		run := CreateTestRun(site.ID)
		require.NoError(t, p.CreateRun(ctx, run))

		paused := *site
		paused.Paused = true
		require.NoError(t, p.SaveSite(ctx, &paused))

		finished := time.Now().UTC().Truncate(time.Millisecond)
		run.Status = models.RunStatusSuccess
		run.FinishedAt = &finished
		run.Summary = "all steps succeeded"

		snapshot := *site
		snapshot.LastRunAt = &finished
		snapshot.LastRunStatus = models.RunStatusSuccess
		require.NoError(t, p.FinishRun(ctx, run, &snapshot))

		stored, err := p.SiteByID(ctx, site.ID)
		require.NoError(t, err)
		assert.True(t, stored.Paused)
		assert.Equal(t, models.RunStatusSuccess, stored.LastRunStatus)

		active, err := p.ActiveSites(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("update running run", func(t *testing.T) {
		p := newPersistence(t)

		site := CreateTestSite()
		require.NoError(t, p.SaveSite(ctx, site))

		run := CreateTestRun(site.ID)
		require.NoError(t, p.CreateRun(ctx, run))

		run.Steps = append(run.Steps, models.StepResult{Name: "first", Status: models.RunStatusSuccess})
		require.NoError(t, p.UpdateRun(ctx, run))

		loaded, err := p.RunByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Len(t, loaded.Steps, 1)
	})

	t.Run("missing run", func(t *testing.T) {
		p := newPersistence(t)

		_, err := p.RunByID(ctx, "8a0c7d2e-0000-4000-8000-000000000001")
		assert.True(t, persistence.IsRunNotFound(err))
	})

	t.Run("runs ordering and limits", func(t *testing.T) {
		p := newPersistence(t)

		first := CreateTestSite()
		second := CreateTestSite()
		require.NoError(t, p.SaveSite(ctx, first))
		require.NoError(t, p.SaveSite(ctx, second))

		base := time.Now().Add(-time.Hour)

		var ids []string

		for i := range 3 {
			run := CreateTestRun(first.ID, WithStartedAt(base.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, p.CreateRun(ctx, run))
			ids = append(ids, run.ID)
		}

		other := CreateTestRun(second.ID, WithStartedAt(base.Add(10*time.Minute)))
		require.NoError(t, p.CreateRun(ctx, other))

		runs, err := p.RunsBySite(ctx, first.ID, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, ids[2], runs[0].ID)
		assert.Equal(t, ids[1], runs[1].ID)

		recent, err := p.RecentRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 4)
		assert.Equal(t, other.ID, recent[0].ID)

		empty, err := p.RunsBySite(ctx, "8a0c7d2e-0000-4000-8000-000000000002", 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("delete site removes its runs", func(t *testing.T) {
		p := newPersistence(t)

		site := CreateTestSite()
		require.NoError(t, p.SaveSite(ctx, site))

		run := CreateTestRun(site.ID)
		require.NoError(t, p.CreateRun(ctx, run))

		require.NoError(t, p.DeleteSite(ctx, site.ID))

		_, err := p.SiteByID(ctx, site.ID)
		assert.True(t, persistence.IsSiteNotFound(err))

		_, err = p.RunByID(ctx, run.ID)
		assert.True(t, persistence.IsRunNotFound(err))
	})

	t.Run("health check", func(t *testing.T) {
		p := newPersistence(t)

		assert.NoError(t, p.HealthCheck(ctx))
	})
}
