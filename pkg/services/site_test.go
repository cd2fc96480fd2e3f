package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/dukex/checkinhub/pkg/mocks"
	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/dukex/checkinhub/pkg/persistence/file"
	"github.com/dukex/checkinhub/pkg/testutil"
	"github.com/dukex/checkinhub/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	jobs map[string]time.Time
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]time.Time{}}
}

func (f *fakeScheduler) ScheduleSite(site *models.Site) error {
	delete(f.jobs, site.ID)

	if site.Schedulable() {
		f.jobs[site.ID] = time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	}

	return nil
}

func (f *fakeScheduler) UnscheduleSite(siteID string) {
	delete(f.jobs, siteID)
}

func (f *fakeScheduler) NextRun(siteID string) *time.Time {
	next, ok := f.jobs[siteID]
	if !ok {
		return nil
	}

	return &next
}

func newTestService(t *testing.T) (*Site, *file.Persistence, *fakeScheduler, *vault.Vault) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	scheduler := newFakeScheduler()
	v := vault.New("test-passphrase")

	return NewSite(store, scheduler, v, slog.New(slog.NewTextHandler(io.Discard, nil))), store, scheduler, v
}

const validFlow = `[{"name":"checkin","method":"POST","url":"https://example.com/checkin","expect":{"path":"code","equals":0}}]`

func TestSite_Create(t *testing.T) {
	service, store, scheduler, v := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateSiteRequest{
		Name: " Example ",
		Auth: &models.AuthSpec{Type: models.AuthTypeBearer, Token: "secret-token"},
		Flow: json.RawMessage(validFlow),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Example", created.Name)
	assert.True(t, created.Enabled)
	assert.Equal(t, models.DefaultSchedule(), created.Schedule)
	assert.Equal(t, []string{}, created.Tags)
	require.Len(t, created.Flow, 1)
	assert.Equal(t, "checkin", created.Flow[0].Name)

	assert.Empty(t, created.Auth.Token)
	assert.Equal(t, models.TokenSourceManual, created.Auth.TokenSource)
	require.NotNil(t, created.Auth.Encrypted)

	token, err := v.Decrypt(created.Auth.Encrypted.Ciphertext, created.Auth.Encrypted.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)

	assert.Contains(t, scheduler.jobs, created.ID)
	assert.NotNil(t, created.NextRunAt)

	stored, err := store.SiteByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Auth.Token)
}

func TestSite_CreateValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateSiteRequest
	}{
		{"blank name", CreateSiteRequest{Name: "  "}},
		{"flow not an array", CreateSiteRequest{Name: "x", Flow: json.RawMessage(`{"name":"a"}`)}},
		{"step without url", CreateSiteRequest{Name: "x", Flow: json.RawMessage(`[{"name":"a","method":"GET"}]`)}},
		{"malformed flow", CreateSiteRequest{Name: "x", Flow: json.RawMessage(`[{`)}},
		{"bad hour", CreateSiteRequest{Name: "x", Schedule: &models.ScheduleSpec{Type: models.ScheduleTypeDailyAfter, Hour: 25}}},
		{"jitter over a day", CreateSiteRequest{Name: "x", Schedule: &models.ScheduleSpec{Type: models.ScheduleTypeDailyAfter, Hour: 8, RandomDelaySeconds: math.MaxInt}}},
		{"bad cron", CreateSiteRequest{Name: "x", Schedule: &models.ScheduleSpec{Type: models.ScheduleTypeCron, Cron: "nope"}}},
		{"env without key", CreateSiteRequest{Name: "x", Auth: &models.AuthSpec{Type: models.AuthTypeBearer, TokenSource: models.TokenSourceEnv}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store, scheduler, _ := newTestService(t)

			_, err := service.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)

			sites, err := store.Sites(context.Background())
			require.NoError(t, err)
			assert.Empty(t, sites)
			assert.Empty(t, scheduler.jobs)
		})
	}
}

func TestSite_CreateDisabledIsNotScheduled(t *testing.T) {
	service, _, scheduler, _ := newTestService(t)
	disabled := false

	created, err := service.Create(context.Background(), CreateSiteRequest{Name: "x", Enabled: &disabled})
	require.NoError(t, err)

	assert.NotContains(t, scheduler.jobs, created.ID)
	assert.Nil(t, created.NextRunAt)
}

func TestSite_Update(t *testing.T) {
	service, _, scheduler, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateSiteRequest{
		Name: "Example",
		Auth: &models.AuthSpec{Type: models.AuthTypeBearer, Token: "secret-token"},
	})
	require.NoError(t, err)

	encrypted := created.Auth.Encrypted

	name := "Renamed"
	updated, err := service.Update(ctx, created.ID, UpdateSiteRequest{
		Name: &name,
		Auth: &models.AuthSpec{Type: models.AuthTypeBearer, TokenSource: models.TokenSourceManual},
		Flow: json.RawMessage(validFlow),
	})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, encrypted, updated.Auth.Encrypted, "ciphertext kept when no new token is sent")
	assert.Len(t, updated.Flow, 1)
	assert.Contains(t, scheduler.jobs, created.ID)

	paused := true
	updated, err = service.Update(ctx, created.ID, UpdateSiteRequest{Paused: &paused})
	require.NoError(t, err)

	assert.True(t, updated.Paused)
	assert.NotContains(t, scheduler.jobs, created.ID)
	assert.Equal(t, "Renamed", updated.Name)
}

func TestSite_UpdateInvalidKeepsStoredSite(t *testing.T) {
	service, store, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateSiteRequest{Name: "Example"})
	require.NoError(t, err)

	_, err = service.Update(ctx, created.ID, UpdateSiteRequest{
		Schedule: &models.ScheduleSpec{Type: "weekly"},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	stored, err := store.SiteByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleTypeDailyAfter, stored.Schedule.Type)
}

func TestSite_NotFound(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()
	id := "8a0c7d2e-0000-4000-8000-000000000000"

	_, err := service.FetchByID(ctx, id)
	assert.True(t, persistence.IsSiteNotFound(err))

	_, err = service.Update(ctx, id, UpdateSiteRequest{})
	assert.True(t, persistence.IsSiteNotFound(err))

	assert.True(t, persistence.IsSiteNotFound(service.Delete(ctx, id)))

	_, err = service.Pause(ctx, id)
	assert.True(t, persistence.IsSiteNotFound(err))

	_, err = service.Runs(ctx, id, 10)
	assert.True(t, persistence.IsSiteNotFound(err))
}

func TestSite_PauseResume(t *testing.T) {
	service, store, scheduler, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateSiteRequest{Name: "Example"})
	require.NoError(t, err)

	paused, err := service.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, paused.Paused)
	assert.NotContains(t, scheduler.jobs, created.ID)

	resumed, err := service.Resume(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	assert.Contains(t, scheduler.jobs, created.ID)

	stored, err := store.SiteByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Paused)
}

func TestSite_Delete(t *testing.T) {
	service, store, scheduler, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, CreateSiteRequest{Name: "Example"})
	require.NoError(t, err)

	run := testutil.CreateTestRun(created.ID)
	require.NoError(t, store.CreateRun(ctx, run))

	require.NoError(t, service.Delete(ctx, created.ID))

	assert.NotContains(t, scheduler.jobs, created.ID)

	_, err = store.RunByID(ctx, run.ID)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestSite_ListFillsNextRun(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateSiteRequest{Name: "Example"})
	require.NoError(t, err)

	sites, err := service.List(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.NotNil(t, sites[0].NextRunAt)
}

func TestSite_HealthCheck(t *testing.T) {
	service, _, _, _ := newTestService(t)

	message, ok := service.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}

func TestSite_CreateSaveFailure(t *testing.T) {
	store := &mocks.MockPersistence{}
	store.On("SaveSite", mock.Anything, mock.AnythingOfType("*models.Site")).Return(errors.New("disk full"))

	scheduler := newFakeScheduler()
	service := NewSite(store, scheduler, vault.New("k"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := service.Create(context.Background(), CreateSiteRequest{Name: "Example"})
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, scheduler.jobs)
	store.AssertExpectations(t)
}

func TestSite_HealthCheckUnhealthy(t *testing.T) {
	store := &mocks.MockPersistence{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	service := NewSite(store, newFakeScheduler(), vault.New("k"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	message, ok := service.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "Persistence layer is unhealthy: connection refused", message)
}
