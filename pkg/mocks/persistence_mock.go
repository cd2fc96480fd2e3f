package mocks

import (
	"context"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Sites(ctx context.Context) ([]*models.Site, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Site), args.Error(1)
}

func (m *MockPersistence) ActiveSites(ctx context.Context) ([]*models.Site, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Site), args.Error(1)
}

func (m *MockPersistence) SiteByID(ctx context.Context, id string) (*models.Site, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Site), args.Error(1)
}

func (m *MockPersistence) SaveSite(ctx context.Context, site *models.Site) error {
	args := m.Called(ctx, site)

	return args.Error(0)
}

func (m *MockPersistence) DeleteSite(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockPersistence) CreateRun(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockPersistence) UpdateRun(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockPersistence) FinishRun(ctx context.Context, run *models.Run, site *models.Site) error {
	args := m.Called(ctx, run, site)

	return args.Error(0)
}

func (m *MockPersistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockPersistence) RunsBySite(ctx context.Context, siteID string, limit int) ([]*models.Run, error) {
	args := m.Called(ctx, siteID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Run), args.Error(1)
}

func (m *MockPersistence) RecentRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Run), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
