// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/dukex/checkinhub/pkg/persistence/file"
	"github.com/dukex/checkinhub/pkg/persistence/postgresql"
	"github.com/dukex/checkinhub/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "redis", "rediss"}

// NewPersistence opens the store named by the scheme of databaseURL.
// A URL without a known scheme is treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgresql persistence: %w", err)
		}

		return store, nil
	case "redis", "rediss":
		store, err := redis.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis persistence: %w", err)
		}

		return store, nil
	default:
		store := file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))

		err := store.HealthCheck(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open file persistence: %w", err)
		}

		return store, nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
