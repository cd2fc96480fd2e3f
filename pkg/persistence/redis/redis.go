// Package redis stores sites and runs in Redis.
//
// Sites and runs are JSON strings. A set indexes the site IDs and sorted sets
// scored by start time index the runs globally and per site.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "checkinhub"

	// maxTxAttempts bounds optimistic transaction retries.
	maxTxAttempts = 5
)

// Persistence implements the persistence layer on top of Redis.
type Persistence struct {
	client redis.UniversalClient
	logger *slog.Logger
	keys   keys
}

// NewPersistence connects to the Redis instance described by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewPersistenceWithClient(client, logger), nil
}

// NewPersistenceWithClient wraps an existing client.
func NewPersistenceWithClient(client redis.UniversalClient, logger *slog.Logger) *Persistence {
	return &Persistence{
		client: client,
		logger: logger.With("module", "redis"),
		keys:   keys{prefix: defaultPrefix},
	}
}

// HealthCheck pings Redis.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close closes the client.
func (p *Persistence) Close(_ context.Context) error {
	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

type keys struct {
	prefix string
}

func (k keys) join(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}

func (k keys) site(id string) string     { return k.join("site", id) }
func (k keys) sites() string             { return k.join("sites") }
func (k keys) run(id string) string      { return k.join("run", id) }
func (k keys) runs() string              { return k.join("runs") }
func (k keys) siteRuns(id string) string { return k.join("site", id, "runs") }

func validID(id string) bool {
	return uuid.Validate(id) == nil
}

// getJSON loads key into target. The bool is false when the key does not exist.
func getJSON(ctx context.Context, cmd redis.Cmdable, key string, target any) (bool, error) {
	raw, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	return true, nil
}

// watch runs fn in an optimistic transaction, retrying when a watched key changes.
func (p *Persistence) watch(ctx context.Context, fn func(tx *redis.Tx) error, watched ...string) error {
	var err error

	for range maxTxAttempts {
		err = p.client.Watch(ctx, fn, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}

		p.logger.DebugContext(ctx, "Retrying redis transaction", "keys", watched)
	}

	return err
}
