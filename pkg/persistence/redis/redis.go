// Package redis provides Redis persistence for runs, approvals and the journal.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/contentflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "contentflow"

// Persistence implements the persistence layer on top of a Redis server.
type Persistence struct {
	client       redis.UniversalClient
	logger       *slog.Logger
	runRepo      *RunRepository
	approvalRepo *ApprovalRepository
	logRepo      *LogRepository
}

// NewPersistence connects to the server described by redisURL
// (redis://[user:pass@]host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string, logCapacity int) (*Persistence, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return NewPersistenceWithClient(ctx, logger, redis.NewClient(options), defaultPrefix, logCapacity)
}

// NewPersistenceWithClient builds the persistence layer on an existing client.
// Every key is namespaced under prefix.
func NewPersistenceWithClient(
	ctx context.Context,
	logger *slog.Logger,
	client redis.UniversalClient,
	prefix string,
	logCapacity int,
) (*Persistence, error) {
	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	if logCapacity <= 0 {
		logCapacity = persistence.DefaultLogCapacity
	}

	keys := keyspace(prefix)

	return &Persistence{
		client:       client,
		logger:       logger,
		runRepo:      &RunRepository{client: client, logger: logger, keys: keys},
		approvalRepo: &ApprovalRepository{client: client, logger: logger, keys: keys},
		logRepo:      &LogRepository{client: client, keys: keys, capacity: logCapacity},
	}, nil
}

// Client exposes the underlying client.
func (p *Persistence) Client() redis.UniversalClient {
	return p.client
}

// Close closes the client connection.
func (p *Persistence) Close(_ context.Context) error {
	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return p.approvalRepo
}

func (p *Persistence) LogRepository() persistence.LogRepository {
	return p.logRepo
}

type keyspace string

func (k keyspace) run(id string) string          { return string(k) + ":run:" + id }
func (k keyspace) runIndex() string              { return string(k) + ":runs" }
func (k keyspace) approval(id string) string     { return string(k) + ":approval:" + id }
func (k keyspace) approvalIndex() string         { return string(k) + ":approvals" }
func (k keyspace) approvalRef(ref string) string { return string(k) + ":approval-ref:" + ref }
func (k keyspace) runApprovals(runID string) string {
	return string(k) + ":run:" + runID + ":approvals"
}
func (k keyspace) journal() string         { return string(k) + ":journal" }
func (k keyspace) journalSequence() string { return string(k) + ":journal:seq" }

// watchUpdate runs a WATCH/MULTI/EXEC cycle on key, retrying when another
// client modified the key in between.
func watchUpdate(ctx context.Context, client redis.UniversalClient, key string, txf func(tx *redis.Tx) error) error {
	for range persistence.MaxUpdateAttempts {
		err := client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return persistence.ErrVersionConflict
}

func loadJSON(ctx context.Context, getter redis.Cmdable, key string, value any) error {
	data, err := getter.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	return nil
}
