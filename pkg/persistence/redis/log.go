package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

// LogRepository keeps the journal ring in a Redis list, newest first, capped
// with LTRIM after every push. Concurrent appenders may push slightly out of
// sequence order, so reads sort by sequence.
type LogRepository struct {
	client   redis.UniversalClient
	keys     keyspace
	capacity int
}

func (lr *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	sequence, err := lr.client.Incr(ctx, lr.keys.journalSequence()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate journal sequence: %w", err)
	}

	stored := *entry
	stored.Sequence = sequence

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	_, err = lr.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, lr.keys.journal(), data)
		pipe.LTrim(ctx, lr.keys.journal(), 0, int64(lr.capacity-1))

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	entry.Sequence = sequence

	return nil
}

func (lr *LogRepository) Query(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, error) {
	raw, err := lr.client.LRange(ctx, lr.keys.journal(), 0, int64(lr.capacity-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	all := make([]*models.LogEntry, 0, len(raw))

	for _, item := range raw {
		var entry models.LogEntry

		err := json.Unmarshal([]byte(item), &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}

		all = append(all, &entry)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Sequence > all[j].Sequence
	})

	limit := persistence.EffectiveLimit(filter.Limit, lr.capacity)
	entries := make([]*models.LogEntry, 0, min(limit, len(all)))

	for _, entry := range all {
		if !filter.Matches(entry) {
			continue
		}

		entries = append(entries, entry)

		if len(entries) == limit {
			break
		}
	}

	return entries, nil
}
