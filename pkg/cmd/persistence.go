// Package cmd holds the factories shared by the contentflow binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/dukex/contentflow/pkg/persistence/postgresql"
	"github.com/dukex/contentflow/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "redis", "rediss"}

// NewPersistence opens the store addressed by databaseURL. A URL without a
// scheme is a directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, logCapacity int) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	var store persistence.Persistence

	switch provider {
	case "postgres", "postgresql":
		store, err = postgresql.NewPersistence(ctx, logger, databaseURL, logCapacity)
	case "redis", "rediss":
		store, err = redis.NewPersistence(ctx, logger, databaseURL, logCapacity)
	default:
		store, err = file.NewPersistence(databaseURL, logCapacity)
	}

	if err != nil {
		return nil, err
	}

	return store, nil
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", nil
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("unsupported persistence provider %q (supported: %s)",
		provider, strings.Join(supportedPersistenceProviders, ", "))
}
