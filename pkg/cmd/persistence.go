package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/memory"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
	"github.com/dukex/autoflow/pkg/persistence/redis"
)

var supportedLogStoreProviders = []string{"memory", "postgres", "postgresql", "redis", "rediss"}

// NewLogStore selects the execution log store from the URL scheme.
func NewLogStore(ctx context.Context, logger *slog.Logger, logStoreURL string) (persistence.ExecutionLogRepository, error) {
	provider, err := parseLogStoreProvider(logStoreURL)
	if err != nil {
		return nil, err
	}

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewLogStore(ctx, logger, logStoreURL)
	case "redis", "rediss":
		return redis.NewLogStore(ctx, logger, logStoreURL)
	default:
		return memory.NewLogStore(), nil
	}
}

func parseLogStoreProvider(logStoreURL string) (string, error) {
	if logStoreURL == "" {
		return "memory", nil
	}

	provider, _, found := strings.Cut(logStoreURL, "://")
	if !found {
		return "", fmt.Errorf("log store url %q has no scheme", logStoreURL)
	}

	for _, supported := range supportedLogStoreProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("unsupported log store provider: %s", provider)
}
