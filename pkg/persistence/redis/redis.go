// Package redis provides a Redis-backed execution log store. Each automation's
// records live in one hash keyed by record id.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "autoflow:logs:"

// LogStore implements persistence.ExecutionLogRepository on Redis.
type LogStore struct {
	client    redis.UniversalClient
	logger    *slog.Logger
	keyPrefix string
}

// NewLogStore parses a redis:// URL, connects and pings the server.
func NewLogStore(ctx context.Context, logger *slog.Logger, redisURL string) (*LogStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewLogStoreWithClient(client, logger), nil
}

// NewLogStoreWithClient wraps an existing client.
func NewLogStoreWithClient(client redis.UniversalClient, logger *slog.Logger) *LogStore {
	return &LogStore{
		client:    client,
		logger:    logger,
		keyPrefix: defaultKeyPrefix,
	}
}

func (s *LogStore) key(automationID string) string {
	return s.keyPrefix + automationID
}

func (s *LogStore) Save(ctx context.Context, execCtx *models.ExecutionContext) error {
	payload, err := json.Marshal(execCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal execution log: %w", err)
	}

	err = s.client.HSet(ctx, s.key(execCtx.AutomationID), execCtx.ID, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to save execution log: %w", err)
	}

	return nil
}

func (s *LogStore) FindByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionContext, error) {
	values, err := s.client.HGetAll(ctx, s.key(automationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution logs: %w", err)
	}

	logs := make([]*models.ExecutionContext, 0, len(values))

	for id, raw := range values {
		var execCtx models.ExecutionContext

		err := json.Unmarshal([]byte(raw), &execCtx)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable execution log", "automation_id", automationID, "id", id, "error", err)

			continue
		}

		logs = append(logs, &execCtx)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].StartTime.Equal(logs[j].StartTime) {
			return logs[i].ID < logs[j].ID
		}

		return logs[i].StartTime.Before(logs[j].StartTime)
	})

	return logs, nil
}

func (s *LogStore) DeleteByAutomation(ctx context.Context, automationID string) error {
	err := s.client.Del(ctx, s.key(automationID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete execution logs: %w", err)
	}

	return nil
}

// Clear removes every hash under the store's key prefix.
func (s *LogStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()

	for iter.Next(ctx) {
		err := s.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			return fmt.Errorf("failed to clear execution logs: %w", err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan execution logs: %w", err)
	}

	return nil
}

func (s *LogStore) HealthCheck(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (s *LogStore) Close(_ context.Context) error {
	err := s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
