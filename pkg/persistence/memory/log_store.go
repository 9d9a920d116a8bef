package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
)

// LogStore keeps execution records in memory, grouped by automation.
type LogStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*models.ExecutionContext
}

func NewLogStore() *LogStore {
	return &LogStore{records: make(map[string]map[string]*models.ExecutionContext)}
}

func (s *LogStore) Save(_ context.Context, execCtx *models.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[execCtx.AutomationID]
	if !ok {
		byID = make(map[string]*models.ExecutionContext)
		s.records[execCtx.AutomationID] = byID
	}

	record := *execCtx
	byID[execCtx.ID] = &record

	return nil
}

func (s *LogStore) FindByAutomation(_ context.Context, automationID string) ([]*models.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.records[automationID]
	logs := make([]*models.ExecutionContext, 0, len(byID))

	for _, record := range byID {
		copied := *record
		logs = append(logs, &copied)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].StartTime.Equal(logs[j].StartTime) {
			return logs[i].ID < logs[j].ID
		}

		return logs[i].StartTime.Before(logs[j].StartTime)
	})

	return logs, nil
}

func (s *LogStore) DeleteByAutomation(_ context.Context, automationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, automationID)

	return nil
}

func (s *LogStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]map[string]*models.ExecutionContext)

	return nil
}

func (s *LogStore) HealthCheck(_ context.Context) error {
	return nil
}

func (s *LogStore) Close(_ context.Context) error {
	return nil
}
