package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// TriggerFunc starts a run of automationID from the given trigger node.
type TriggerFunc func(ctx context.Context, automationID, triggerNodeID string, input map[string]any) error

// CronResolver returns the effective cron config of a trigger node, or false
// when the node is not a cron trigger.
type CronResolver func(ctx context.Context, node *models.Node) (*models.CronConfig, bool)

// ScheduledTrigger describes one registered cron entry.
type ScheduledTrigger struct {
	AutomationID string    `json:"automationId"`
	NodeID       string    `json:"nodeId"`
	Schedule     string    `json:"schedule"`
	NextRun      time.Time `json:"nextRun"`
}

type scheduleKey struct {
	automationID string
	nodeID       string
}

type scheduleEntry struct {
	id       cron.EntryID
	schedule string
}

// Scheduler fires cron trigger nodes. Each enabled trigger owns one cron entry.
type Scheduler struct {
	cron   *cron.Cron
	fire   TriggerFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[scheduleKey]scheduleEntry
}

func NewScheduler(fire TriggerFunc, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:    cron.New(),
		fire:    fire,
		logger:  logger.With("module", "cron_scheduler"),
		ctx:     ctx,
		cancel:  cancel,
		entries: map[scheduleKey]scheduleEntry{},
	}
}

// Register schedules (or reschedules) a trigger node. Disabled configs remove
// any existing entry.
func (s *Scheduler) Register(automationID, nodeID string, config models.CronConfig) error {
	key := scheduleKey{automationID: automationID, nodeID: nodeID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		s.cron.Remove(existing.id)
		delete(s.entries, key)
	}

	if !config.Enabled {
		return nil
	}

	schedule, err := models.ParseCronExpression(config.Schedule)
	if err != nil {
		return fmt.Errorf("failed to schedule trigger %s: %w", nodeID, err)
	}

	inputs := config.Inputs
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(automationID, nodeID, inputs)
	}))

	s.entries[key] = scheduleEntry{id: id, schedule: config.Schedule}
	s.logger.Info("Cron trigger registered",
		"automation_id", automationID,
		"node_id", nodeID,
		"schedule", config.Schedule)

	return nil
}

func (s *Scheduler) run(automationID, nodeID string, inputs map[string]any) {
	logger := s.logger.With("automation_id", automationID, "node_id", nodeID)
	logger.Info("Cron trigger fired")

	input := make(map[string]any, len(inputs))
	for k, v := range inputs {
		input[k] = v
	}

	if err := s.fire(s.ctx, automationID, nodeID, input); err != nil {
		logger.Warn("Cron trigger could not start execution", "error", err)
	}
}

// Unregister removes every entry of an automation.
func (s *Scheduler) Unregister(automationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if key.automationID == automationID {
			s.cron.Remove(entry.id)
			delete(s.entries, key)
		}
	}
}

// SyncAutomation replaces the entries of an automation with its current cron triggers.
func (s *Scheduler) SyncAutomation(ctx context.Context, automation *models.Automation, resolve CronResolver) error {
	s.Unregister(automation.ID)

	for _, node := range automation.TriggerNodes() {
		config, ok := resolve(ctx, node)
		if !ok {
			continue
		}

		if err := s.Register(automation.ID, node.ID, *config); err != nil {
			return err
		}
	}

	return nil
}

// Entries lists registered triggers ordered by automation and node id.
func (s *Scheduler) Entries() []ScheduledTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledTrigger, 0, len(s.entries))
	for key, entry := range s.entries {
		out = append(out, ScheduledTrigger{
			AutomationID: key.automationID,
			NodeID:       key.nodeID,
			Schedule:     entry.schedule,
			NextRun:      s.cron.Entry(entry.id).Next,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AutomationID != out[j].AutomationID {
			return out[i].AutomationID < out[j].AutomationID
		}

		return out[i].NodeID < out[j].NodeID
	})

	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}

	s.logger.Info("Cron scheduler stopped")
}
