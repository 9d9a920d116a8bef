package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule is returned when a cron trigger config fails validation.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// CronConfig is the configuration of a CRON trigger tool.
// Schedule uses the standard 5-field format (minute hour day month weekday).
type CronConfig struct {
	Schedule string         `json:"schedule" validate:"required"`
	Enabled  bool           `json:"enabled"`
	Inputs   map[string]any `json:"inputs,omitempty"`
}

// ParseCronExpression parses a 5-field cron expression.
func ParseCronExpression(expression string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return schedule, nil
}

// CronConfigFromMap decodes a node or tool config into a CronConfig.
func CronConfigFromMap(config map[string]any) (*CronConfig, error) {
	c := &CronConfig{}

	if err := DecodeConfig(config, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return c, c.Validate()
}

// Validate checks the cron expression.
func (c *CronConfig) Validate() error {
	if c.Schedule == "" {
		return ErrInvalidSchedule
	}

	_, err := ParseCronExpression(c.Schedule)

	return err
}

// NextRun returns the next activation after reference.
func (c *CronConfig) NextRun(reference time.Time) (time.Time, error) {
	schedule, err := ParseCronExpression(c.Schedule)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(reference), nil
}

// ManualConfig is the configuration of a MANUAL trigger tool.
type ManualConfig struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}
