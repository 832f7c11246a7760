package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Schedule starts a run of Kind each time CronExpression fires.
// CronExpression uses the standard 5-field format (minute hour day month weekday)
// or a descriptor such as @daily or @every 1h.
type Schedule struct {
	Name           string         `json:"name"            yaml:"name"            validate:"required"`
	CronExpression string         `json:"cron_expression" yaml:"cron"            validate:"required"`
	Kind           string         `json:"kind"            yaml:"kind"`
	Seed           map[string]any `json:"seed,omitempty"  yaml:"seed"`
	Active         bool           `json:"active"          yaml:"active"`
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate performs validation on the schedule fields.
func (s *Schedule) Validate() error {
	if s.Name == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	_, err := scheduleParser.Parse(s.CronExpression)

	return err
}

// NextAfter returns the first activation strictly after reference.
func (s *Schedule) NextAfter(reference time.Time) (time.Time, error) {
	parsed, err := scheduleParser.Parse(s.CronExpression)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.Next(reference), nil
}

// Parse returns the compiled cron schedule.
func (s *Schedule) Parse() (cron.Schedule, error) {
	return scheduleParser.Parse(s.CronExpression)
}
