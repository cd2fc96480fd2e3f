package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidAuth     = errors.New("invalid auth")
	ErrInvalidFlow     = errors.New("invalid flow")
	ErrInvalidSite     = errors.New("invalid site")
)

const (
	ScheduleTypeDailyAfter = "dailyAfter"
	ScheduleTypeCron       = "cron"

	DefaultScheduleHour   = 8
	DefaultScheduleMinute = 5
	DefaultCronExpression = "0 8 * * *"

	// MaxRandomDelaySeconds is one day.
	MaxRandomDelaySeconds = 86400
)

// ScheduleSpec is either a jittered daily cadence or a cron expression.
type ScheduleSpec struct {
	Type               string `json:"type"`
	Hour               int    `json:"hour"`
	Minute             int    `json:"minute"`
	RandomDelaySeconds int    `json:"randomDelaySeconds"`
	Cron               string `json:"cron,omitempty"`
}

// DefaultSchedule is the cadence of a site created without one.
func DefaultSchedule() ScheduleSpec {
	return ScheduleSpec{
		Type:   ScheduleTypeDailyAfter,
		Hour:   DefaultScheduleHour,
		Minute: DefaultScheduleMinute,
	}
}

// UnmarshalJSON fills in hour, minute, type and cron defaults for absent fields.
func (s *ScheduleSpec) UnmarshalJSON(data []byte) error {
	var decoded struct {
		Type               string `json:"type"`
		Hour               *int   `json:"hour"`
		Minute             *int   `json:"minute"`
		RandomDelaySeconds int    `json:"randomDelaySeconds"`
		Cron               string `json:"cron"`
	}

	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*s = ScheduleSpec{
		Type:               decoded.Type,
		Hour:               DefaultScheduleHour,
		Minute:             DefaultScheduleMinute,
		RandomDelaySeconds: decoded.RandomDelaySeconds,
		Cron:               decoded.Cron,
	}

	if decoded.Hour != nil {
		s.Hour = *decoded.Hour
	}

	if decoded.Minute != nil {
		s.Minute = *decoded.Minute
	}

	if s.Type == "" {
		s.Type = ScheduleTypeDailyAfter
	}

	if s.Type == ScheduleTypeCron && s.Cron == "" {
		s.Cron = DefaultCronExpression
	}

	return nil
}

// CronExpression returns the configured expression or the default one.
func (s ScheduleSpec) CronExpression() string {
	if s.Cron == "" {
		return DefaultCronExpression
	}

	return s.Cron
}

// Validate checks ranges for dailyAfter and parses cron expressions.
func (s ScheduleSpec) Validate() error {
	switch s.Type {
	case ScheduleTypeDailyAfter, "":
		if s.Hour < 0 || s.Hour > 23 {
			return fmt.Errorf("%w: hour %d out of range", ErrInvalidSchedule, s.Hour)
		}

		if s.Minute < 0 || s.Minute > 59 {
			return fmt.Errorf("%w: minute %d out of range", ErrInvalidSchedule, s.Minute)
		}

		if s.RandomDelaySeconds < 0 {
			return fmt.Errorf("%w: randomDelaySeconds must not be negative", ErrInvalidSchedule)
		}

		if s.RandomDelaySeconds > MaxRandomDelaySeconds {
			return fmt.Errorf("%w: randomDelaySeconds must be at most %d", ErrInvalidSchedule, MaxRandomDelaySeconds)
		}
	case ScheduleTypeCron:
		if _, err := cron.ParseStandard(s.CronExpression()); err != nil {
			return fmt.Errorf("%w: cron expression %q: %w", ErrInvalidSchedule, s.CronExpression(), err)
		}
	default:
		return fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, s.Type)
	}

	return nil
}
