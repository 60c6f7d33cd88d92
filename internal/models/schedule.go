package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ScheduleRequest is the payload for adding a flow to the scheduler.
// Exactly one of Cron / EverySeconds must be set.
type ScheduleRequest struct {
	Path           string `json:"path" yaml:"path" validate:"required"`
	Cron           string `json:"cron,omitempty" yaml:"cron,omitempty"`
	EverySeconds   int    `json:"every_seconds,omitempty" yaml:"every_seconds,omitempty" validate:"min=0"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"min=0"`
}

// Validate checks required fields and the cron/every_seconds exclusivity
func (r *ScheduleRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if r.Cron == "" && r.EverySeconds == 0 {
		return errors.New("schedule must have either 'cron' or 'every_seconds' defined")
	}
	if r.Cron != "" && r.EverySeconds != 0 {
		return errors.New("schedule must have only one of 'cron' or 'every_seconds'")
	}
	return nil
}

// ScheduleInfo is the API view of one registered schedule
type ScheduleInfo struct {
	ID             string `json:"id"`
	Path           string `json:"path"`
	Cron           string `json:"cron,omitempty"`
	EverySeconds   int    `json:"every_seconds,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	LastJobID      string `json:"last_job_id,omitempty"`
	Running        bool   `json:"running"`
}
