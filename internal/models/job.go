package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JobState represents the lifecycle state of a job
type JobState string

// JobState constants; transitions only move forward:
// pending -> running -> (stopping ->)? finished
const (
	JobStatePending  JobState = "pending"
	JobStateRunning  JobState = "running"
	JobStateStopping JobState = "stopping"
	JobStateFinished JobState = "finished"
)

// IsValidJobState checks if a given JobState is one of the valid constants
func IsValidJobState(state JobState) bool {
	switch state {
	case JobStatePending, JobStateRunning, JobStateStopping, JobStateFinished:
		return true
	default:
		return false
	}
}

// JobStatus represents the terminal outcome of a job
type JobStatus string

// JobStatus constants
const (
	JobStatusUnknown JobStatus = "unknown"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusError   JobStatus = "error"
	JobStatusExit    JobStatus = "exit"
)

// IsValidJobStatus checks if a given JobStatus is one of the valid constants
func IsValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusUnknown, JobStatusSuccess, JobStatusFailed, JobStatusError, JobStatusExit:
		return true
	default:
		return false
	}
}

// Job source constants for JobMeta.Source
const (
	JobSourceAPI       = "api"
	JobSourceScheduler = "scheduler"
)

// JobMeta is the structured meta column of a job row. Serialized as JSON;
// the store's uniqueness probe matches the flow_path inside this blob.
type JobMeta struct {
	FlowPath     string      `json:"flow_path"`
	Payload      interface{} `json:"payload,omitempty"`
	Timeout      int         `json:"timeout,omitempty"`
	Source       string      `json:"source,omitempty"`
	ScheduleID   string      `json:"schedule_id,omitempty"`
	Cron         string      `json:"cron,omitempty"`
	EverySeconds int         `json:"every_seconds,omitempty"`
}

// Value implements driver.Valuer for JSON column storage
func (m JobMeta) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job meta: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for JSON column storage
func (m *JobMeta) Scan(value interface{}) error {
	if value == nil {
		*m = JobMeta{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan job meta: %w", err)
	}
	return json.Unmarshal(data, m)
}

// JSONMap is an arbitrary JSON object column (the sanitized run blackboard)
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSON column storage
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job result: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for JSON column storage
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan job result: %w", err)
	}
	return json.Unmarshal(data, m)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", value)
	}
}

// Job is one persistent run record in the jobs table
type Job struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Meta      JobMeta   `json:"meta" gorm:"type:text"`
	Result    JSONMap   `json:"result,omitempty" gorm:"type:text"`
	Errors    string    `json:"errors,omitempty" gorm:"type:text"`
	State     JobState  `json:"state" gorm:"type:text;index"`
	Status    JobStatus `json:"status" gorm:"type:text;index"`
	StartTime float64   `json:"start_time" gorm:"index"`
	EndTime   *float64  `json:"end_time,omitempty"`
}

// TableName pins the gorm table name
func (Job) TableName() string {
	return "jobs"
}

// IsFinished returns true once the job reached its terminal state
func (j *Job) IsFinished() bool {
	return j.State == JobStateFinished
}
