package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ternarybob/flowd/internal/models"
)

// Store-level sentinel errors
var (
	ErrFlowAlreadyRunning = errors.New("flow already running")
	ErrJobNotFound        = errors.New("job not found")
)

// DefaultListLimit bounds unpaged job listings
const DefaultListLimit = 50

// JobStore persists job rows in a single-file SQLite database. All methods
// are safe for concurrent use; the database serializes writes.
type JobStore struct {
	db     *gorm.DB
	logger arbor.ILogger
}

// NewJobStore opens (creating if needed) the database at path and migrates
// the jobs table.
func NewJobStore(path string, logger arbor.ILogger) (*JobStore, error) {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs database: %w", err)
	}
	if err := db.AutoMigrate(&models.Job{}); err != nil {
		return nil, fmt.Errorf("failed to migrate jobs table: %w", err)
	}

	return &JobStore{db: db, logger: logger}, nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Create inserts a pending job row. It is the canonical gate for the
// one-run-per-flow rule: a non-finished row with the same meta.flow_path
// blocks the insert.
func (s *JobStore) Create(meta models.JobMeta) (string, error) {
	if meta.FlowPath != "" {
		probe := `%"flow_path":"` + meta.FlowPath + `"%`
		var count int64
		err := s.db.Model(&models.Job{}).
			Where("state <> ? AND meta LIKE ?", models.JobStateFinished, probe).
			Count(&count).Error
		if err != nil {
			return "", fmt.Errorf("failed to check running jobs: %w", err)
		}
		if count > 0 {
			return "", fmt.Errorf("%w: a job for flow %s is already running", ErrFlowAlreadyRunning, meta.FlowPath)
		}
	}

	job := models.Job{
		ID:        uuid.NewString(),
		Meta:      meta,
		State:     models.JobStatePending,
		Status:    models.JobStatusUnknown,
		StartTime: now(),
	}
	if err := s.db.Create(&job).Error; err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("flow", meta.FlowPath).Msg("Job created")
	return job.ID, nil
}

// JobUpdate is a partial update of a job row; nil fields are left alone
type JobUpdate struct {
	State     *models.JobState
	Status    *models.JobStatus
	Result    models.JSONMap
	Errors    *string
	StartTime *float64
	EndTime   *float64
}

// Update applies a partial update to a job row
func (s *JobStore) Update(id string, update JobUpdate) error {
	fields := map[string]interface{}{}
	if update.State != nil {
		fields["state"] = *update.State
	}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	if update.Result != nil {
		fields["result"] = update.Result
	}
	if update.Errors != nil {
		fields["errors"] = *update.Errors
	}
	if update.StartTime != nil {
		fields["start_time"] = *update.StartTime
	}
	if update.EndTime != nil {
		fields["end_time"] = *update.EndTime
	}
	if len(fields) == 0 {
		return nil
	}

	result := s.db.Model(&models.Job{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Get fetches one job by id
func (s *JobStore) Get(id string) (*models.Job, error) {
	var job models.Job
	err := s.db.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// ListFilter narrows a job listing. Time bounds are epoch seconds.
type ListFilter struct {
	Limit         int
	Offset        int
	State         models.JobState
	Status        models.JobStatus
	StartTimeFrom *float64
	StartTimeTo   *float64
	EndTimeFrom   *float64
	EndTimeTo     *float64
}

// List returns jobs newest-first
func (s *JobStore) List(filter ListFilter) ([]models.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := s.db.Model(&models.Job{})
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.StartTimeFrom != nil {
		query = query.Where("start_time >= ?", *filter.StartTimeFrom)
	}
	if filter.StartTimeTo != nil {
		query = query.Where("start_time <= ?", *filter.StartTimeTo)
	}
	if filter.EndTimeFrom != nil {
		query = query.Where("end_time >= ?", *filter.EndTimeFrom)
	}
	if filter.EndTimeTo != nil {
		query = query.Where("end_time <= ?", *filter.EndTimeTo)
	}

	var jobs []models.Job
	err := query.Order("start_time DESC").Offset(filter.Offset).Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes one job row, returning how many rows went away
func (s *JobStore) Delete(id string) (int64, error) {
	result := s.db.Delete(&models.Job{}, "id = ?", id)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete job %s: %w", id, result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteFiltered bulk-deletes jobs. The age filter only ever matches rows
// with a set end_time, so in-flight jobs survive cleanup.
func (s *JobStore) DeleteFiltered(olderThanDays *int, status models.JobStatus, state models.JobState) (int64, error) {
	query := s.db.Model(&models.Job{})
	filtered := false
	if olderThanDays != nil {
		cutoff := now() - float64(*olderThanDays)*86400
		query = query.Where("end_time IS NOT NULL AND end_time < ?", cutoff)
		filtered = true
	}
	if status != "" {
		query = query.Where("status = ?", status)
		filtered = true
	}
	if state != "" {
		query = query.Where("state = ?", state)
		filtered = true
	}
	if !filtered {
		// No filters means purge everything; gorm refuses an unguarded
		// global delete without this.
		query = query.Session(&gorm.Session{AllowGlobalUpdate: true})
	}

	result := query.Delete(&models.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// AbandonRunning finalizes every non-finished job after a restart. Safe to
// call repeatedly; a second pass finds nothing to do.
func (s *JobStore) AbandonRunning() (int64, error) {
	s.logger.Info().Msg("Abandoning all running jobs due to service restart")

	result := s.db.Model(&models.Job{}).
		Where("state <> ?", models.JobStateFinished).
		Updates(map[string]interface{}{
			"state":    models.JobStateFinished,
			"status":   models.JobStatusUnknown,
			"errors":   gorm.Expr("COALESCE(errors, '') || ?", "\nAbandoned due to service restart."),
			"end_time": now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to abandon running jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close releases the underlying database handle
func (s *JobStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	return sqlDB.Close()
}
