package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/flowd/internal/flows"
	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/storage"
	"github.com/ternarybob/flowd/internal/transform"
)

// Runner executes flows asynchronously as tracked jobs. Concurrency is
// bounded by a shared weighted semaphore; a launched job waits in pending
// until a worker slot frees up.
type Runner struct {
	store          *storage.JobStore
	env            *flows.Env
	logger         arbor.ILogger
	workers        *semaphore.Weighted
	defaultTimeout int
}

func New(store *storage.JobStore, env *flows.Env, maxWorkers, defaultTimeoutSeconds int, logger arbor.ILogger) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Runner{
		store:          store,
		env:            env,
		logger:         logger,
		workers:        semaphore.NewWeighted(int64(maxWorkers)),
		defaultTimeout: defaultTimeoutSeconds,
	}
}

// LaunchAsync creates the job row and starts the run in the background. The
// store's create is the gate against concurrent runs of the same flow; its
// rejection propagates to the caller.
func (r *Runner) LaunchAsync(path string, payload interface{}, timeoutSeconds int, meta *models.JobMeta) (string, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = r.defaultTimeout
	}
	if meta == nil {
		meta = &models.JobMeta{
			FlowPath: path,
			Payload:  payload,
			Timeout:  timeoutSeconds,
			Source:   models.JobSourceAPI,
		}
	}

	jobID, err := r.store.Create(*meta)
	if err != nil {
		return "", err
	}

	go r.run(jobID, path, payload, timeoutSeconds)
	return jobID, nil
}

type runOutcome struct {
	data   flows.Blackboard
	status flows.Status
	err    error
}

func (r *Runner) run(jobID, path string, payload interface{}, timeoutSeconds int) {
	// The clock starts at launch, so time spent queued behind a full worker
	// pool counts against the job's timeout.
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)

	acquireCtx, cancelAcquire := context.WithDeadline(context.Background(), deadline)
	err := r.workers.Acquire(acquireCtx, 1)
	cancelAcquire()
	if err != nil {
		message := fmt.Sprintf("Flow %s timed out after %d seconds", path, timeoutSeconds)
		r.logger.Error().Str("job_id", jobID).Str("flow", path).Msg(message)
		r.finish(jobID, models.JobStatusFailed, nil, message)
		return
	}
	defer r.workers.Release(1)

	running := models.JobStateRunning
	status := models.JobStatusUnknown
	start := epochNow()
	if err := r.store.Update(jobID, storage.JobUpdate{State: &running, Status: &status, StartTime: &start}); err != nil {
		r.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to mark job running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		flow, err := flows.NewFlow(r.env, path, payload, 0, jobID)
		if err != nil {
			done <- runOutcome{err: err}
			return
		}
		data, result := flow.Process(ctx)
		done <- runOutcome{data: data, status: result}
	}()

	select {
	case outcome := <-done:
		r.finalize(jobID, path, outcome)
	case <-time.After(time.Until(deadline)):
		cancel()
		stopping := models.JobStateStopping
		if err := r.store.Update(jobID, storage.JobUpdate{State: &stopping}); err != nil {
			r.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to mark job stopping")
		}

		// The interpreter exits at the next step boundary; wait for it so
		// the worker slot is not reused while the flow still runs.
		outcome := <-done

		message := fmt.Sprintf("Flow %s timed out after %d seconds", path, timeoutSeconds)
		r.logger.Error().Str("job_id", jobID).Str("flow", path).Msg(message)
		r.finish(jobID, models.JobStatusFailed, sanitizeResult(outcome.data), message)
	}
}

func (r *Runner) finalize(jobID, path string, outcome runOutcome) {
	if outcome.err != nil {
		r.logger.Error().Str("job_id", jobID).Str("flow", path).Err(outcome.err).Msg("Flow failed to start")
		r.finish(jobID, models.JobStatusFailed, nil, outcome.err.Error())
		return
	}

	result := sanitizeResult(outcome.data)
	switch outcome.status.Type {
	case flows.StatusExit:
		r.finish(jobID, models.JobStatusExit, result, outcome.status.Message)
	case flows.StatusFailed:
		r.finish(jobID, models.JobStatusFailed, result, outcome.status.Message)
	case flows.StatusSuccess:
		r.finish(jobID, models.JobStatusSuccess, result, "")
	default:
		message := fmt.Sprintf("Unknown status type: %s", outcome.status.Type)
		r.logger.Error().Str("job_id", jobID).Msg(message)
		r.finish(jobID, models.JobStatusError, nil, message)
	}
}

func (r *Runner) finish(jobID string, status models.JobStatus, result models.JSONMap, errText string) {
	finished := models.JobStateFinished
	end := epochNow()
	update := storage.JobUpdate{
		State:   &finished,
		Status:  &status,
		Result:  result,
		EndTime: &end,
	}
	if errText != "" {
		update.Errors = &errText
	}
	if err := r.store.Update(jobID, update); err != nil {
		r.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to finalize job")
	}
}

// sanitizeResult converts a run's blackboard into plain JSON types so the
// store can persist it whatever the steps put on it.
func sanitizeResult(data flows.Blackboard) models.JSONMap {
	if data == nil {
		return nil
	}
	safe, ok := transform.JSONSafe(map[string]interface{}(data)).(map[string]interface{})
	if !ok {
		return nil
	}
	return models.JSONMap(safe)
}

func epochNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
