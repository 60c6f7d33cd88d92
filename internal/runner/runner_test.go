package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowd/internal/flows"
	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/storage"
)

func newTestRunner(t *testing.T) (*Runner, *storage.JobStore, *flows.Env) {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"flows", "templates", "data"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
	}

	env := &flows.Env{
		FlowsPath:     filepath.Join(root, "flows"),
		TemplatesPath: filepath.Join(root, "templates"),
		DataPath:      filepath.Join(root, "data"),
		Logger:        arbor.NewLogger(),
	}
	store, err := storage.NewJobStore(filepath.Join(root, "jobs.sqlite"), nil)
	require.NoError(t, err)

	return New(store, env, 4, 600, nil), store, env
}

func writeFlow(t *testing.T, env *flows.Env, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(env.FlowsPath, name), []byte(content), 0644))
}

func waitFinished(t *testing.T, store *storage.JobStore, jobID string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = store.Get(jobID)
		return err == nil && job.IsFinished()
	}, 10*time.Second, 20*time.Millisecond)
	return job
}

func TestRunnerSuccessfulRun(t *testing.T) {
	runner, store, env := newTestRunner(t)
	writeFlow(t, env, "ok.yml", `
name: ok
steps:
  - name: A
    type: set_fact
    value:
      x: 1
`)

	jobID, err := runner.LaunchAsync("ok.yml", map[string]interface{}{"in": true}, 30, nil)
	require.NoError(t, err)

	job := waitFinished(t, store, jobID)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Empty(t, job.Errors)
	require.NotNil(t, job.EndTime)

	// The sanitized blackboard is stored as the result
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, job.Result["A"])
	assert.Equal(t, jobID, job.Result[flows.KeyJobID])
}

func TestRunnerFailedRun(t *testing.T) {
	runner, store, env := newTestRunner(t)
	writeFlow(t, env, "bad.yml", `
name: bad
steps:
  - name: A
    type: file
    file:
      path: missing.yml
`)

	jobID, err := runner.LaunchAsync("bad.yml", nil, 30, nil)
	require.NoError(t, err)

	job := waitFinished(t, store, jobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Errors)
	assert.NotEmpty(t, job.Result[flows.KeyErrors])
}

func TestRunnerExitRun(t *testing.T) {
	runner, store, env := newTestRunner(t)
	writeFlow(t, env, "bye.yml", `
name: bye
steps:
  - name: A
    type: exit
    exit:
      message: done
`)

	jobID, err := runner.LaunchAsync("bye.yml", nil, 30, nil)
	require.NoError(t, err)

	job := waitFinished(t, store, jobID)
	assert.Equal(t, models.JobStatusExit, job.Status)
	assert.Contains(t, job.Errors, "done")
}

func TestRunnerMissingFlowFails(t *testing.T) {
	runner, store, _ := newTestRunner(t)

	jobID, err := runner.LaunchAsync("ghost.yml", nil, 30, nil)
	require.NoError(t, err)

	job := waitFinished(t, store, jobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Errors, "ghost.yml")
}

func TestRunnerTimeout(t *testing.T) {
	runner, store, env := newTestRunner(t)
	writeFlow(t, env, "slow.yml", `
name: slow
steps:
  - name: A
    type: sleep
    sleep:
      seconds: 30
`)

	jobID, err := runner.LaunchAsync("slow.yml", nil, 1, nil)
	require.NoError(t, err)

	job := waitFinished(t, store, jobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Errors, "timed out")
	require.NotNil(t, job.EndTime)
}

func TestRunnerTimeoutWhileQueued(t *testing.T) {
	_, store, env := newTestRunner(t)
	single := New(store, env, 1, 600, nil)
	writeFlow(t, env, "hog.yml", `
name: hog
steps:
  - name: A
    type: sleep
    sleep:
      seconds: 30
`)
	writeFlow(t, env, "queued.yml", `
name: queued
steps:
  - name: A
    type: set_fact
    value:
      ok: true
`)

	hog, err := single.LaunchAsync("hog.yml", nil, 60, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, err := store.Get(hog)
		return err == nil && job.State == models.JobStateRunning
	}, 10*time.Second, 20*time.Millisecond)

	// The only worker slot is taken, so this job waits in pending. Its
	// timeout clock runs anyway.
	jobID, err := single.LaunchAsync("queued.yml", nil, 1, nil)
	require.NoError(t, err)

	job := waitFinished(t, store, jobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Errors, "timed out after 1 seconds")
	require.NotNil(t, job.EndTime)

	state := models.JobStateFinished
	require.NoError(t, store.Update(hog, storage.JobUpdate{State: &state}))
}

func TestRunnerRejectsConcurrentSameFlow(t *testing.T) {
	runner, store, env := newTestRunner(t)
	writeFlow(t, env, "busy.yml", `
name: busy
steps:
  - name: A
    type: sleep
    sleep:
      seconds: 5
`)

	first, err := runner.LaunchAsync("busy.yml", nil, 30, nil)
	require.NoError(t, err)

	_, err = runner.LaunchAsync("busy.yml", nil, 30, nil)
	assert.ErrorIs(t, err, storage.ErrFlowAlreadyRunning)

	// Let the first run finish so the temp store can close cleanly
	state := models.JobStateFinished
	require.NoError(t, store.Update(first, storage.JobUpdate{State: &state}))
}

func TestRunnerSchedulerMeta(t *testing.T) {
	runner, store, env := newTestRunner(t)
	writeFlow(t, env, "cron.yml", `
name: cron
steps:
  - name: A
    type: set_fact
    value:
      ok: true
`)

	meta := &models.JobMeta{
		FlowPath:   "cron.yml",
		Timeout:    15,
		Source:     models.JobSourceScheduler,
		ScheduleID: "sched-1",
		Cron:       "* * * * *",
	}
	jobID, err := runner.LaunchAsync("cron.yml", nil, 15, meta)
	require.NoError(t, err)

	job := waitFinished(t, store, jobID)
	assert.Equal(t, models.JobSourceScheduler, job.Meta.Source)
	assert.Equal(t, "sched-1", job.Meta.ScheduleID)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
}
