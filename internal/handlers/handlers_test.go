package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowd/internal/flows"
	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/runner"
	"github.com/ternarybob/flowd/internal/scheduler"
	"github.com/ternarybob/flowd/internal/storage"
)

type testHandlers struct {
	env      *flows.Env
	store    *storage.JobStore
	schedule *ScheduleHandler
	job      *JobHandler
}

func newTestHandlers(t *testing.T) *testHandlers {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "flows"), 0755))

	env := &flows.Env{
		FlowsPath: filepath.Join(root, "flows"),
		DataPath:  root,
		Logger:    arbor.NewLogger(),
	}
	store, err := storage.NewJobStore(filepath.Join(root, "jobs.sqlite"), nil)
	require.NoError(t, err)
	r := runner.New(store, env, 2, 600, nil)
	sched := scheduler.New(r, env, time.UTC, 600, nil)
	t.Cleanup(sched.Stop)

	return &testHandlers{
		env:      env,
		store:    store,
		schedule: NewScheduleHandler(sched, nil),
		job:      NewJobHandler(store, r, env, time.UTC, nil),
	}
}

func (h *testHandlers) writeFlow(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.env.FlowsPath, name), []byte(content), 0644))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const quickFlow = `
name: quick
steps:
  - name: A
    type: set_fact
    value:
      x: 1
`

const slowFlow = `
name: slow
steps:
  - name: nap
    type: sleep
    sleep:
      seconds: 30
`

func TestScheduleHandlerLifecycle(t *testing.T) {
	h := newTestHandlers(t)
	h.writeFlow(t, "quick.yml", quickFlow)

	payload := []byte(`{"path": "quick.yml", "cron": "0 * * * *"}`)
	rec := httptest.NewRecorder()
	h.schedule.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/schedules", bytes.NewReader(payload)))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody(t, rec)["schedule_id"].(string)
	require.NotEmpty(t, id)

	rec = httptest.NewRecorder()
	h.schedule.ListHandler(rec, httptest.NewRequest("GET", "/api/v1/schedules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	schedules := decodeBody(t, rec)["schedules"].([]interface{})
	assert.Len(t, schedules, 1)

	rec = httptest.NewRecorder()
	h.schedule.DeleteHandler(rec, httptest.NewRequest("DELETE", "/api/v1/schedules/"+id, nil), id)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.schedule.DeleteHandler(rec, httptest.NewRequest("DELETE", "/api/v1/schedules/"+id, nil), id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleHandlerRejectsInvalid(t *testing.T) {
	h := newTestHandlers(t)
	h.writeFlow(t, "quick.yml", quickFlow)

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "no trigger", body: `{"path": "quick.yml"}`, code: http.StatusBadRequest},
		{name: "missing flow", body: `{"path": "ghost.yml", "cron": "* * * * *"}`, code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.schedule.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/schedules", bytes.NewReader([]byte(tt.body))))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestScheduleHandlerDuplicateConflict(t *testing.T) {
	h := newTestHandlers(t)
	h.writeFlow(t, "quick.yml", quickFlow)

	payload := []byte(`{"path": "quick.yml", "every_seconds": 60}`)
	rec := httptest.NewRecorder()
	h.schedule.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/schedules", bytes.NewReader(payload)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.schedule.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/schedules", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobHandlerCreateAccepted(t *testing.T) {
	h := newTestHandlers(t)
	h.writeFlow(t, "quick.yml", quickFlow)

	rec := httptest.NewRecorder()
	h.job.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/jobs", bytes.NewReader([]byte(`{"path": "quick.yml"}`))))
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobID := decodeBody(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, err := h.store.Get(jobID)
		return err == nil && job.IsFinished()
	}, 10*time.Second, 20*time.Millisecond)

	rec = httptest.NewRecorder()
	h.job.GetHandler(rec, httptest.NewRequest("GET", "/api/v1/jobs/"+jobID, nil), jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(models.JobStatusSuccess), body["status"])
	assert.NotEmpty(t, body["start_time_iso"])
	assert.NotEmpty(t, body["end_time_iso"])
}

func TestJobHandlerCreateRejections(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "missing path", body: `{}`, code: http.StatusBadRequest},
		{name: "unknown flow", body: `{"path": "ghost.yml"}`, code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.job.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/jobs", bytes.NewReader([]byte(tt.body))))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestJobHandlerRejectsConcurrentSameFlow(t *testing.T) {
	h := newTestHandlers(t)
	h.writeFlow(t, "slow.yml", slowFlow)

	payload := []byte(`{"path": "slow.yml", "timeout_seconds": 60}`)
	rec := httptest.NewRecorder()
	h.job.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/jobs", bytes.NewReader(payload)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.job.CreateHandler(rec, httptest.NewRequest("POST", "/api/v1/jobs", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobHandlerListValidation(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name  string
		query string
	}{
		{name: "bad limit", query: "limit=zero"},
		{name: "negative offset", query: "offset=-1"},
		{name: "bad state", query: "state=parked"},
		{name: "bad status", query: "status=great"},
		{name: "bad time", query: "start_time_from=not-a-time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.job.ListHandler(rec, httptest.NewRequest("GET", "/api/v1/jobs?"+tt.query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestJobHandlerListAndFilters(t *testing.T) {
	h := newTestHandlers(t)

	id, err := h.store.Create(models.JobMeta{FlowPath: "a.yml", Source: models.JobSourceAPI})
	require.NoError(t, err)
	end := 2000.0
	require.NoError(t, h.store.Update(id, storage.JobUpdate{
		State:   statePtr(models.JobStateFinished),
		Status:  statusPtr(models.JobStatusSuccess),
		EndTime: &end,
	}))

	rec := httptest.NewRecorder()
	h.job.ListHandler(rec, httptest.NewRequest("GET", "/api/v1/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["jobs"], 1)
	assert.Equal(t, float64(storage.DefaultListLimit), body["limit"])

	rec = httptest.NewRecorder()
	h.job.ListHandler(rec, httptest.NewRequest("GET", "/api/v1/jobs?state=running", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["jobs"])
}

func TestJobHandlerDelete(t *testing.T) {
	h := newTestHandlers(t)

	id, err := h.store.Create(models.JobMeta{FlowPath: "a.yml"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.job.DeleteHandler(rec, httptest.NewRequest("DELETE", "/api/v1/jobs/"+id, nil), id)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.job.DeleteHandler(rec, httptest.NewRequest("DELETE", "/api/v1/jobs/"+id, nil), id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobHandlerDeleteFiltered(t *testing.T) {
	h := newTestHandlers(t)

	id, err := h.store.Create(models.JobMeta{FlowPath: "a.yml"})
	require.NoError(t, err)
	end := 1000.0
	require.NoError(t, h.store.Update(id, storage.JobUpdate{
		State:   statePtr(models.JobStateFinished),
		Status:  statusPtr(models.JobStatusFailed),
		EndTime: &end,
	}))

	rec := httptest.NewRecorder()
	h.job.DeleteFilteredHandler(rec, httptest.NewRequest("DELETE", "/api/v1/jobs?older_than_days=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.job.DeleteFilteredHandler(rec, httptest.NewRequest("DELETE", "/api/v1/jobs?status=failed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["deleted"])
}

func TestLogsHandlerTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowd.log")
	h := NewLogsHandler(path, nil)

	rec := httptest.NewRecorder()
	h.TailHandler(rec, httptest.NewRequest("GET", "/api/v1/logs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644))

	rec = httptest.NewRecorder()
	h.TailHandler(rec, httptest.NewRequest("GET", "/api/v1/logs?lines=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody(t, rec)["logs"].([]interface{})
	require.Len(t, logs, 2)
	assert.Equal(t, "two", logs[0])
	assert.Equal(t, "three", logs[1])

	rec = httptest.NewRecorder()
	h.TailHandler(rec, httptest.NewRequest("GET", "/api/v1/logs?lines=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func statePtr(s models.JobState) *models.JobState    { return &s }
func statusPtr(s models.JobStatus) *models.JobStatus { return &s }
