package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowd/internal/common"
	"github.com/ternarybob/flowd/internal/flows"
	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/runner"
	"github.com/ternarybob/flowd/internal/storage"
)

// JobHandler serves the job endpoints: launching flows and inspecting runs
type JobHandler struct {
	store    *storage.JobStore
	runner   *runner.Runner
	env      *flows.Env
	location *time.Location
	logger   arbor.ILogger
}

func NewJobHandler(store *storage.JobStore, r *runner.Runner, env *flows.Env, location *time.Location, logger arbor.ILogger) *JobHandler {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &JobHandler{store: store, runner: r, env: env, location: location, logger: logger}
}

// launchRequest is the POST /jobs payload
type launchRequest struct {
	Path           string      `json:"path"`
	Data           interface{} `json:"data,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
}

// jobView decorates a job row with human-readable times for listings
type jobView struct {
	models.Job
	StartTimeISO string `json:"start_time_iso,omitempty"`
	EndTimeISO   string `json:"end_time_iso,omitempty"`
}

func (h *JobHandler) view(job models.Job) jobView {
	return jobView{
		Job:          job,
		StartTimeISO: common.ToISO(&job.StartTime, h.location),
		EndTimeISO:   common.ToISO(job.EndTime, h.location),
	}
}

// CreateHandler launches a flow as an asynchronous job
func (h *JobHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Path == "" {
		WriteError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Surface definition problems to the caller instead of a doomed job
	if _, err := flows.NewFlow(h.env, req.Path, nil, 0, ""); err != nil {
		writeDomainError(w, err)
		return
	}

	jobID, err := h.runner.LaunchAsync(req.Path, req.Data, req.TimeoutSeconds, nil)
	if err != nil {
		h.logger.Warn().Str("flow", req.Path).Err(err).Msg("Failed to launch flow")
		writeDomainError(w, err)
		return
	}

	h.logger.Info().Str("flow", req.Path).Str("job_id", jobID).Msg("Flow launched")
	WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// ListHandler returns jobs filtered by the query parameters
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.ListFilter{Limit: storage.DefaultListLimit}

	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = v
	}
	if raw := query.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = v
	}
	if raw := query.Get("state"); raw != "" {
		state := models.JobState(raw)
		if !models.IsValidJobState(state) {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid state %q", raw))
			return
		}
		filter.State = state
	}
	if raw := query.Get("status"); raw != "" {
		status := models.JobStatus(raw)
		if !models.IsValidJobStatus(status) {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", raw))
			return
		}
		filter.Status = status
	}

	timeFilters := []struct {
		param  string
		target **float64
	}{
		{"start_time_from", &filter.StartTimeFrom},
		{"start_time_to", &filter.StartTimeTo},
		{"end_time_from", &filter.EndTimeFrom},
		{"end_time_to", &filter.EndTimeTo},
	}
	for _, tf := range timeFilters {
		raw := query.Get(tf.param)
		if raw == "" {
			continue
		}
		epoch, err := common.ParseTimeParam(raw, h.location)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		*tf.target = &epoch
	}

	jobs, err := h.store.List(filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]jobView, len(jobs))
	for i, job := range jobs {
		views[i] = h.view(job)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   views,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetHandler returns one job in full
func (h *JobHandler) GetHandler(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.store.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.view(*job))
}

// DeleteHandler removes one job by id
func (h *JobHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := h.store.Delete(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted == 0 {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("job not found: %s", id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// DeleteFilteredHandler bulk-deletes jobs by age, status or state
func (h *JobHandler) DeleteFilteredHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var olderThanDays *int
	if raw := query.Get("older_than_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			WriteError(w, http.StatusBadRequest, "older_than_days must be a non-negative integer")
			return
		}
		olderThanDays = &v
	}

	var status models.JobStatus
	if raw := query.Get("status"); raw != "" {
		status = models.JobStatus(raw)
		if !models.IsValidJobStatus(status) {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", raw))
			return
		}
	}
	var state models.JobState
	if raw := query.Get("state"); raw != "" {
		state = models.JobState(raw)
		if !models.IsValidJobState(state) {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid state %q", raw))
			return
		}
	}

	deleted, err := h.store.DeleteFiltered(olderThanDays, status, state)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().Int("deleted", int(deleted)).Msg("Jobs deleted")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
	})
}
