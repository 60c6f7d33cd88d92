package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/scheduler"
)

// ScheduleHandler serves the schedule management endpoints
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
	logger    arbor.ILogger
}

func NewScheduleHandler(sched *scheduler.Scheduler, logger arbor.ILogger) *ScheduleHandler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &ScheduleHandler{scheduler: sched, logger: logger}
}

// ListHandler returns all registered schedules
func (h *ScheduleHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": h.scheduler.ListFlows(),
	})
}

// CreateHandler adds a flow to the scheduler
func (h *ScheduleHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	id, err := h.scheduler.AddFlow(req)
	if err != nil {
		h.logger.Warn().Str("flow", req.Path).Err(err).Msg("Failed to add schedule")
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"schedule_id": id,
		"status":      fmt.Sprintf("Flow %s added successfully", req.Path),
	})
}

// DeleteHandler removes a schedule by id
func (h *ScheduleHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.scheduler.RemoveFlow(id); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": fmt.Sprintf("Schedule %s removed successfully", id),
	})
}
