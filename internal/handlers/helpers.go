package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/flowd/internal/flows"
	"github.com/ternarybob/flowd/internal/scheduler"
	"github.com/ternarybob/flowd/internal/storage"
)

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// statusForError maps domain errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, flows.ErrFlowNotFound),
		errors.Is(err, scheduler.ErrScheduleNotFound),
		errors.Is(err, storage.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, flows.ErrFlowParsing),
		errors.Is(err, scheduler.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrFlowAlreadyAdded),
		errors.Is(err, storage.ErrFlowAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes an error response with the mapped status code
func writeDomainError(w http.ResponseWriter, err error) {
	WriteError(w, statusForError(err), err.Error())
}
