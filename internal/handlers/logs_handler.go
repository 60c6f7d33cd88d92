package handlers

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
)

// LogsHandler serves the tail of the service log file
type LogsHandler struct {
	logFilePath string
	logger      arbor.ILogger
}

func NewLogsHandler(logFilePath string, logger arbor.ILogger) *LogsHandler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &LogsHandler{logFilePath: logFilePath, logger: logger}
}

// TailHandler returns the last N lines of the log file (default 100)
func (h *LogsHandler) TailHandler(w http.ResponseWriter, r *http.Request) {
	lines := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			WriteError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = v
	}

	raw, err := os.ReadFile(h.logFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			WriteError(w, http.StatusNotFound, "log file not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	all := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"logs": all})
}
