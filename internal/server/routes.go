package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/flowd/internal/common"
	"github.com/ternarybob/flowd/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Schedules
	mux.HandleFunc("/api/v1/schedules", s.handleScheduleCollection) // GET (list), POST (create)
	mux.HandleFunc("/api/v1/schedules/", s.handleScheduleItem)      // DELETE /{id}

	// API routes - Jobs
	mux.HandleFunc("/api/v1/jobs", s.handleJobCollection) // GET (list), POST (launch), DELETE (bulk)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobItem)      // GET/DELETE /{id}

	// API routes - Logs
	mux.HandleFunc("/api/v1/logs", s.handleLogs)

	// API routes - System
	mux.HandleFunc("/api/version", s.versionHandler)
	mux.HandleFunc("/api/health", s.healthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

func (s *Server) handleScheduleCollection(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET":  s.app.ScheduleHandler.ListHandler,
		"POST": s.app.ScheduleHandler.CreateHandler,
	})
}

func (s *Server) handleScheduleItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
	if id == "" || strings.Contains(id, "/") {
		handlers.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	RouteByMethod(w, r, MethodRouter{
		"DELETE": func(w http.ResponseWriter, r *http.Request) {
			s.app.ScheduleHandler.DeleteHandler(w, r, id)
		},
	})
}

func (s *Server) handleJobCollection(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET":    s.app.JobHandler.ListHandler,
		"POST":   s.app.JobHandler.CreateHandler,
		"DELETE": s.app.JobHandler.DeleteFilteredHandler,
	})
}

func (s *Server) handleJobItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		handlers.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	RouteByMethod(w, r, MethodRouter{
		"GET": func(w http.ResponseWriter, r *http.Request) {
			s.app.JobHandler.GetHandler(w, r, id)
		},
		"DELETE": func(w http.ResponseWriter, r *http.Request) {
			s.app.JobHandler.DeleteHandler(w, r, id)
		},
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET": s.app.LogsHandler.TailHandler,
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "not found")
}
