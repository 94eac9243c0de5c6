// Package handlers serves the remote execution operations over HTTP.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/chrisreddington/ssh-mcp/internal/metrics"
	"github.com/chrisreddington/ssh-mcp/internal/sshaudit"
	"github.com/chrisreddington/ssh-mcp/internal/tools"
)

// API holds the dependencies of the HTTP handlers. Auditor, Metrics and DB
// may be nil.
type API struct {
	Service *tools.Service
	Auditor *sshaudit.Auditor
	Metrics *metrics.Metrics
	DB      *gorm.DB
}

// Routes returns the router for all endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", a.HealthCheck)
	if a.Metrics != nil {
		r.Handle("/metrics", a.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/exec", a.Execute)

		r.Get("/sessions", a.ListSessions)
		r.Post("/sessions", a.StartSession)
		r.Post("/sessions/{sessionId}/run", a.RunInSession)
		r.Delete("/sessions/{sessionId}", a.CloseSession)

		r.Get("/audit", a.GetAuditLogs)
		r.Delete("/audit", a.PurgeAuditLogs)

		r.Get("/logs", GetServerLogs)
	})
	return r
}

type execRequest struct {
	Host    string `json:"host"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type runRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type startRequest struct {
	Host string `json:"host"`
}

// Execute runs a one-shot command.
// POST /api/v1/exec
func (a *API) Execute(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.Service.Execute(r.Context(), req.Host, req.Command, seconds(req.Timeout))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StartSession opens a persistent session.
// POST /api/v1/sessions
func (a *API) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := a.Service.StartSession(r.Context(), req.Host)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

// RunInSession runs a command in a session.
// POST /api/v1/sessions/{sessionId}/run
func (a *API) RunInSession(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.Service.RunInSession(r.Context(), chi.URLParam(r, "sessionId"), req.Command, seconds(req.Timeout))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CloseSession closes a session.
// DELETE /api/v1/sessions/{sessionId}
func (a *API) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Service.CloseSession(chi.URLParam(r, "sessionId")); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ListSessions returns the live sessions.
// GET /api/v1/sessions
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":     a.Service.ListSessions(),
		"max_sessions": a.Service.Store().MaxSessions(),
	})
}

// HealthCheck reports process and database status.
func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if a.DB != nil {
		dbStatus = "disconnected"
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus == "disconnected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"sessions": a.Service.Store().Count(),
	})
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
