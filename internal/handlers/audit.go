package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/chrisreddington/ssh-mcp/internal/sshaudit"
)

// GetAuditLogs returns paginated audit records.
//
// Query parameters:
//
//	host       - filter by host
//	session_id - filter by session
//	event_type - filter by event type
//	outcome    - "ok" or an error kind
//	since      - RFC3339 timestamp, only records at or after this time
//	until      - RFC3339 timestamp, only records at or before this time
//	limit      - max records to return (default 50, max 1000)
//	offset     - pagination offset
func (a *API) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if a.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit trail is disabled")
		return
	}

	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		Host:      q.Get("host"),
		SessionID: q.Get("session_id"),
		EventType: q.Get("event_type"),
		Outcome:   q.Get("outcome"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	result, err := a.Auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit records")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PurgeAuditLogs deletes audit records older than the retention period.
//
// Query parameters:
//
//	days - number of days to retain (uses configured retention if omitted)
func (a *API) PurgeAuditLogs(w http.ResponseWriter, r *http.Request) {
	if a.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit trail is disabled")
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		days = n
	}

	deleted, err := a.Auditor.PurgeOlderThan(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge audit records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":        deleted,
		"retention_days": a.Auditor.RetentionDays(),
	})
}
