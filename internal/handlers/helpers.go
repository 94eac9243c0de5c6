package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/chrisreddington/ssh-mcp/internal/sshexec"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeKindError reports err with the status code of its kind.
func writeKindError(w http.ResponseWriter, err error) {
	kind := sshexec.KindOf(err)
	writeJSON(w, statusForKind(kind), map[string]string{
		"detail":     err.Error(),
		"error_kind": string(kind),
	})
}

func statusForKind(kind sshexec.Kind) int {
	switch kind {
	case sshexec.KindInvalidInput:
		return http.StatusBadRequest
	case sshexec.KindValidation:
		return http.StatusUnprocessableEntity
	case sshexec.KindNotFound:
		return http.StatusNotFound
	case sshexec.KindCapacity:
		return http.StatusTooManyRequests
	case sshexec.KindTimeout:
		return http.StatusGatewayTimeout
	case sshexec.KindConnection:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON request body into v. It writes a 400 response and
// returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Request body is required")
		} else {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
		return false
	}
	return true
}
