package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chrisreddington/ssh-mcp/internal/database"
	"github.com/chrisreddington/ssh-mcp/internal/logging"
	"github.com/chrisreddington/ssh-mcp/internal/metrics"
	"github.com/chrisreddington/ssh-mcp/internal/sshaudit"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn/sshconntest"
	"github.com/chrisreddington/ssh-mcp/internal/sshexec"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
	"github.com/chrisreddington/ssh-mcp/internal/tools"
)

func newTestAPI(t *testing.T, p *sshconntest.Provider, maxSessions int) *API {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })
	auditor, err := sshaudit.NewAuditor(db, 0)
	if err != nil {
		t.Fatal(err)
	}

	store := sshsession.NewStore(p, sshsession.Options{MaxSessions: maxSessions})
	t.Cleanup(store.CloseAll)
	store.AddListener(auditor.SessionListener())
	m := metrics.New(store.Count)
	store.AddListener(m.SessionListener())

	return &API{
		Service: tools.NewService(store, sshexec.NewRunner(p, 0), auditor, m),
		Auditor: auditor,
		Metrics: m,
		DB:      db,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestExecute(t *testing.T) {
	api := newTestAPI(t, &sshconntest.Provider{}, 0)
	h := api.Routes()

	w := doRequest(t, h, "POST", "/api/v1/exec", `{"host":"web1","command":"echo hello; false"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var res map[string]interface{}
	decode(t, w, &res)
	if res["stdout"] != "hello" || res["exit_code"] != float64(1) {
		t.Errorf("body = %v", res)
	}
	if _, ok := res["cwd"]; ok {
		t.Error("one-shot response carries cwd")
	}
}

func TestExecute_BadRequests(t *testing.T) {
	h := newTestAPI(t, &sshconntest.Provider{}, 0).Routes()

	tests := []struct {
		body string
		code int
	}{
		{``, http.StatusBadRequest},
		{`{not json`, http.StatusBadRequest},
		{`{"host":"web1","command":"ls","extra":1}`, http.StatusBadRequest},
		{`{"host":"","command":"ls"}`, http.StatusBadRequest},
		{`{"host":"web1","command":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := doRequest(t, h, "POST", "/api/v1/exec", tt.body)
		if w.Code != tt.code {
			t.Errorf("body %q: status = %d, want %d", tt.body, w.Code, tt.code)
		}
	}
}

func TestExecute_ConnectionError(t *testing.T) {
	p := &sshconntest.Provider{ConnectErr: errors.New("connection refused")}
	h := newTestAPI(t, p, 0).Routes()

	w := doRequest(t, h, "POST", "/api/v1/exec", `{"host":"down","command":"ls"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	decode(t, w, &body)
	if body["error_kind"] != string(sshexec.KindConnection) || !strings.HasPrefix(body["detail"], "SSH error:") {
		t.Errorf("body = %v", body)
	}
}

func TestExecute_Timeout(t *testing.T) {
	h := newTestAPI(t, &sshconntest.Provider{}, 0).Routes()
	w := doRequest(t, h, "POST", "/api/v1/exec", `{"host":"web1","command":"sleep 5","timeout":1}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	api := newTestAPI(t, &sshconntest.Provider{}, 0)
	h := api.Routes()

	w := doRequest(t, h, "POST", "/api/v1/sessions", `{"host":"web1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	var info sshsession.Info
	decode(t, w, &info)
	if info.ID == "" || info.Host != "web1" || info.Cwd != sshsession.DefaultCwd {
		t.Fatalf("info = %+v", info)
	}

	run := "/api/v1/sessions/" + info.ID + "/run"
	w = doRequest(t, h, "POST", run, `{"command":"cd /opt"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d: %s", w.Code, w.Body.String())
	}
	w = doRequest(t, h, "POST", run, `{"command":"pwd"}`)
	var res map[string]interface{}
	decode(t, w, &res)
	if res["stdout"] != "/opt" || res["cwd"] != "/opt" {
		t.Errorf("pwd = %v", res)
	}

	w = doRequest(t, h, "GET", "/api/v1/sessions", "")
	var list struct {
		Sessions    []sshsession.Info `json:"sessions"`
		MaxSessions int               `json:"max_sessions"`
	}
	decode(t, w, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].Cwd != "/opt" || list.MaxSessions != sshsession.DefaultMaxSessions {
		t.Errorf("list = %+v", list)
	}

	w = doRequest(t, h, "DELETE", "/api/v1/sessions/"+info.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d", w.Code)
	}
	w = doRequest(t, h, "DELETE", "/api/v1/sessions/"+info.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second close status = %d, want 404", w.Code)
	}
	w = doRequest(t, h, "POST", run, `{"command":"pwd"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("run after close status = %d, want 404", w.Code)
	}
}

func TestStartSession_Capacity(t *testing.T) {
	h := newTestAPI(t, &sshconntest.Provider{}, 1).Routes()
	if w := doRequest(t, h, "POST", "/api/v1/sessions", `{"host":"a"}`); w.Code != http.StatusCreated {
		t.Fatalf("first start status = %d", w.Code)
	}
	if w := doRequest(t, h, "POST", "/api/v1/sessions", `{"host":"b"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("second start status = %d, want 429", w.Code)
	}
}

func TestRunInSession_RejectsInjectedCwd(t *testing.T) {
	p := &sshconntest.Provider{Handler: func(ctx context.Context, command string) (*sshconn.Result, error) {
		return &sshconn.Result{Stdout: sshexec.Sentinel + "\n/tmp;reboot\n"}, nil
	}}
	h := newTestAPI(t, p, 0).Routes()

	w := doRequest(t, h, "POST", "/api/v1/sessions", `{"host":"web1"}`)
	var info sshsession.Info
	decode(t, w, &info)

	w = doRequest(t, h, "POST", "/api/v1/sessions/"+info.ID+"/run", `{"command":"pwd"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, "GET", "/api/v1/sessions", "")
	if !strings.Contains(w.Body.String(), `"cwd":"~"`) {
		t.Errorf("cwd changed: %s", w.Body.String())
	}
}

func TestAuditEndpoints(t *testing.T) {
	api := newTestAPI(t, &sshconntest.Provider{}, 0)
	h := api.Routes()

	doRequest(t, h, "POST", "/api/v1/exec", `{"host":"web1","command":"true"}`)
	doRequest(t, h, "POST", "/api/v1/sessions", `{"host":"web2"}`)

	w := doRequest(t, h, "GET", "/api/v1/audit?host=web1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res sshaudit.QueryResult
	decode(t, w, &res)
	if res.Total != 1 || res.Entries[0].EventType != sshaudit.EventCommandExecution {
		t.Errorf("audit = %+v", res)
	}

	w = doRequest(t, h, "GET", "/api/v1/audit?event_type="+sshaudit.EventSessionStart, "")
	decode(t, w, &res)
	if res.Total != 1 || res.Entries[0].Host != "web2" {
		t.Errorf("session audit = %+v", res)
	}

	for _, q := range []string{"since=yesterday", "limit=0", "offset=-1"} {
		if w := doRequest(t, h, "GET", "/api/v1/audit?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}

	w = doRequest(t, h, "DELETE", "/api/v1/audit", "")
	if w.Code != http.StatusOK {
		t.Errorf("purge status = %d", w.Code)
	}
	if w := doRequest(t, h, "DELETE", "/api/v1/audit?days=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad purge status = %d", w.Code)
	}
}

func TestAuditDisabled(t *testing.T) {
	api := newTestAPI(t, &sshconntest.Provider{}, 0)
	api.Auditor = nil
	if w := doRequest(t, api.Routes(), "GET", "/api/v1/audit", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, &sshconntest.Provider{}, 0)
	h := api.Routes()
	doRequest(t, h, "POST", "/api/v1/sessions", `{"host":"web1"}`)

	w := doRequest(t, h, "GET", "/health", "")
	var health map[string]interface{}
	decode(t, w, &health)
	if health["status"] != "healthy" || health["database"] != "connected" || health["sessions"] != float64(1) {
		t.Errorf("health = %v", health)
	}

	w = doRequest(t, h, "GET", "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ssh_mcp_active_sessions 1") {
		t.Errorf("metrics status %d body:\n%s", w.Code, w.Body.String())
	}
}

func TestGetServerLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh-mcp.log")
	logging.Init(path, os.Stderr)
	t.Cleanup(func() { logging.Close() })

	h := newTestAPI(t, &sshconntest.Provider{}, 0).Routes()
	doRequest(t, h, "POST", "/api/v1/exec", `{"host":"web1","command":"true"}`)

	w := doRequest(t, h, "GET", "/api/v1/logs?lines=50", "")
	var body map[string]string
	decode(t, w, &body)
	if !strings.Contains(body["logs"], "[ssh-exec]") {
		t.Errorf("logs = %q", body["logs"])
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[sshexec.Kind]int{
		sshexec.KindInvalidInput: 400,
		sshexec.KindValidation:   422,
		sshexec.KindNotFound:     404,
		sshexec.KindCapacity:     429,
		sshexec.KindTimeout:      504,
		sshexec.KindConnection:   502,
		sshexec.KindInternal:     500,
	}
	for kind, want := range tests {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}
