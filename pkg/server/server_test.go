package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/A-new/ironbee/pkg/config"
	"github.com/A-new/ironbee/pkg/limits/ratelimit"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/rule/manager"
	"github.com/A-new/ironbee/pkg/security/auth"
	"github.com/A-new/ironbee/pkg/telemetry/health"
)

const adminRule = `Rule REQUEST_URI "@streq /admin" id:block-admin phase:REQUEST_HEADER block` + "\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, load bool) (*Server, *manager.Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admin.rules")
	if err := os.WriteFile(path, []byte(adminRule), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := manager.NewManager(manager.Options{
		Files:  []string{path},
		Engine: engine.DefaultConfig(),
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	if load {
		if err := m.Load(); err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
	}

	checker := health.New(time.Second)
	checker.Register("rules", health.RulesLoaded(m))

	s, err := New(Options{
		Config:  config.ServerConfig{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Rules:   m,
		Health:  checker,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "metrics") }),
		Build:   health.BuildInfo{Version: "test"},
	}, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, m, path
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestNew_RequiresRules(t *testing.T) {
	if _, err := New(Options{}, nil); err == nil {
		t.Fatal("New() without rules should fail")
	}
}

func TestServer_Routes(t *testing.T) {
	s, _, _ := newTestServer(t, true)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"liveness", http.MethodGet, "/healthz", http.StatusOK, `"status":"ok"`},
		{"readiness", http.MethodGet, "/readyz", http.StatusOK, `"status":"ready"`},
		{"version", http.MethodGet, "/version", http.StatusOK, `"version":"test"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "metrics"},
		{"rules status", http.MethodGet, "/rules", http.StatusOK, `"rules":1`},
		{"reload", http.MethodPost, "/rules/reload", http.StatusOK, `"reloads":1`},
		{"reload wrong method", http.MethodGet, "/rules/reload", http.StatusMethodNotAllowed, ""},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s.Handler(), tt.method, tt.path, "")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (body %q)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_NotLoaded(t *testing.T) {
	s, _, _ := newTestServer(t, false)

	if rec := do(t, s.Handler(), http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz code = %d, want 503", rec.Code)
	}
	body := `{"fields":[{"name":"REQUEST_URI","value":"/admin"}]}`
	if rec := do(t, s.Handler(), http.MethodPost, "/evaluate", body); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/evaluate code = %d, want 503", rec.Code)
	}
}

func TestServer_Evaluate(t *testing.T) {
	s, _, _ := newTestServer(t, true)

	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantBlocked bool
	}{
		{"blocked", `{"id":"tx-1","fields":[{"name":"REQUEST_URI","value":"/admin"}]}`, http.StatusOK, true},
		{"allowed", `{"fields":[{"name":"REQUEST_URI","value":"/index.html"}]}`, http.StatusOK, false},
		{"malformed json", `{"fields":`, http.StatusBadRequest, false},
		{"unknown key", `{"headers":[]}`, http.StatusBadRequest, false},
		{"missing field name", `{"fields":[{"value":"x"}]}`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s.Handler(), http.MethodPost, "/evaluate", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %q)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var out manager.Outcome
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if out.Blocked != tt.wantBlocked {
				t.Errorf("Blocked = %v, want %v", out.Blocked, tt.wantBlocked)
			}
			if len(out.Phases) != len(engine.LifecyclePhases()) {
				t.Errorf("len(Phases) = %d", len(out.Phases))
			}
		})
	}
}

func TestServer_FailedReloadKeepsRules(t *testing.T) {
	s, _, path := newTestServer(t, true)
	if err := os.WriteFile(path, []byte("Rule REQUEST_URI\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := do(t, s.Handler(), http.MethodPost, "/rules/reload", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422", rec.Code)
	}
	var body struct {
		Error  string         `json:"error"`
		Status manager.Status `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Error == "" || body.Status.Rules != 1 || body.Status.LastError == "" {
		t.Errorf("body = %+v", body)
	}

	eval := do(t, s.Handler(), http.MethodPost, "/evaluate", `{"fields":[{"name":"REQUEST_URI","value":"/admin"}]}`)
	if !strings.Contains(eval.Body.String(), `"blocked":true`) {
		t.Errorf("previous rules not active after failed reload: %s", eval.Body.String())
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != nil {
			addr = a.String()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not start")
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestServer_APIKeys(t *testing.T) {
	_, m, _ := newTestServer(t, true)
	const key = "ops-0123456789abcdef"

	s, err := New(Options{
		Config: config.ServerConfig{ListenAddress: "127.0.0.1:0"},
		Rules:  m,
		Keys:   auth.NewKeySet([]auth.Key{{Name: "ops", Key: key}}),
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		key        string
		wantStatus int
	}{
		{"health is open", http.MethodGet, "/healthz", "", http.StatusOK},
		{"version is open", http.MethodGet, "/version", "", http.StatusOK},
		{"status needs key", http.MethodGet, "/rules", "", http.StatusUnauthorized},
		{"reload needs key", http.MethodPost, "/rules/reload", "", http.StatusUnauthorized},
		{"evaluate needs key", http.MethodPost, "/evaluate", "", http.StatusUnauthorized},
		{"wrong key", http.MethodPost, "/rules/reload", "ops-wrong-key-000000", http.StatusUnauthorized},
		{"status with key", http.MethodGet, "/rules", key, http.StatusOK},
		{"reload with key", http.MethodPost, "/rules/reload", key, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("Authorization", "Bearer "+tt.key)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestServer_RateLimit(t *testing.T) {
	_, m, _ := newTestServer(t, true)

	s, err := New(Options{
		Config:    config.ServerConfig{ListenAddress: "127.0.0.1:0"},
		Rules:     m,
		RateLimit: ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.1, Burst: 1}),
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/rules", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec := do(t, s.Handler(), http.MethodGet, "/rules", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := do(t, s.Handler(), http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("health is throttled: %d", rec.Code)
	}
}
