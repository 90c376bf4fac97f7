package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/audit/storage"
)

type loadedFlag bool

func (l loadedFlag) Loaded() bool { return bool(l) }

type brokenStorage struct {
	audit.Storage
}

func (brokenStorage) Count(context.Context, *audit.Query) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"default timeout", 0, DefaultCheckTimeout},
		{"negative timeout", -time.Second, DefaultCheckTimeout},
		{"custom timeout", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.timeout)
			if c.timeout != tt.want {
				t.Errorf("timeout = %v, want %v", c.timeout, tt.want)
			}
			if len(c.Names()) != 0 {
				t.Errorf("Names() = %v, want empty", c.Names())
			}
		})
	}
}

func TestChecker_RegisterAndUnregister(t *testing.T) {
	c := New(time.Second)
	c.Register("storage", func(context.Context) error { return nil })
	c.Register("rules", func(context.Context) error { return nil })
	c.Register("rules", func(context.Context) error { return errors.New("replaced") })

	if got, want := c.Names(), []string{"rules", "storage"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if r := c.Ready(context.Background()); r.Checks["rules"].Message != "replaced" {
		t.Errorf("re-registered check not used: %+v", r.Checks["rules"])
	}

	c.Unregister("rules")
	if got := c.Names(); !reflect.DeepEqual(got, []string{"storage"}) {
		t.Errorf("Names() after Unregister = %v", got)
	}
}

func TestChecker_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
		wantFailed []string
	}{
		{
			name:       "no checks",
			wantStatus: StatusReady,
		},
		{
			name: "all passing",
			checks: map[string]CheckFunc{
				"rules":   RulesLoaded(loadedFlag(true)),
				"storage": AuditStorage(storage.NewMemoryStorage()),
			},
			wantStatus: StatusReady,
		},
		{
			name: "rules not loaded",
			checks: map[string]CheckFunc{
				"rules":   RulesLoaded(loadedFlag(false)),
				"storage": AuditStorage(storage.NewMemoryStorage()),
			},
			wantStatus: StatusNotReady,
			wantFailed: []string{"rules"},
		},
		{
			name: "storage failing",
			checks: map[string]CheckFunc{
				"storage": AuditStorage(brokenStorage{}),
			},
			wantStatus: StatusNotReady,
			wantFailed: []string{"storage"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.Register(name, check)
			}

			r := c.Ready(context.Background())
			if r.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", r.Status, tt.wantStatus)
			}
			if len(r.Checks) != len(tt.checks) {
				t.Errorf("len(Checks) = %d, want %d", len(r.Checks), len(tt.checks))
			}
			for _, name := range tt.wantFailed {
				if r.Checks[name].Status != StatusFailing || r.Checks[name].Message == "" {
					t.Errorf("check %q = %+v, want failing with message", name, r.Checks[name])
				}
			}
		})
	}
}

func TestChecker_ReadyTimeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return nil
	})

	start := time.Now()
	r := c.Ready(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Ready() took %v, want it bounded by the check timeout", elapsed)
	}
	if r.Checks["slow"].Message != ErrCheckTimeout.Error() {
		t.Errorf("slow check = %+v, want timeout", r.Checks["slow"])
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	c.Register("rules", RulesLoaded(loadedFlag(false)))

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		method   string
		wantCode int
		wantBody bool
	}{
		{"live", c.LiveHandler(), http.MethodGet, http.StatusOK, true},
		{"live head", c.LiveHandler(), http.MethodHead, http.StatusOK, false},
		{"ready failing", c.ReadyHandler(), http.MethodGet, http.StatusServiceUnavailable, true},
		{"ready post", c.ReadyHandler(), http.MethodPost, http.StatusMethodNotAllowed, true},
		{"version", VersionHandler(BuildInfo{Version: "1.2.3"}), http.MethodGet, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(tt.method, "/", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Body.Len() > 0; got != tt.wantBody {
				t.Errorf("body present = %v, want %v", got, tt.wantBody)
			}
		})
	}
}

func TestVersionHandler_FillsGoVersion(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(BuildInfo{Version: "dev"})(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info BuildInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if info.Version != "dev" || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}
