package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestLimiter_TokenBucket(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 2, Burst: 3})
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if ok, _ := l.allowAt("10.0.0.1", now); !ok {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	ok, retry := l.allowAt("10.0.0.1", now)
	if ok {
		t.Fatal("request past burst allowed")
	}
	if retry <= 0 || retry > time.Second {
		t.Errorf("retry = %v, want (0, 1s]", retry)
	}

	if ok, _ := l.allowAt("10.0.0.2", now); !ok {
		t.Error("other client shares the bucket")
	}
	if ok, _ := l.allowAt("10.0.0.1", now.Add(500*time.Millisecond)); !ok {
		t.Error("refilled token not available after 500ms at 2/s")
	}
}

func TestLimiter_RejectedRequestsDoNotConsume(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1})
	now := time.Unix(1700000000, 0)

	l.allowAt("c", now)
	for i := 0; i < 5; i++ {
		l.allowAt("c", now)
	}
	if ok, _ := l.allowAt("c", now.Add(time.Second)); !ok {
		t.Error("rejected requests pushed the next token further out")
	}
}

func TestLimiter_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantBurst int
	}{
		{"fractional rate", Config{RequestsPerSecond: 0.5}, 1},
		{"rounds up", Config{RequestsPerSecond: 2.5}, 3},
		{"explicit", Config{RequestsPerSecond: 2, Burst: 7}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewLimiter(tt.cfg).burst; got != tt.wantBurst {
				t.Errorf("burst = %d, want %d", got, tt.wantBurst)
			}
		})
	}

	off := NewLimiter(Config{})
	if off.Config().Enabled() {
		t.Error("zero config reports enabled")
	}
	for i := 0; i < 100; i++ {
		if ok, _ := off.Allow("c"); !ok || !off.Acquire() {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestLimiter_MaxClientsEvicts(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, MaxClients: 2})
	for _, c := range []string{"a", "b", "c"} {
		l.Allow(c)
	}
	if l.Clients() != 2 {
		t.Errorf("Clients() = %d, want 2", l.Clients())
	}
}

func TestConcurrentLimiter(t *testing.T) {
	c := NewConcurrentLimiter(2)
	if !c.Acquire() || !c.Acquire() {
		t.Fatal("free slots not granted")
	}
	if c.Acquire() {
		t.Fatal("third slot granted")
	}
	c.Release()
	if c.InFlight() != 1 || !c.Acquire() {
		t.Errorf("released slot not reusable, in flight %d", c.InFlight())
	}
	c.Release()
	c.Release()
	c.Release()
	if c.InFlight() != 0 {
		t.Errorf("over-release left %d in flight", c.InFlight())
	}
}

func TestMiddleware(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, Burst: 2})
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		addr string
		want int
	}{
		{"192.0.2.1:4000", http.StatusOK},
		{"192.0.2.1:4001", http.StatusOK},
		{"192.0.2.1:4002", http.StatusTooManyRequests},
		{"192.0.2.9:4000", http.StatusOK},
	}
	for _, tt := range tests {
		rec := send(tt.addr)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.addr, rec.Code, tt.want)
		}
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "1" {
			t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
	}
}

func TestMiddleware_Concurrency(t *testing.T) {
	l := NewLimiter(Config{MaxConcurrent: 1})
	release := make(chan struct{})
	entered := make(chan struct{})
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/evaluate", nil))
	}()
	<-entered

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second in-flight request status = %d, want 429", rec.Code)
	}

	close(release)
	wg.Wait()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/evaluate", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("request after release status = %d", rec.Code)
	}
}
