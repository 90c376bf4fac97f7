package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/audit/storage"
	"github.com/A-new/ironbee/pkg/rule/engine"
)

type countingMetrics struct {
	mu      sync.Mutex
	writes  int
	errors  int
	dropped int
}

func (m *countingMetrics) RecordWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err != nil {
		m.errors++
	}
}

func (m *countingMetrics) RecordDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

// blockingStorage blocks Store until release is closed.
type blockingStorage struct {
	*storage.MemoryStorage
	release chan struct{}
}

func (s *blockingStorage) Store(ctx context.Context, r *audit.Record) error {
	<-s.release
	return s.MemoryStorage.Store(ctx, r)
}

type failingStorage struct{ *storage.MemoryStorage }

func (failingStorage) Store(context.Context, *audit.Record) error { return errors.New("disk full") }

func TestNewRecord(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		ev      engine.RuleEvent
		outcome string
		errText string
	}{
		{"true", engine.RuleEvent{RuleID: "a", Result: true}, audit.OutcomeTrue, ""},
		{"false", engine.RuleEvent{RuleID: "b"}, audit.OutcomeFalse, ""},
		{"error wins", engine.RuleEvent{RuleID: "c", Result: true, Err: errors.New("boom")}, audit.OutcomeError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Phase = engine.PhaseRequestHeader
			tt.ev.Time = now
			r := NewRecord(tt.ev)
			if r.Outcome != tt.outcome || r.Error != tt.errText {
				t.Errorf("Outcome/Error = %q/%q, want %q/%q", r.Outcome, r.Error, tt.outcome, tt.errText)
			}
			if r.ID == "" || r.Phase != engine.PhaseRequestHeader.String() || !r.Time.Equal(now) {
				t.Errorf("record = %+v", r)
			}
		})
	}
}

func TestRecorder_WritesAndDrainsOnClose(t *testing.T) {
	store := storage.NewMemoryStorage()
	m := &countingMetrics{}
	rec := NewRecorder(store, &Config{AsyncBuffer: 10, WriteTimeout: time.Second}, nil, m)

	for _, id := range []string{"r1", "r2", "r3"} {
		rec.ObserveRule(context.Background(), engine.RuleEvent{TxID: "tx", RuleID: id, Result: true, Actions: []string{"block"}})
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if store.Size() != 3 {
		t.Fatalf("stored %d records, want 3", store.Size())
	}
	if m.writes != 3 || m.errors != 0 {
		t.Errorf("metrics writes/errors = %d/%d", m.writes, m.errors)
	}

	// Events after Close are dropped.
	rec.ObserveRule(context.Background(), engine.RuleEvent{RuleID: "late"})
	if m.dropped != 1 || store.Size() != 3 {
		t.Errorf("dropped = %d, size = %d after close", m.dropped, store.Size())
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestRecorder_MatchesOnly(t *testing.T) {
	store := storage.NewMemoryStorage()
	rec := NewRecorder(store, &Config{AsyncBuffer: 10, MatchesOnly: true}, nil, nil)

	rec.ObserveRule(context.Background(), engine.RuleEvent{RuleID: "miss"})
	rec.ObserveRule(context.Background(), engine.RuleEvent{RuleID: "hit", Result: true})
	rec.ObserveRule(context.Background(), engine.RuleEvent{RuleID: "err", Err: errors.New("x")})
	rec.Close()

	got, _ := store.Query(context.Background(), &audit.Query{SortBy: "rule_id", SortOrder: "asc"})
	if len(got) != 2 || got[0].RuleID != "err" || got[1].RuleID != "hit" {
		t.Errorf("recorded = %+v", got)
	}
}

func TestRecorder_FullQueueDropsWithoutBlocking(t *testing.T) {
	bs := &blockingStorage{MemoryStorage: storage.NewMemoryStorage(), release: make(chan struct{})}
	m := &countingMetrics{}
	rec := NewRecorder(bs, &Config{AsyncBuffer: 1, WriteTimeout: time.Second}, nil, m)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			rec.ObserveRule(context.Background(), engine.RuleEvent{RuleID: "r"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ObserveRule blocked on a full queue")
	}

	close(bs.release)
	rec.Close()

	// At most one record in flight plus one queued.
	if m.dropped < 8 {
		t.Errorf("dropped = %d, want >= 8", m.dropped)
	}
	if got := bs.Size() + m.dropped; got != 10 {
		t.Errorf("stored + dropped = %d, want 10", got)
	}
}

func TestRecorder_StoreErrorCounted(t *testing.T) {
	m := &countingMetrics{}
	rec := NewRecorder(failingStorage{storage.NewMemoryStorage()}, nil, nil, m)
	rec.ObserveRule(context.Background(), engine.RuleEvent{RuleID: "r", Result: true})
	rec.Close()

	if m.writes != 1 || m.errors != 1 {
		t.Errorf("writes/errors = %d/%d, want 1/1", m.writes, m.errors)
	}
}
