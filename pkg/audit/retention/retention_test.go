package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/audit/storage"
)

func seedAges(t *testing.T, s audit.Storage, now time.Time, ages ...time.Duration) {
	t.Helper()
	for i, age := range ages {
		r := &audit.Record{ID: fmt.Sprintf("r%d", i), RuleID: "rule", Outcome: audit.OutcomeTrue, Time: now.Add(-age)}
		if err := s.Store(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPruner_Prune(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name        string
		config      Config
		ages        []time.Duration
		wantDeleted int64
		wantLeft    []string
	}{
		{"keep forever", Config{}, []time.Duration{100 * day, day}, 0, []string{"r0", "r1"}},
		{"by age", Config{RetentionDays: 30}, []time.Duration{40 * day, 31 * day, day}, 2, []string{"r2"}},
		{"by count", Config{MaxRecords: 2}, []time.Duration{3 * time.Hour, 2 * time.Hour, time.Hour, 0}, 2, []string{"r2", "r3"}},
		{"count within limit", Config{MaxRecords: 5}, []time.Duration{time.Hour}, 0, []string{"r0"}},
		{"age then count", Config{RetentionDays: 1, MaxRecords: 1}, []time.Duration{2 * day, 3 * time.Hour, time.Hour}, 2, []string{"r2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storage.NewMemoryStorage()
			now := time.Now()
			seedAges(t, s, now, tt.ages...)

			cfg := tt.config
			p := NewPruner(s, &cfg, nil)
			p.now = func() time.Time { return now }

			deleted, err := p.Prune(context.Background())
			if err != nil {
				t.Fatalf("Prune() failed: %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("deleted = %d, want %d", deleted, tt.wantDeleted)
			}

			left, _ := s.Query(context.Background(), &audit.Query{SortBy: "time", SortOrder: "desc"})
			var ids []string
			for i := len(left) - 1; i >= 0; i-- {
				ids = append(ids, left[i].ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.wantLeft) {
				t.Errorf("remaining = %v, want %v", ids, tt.wantLeft)
			}
		})
	}
}

func TestPruner_ArchivesBeforeDelete(t *testing.T) {
	s := storage.NewMemoryStorage()
	now := time.Now()
	seedAges(t, s, now, 10*24*time.Hour, 9*24*time.Hour, time.Hour)

	dir := filepath.Join(t.TempDir(), "archive")
	p := NewPruner(s, &Config{RetentionDays: 7, ArchiveDir: dir}, nil)
	p.now = func() time.Time { return now }

	if _, err := p.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "audit-age-*.json"))
	if len(files) != 1 {
		t.Fatalf("archive files = %v", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var archived []audit.Record
	if err := json.Unmarshal(data, &archived); err != nil {
		t.Fatalf("archive is not JSON: %v", err)
	}
	if len(archived) != 2 || archived[0].ID != "r0" || archived[1].ID != "r1" {
		t.Errorf("archived = %+v", archived)
	}
	if s.Size() != 1 {
		t.Errorf("remaining = %d, want 1", s.Size())
	}
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{"daily", "0 3 * * *", true, false},
		{"empty schedule", "", false, false},
		{"invalid", "invalid cron", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPruner(storage.NewMemoryStorage(), &Config{Schedule: tt.schedule, RetentionDays: 30}, nil)
			s := NewScheduler(p)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning {
				next := s.NextRun()
				if next == nil || !next.After(time.Now()) {
					t.Errorf("NextRun() = %v, want a future time", next)
				}
				s.Stop()
				if s.IsRunning() {
					t.Error("still running after Stop()")
				}
			} else if s.NextRun() != nil {
				t.Error("NextRun() should be nil when not running")
			}
		})
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), &Config{Schedule: "@every 1h"}, nil)
	s := NewScheduler(p)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("scheduler still running after context cancel")
	}
}
