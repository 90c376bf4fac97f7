package manager

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 5; i++ {
		n := int32(i)
		d.Trigger(func() {
			calls.Add(1)
			last.Store(n)
		})
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	if calls.Load() != 1 || last.Load() != 5 {
		t.Errorf("calls=%d last=%d, want 1 call with the last callback", calls.Load(), last.Load())
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(80 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("calls = %d after Stop, want 0", calls.Load())
	}
}

func TestFileWatcher_ShouldProcessEvent(t *testing.T) {
	fw, err := NewFileWatcher(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()

	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/r/main.rules", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/r/check.JS", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/r/main.rules", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/r/.main.rules.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/r/notes.txt", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := fw.shouldProcessEvent(tt.event); got != tt.want {
			t.Errorf("shouldProcessEvent(%v) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestWatchDirs(t *testing.T) {
	got := WatchDirs([]string{"/a/x.rules", "/b/y.rules", "/a/z.rules"})
	if len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Errorf("WatchDirs() = %v", got)
	}
}
