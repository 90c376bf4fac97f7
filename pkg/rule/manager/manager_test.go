package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/A-new/ironbee/pkg/field"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/script"
	"github.com/A-new/ironbee/pkg/tx"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestManager(t *testing.T, files ...string) *Manager {
	t.Helper()
	sc := script.DefaultConfig()
	m, err := NewManager(Options{
		Files:      files,
		Engine:     engine.DefaultConfig(),
		Script:     &sc,
		SealOnLoad: true,
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func adminTx() *tx.Transaction {
	t := tx.New("")
	t.Set(field.NewNulStr("REQUEST_URI", "/admin"))
	return t
}

const blockAdmin = `Rule REQUEST_URI "@streq /admin" id:block-admin phase:REQUEST_HEADER block` + "\n"

func TestManager_LoadAndEvaluate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "10-admin.rules"), blockAdmin)
	writeFile(t, filepath.Join(dir, "20-flag.rules"),
		`Rule REQUEST_URI "@contains adm" id:flag-admin phase:REQUEST_HEADER setflag:admin`+"\n")

	m := newTestManager(t, filepath.Join(dir, "*.rules"))
	if _, err := m.Evaluate(context.Background(), adminTx(), engine.PhaseRequestHeader); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Evaluate() before Load = %v, want ErrNotLoaded", err)
	}
	if err := m.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	tr := adminTx()
	res, err := m.Evaluate(context.Background(), tr, engine.PhaseRequestHeader)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !res.Matched || !tr.Blocked() || !tr.HasFlag("admin") {
		t.Errorf("matched=%v blocked=%v flag=%v", res.Matched, tr.Blocked(), tr.HasFlag("admin"))
	}

	st := m.Status()
	if st.Rules != 2 || len(st.Files) != 2 || st.Reloads != 0 || st.LastError != "" {
		t.Errorf("Status() = %+v", st)
	}
	if filepath.Base(st.Files[0]) != "10-admin.rules" {
		t.Errorf("files not in sorted order: %v", st.Files)
	}
}

func TestManager_FailedReloadKeepsPreviousSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.rules")
	writeFile(t, path, blockAdmin)

	m := newTestManager(t, path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	writeFile(t, path, "Rule REQUEST_URI @nosuchop id:bad phase:REQUEST_HEADER\n")
	if err := m.Reload(); err == nil {
		t.Fatal("Reload() with a bad rule should fail")
	}
	st := m.Status()
	if st.LastError == "" || st.Rules != 1 {
		t.Errorf("Status() after failed reload = %+v", st)
	}

	tr := adminTx()
	if _, err := m.Evaluate(context.Background(), tr, engine.PhaseRequestHeader); err != nil || !tr.Blocked() {
		t.Errorf("previous rules not active: err=%v blocked=%v", err, tr.Blocked())
	}

	writeFile(t, path, `Rule REQUEST_URI "@streq /other" id:other phase:REQUEST_HEADER block`+"\n")
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	tr = adminTx()
	m.Evaluate(context.Background(), tr, engine.PhaseRequestHeader)
	if tr.Blocked() {
		t.Error("old rule still active after reload")
	}
	if st := m.Status(); st.Reloads != 1 || st.LastError != "" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestManager_ConcurrentEvaluateDuringReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.rules")
	writeFile(t, path, blockAdmin)

	m := newTestManager(t, path)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	var failures atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tr := adminTx()
				if _, err := m.Evaluate(context.Background(), tr, engine.PhaseRequestHeader); err != nil || !tr.Blocked() {
					failures.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if err := m.Reload(); err != nil {
			t.Errorf("Reload() failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Errorf("%d evaluations failed during reload", n)
	}
}

func TestManager_EvaluateAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.rules")
	writeFile(t, path, blockAdmin+
		`Rule REQUEST_URI "@streq /admin" id:log phase:POSTPROCESS setvar:seen=1`+"\n")

	m := newTestManager(t, path)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}
	tr := adminTx()
	results, err := m.EvaluateAll(context.Background(), tr)
	if err != nil {
		t.Fatalf("EvaluateAll() failed: %v", err)
	}
	if len(results) != len(engine.LifecyclePhases()) {
		t.Errorf("results = %d, want %d", len(results), len(engine.LifecyclePhases()))
	}
	if v, _ := tr.Var("seen"); v != "1" || !tr.Blocked() {
		t.Errorf("seen=%q blocked=%v", v, tr.Blocked())
	}
}

func TestExpandFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.rules"), "")
	writeFile(t, filepath.Join(dir, "a.rules"), "")

	got, err := ExpandFiles([]string{filepath.Join(dir, "b.rules"), filepath.Join(dir, "*.rules")})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || filepath.Base(got[0]) != "b.rules" || filepath.Base(got[1]) != "a.rules" {
		t.Errorf("ExpandFiles() = %v", got)
	}
	if _, err := ExpandFiles([]string{filepath.Join(dir, "*.missing")}); err == nil {
		t.Error("pattern without matches should fail")
	}
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(Options{Engine: engine.DefaultConfig()}, nil); err == nil {
		t.Error("NewManager() without files should fail")
	}
}

func TestManager_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.rules")
	writeFile(t, path, `Rule REQUEST_URI "@streq /other" id:other phase:REQUEST_HEADER block`+"\n")

	m := newTestManager(t, path)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, blockAdmin)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status().Reloads > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	tr := adminTx()
	m.Evaluate(context.Background(), tr, engine.PhaseRequestHeader)
	if !tr.Blocked() {
		t.Error("rules not reloaded after file change")
	}
}

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "admin.rules"), blockAdmin+
		`Rule REQUEST_URI "@contains adm" id:mark phase:REQUEST_HEADER setvar:seen=1 setflag:admin`+"\n")

	m := newTestManager(t, filepath.Join(dir, "admin.rules"))
	if err := m.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	tr := adminTx()
	results, err := m.EvaluateAll(context.Background(), tr)
	out := Summarize(tr, results, err)

	if out.TxID != tr.ID() || out.Context != tx.DefaultContext {
		t.Errorf("TxID=%q Context=%q", out.TxID, out.Context)
	}
	if !out.Blocked || out.Verdict == nil || out.Verdict.RuleID != "block-admin" {
		t.Errorf("Blocked=%v Verdict=%+v", out.Blocked, out.Verdict)
	}
	if out.Vars["seen"] != "1" || len(out.Flags) != 1 || out.Flags[0] != "admin" {
		t.Errorf("Vars=%v Flags=%v", out.Vars, out.Flags)
	}
	if len(out.Phases) != len(engine.LifecyclePhases()) {
		t.Fatalf("len(Phases) = %d, want %d", len(out.Phases), len(engine.LifecyclePhases()))
	}
	if first := out.Phases[0]; first.Phase != engine.PhaseRequestHeader.String() || !first.Matched || first.Rules != 2 {
		t.Errorf("Phases[0] = %+v", first)
	}
	if out.Error != "" {
		t.Errorf("Error = %q", out.Error)
	}

	withErr := Summarize(tx.New(""), nil, errors.New("boom"))
	if withErr.Error != "boom" || withErr.Verdict != nil || withErr.Vars != nil {
		t.Errorf("Summarize() with error = %+v", withErr)
	}
}
