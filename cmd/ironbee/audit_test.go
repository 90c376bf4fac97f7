package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/audit/storage"
)

// seedAudit creates a pure-Go SQLite database holding one stale record and
// two recent records of transaction tx-1.
func seedAudit(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := storage.Open(storage.Options{Backend: storage.DriverPureGo, Path: path}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	now := time.Now()
	records := []*audit.Record{
		{ID: "r-old", TxID: "tx-0", Context: "main", RuleID: "mark-admin", Phase: "REQUEST_HEADER",
			Operator: "contains", Outcome: audit.OutcomeFalse, Time: now.AddDate(0, 0, -40)},
		{ID: "r-1", TxID: "tx-1", Context: "main", RuleID: "mark-admin", Phase: "REQUEST_HEADER",
			Operator: "contains", Outcome: audit.OutcomeTrue, Actions: []string{"setflag"}, Time: now.Add(-2 * time.Minute)},
		{ID: "r-2", TxID: "tx-1", Context: "main", RuleID: "block-admin", Phase: "REQUEST_HEADER",
			Operator: "streq", Outcome: audit.OutcomeTrue, Actions: []string{"block"}, Blocked: true, Time: now.Add(-time.Minute)},
	}
	for _, r := range records {
		r.RecordedTime = r.Time
		if err := store.Store(context.Background(), r); err != nil {
			t.Fatalf("Store(%s) error = %v", r.ID, err)
		}
	}
	return path
}

func TestAuditQuery(t *testing.T) {
	db := seedAudit(t)

	code, out, errOut := runCLI(t, "audit", "query", "--path", db, "--tx", "tx-1", "--format", "json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	var list RecordList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if list.Total != 2 || len(list.Records) != 2 {
		t.Fatalf("total=%d records=%d, want 2/2", list.Total, len(list.Records))
	}
	if list.Records[0].ID != "r-2" {
		t.Errorf("default order should be newest first, got %s", list.Records[0].ID)
	}

	code, out, _ = runCLI(t, "audit", "query", "--path", db, "--outcome", "blocked")
	if code != 0 || !strings.Contains(out, "Matching records: 1") || !strings.Contains(out, "BLOCKED") {
		t.Errorf("text query: code=%d out=%q", code, out)
	}

	code, _, errOut = runCLI(t, "audit", "query", "--path", db, "--since", "1h", "--time-range", "a/b")
	if code != 1 || !strings.Contains(errOut, "mutually exclusive") {
		t.Errorf("conflicting filters: code=%d stderr=%q", code, errOut)
	}
}

func TestAuditExport(t *testing.T) {
	db := seedAudit(t)
	out := filepath.Join(t.TempDir(), "audit.csv")

	code, stdout, errOut := runCLI(t, "audit", "export", "--path", db, "--format", "csv", "--output", out)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if stdout != "" {
		t.Errorf("stdout should be empty with --output, got %q", stdout)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d CSV lines, want header + 3:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[1], "r-old") || !strings.Contains(lines[3], "r-2") {
		t.Errorf("export should be oldest first:\n%s", data)
	}

	code, stdout, _ = runCLI(t, "audit", "export", "--path", db, "--rule", "block-admin")
	if code != 0 {
		t.Fatalf("json export exit code = %d", code)
	}
	var records []*audit.Record
	if err := json.Unmarshal([]byte(stdout), &records); err != nil {
		t.Fatalf("invalid JSON export %q: %v", stdout, err)
	}
	if len(records) != 1 || records[0].ID != "r-2" {
		t.Errorf("records = %+v", records)
	}
}

func TestAuditPrune(t *testing.T) {
	db := seedAudit(t)

	code, out, errOut := runCLI(t, "audit", "prune", "--path", db, "--days", "30", "--dry-run")
	if code != 0 || !strings.Contains(out, "Would delete 1 records") {
		t.Fatalf("dry run: code=%d out=%q stderr=%q", code, out, errOut)
	}

	code, out, _ = runCLI(t, "audit", "prune", "--path", db, "--days", "30", "--max-records", "1")
	if code != 0 || !strings.Contains(out, "Deleted 2 records") {
		t.Fatalf("prune: code=%d out=%q", code, out)
	}

	code, out, _ = runCLI(t, "audit", "query", "--path", db, "--format", "json")
	if code != 0 {
		t.Fatalf("query exit code = %d", code)
	}
	var list RecordList
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || list.Records[0].ID != "r-2" {
		t.Errorf("after prune total=%d records=%+v", list.Total, list.Records)
	}
}

func TestAuditUnknownBackend(t *testing.T) {
	code, _, errOut := runCLI(t, "audit", "query", "--backend", "bogus")
	if code != 1 || !strings.Contains(errOut, "bogus") {
		t.Errorf("code=%d stderr=%q", code, errOut)
	}
}
