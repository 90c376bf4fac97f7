package main

import (
	"encoding/json"
	"strings"
	"testing"
)

const adminFixture = `id: tx-admin
fields:
  - name: REQUEST_URI
    value: /admin
`

const homeFixture = `id: tx-home
fields:
  - name: REQUEST_URI
    value: /
`

func TestEvalCommand(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "main.rules", adminRules)
	admin := writeFile(t, dir, "admin.yaml", adminFixture)
	home := writeFile(t, dir, "home.yaml", homeFixture)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  []string
	}{
		{
			name:     "blocked and allowed",
			args:     []string{"eval", "--rules", rules, admin, home},
			wantCode: 0,
			wantOut: []string{
				admin + " [tx:tx-admin] BLOCKED by block-admin",
				home + " [tx:tx-home] ALLOWED",
				"flags: admin",
				"2 transactions, 1 blocked",
			},
		},
		{
			name:     "fail on block",
			args:     []string{"eval", "-r", rules, "--fail-on-block", admin},
			wantCode: 2,
			wantOut:  []string{"BLOCKED"},
		},
		{
			name:     "fail on block with nothing blocked",
			args:     []string{"eval", "-r", rules, "--fail-on-block", home},
			wantCode: 0,
			wantOut:  []string{"ALLOWED"},
		},
		{
			name:     "no rules",
			args:     []string{"eval", admin},
			wantCode: 1,
		},
		{
			name:     "missing fixture",
			args:     []string{"eval", "-r", rules, dir + "/missing.yaml"},
			wantCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCLI(t, tt.args...)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d\nstdout: %s\nstderr: %s", code, tt.wantCode, out, errOut)
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out, want) {
					t.Errorf("stdout missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestEvalCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	rules := writeFile(t, dir, "main.rules", adminRules)
	admin := writeFile(t, dir, "admin.yaml", adminFixture)

	code, out, errOut := runCLI(t, "eval", "--format", "json", "-r", rules, admin)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}

	var report EvalReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if report.Blocked != 1 || len(report.Transactions) != 1 {
		t.Fatalf("report = %+v", report)
	}
	res := report.Transactions[0]
	if res.Fixture != admin || res.TxID != "tx-admin" || !res.Blocked {
		t.Errorf("result = %+v", res)
	}
	if res.Verdict == nil || res.Verdict.RuleID != "block-admin" {
		t.Errorf("verdict = %+v", res.Verdict)
	}
	if len(res.Phases) == 0 {
		t.Error("expected phase summaries")
	}
}
