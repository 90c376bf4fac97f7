package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/A-new/ironbee/pkg/cli"
	"github.com/A-new/ironbee/pkg/config"
	"github.com/A-new/ironbee/pkg/rule/directive"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/rule/manager"
	"github.com/A-new/ironbee/pkg/script"
)

var checkFlags struct {
	format   string
	failFast bool
}

var checkCmd = &cobra.Command{
	Use:   "check [FILE|GLOB]...",
	Short: "Validate rules files",
	Long: `Parse rules files and register their rules into a scratch engine.

Each file is checked on its own. With no arguments the files listed under
rules.files in the configuration are checked. Every failing directive is
reported unless --fail-fast is given.

Examples:
  # Check a directory of rules
  ironbee check 'rules/*.rules'

  # JSON output for CI
  ironbee check --format json rules/main.rules`,
	RunE: checkRules,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json")
	checkCmd.Flags().BoolVar(&checkFlags.failFast, "fail-fast", false, "stop each file at its first failing directive")
}

// CheckResult is the outcome of checking one rules file.
type CheckResult struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Rules    int      `json:"rules"`
	Contexts []string `json:"contexts,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// CheckReport is the output of the check command.
type CheckReport struct {
	Files   []CheckResult `json:"files"`
	Valid   bool          `json:"valid"`
	Rules   int           `json:"rules"`
	Invalid int           `json:"invalid"`
}

// Text implements cli.Texter.
func (r CheckReport) Text() string {
	var b strings.Builder
	for _, f := range r.Files {
		if f.Valid {
			fmt.Fprintf(&b, "OK    %s (%d rules)\n", f.File, f.Rules)
			continue
		}
		fmt.Fprintf(&b, "FAIL  %s (%d errors)\n", f.File, len(f.Errors))
		for _, e := range f.Errors {
			fmt.Fprintf(&b, "      %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%d files, %d rules, %d invalid\n", len(r.Files), r.Rules, r.Invalid)
	return b.String()
}

func checkRules(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(checkFlags.format, cli.FormatText, cli.FormatJSON)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg.Telemetry.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	patterns := args
	if len(patterns) == 0 {
		patterns = cfg.Rules.Files
	}
	if len(patterns) == 0 {
		return cli.NewConfigError("rules.files", "no rules files given")
	}
	files, err := manager.ExpandFiles(patterns)
	if err != nil {
		return err
	}

	report := CheckReport{Valid: true}
	for _, f := range files {
		res := checkFile(cfg, f, logger.Logger)
		report.Files = append(report.Files, res)
		report.Rules += res.Rules
		if !res.Valid {
			report.Valid = false
			report.Invalid++
		}
	}

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Valid {
		return &cli.ExitError{Code: 1, Silent: true, Err: fmt.Errorf("%d invalid rules files", report.Invalid)}
	}
	return nil
}

// checkFile loads path into a fresh engine built from cfg.
func checkFile(cfg *config.Config, path string, logger *slog.Logger) CheckResult {
	res := CheckResult{File: path}

	e, err := engine.NewEngine(cfg.Engine.EngineOptions(), logger)
	if err != nil {
		res.Errors = []string{err.Error()}
		return res
	}
	defer e.Close()

	var rt *script.Runtime
	if cfg.Scripting.Enabled {
		rt, err = script.NewRuntime(cfg.Scripting.RuntimeOptions(), logger, nil)
		if err != nil {
			res.Errors = []string{err.Error()}
			return res
		}
		defer rt.Close()
	}

	p := directive.NewParser(e, rt, logger)
	p.ContinueOnError = !checkFlags.failFast
	if err := p.LoadFile(path); err != nil {
		for _, leaf := range flattenErrors(err) {
			res.Errors = append(res.Errors, leaf.Error())
		}
	}
	res.Rules = e.RuleCount()
	res.Contexts = e.ContextNames()
	res.Valid = len(res.Errors) == 0
	return res
}

// flattenErrors expands errors.Join trees into their leaves.
func flattenErrors(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, flattenErrors(e)...)
	}
	return out
}
