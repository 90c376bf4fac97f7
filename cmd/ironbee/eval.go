package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/A-new/ironbee/pkg/cli"
	"github.com/A-new/ironbee/pkg/rule/manager"
	"github.com/A-new/ironbee/pkg/telemetry/logging"
	"github.com/A-new/ironbee/pkg/tx"
)

var evalFlags struct {
	rules       []string
	format      string
	failOnBlock bool
}

var evalCmd = &cobra.Command{
	Use:   "eval FIXTURE...",
	Short: "Evaluate transaction fixtures",
	Long: `Run YAML transaction fixtures through every lifecycle phase and print
the resulting verdict, variables, flags and events.

A fixture looks like:

  id: tx-1
  context: main
  fields:
    - name: REQUEST_URI
      value: /admin
    - name: ARGS
      items:
        - {name: user, value: alice}
  request_body: ["chunk one", "chunk two"]

Examples:
  # Evaluate with the rules from the config file
  ironbee eval --config ironbee.yaml fixtures/admin.yaml

  # Evaluate against specific rules, failing if any transaction is blocked
  ironbee eval --rules 'rules/*.rules' --fail-on-block fixtures/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: evalFixtures,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringSliceVarP(&evalFlags.rules, "rules", "r", nil, "rules files or globs (default: rules.files from config)")
	evalCmd.Flags().StringVar(&evalFlags.format, "format", "text", "output format: text, json")
	evalCmd.Flags().BoolVar(&evalFlags.failOnBlock, "fail-on-block", false, "exit with status 2 if any transaction is blocked")
}

// EvalReport is the output of the eval command.
type EvalReport struct {
	Transactions []EvalResult `json:"transactions"`
	Blocked      int          `json:"blocked"`
}

// EvalResult pairs a fixture with its outcome.
type EvalResult struct {
	Fixture string `json:"fixture"`
	manager.Outcome
}

// Text implements cli.Texter.
func (r EvalReport) Text() string {
	var b strings.Builder
	for _, res := range r.Transactions {
		verdict := "ALLOWED"
		if res.Verdict != nil {
			verdict = fmt.Sprintf("BLOCKED by %s", res.Verdict.RuleID)
			if res.Verdict.Reason != "" {
				verdict += fmt.Sprintf(" (%s)", res.Verdict.Reason)
			}
		}
		fmt.Fprintf(&b, "%s [tx:%s] %s\n", res.Fixture, res.TxID, verdict)
		for _, p := range res.Phases {
			if p.Groups == 0 {
				continue
			}
			fmt.Fprintf(&b, "  %-16s groups=%d rules=%d matched=%v errors=%d\n",
				p.Phase, p.Groups, p.Rules, p.Matched, p.Errors)
		}
		for _, ev := range res.Events {
			fmt.Fprintf(&b, "  event %s: %s\n", ev.RuleID, ev.Message)
		}
		if len(res.Flags) > 0 {
			fmt.Fprintf(&b, "  flags: %s\n", strings.Join(res.Flags, ", "))
		}
		if res.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", res.Error)
		}
	}
	fmt.Fprintf(&b, "\n%d transactions, %d blocked\n", len(r.Transactions), r.Blocked)
	return b.String()
}

func evalFixtures(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(evalFlags.format, cli.FormatText, cli.FormatJSON)
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

	if len(evalFlags.rules) == 0 && len(cfg.Rules.Files) == 0 {
		return cli.NewConfigError("rules.files", "no rules files given (use --rules or the config file)")
	}
	m, err := newManager(cfg, evalFlags.rules, logger.Logger, instrumentation{})
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Load(); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	var tally *cli.Tally
	if len(args) > 1 && format == cli.FormatText {
		tally = cli.NewTally(cmd.ErrOrStderr(), len(args))
	}

	report := EvalReport{}
	for _, path := range args {
		res, err := evalFixture(cmd.Context(), m, path)
		if err != nil {
			if tally != nil {
				tally.Abort(path, err)
			}
			return err
		}
		if res.Blocked {
			report.Blocked++
		}
		report.Transactions = append(report.Transactions, res)
		if tally != nil {
			tally.Record(res.Blocked)
		}
	}
	if tally != nil {
		tally.Done()
	}

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if evalFlags.failOnBlock && report.Blocked > 0 {
		return &cli.ExitError{Code: 2, Silent: true, Err: fmt.Errorf("%d transactions blocked", report.Blocked)}
	}
	return nil
}

func evalFixture(ctx context.Context, m *manager.Manager, path string) (EvalResult, error) {
	spec, err := tx.LoadSpecFile(path)
	if err != nil {
		return EvalResult{}, fmt.Errorf("%s: %w", path, err)
	}
	t, err := spec.Build()
	if err != nil {
		return EvalResult{}, fmt.Errorf("%s: %w", path, err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithConfigContext(logging.WithTxID(ctx, t.ID()), t.Context())

	results, err := m.EvaluateAll(ctx, t)
	return EvalResult{Fixture: path, Outcome: manager.Summarize(t, results, err)}, nil
}
