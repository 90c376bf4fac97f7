package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/audit/export"
	"github.com/A-new/ironbee/pkg/audit/retention"
	"github.com/A-new/ironbee/pkg/audit/storage"
	"github.com/A-new/ironbee/pkg/cli"
	"github.com/A-new/ironbee/pkg/config"
)

var auditFlags struct {
	backend   string
	path      string
	timeRange string
	since     time.Duration
	tx        string
	rule      string
	context   string
	phase     string
	outcome   string
	limit     int
	offset    int
	sortBy    string
	order     string
	output    string

	queryFormat  string
	exportFormat string

	days       int
	maxRecords int64
	archiveDir string
	dryRun     bool
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and maintain the audit trail",
	Long: `Query, export and prune the rule evaluation audit trail.

Subcommands:
  query   - Print matching records
  export  - Stream every matching record as JSON or CSV
  prune   - Apply the retention policy now

Storage settings come from the audit section of the configuration and can
be overridden with --backend and --path.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit records",
	Long: `Query audit records with filters.

Time Range Format:
  RFC3339 interval "start/end", or --since with a duration.

Examples:
  # Rules that fired for one transaction
  ironbee audit query --tx 3f1c... --outcome true

  # Records of blocked transactions in the last hour, as CSV
  ironbee audit query --outcome blocked --since 1h --format csv`,
	RunE: queryAudit,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records",
	Long: `Stream matching audit records as a JSON array or CSV with a header row.
Pagination flags are ignored; every matching record is written.

Examples:
  ironbee audit export --format csv --output audit.csv
  ironbee audit export --rule block-admin --since 24h`,
	RunE: exportAudit,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records outside the retention policy",
	Long: `Delete records older than the retention period, then the oldest records
beyond the record cap. Pruned records are archived as JSON first when an
archive directory is set.

Examples:
  ironbee audit prune --days 7
  ironbee audit prune --max-records 100000 --archive-dir /var/lib/ironbee/archive
  ironbee audit prune --days 7 --dry-run`,
	RunE: pruneAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditExportCmd, auditPruneCmd)

	auditCmd.PersistentFlags().StringVar(&auditFlags.backend, "backend", "", "backend: sqlite, sqlite3, memory (default: audit.backend)")
	auditCmd.PersistentFlags().StringVar(&auditFlags.path, "path", "", "database path (default: audit.path)")

	for _, c := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		c.Flags().StringVar(&auditFlags.timeRange, "time-range", "", "time range (RFC3339 interval: start/end)")
		c.Flags().DurationVar(&auditFlags.since, "since", 0, "only records newer than this duration")
		c.Flags().StringVar(&auditFlags.tx, "tx", "", "filter by transaction id")
		c.Flags().StringVar(&auditFlags.rule, "rule", "", "filter by rule id")
		c.Flags().StringVar(&auditFlags.context, "context", "", "filter by configuration context")
		c.Flags().StringVar(&auditFlags.phase, "phase", "", "filter by phase name")
		c.Flags().StringVar(&auditFlags.outcome, "outcome", "", "filter by outcome: true, false, error, blocked")
		c.Flags().StringVarP(&auditFlags.output, "output", "o", "", "output file (default: stdout)")
	}
	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", audit.DefaultLimit, "max results")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "pagination offset")
	auditQueryCmd.Flags().StringVar(&auditFlags.sortBy, "sort", "time", "sort field: time, duration, rule_id")
	auditQueryCmd.Flags().StringVar(&auditFlags.order, "order", "desc", "sort order: asc, desc")
	auditQueryCmd.Flags().StringVar(&auditFlags.queryFormat, "format", "text", "output format: text, json, csv")
	auditExportCmd.Flags().StringVar(&auditFlags.exportFormat, "format", export.FormatJSON, "export format: json, csv")

	auditPruneCmd.Flags().IntVar(&auditFlags.days, "days", -1, "retention in days (default: audit.retention.days)")
	auditPruneCmd.Flags().Int64Var(&auditFlags.maxRecords, "max-records", -1, "record cap (default: audit.retention.max_records)")
	auditPruneCmd.Flags().StringVar(&auditFlags.archiveDir, "archive-dir", "", "archive pruned records here (default: audit.retention.archive_dir)")
	auditPruneCmd.Flags().BoolVar(&auditFlags.dryRun, "dry-run", false, "report what would be deleted without deleting")
}

// openAuditStorage opens the configured backend with flag overrides.
func openAuditStorage(cmd *cobra.Command) (audit.Storage, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cmd, cfg.Telemetry.Logging)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := cfg.Audit.StorageOptions()
	if auditFlags.backend != "" {
		opts.Backend = auditFlags.backend
	}
	if auditFlags.path != "" {
		opts.Path = auditFlags.path
	}
	store, err := storage.Open(opts, logger.Logger)
	if err != nil {
		_ = logger.Close()
		return nil, nil, nil, cli.NewCommandError("audit", err)
	}
	closeAll := func() {
		_ = store.Close()
		_ = logger.Close()
	}
	return store, cfg, closeAll, nil
}

// buildAuditQuery turns the filter flags into a query.
func buildAuditQuery(now time.Time) (*audit.Query, error) {
	q := &audit.Query{
		TxID:      auditFlags.tx,
		RuleID:    auditFlags.rule,
		Context:   auditFlags.context,
		Phase:     strings.ToUpper(auditFlags.phase),
		Outcome:   strings.ToLower(auditFlags.outcome),
		Limit:     auditFlags.limit,
		Offset:    auditFlags.offset,
		SortBy:    auditFlags.sortBy,
		SortOrder: auditFlags.order,
	}

	if auditFlags.timeRange != "" && auditFlags.since > 0 {
		return nil, fmt.Errorf("--time-range and --since are mutually exclusive")
	}
	if auditFlags.timeRange != "" {
		parts := strings.Split(auditFlags.timeRange, "/")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid time range format (expected: start/end)")
		}
		start, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid start time: %w", err)
		}
		end, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid end time: %w", err)
		}
		q.StartTime, q.EndTime = &start, &end
	}
	if auditFlags.since > 0 {
		start := now.Add(-auditFlags.since)
		q.StartTime = &start
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// openOutput returns the --output file, or w.
func openOutput(w io.Writer) (io.Writer, func() error, error) {
	if auditFlags.output == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(auditFlags.output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// RecordList is the output of audit query.
type RecordList struct {
	Total   int64           `json:"total_records"`
	Records []*audit.Record `json:"records"`
}

// Text implements cli.Texter.
func (l RecordList) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Matching records: %d (showing %d)\n", l.Total, len(l.Records))
	if len(l.Records) == 0 {
		b.WriteString("No records found.\n")
		return b.String()
	}
	b.WriteString("\n")
	for _, r := range l.Records {
		fmt.Fprintf(&b, "%s  [tx:%s] %s/%s rule=%s op=%s outcome=%s",
			r.Time.UTC().Format(time.RFC3339), r.TxID, r.Context, r.Phase, r.RuleID, r.Operator, r.Outcome)
		if len(r.Actions) > 0 {
			fmt.Fprintf(&b, " actions=%s", strings.Join(r.Actions, ","))
		}
		if r.Blocked {
			b.WriteString(" BLOCKED")
		}
		if r.Error != "" {
			fmt.Fprintf(&b, " error=%q", r.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Header implements cli.Tabular.
func (l RecordList) Header() []string { return export.Header }

// Rows implements cli.Tabular.
func (l RecordList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Records))
	for _, r := range l.Records {
		rows = append(rows, export.Row(r))
	}
	return rows
}

func queryAudit(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(auditFlags.queryFormat, cli.FormatText, cli.FormatJSON, cli.FormatCSV)
	if err != nil {
		return err
	}
	q, err := buildAuditQuery(time.Now())
	if err != nil {
		return err
	}
	store, _, closeAll, err := openAuditStorage(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	ctx := commandContext(cmd)
	total, err := store.Count(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	records, err := store.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}

	w, closeOut, err := openOutput(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()
	return cli.NewFormatter(format).FormatTo(w, RecordList{Total: total, Records: records})
}

func exportAudit(cmd *cobra.Command, args []string) error {
	exp, err := export.New(auditFlags.exportFormat)
	if err != nil {
		return err
	}
	q, err := buildAuditQuery(time.Now())
	if err != nil {
		return err
	}
	q.SortOrder = "asc"

	store, _, closeAll, err := openAuditStorage(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	w, closeOut, err := openOutput(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := export.StreamAll(commandContext(cmd), store, q, exp, w); err != nil {
		_ = closeOut()
		return cli.NewCommandError("audit export", err)
	}
	return closeOut()
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	store, cfg, closeAll, err := openAuditStorage(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	rc := cfg.Audit.Retention.RetentionOptions()
	if auditFlags.days >= 0 {
		rc.RetentionDays = auditFlags.days
	}
	if auditFlags.maxRecords >= 0 {
		rc.MaxRecords = auditFlags.maxRecords
	}
	if auditFlags.archiveDir != "" {
		rc.ArchiveDir = auditFlags.archiveDir
	}

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	if auditFlags.dryRun {
		n, err := prunable(ctx, store, rc, time.Now())
		if err != nil {
			return cli.NewCommandError("audit prune", err)
		}
		fmt.Fprintf(out, "Would delete %d records (retention %d days, max records %d)\n", n, rc.RetentionDays, rc.MaxRecords)
		return nil
	}

	deleted, err := retention.NewPruner(store, rc, nil).Prune(ctx)
	if err != nil {
		return cli.NewCommandError("audit prune", err)
	}
	fmt.Fprintf(out, "Deleted %d records\n", deleted)
	return nil
}

// prunable counts the records Prune would delete.
func prunable(ctx context.Context, store audit.Storage, rc *retention.Config, now time.Time) (int64, error) {
	var byAge int64
	if rc.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -rc.RetentionDays)
		n, err := store.Count(ctx, &audit.Query{EndTime: &cutoff})
		if err != nil {
			return 0, err
		}
		byAge = n
	}
	if rc.MaxRecords <= 0 {
		return byAge, nil
	}
	total, err := store.Count(ctx, &audit.Query{})
	if err != nil {
		return 0, err
	}
	if excess := total - byAge - rc.MaxRecords; excess > 0 {
		return byAge + excess, nil
	}
	return byAge, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
