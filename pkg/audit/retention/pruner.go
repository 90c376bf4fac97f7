package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/audit/export"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to keep records. Zero keeps
	// records forever.
	RetentionDays int

	// MaxRecords caps the number of stored records. Zero disables the cap.
	MaxRecords int64

	// Schedule is a standard cron expression. Empty disables scheduling.
	// Example: "0 3 * * *" (daily at 3 AM)
	Schedule string

	// ArchiveDir receives a JSON export of records before they are
	// deleted. Empty disables archiving.
	ArchiveDir string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 30,
		Schedule:      "0 3 * * *",
	}
}

// Pruner deletes audit records by age and by count.
type Pruner struct {
	storage audit.Storage
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewPruner creates a new retention pruner.
func NewPruner(storage audit.Storage, config *Config, logger *slog.Logger) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		storage: storage,
		config:  config,
		logger:  logger.With("component", "audit.retention"),
		now:     time.Now,
	}
}

// Prune deletes records older than RetentionDays, then the oldest records
// beyond MaxRecords. It returns the total number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, audit.NewRetentionError(p.config.RetentionDays, fmt.Errorf("prune by age: %w", err))
		}
		total += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, audit.NewRetentionError(p.config.RetentionDays, fmt.Errorf("prune by count: %w", err))
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("audit pruning completed",
			"total_deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	} else {
		p.logger.Debug("no audit records pruned")
	}
	return total, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
	query := &audit.Query{EndTime: &cutoff}

	if err := p.archive(ctx, query, "age"); err != nil {
		return 0, err
	}
	return p.storage.Delete(ctx, query)
}

// pruneByCount finds the time of the newest record that falls past the cap
// and deletes everything at or before it. Records sharing that timestamp
// are deleted together.
func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &audit.Query{})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	if count <= p.config.MaxRecords {
		return 0, nil
	}
	excess := count - p.config.MaxRecords

	p.logger.Info("audit record count exceeds limit, pruning oldest",
		"current_count", count,
		"max_records", p.config.MaxRecords,
		"to_delete", excess,
	)

	boundary, err := p.storage.Query(ctx, &audit.Query{
		SortBy:    "time",
		SortOrder: "asc",
		Limit:     1,
		Offset:    int(excess - 1),
	})
	if err != nil {
		return 0, fmt.Errorf("find cutoff: %w", err)
	}
	if len(boundary) == 0 {
		return 0, nil
	}

	cutoff := boundary[0].Time
	query := &audit.Query{EndTime: &cutoff}
	if err := p.archive(ctx, query, "count"); err != nil {
		return 0, err
	}
	return p.storage.Delete(ctx, query)
}

func (p *Pruner) archive(ctx context.Context, query *audit.Query, reason string) error {
	if p.config.ArchiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.config.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	name := fmt.Sprintf("audit-%s-%s.json", reason, p.now().Format("2006-01-02-150405"))
	path := filepath.Join(p.config.ArchiveDir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	if err := writeArchive(ctx, p.storage, query, f); err != nil {
		return fmt.Errorf("archive records: %w", err)
	}

	p.logger.Info("audit records archived", "archive_file", path, "reason", reason)
	return nil
}

// writeArchive exports every record matching query, oldest first, as a
// single JSON array.
func writeArchive(ctx context.Context, s audit.Storage, query *audit.Query, f *os.File) error {
	q := *query
	q.SortOrder = "asc"
	return export.StreamAll(ctx, s, &q, export.NewJSONExporter(false), f)
}
