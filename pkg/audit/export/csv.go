package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/A-new/ironbee/pkg/audit"
)

// Header is the CSV column order.
var Header = []string{
	"id", "tx_id", "context", "rule_id", "phase", "operator", "external",
	"outcome", "actions", "blocked", "error", "duration_us", "time", "recorded_time",
}

// CSVExporter writes records as CSV. Actions are joined with spaces.
type CSVExporter struct {
	// IncludeHeader writes Header as the first row.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Export writes records to w.
func (e *CSVExporter) Export(ctx context.Context, records []*audit.Record, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return audit.NewExportError(FormatCSV, len(records), err)
		}
	}
	for _, record := range records {
		if err := writer.Write(Row(record)); err != nil {
			return audit.NewExportError(FormatCSV, len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return audit.NewExportError(FormatCSV, len(records), err)
	}
	return nil
}

// ExportStream writes records from recordsCh, flushing every 100 rows.
func (e *CSVExporter) ExportStream(ctx context.Context, recordsCh <-chan *audit.Record, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return audit.NewExportError(FormatCSV, 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-recordsCh:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError(FormatCSV, count, err)
				}
				return nil
			}

			if err := writer.Write(Row(record)); err != nil {
				return audit.NewExportError(FormatCSV, count, err)
			}
			count++

			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError(FormatCSV, count, err)
				}
			}
		}
	}
}

// Row converts a record to a CSV row in Header order.
func Row(r *audit.Record) []string {
	formatTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	}

	return []string{
		r.ID,
		r.TxID,
		r.Context,
		r.RuleID,
		r.Phase,
		r.Operator,
		strconv.FormatBool(r.External),
		r.Outcome,
		strings.Join(r.Actions, " "),
		strconv.FormatBool(r.Blocked),
		r.Error,
		strconv.FormatInt(r.Duration.Microseconds(), 10),
		formatTime(r.Time),
		formatTime(r.RecordedTime),
	}
}
