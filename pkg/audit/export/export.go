package export

import (
	"context"
	"fmt"
	"io"

	"github.com/A-new/ironbee/pkg/audit"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// StreamExporter is an audit.Exporter that can also consume a record stream.
type StreamExporter interface {
	audit.Exporter
	ExportStream(ctx context.Context, recordsCh <-chan *audit.Record, w io.Writer) error
}

// New returns the exporter for format. JSON output is indented and CSV
// output carries a header row.
func New(format string) (StreamExporter, error) {
	switch format {
	case FormatJSON:
		return NewJSONExporter(true), nil
	case FormatCSV:
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (want %s or %s)", format, FormatJSON, FormatCSV)
	}
}

// Stream queries storage and streams the result through e. Stream errors
// take precedence over exporter errors.
func Stream(ctx context.Context, s audit.Storage, q *audit.Query, e StreamExporter, w io.Writer) error {
	recordsCh, errCh, err := s.QueryStream(ctx, q)
	if err != nil {
		return err
	}
	exportErr := e.ExportStream(ctx, recordsCh, w)
	// Drain so the producer goroutine can exit.
	for range recordsCh {
	}
	if err := <-errCh; err != nil {
		return err
	}
	return exportErr
}

// StreamAll exports every record matching q, ignoring its pagination, by
// paging through storage MaxLimit records at a time. Records are written
// in the query's sort order.
func StreamAll(ctx context.Context, s audit.Storage, q *audit.Query, e StreamExporter, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recordsCh, errCh := pages(ctx, s, q)
	exportErr := e.ExportStream(ctx, recordsCh, w)
	cancel()
	for range recordsCh {
	}
	if err := <-errCh; err != nil {
		return err
	}
	return exportErr
}

func pages(ctx context.Context, s audit.Storage, query *audit.Query) (<-chan *audit.Record, <-chan error) {
	recordsCh := make(chan *audit.Record, 100)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer close(recordsCh)
		q := *query
		q.Limit = audit.MaxLimit
		for q.Offset = 0; ; q.Offset += q.Limit {
			page, err := s.Query(ctx, &q)
			if err != nil {
				if ctx.Err() == nil {
					errCh <- err
				}
				return
			}
			for _, r := range page {
				select {
				case <-ctx.Done():
					return
				case recordsCh <- r:
				}
			}
			if len(page) < q.Limit {
				return
			}
		}
	}()
	return recordsCh, errCh
}
