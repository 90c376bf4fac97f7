package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // "sqlite3", cgo
	_ "modernc.org/sqlite"          // "sqlite", pure Go

	"github.com/A-new/ironbee/pkg/audit"
)

// SQLite driver names.
const (
	DriverCGO    = "sqlite3"
	DriverPureGo = "sqlite"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Driver is DriverCGO or DriverPureGo.
	// Default: DriverPureGo
	Driver string

	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long a connection waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Driver:       DriverPureGo,
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements audit.Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database and creates the schema.
func NewSQLiteStorage(config *SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Driver == "" {
		config.Driver = DriverPureGo
	}
	if config.Driver != DriverCGO && config.Driver != DriverPureGo {
		return nil, audit.NewStorageError(config.Driver, "open", fmt.Errorf("unknown sqlite driver %q", config.Driver))
	}
	if config.Path == "" {
		return nil, audit.NewStorageError(config.Driver, "open", fmt.Errorf("database path is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit.storage.sqlite", "driver", config.Driver)

	db, err := sql.Open(config.Driver, dsn(config))
	if err != nil {
		return nil, audit.NewStorageError(config.Driver, "open", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

// dsn encodes the pragmas in the connection string so that every pooled
// connection gets them. The two drivers spell pragmas differently.
func dsn(c *SQLiteConfig) string {
	ms := c.BusyTimeout.Milliseconds()
	params := url.Values{}
	switch c.Driver {
	case DriverCGO:
		params.Set("_busy_timeout", fmt.Sprint(ms))
		if c.WALMode {
			params.Set("_journal_mode", "WAL")
		}
	default:
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", ms))
		if c.WALMode {
			params.Add("_pragma", "journal_mode(WAL)")
		}
	}
	return "file:" + c.Path + "?" + params.Encode()
}

func (s *SQLiteStorage) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return s.storageError("create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return s.storageError("insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil && err != sql.ErrNoRows {
		return s.storageError("get_schema_version", err)
	}
	if version != SchemaVersion {
		return s.storageError("schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	s.logger.Debug("schema version verified", "version", version)
	return nil
}

func (s *SQLiteStorage) storageError(op string, err error) error {
	return audit.NewStorageError(s.config.Driver, op, err)
}

// Store persists a record.
func (s *SQLiteStorage) Store(ctx context.Context, r *audit.Record) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return s.storageError("store", err)
	}

	var errVal any
	if r.Error != "" {
		errVal = r.Error
	}

	_, err = s.db.ExecContext(ctx, insertRecord,
		r.ID, r.TxID, r.Context, r.RuleID, r.Phase, r.Operator, boolInt(r.External),
		r.Outcome, string(actions), boolInt(r.Blocked), errVal,
		int64(r.Duration), r.Time.UnixNano(), r.RecordedTime.UnixNano(),
	)
	if err != nil {
		return s.storageError("store", err)
	}
	return nil
}

// Query retrieves records matching the query filters.
func (s *SQLiteStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Record, error) {
	sqlQuery, args, err := s.selectQuery(query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, s.storageError("query", err)
	}
	defer rows.Close()

	records := []*audit.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, s.storageError("scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageError("query", err)
	}
	return records, nil
}

// QueryStream streams records matching the query filters.
func (s *SQLiteStorage) QueryStream(ctx context.Context, query *audit.Query) (<-chan *audit.Record, <-chan error, error) {
	sqlQuery, args, err := s.selectQuery(query)
	if err != nil {
		return nil, nil, err
	}

	recordsCh := make(chan *audit.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordsCh)
		defer close(errCh)

		rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
		if err != nil {
			errCh <- s.storageError("query_stream", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				errCh <- s.storageError("scan", err)
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- r:
			}
		}
		if err := rows.Err(); err != nil {
			errCh <- s.storageError("query_stream", err)
		}
	}()

	return recordsCh, errCh, nil
}

// Count returns the number of records matching the query filters.
func (s *SQLiteStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(query)
	sqlQuery := "SELECT COUNT(*) FROM rule_audit" + where

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, s.storageError("count", err)
	}
	return count, nil
}

// Delete removes records matching the query filters.
func (s *SQLiteStorage) Delete(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(query)
	result, err := s.db.ExecContext(ctx, "DELETE FROM rule_audit"+where, args...)
	if err != nil {
		return 0, s.storageError("delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, s.storageError("delete", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return s.storageError("close", err)
	}
	s.logger.Info("SQLite audit storage closed")
	return nil
}

func (s *SQLiteStorage) selectQuery(query *audit.Query) (string, []any, error) {
	if err := query.Validate(); err != nil {
		return "", nil, err
	}
	q := *query
	q.ApplyDefaults()

	where, args := buildWhereClause(&q)
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		order = "ASC"
	}
	sqlQuery := fmt.Sprintf("SELECT %s FROM rule_audit%s ORDER BY %s %s LIMIT %d",
		selectColumns, where, sortColumns[q.SortBy], order, q.Limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}
	return sqlQuery, args, nil
}

// buildWhereClause returns " WHERE ..." or "" and the arguments.
func buildWhereClause(q *audit.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.StartTime != nil {
		conditions = append(conditions, "time_ns >= ?")
		args = append(args, q.StartTime.UnixNano())
	}
	if q.EndTime != nil {
		conditions = append(conditions, "time_ns <= ?")
		args = append(args, q.EndTime.UnixNano())
	}
	for _, f := range []struct {
		column, value string
	}{
		{"tx_id", q.TxID},
		{"rule_id", q.RuleID},
		{"context", q.Context},
		{"phase", q.Phase},
	} {
		if f.value != "" {
			conditions = append(conditions, f.column+" = ?")
			args = append(args, f.value)
		}
	}
	switch q.Outcome {
	case "":
	case "blocked":
		conditions = append(conditions, "blocked = 1")
	default:
		conditions = append(conditions, "outcome = ?")
		args = append(args, q.Outcome)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanRecord(rows *sql.Rows) (*audit.Record, error) {
	var (
		r                              audit.Record
		external, blocked              int
		actions, errVal                sql.NullString
		durationNs, timeNs, recordedNs int64
	)
	err := rows.Scan(
		&r.ID, &r.TxID, &r.Context, &r.RuleID, &r.Phase, &r.Operator, &external,
		&r.Outcome, &actions, &blocked, &errVal, &durationNs, &timeNs, &recordedNs,
	)
	if err != nil {
		return nil, err
	}

	r.External = external != 0
	r.Blocked = blocked != 0
	if errVal.Valid {
		r.Error = errVal.String
	}
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &r.Actions); err != nil {
			return nil, fmt.Errorf("decode actions of %s: %w", r.ID, err)
		}
	}
	r.Duration = time.Duration(durationNs)
	r.Time = time.Unix(0, timeNs)
	r.RecordedTime = time.Unix(0, recordedNs)
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
