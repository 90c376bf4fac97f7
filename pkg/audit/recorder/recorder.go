package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/A-new/ironbee/pkg/audit"
	"github.com/A-new/ironbee/pkg/rule/engine"
)

// Config contains configuration for the audit recorder.
type Config struct {
	// AsyncBuffer is the size of the write queue.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// MatchesOnly skips rules that evaluated false without error.
	MatchesOnly bool
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Metrics receives recorder outcomes. *metrics.AuditMetrics satisfies it.
type Metrics interface {
	RecordWrite(err error)
	RecordDrop()
}

// Recorder is an engine.Observer that persists rule events asynchronously.
// ObserveRule never blocks: when the queue is full the record is dropped.
type Recorder struct {
	storage    audit.Storage
	config     *Config
	metrics    Metrics
	logger     *slog.Logger
	recordChan chan *audit.Record
	done       chan struct{}
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder starts a recorder writing to storage. metrics may be nil.
func NewRecorder(storage audit.Storage, config *Config, logger *slog.Logger, metrics Metrics) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		metrics:    metrics,
		logger:     logger.With("component", "audit.recorder"),
		recordChan: make(chan *audit.Record, config.AsyncBuffer),
		done:       make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
		"matches_only", config.MatchesOnly,
	)
	return r
}

// ObserveRule enqueues a record for ev.
func (r *Recorder) ObserveRule(_ context.Context, ev engine.RuleEvent) {
	if r.config.MatchesOnly && !ev.Result && ev.Err == nil {
		return
	}
	record := NewRecord(ev)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(record, "recorder closed")
		return
	}
	select {
	case r.recordChan <- record:
	default:
		r.drop(record, "queue full")
	}
}

func (r *Recorder) drop(record *audit.Record, reason string) {
	if r.metrics != nil {
		r.metrics.RecordDrop()
	}
	r.logger.Warn("dropping audit record",
		"reason", reason,
		"record_id", record.ID,
		"rule_id", record.RuleID,
		"queue_capacity", r.config.AsyncBuffer,
	)
}

// Close stops accepting records, drains the queue and waits for pending
// writes. It does not close the storage.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("audit recorder shut down")
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.writeRecord(record)
		case <-r.done:
			r.logger.Debug("draining audit queue", "pending_count", len(r.recordChan))
			for {
				select {
				case record := <-r.recordChan:
					r.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeRecord(record *audit.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	record.RecordedTime = start
	err := r.storage.Store(ctx, record)
	if r.metrics != nil {
		r.metrics.RecordWrite(err)
	}
	if err != nil {
		r.logger.Error("failed to store audit record",
			"error", audit.NewRecorderError(record.ID, err),
			"rule_id", record.RuleID,
			"tx_id", record.TxID,
		)
		return
	}

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write",
			"record_id", record.ID,
			"duration_ms", d.Milliseconds(),
		)
	}
}

// NewRecord converts a rule event into an audit record with a fresh id.
func NewRecord(ev engine.RuleEvent) *audit.Record {
	record := &audit.Record{
		ID:       uuid.NewString(),
		TxID:     ev.TxID,
		Context:  ev.Context,
		RuleID:   ev.RuleID,
		Phase:    ev.Phase.String(),
		Operator: ev.Operator,
		External: ev.External,
		Outcome:  audit.OutcomeFalse,
		Actions:  append([]string(nil), ev.Actions...),
		Blocked:  ev.Blocked,
		Duration: ev.Duration,
		Time:     ev.Time,
	}
	switch {
	case ev.Err != nil:
		record.Outcome = audit.OutcomeError
		record.Error = ev.Err.Error()
	case ev.Result:
		record.Outcome = audit.OutcomeTrue
	}
	if record.Time.IsZero() {
		record.Time = time.Now()
	}
	return record
}
