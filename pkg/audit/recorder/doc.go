// Package recorder persists rule evaluation events to audit storage.
//
// A Recorder is registered on the engine as an observer. Each RuleEvent is
// converted to an audit.Record and queued; a single background worker
// writes queued records with a per-write timeout. When the queue is full
// the record is dropped and counted, so evaluation latency never depends
// on storage.
package recorder
