// Package audit keeps a queryable trail of rule evaluations.
//
// The recorder subpackage attaches to an engine as an observer and writes
// one Record per evaluated rule asynchronously to a Storage backend
// (storage.Memory, or SQLite through either the cgo "sqlite3" driver or the
// pure Go "sqlite" driver). The retention subpackage prunes old records on a
// cron schedule and export writes records as JSON or CSV.
package audit
