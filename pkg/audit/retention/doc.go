// Package retention prunes audit records by age and count, optionally
// archiving them as JSON first, and runs pruning on a cron schedule.
package retention
