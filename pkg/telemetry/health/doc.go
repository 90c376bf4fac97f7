// Package health implements the liveness and readiness probes served by
// "ironbee serve".
//
// Liveness always succeeds while the process runs. Readiness runs every
// registered CheckFunc concurrently, each under its own timeout, and fails
// if any check fails. The serve command registers RulesLoaded for the rule
// manager and AuditStorage when the audit trail is enabled.
//
//	checker := health.New(2 * time.Second)
//	checker.Register("rules", health.RulesLoaded(mgr))
//	r.Get("/readyz", checker.ReadyHandler())
package health
