// Package server provides the admin HTTP server of "ironbee serve".
//
// It exposes, on one chi router:
//
//	GET  /healthz       liveness
//	GET  /readyz        readiness (rules loaded, audit storage reachable)
//	GET  /version       build information
//	GET  /metrics       Prometheus scrape endpoint, path configurable
//	GET  /rules         status of the active rule set
//	POST /rules/reload  rebuild the rule set from its files
//	POST /evaluate      run a JSON transaction fixture through all phases
//
// The /rules and /evaluate routes require an API key when Options.Keys is
// non-empty. Options.TLS switches the listener to HTTPS.
//
// Start blocks until its context is canceled; signal handling belongs to
// the caller.
package server
