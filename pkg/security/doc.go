// Package security groups the admin server's transport and access
// controls.
//
//   - auth: API keys on the mutating admin routes
//   - secrets: env: and file: references for configured secrets
//   - tls: HTTPS with certificate reload and optional client certificates
package security
