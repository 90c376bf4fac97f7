// Package auth guards the rule admin endpoints with static API keys.
//
// Keys are configured under server.api_keys:
//
//	server:
//	  api_keys:
//	    - name: ops
//	      key: env:IRONBEE_OPS_KEY
//	    - name: ci
//	      key: file:/run/secrets/ironbee-ci
//
// Secrets are expanded with ResolveKeys and must be at least MinKeyLength
// characters.
//
// Clients send "Authorization: Bearer <key>" or "X-API-Key: <key>". When no
// keys are configured the admin server runs without authentication.
package auth
