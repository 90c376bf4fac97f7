// Package secrets resolves secret references in configuration values.
//
// A value "env:OPS_KEY" reads the OPS_KEY environment variable and
// "file:/run/secrets/ops" reads a file that must be mode 0600 or 0400. Any
// other value is used literally.
package secrets
