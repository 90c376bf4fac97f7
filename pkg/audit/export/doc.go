// Package export writes audit records as JSON or CSV, either from a slice
// or from a storage query stream.
package export
