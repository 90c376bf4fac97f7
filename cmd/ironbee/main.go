// Command ironbee loads IronBee rules files and evaluates transactions
// against them.
//
// Usage:
//
//	# Lint rules files
//	ironbee check rules/*.rules
//
//	# Run transaction fixtures through every phase
//	ironbee eval --config ironbee.yaml fixtures/admin.yaml
//
//	# Run the admin server with hot reload and the audit trail
//	ironbee serve --config ironbee.yaml
//
//	# Query the audit trail
//	ironbee audit query --rule block-admin --outcome true
package main

func main() {
	Execute()
}
