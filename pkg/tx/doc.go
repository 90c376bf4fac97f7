// Package tx holds the per-transaction state the rule engine reads and
// mutates: typed fields, variables, flags, events and the block verdict.
//
// Request and response bodies arrive as a stream of chunks of arbitrary size;
// AppendBody accumulates them into the REQUEST_BODY and RESPONSE_BODY byte
// string fields. Spec builds a Transaction from a YAML fixture.
package tx
