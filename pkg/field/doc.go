// Package field provides the typed value bridge between transaction data and
// rule evaluation.
//
// A Field is the opaque, server-side representation of a transaction value
// (request URI, headers, bodies). Operators, actions and scripts never see
// Fields directly; they receive a Value produced by Bridge.Convert, which
// is a closed variant over number, time, float, string, byte string, list of
// named values, or None.
//
// # Conversion rules
//
//   - Num, Time, Float, NulStr and ByteStr map one-to-one.
//   - Lists convert recursively, element names kept verbatim and in order.
//   - Stream buffers and generic host values have no mapping and convert
//     to None; the bridge logs the unexpected type at error level.
//
// Byte strings carry an explicit length and may contain NUL bytes; nothing in
// this package assumes text semantics for them.
package field
