// Package directive parses rule configuration directives and rules files.
//
// Two rule directives are understood:
//
//	Rule <inputs> <operator> [modifiers...]
//	RuleExt <backend>:<path> [modifiers...]
//
// Inputs are a pipe-separated list of field names. The operator token has
// the form "[!]@name [parameter]". Modifiers are "id:<id>", "phase:<phase>",
// "chain", or an action written as "[!]name[:parameter]"; a leading "!"
// attaches the action to the false outcome.
//
// RuleExt supports the "js" backend: the file at path is loaded into the
// script runtime as a function named after the rule id, and an operator
// keyed by the full "<backend>:<path>" is shared by every rule that names
// it.
//
// Rules files add "#" comments, backslash line continuation, double-quoted
// tokens, "Include <glob>" and "<Site name>" ... "</Site>" blocks that
// select the configuration context.
//
// An operator and its parameter form a single token, so a parameter is
// quoted together with the operator name:
//
//	Rule REQUEST_URI "@streq /admin" id:1 phase:REQUEST_HEADER block
//
// Written as @streq "/admin", the parameter becomes a separate token, is
// read as an action and the rule is rejected.
package directive
