// Package engine implements rule representation, operator and action
// instances, and phase-based rule evaluation.
//
// # Rules and contexts
//
// A Rule binds a list of input field names to one operator instance and an
// ordered list of action instances, each firing either when the operator is
// true or when it is false. Rules are registered into named configuration
// contexts (one per site, "main" by default). A Context stores its rules in
// an arena; per-phase lists and chain links refer to rules by index.
//
// # Chains
//
// A rule flagged FlagChain continues into the next rule registered in the
// same context and phase, which is flagged FlagChainedTo and is only ever
// evaluated through its predecessor. A chain ends at the first false
// outcome:
//
//	Rule REQUEST_URI @contains /admin chain phase:REQUEST_HEADER
//	Rule REMOTE_ADDR !@ipmatch 10.0.0.0/8 block phase:REQUEST_HEADER
//
// # Evaluation
//
// Evaluate walks the chain heads of one phase in registration order. For
// each present input the operator is executed until one invocation is true;
// inputs missing from the transaction are skipped. Errors are isolated to
// their rule group and returned joined. Observers receive one RuleEvent per
// evaluated rule.
//
// # Errors
//
// All errors wrap one of the sentinels in errors.go, so callers can test
// them with errors.Is.
package engine
