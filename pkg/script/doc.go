// Package script bridges the rule engine to embedded JavaScript (goja) for
// external rules.
//
// A Runtime holds the shared script state: an optional prelude and the
// compiled rule functions, keyed by rule id. Every evaluation gets its own
// goja runtime, so concurrent evaluations never share script globals.
//
// # Locking
//
// Structural operations (loading a function, taking and releasing an
// evaluation context) run under a single runtime lock. Building the goja
// runtime, running the prelude and calling the function happen outside
// the lock, under the evaluation deadline. If the lock cannot be acquired because the
// caller's context is done or the runtime is closed, the operation is not
// performed and a *LockError wrapping engine.ErrLockFailure is returned.
//
// The evaluation context is always destroyed, including when the script
// throws or is interrupted.
//
// # Script API
//
// A rule file is the body of a function receiving the ib object:
//
//	var uri = ib.get("REQUEST_URI");
//	if (uri && uri.indexOf("/admin") === 0) {
//	    ib.block("admin area");
//	    return 1;
//	}
//	return 0;
package script
