// Package manager owns the active rule set and reloads it.
//
// A Manager expands the configured rules file patterns, builds a fresh
// engine and script runtime, loads the files through the directive parser
// and, if that succeeds, swaps the new set in. The previous set is closed
// once evaluations running on it return; a failed load leaves it active.
//
// FileWatcher drives Reload from fsnotify events on the rules directories,
// coalescing bursts with a Debouncer.
package manager
