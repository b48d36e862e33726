// Package correlate provides pure helpers for validating and reasoning
// about session tags — the UUIDs the editor extension injects into an
// agent's environment so hook events can be tied back to a terminal index.
//
// These are plain functions with no I/O so the reducer (internal/runbook/reduce)
// can call them directly without violating the "reducer performs no I/O"
// rule in spec.md §5.
package correlate

import "github.com/google/uuid"

// LooksLikeTag reports whether tag is shaped like a UUID. A session_tag is
// treated as an opaque string by the protocol (spec.md §3), so a
// non-UUID-shaped tag is not rejected outright — this is advisory, used
// only to decide whether to emit a diagnostic Notice when a hook event's
// tag doesn't look like one the editor extension would have generated.
func LooksLikeTag(tag string) bool {
	if tag == "" {
		return false
	}
	_, err := uuid.Parse(tag)
	return err == nil
}
