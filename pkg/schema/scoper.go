// Package schema - pluggable key isolation strategies.
package schema

// Scoper decides how Topic/Task/Decision/Entity primary keys are isolated
// between meetings. The graph store is written against this interface so
// both historical strategies stay interchangeable:
//
//   - ScopedKeys: one shared store, keys carry a "meeting::" prefix.
//   - PlainKeys: one physically isolated store per meeting, plain keys.
type Scoper interface {
	// Key builds the stored primary key for a plain value owned by meetingID.
	Key(meetingID, plain string) string
	// Plain recovers the display value from a stored key.
	Plain(key string) string
	// Scope recovers the owning meeting id from a stored key, or "".
	Scope(key string) string
}

// ScopedKeys prefixes keys with the owning meeting id. Safe for a shared
// per-chat store holding many meetings.
type ScopedKeys struct{}

func (ScopedKeys) Key(meetingID, plain string) string { return ScopedKey(meetingID, plain) }
func (ScopedKeys) Plain(key string) string            { return DecodeScopedValue(key) }
func (ScopedKeys) Scope(key string) string            { return ExtractScope(key) }

// PlainKeys stores values verbatim. Only safe when the store itself is
// dedicated to a single meeting.
type PlainKeys struct{}

func (PlainKeys) Key(_, plain string) string { return ScopedKey("", plain) }
func (PlainKeys) Plain(key string) string    { return key }
func (PlainKeys) Scope(string) string        { return "" }
