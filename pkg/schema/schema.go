// Package schema defines the fixed graph schema for SpeakNode meeting data.
//
// The schema is intentionally closed: a meeting graph is built from exactly
// seven node kinds and twelve edge kinds. Every other layer (storage, the
// graph store, retrieval) validates against the tables in this package
// instead of accepting free-form labels.
//
// The package also owns the key model. Two isolation strategies exist for
// keeping Topic/Task/Decision/Entity primary keys unique:
//
//   - Shared store: one database per chat, keys prefixed with the owning
//     meeting id ("m_abc::Budget review"). See ScopedKeys.
//   - Per-meeting store: one database per meeting, plain keys. See PlainKeys.
//
// ScopedKey, DecodeScopedValue and ExtractScope are pure string functions
// and never fail; decoding a value that was never scoped is a no-op.
package schema

import "strings"

// NodeKind identifies one of the fixed node tables.
type NodeKind string

// Node kinds. The string values double as storage labels.
const (
	KindMeeting   NodeKind = "Meeting"
	KindPerson    NodeKind = "Person"
	KindTopic     NodeKind = "Topic"
	KindTask      NodeKind = "Task"
	KindDecision  NodeKind = "Decision"
	KindUtterance NodeKind = "Utterance"
	KindEntity    NodeKind = "Entity"
)

// NodeKinds lists every node kind in schema order.
var NodeKinds = []NodeKind{
	KindMeeting, KindPerson, KindTopic, KindTask,
	KindDecision, KindUtterance, KindEntity,
}

// EdgeKind identifies one of the fixed relationship tables.
type EdgeKind string

// Edge kinds. Directions are fixed by EdgeEndpoints below.
const (
	EdgeProposed    EdgeKind = "PROPOSED"
	EdgeAssignedTo  EdgeKind = "ASSIGNED_TO"
	EdgeResultedIn  EdgeKind = "RESULTED_IN"
	EdgeSpoke       EdgeKind = "SPOKE"
	EdgeNext        EdgeKind = "NEXT"
	EdgeDiscussed   EdgeKind = "DISCUSSED"
	EdgeContains    EdgeKind = "CONTAINS"
	EdgeHasTask     EdgeKind = "HAS_TASK"
	EdgeHasDecision EdgeKind = "HAS_DECISION"
	EdgeRelatedTo   EdgeKind = "RELATED_TO"
	EdgeMentions    EdgeKind = "MENTIONS"
	EdgeHasEntity   EdgeKind = "HAS_ENTITY"
)

// Endpoints describes the fixed direction of an edge kind.
type Endpoints struct {
	From NodeKind
	To   NodeKind
}

// EdgeEndpoints maps every edge kind to its permitted endpoints.
var EdgeEndpoints = map[EdgeKind]Endpoints{
	EdgeProposed:    {KindPerson, KindTopic},
	EdgeAssignedTo:  {KindPerson, KindTask},
	EdgeResultedIn:  {KindTopic, KindDecision},
	EdgeSpoke:       {KindPerson, KindUtterance},
	EdgeNext:        {KindUtterance, KindUtterance},
	EdgeDiscussed:   {KindMeeting, KindTopic},
	EdgeContains:    {KindMeeting, KindUtterance},
	EdgeHasTask:     {KindMeeting, KindTask},
	EdgeHasDecision: {KindMeeting, KindDecision},
	EdgeRelatedTo:   {KindEntity, KindEntity},
	EdgeMentions:    {KindTopic, KindEntity},
	EdgeHasEntity:   {KindMeeting, KindEntity},
}

// ValidNodeKind reports whether kind is one of the fixed node kinds.
func ValidNodeKind(kind NodeKind) bool {
	for _, k := range NodeKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ValidEdgeKind reports whether kind is one of the fixed edge kinds.
func ValidEdgeKind(kind EdgeKind) bool {
	_, ok := EdgeEndpoints[kind]
	return ok
}

// ScopeSeparator joins a scope identifier and a plain value inside a scoped
// primary key. Chosen to be unlikely in meeting-derived text.
const ScopeSeparator = "::"

// ScopedKey builds the primary key for a value owned by a scope.
//
// An empty scope returns the trimmed plain value unchanged, which is what
// the per-meeting isolation strategy relies on. An empty value returns ""
// so callers can skip blank extraction output.
func ScopedKey(scope, plain string) string {
	clean := strings.TrimSpace(plain)
	if clean == "" {
		return ""
	}
	if scope == "" {
		return clean
	}
	return scope + ScopeSeparator + clean
}

// DecodeScopedValue strips exactly one leading "scope::" prefix.
//
// Values without the separator pass through unchanged, so the function is
// idempotent on already-plain input. Only the first separator splits:
// DecodeScopedValue("m_1::a::b") == "a::b".
func DecodeScopedValue(key string) string {
	idx := strings.Index(key, ScopeSeparator)
	if idx < 0 {
		return key
	}
	return key[idx+len(ScopeSeparator):]
}

// ExtractScope returns the scope identifier of a scoped key, or "" when the
// key carries no separator.
func ExtractScope(key string) string {
	idx := strings.Index(key, ScopeSeparator)
	if idx < 0 {
		return ""
	}
	return key[:idx]
}
