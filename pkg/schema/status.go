// Package schema - task status normalization shared by ingest and update.
package schema

import "strings"

// Task statuses accepted by the store.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusBlocked    = "blocked"
)

// AllowedTaskStatuses is the closed set of canonical task statuses.
var AllowedTaskStatuses = map[string]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusDone:       {},
	StatusBlocked:    {},
}

// TaskStatusOptions returns the canonical statuses in stable order.
func TaskStatusOptions() []string {
	return []string{StatusBlocked, StatusDone, StatusInProgress, StatusPending}
}

var taskStatusAliases = map[string]string{
	"to do":       StatusPending,
	"todo":        StatusPending,
	"in progress": StatusInProgress,
	"complete":    StatusDone,
	"completed":   StatusDone,
}

// NormalizeTaskStatus maps extraction output onto the canonical status set.
// Common aliases are rewritten; anything else falls back to "pending".
func NormalizeTaskStatus(raw string) string {
	status := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := taskStatusAliases[status]; ok {
		status = alias
	}
	if _, ok := AllowedTaskStatuses[status]; ok {
		return status
	}
	return StatusPending
}

// ValidTaskStatus reports whether raw is already a canonical status.
// Unlike NormalizeTaskStatus it does not rewrite aliases; the node update
// whitelist uses it to reject anything outside the enumerated set.
func ValidTaskStatus(raw string) bool {
	_, ok := AllowedTaskStatuses[raw]
	return ok
}
