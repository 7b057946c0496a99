// Package retrieval - read-only query validation.
package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

// ErrForbiddenQuery marks a translated query that failed the read-only
// denylist check. The query is never executed.
var ErrForbiddenQuery = errors.New("query contains forbidden token")

// forbiddenTokens is the denylist applied to translator output before
// execution. Matching is a case-insensitive substring scan. This is a
// blunt heuristic, not a grammar-level proof of safety; it mirrors the
// guarantee the store actually needs (no writes) at the cost of
// rejecting some harmless queries that merely mention these words.
var forbiddenTokens = []string{
	"create",
	"delete",
	"detach",
	"merge",
	"set ",
	"set(",
	"remove",
	"drop",
	"load csv",
	"call db.",
	"call dbms.",
	"foreach",
}

// ValidateReadOnly rejects a candidate query containing any forbidden
// token. Returns nil when the query passes.
func ValidateReadOnly(query string) error {
	lowered := strings.ToLower(query)
	for _, token := range forbiddenTokens {
		if strings.Contains(lowered, token) {
			return fmt.Errorf("%w: %q", ErrForbiddenQuery, strings.TrimSpace(token))
		}
	}
	return nil
}

// ForbiddenTokens returns a copy of the denylist, mainly for diagnostics.
func ForbiddenTokens() []string {
	out := make([]string, len(forbiddenTokens))
	copy(out, forbiddenTokens)
	return out
}
