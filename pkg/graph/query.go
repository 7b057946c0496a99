// Package graph - minimal read-only query execution.
package graph

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/speaknode/speaknode/pkg/schema"
)

// ErrUnsupportedQuery marks a query outside the supported read-only
// subset. The retrieval engine treats it as a soft failure and falls back
// to its other strategies.
var ErrUnsupportedQuery = errors.New("unsupported query")

// The supported subset is deliberately tiny: a single node pattern with
// an optional CONTAINS filter and an optional limit, or a count over a
// label. Translated queries that need more are rejected rather than
// half-interpreted.
var (
	matchQueryRe = regexp.MustCompile(
		`(?is)^\s*MATCH\s*\(\s*(\w+)\s*:\s*(\w+)\s*\)` +
			`(?:\s+WHERE\s+(\w+)\.(\w+)\s+CONTAINS\s+['"]([^'"]*)['"])?` +
			`\s+RETURN\s+(.+?)(?:\s+LIMIT\s+(\d+))?\s*;?\s*$`)
	countReturnRe = regexp.MustCompile(`(?i)^count\s*\(\s*\w+\s*\)$`)
)

// ExecuteQuery runs a translated query against the store and returns raw
// result rows. The caller must have validated the query as read-only
// first; this executor additionally refuses anything outside its subset.
func (s *Store) ExecuteQuery(query string) ([]map[string]any, error) {
	m := matchQueryRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedQuery, query)
	}
	variable, label := m[1], m[2]
	whereVar, whereProp, whereValue := m[3], m[4], m[5]
	returnExpr := strings.TrimSpace(m[6])
	limitStr := m[7]

	kind := resolveKind(label)
	if kind == "" {
		return nil, fmt.Errorf("%w: unknown label %q", ErrUnsupportedQuery, label)
	}
	if whereVar != "" && whereVar != variable {
		return nil, fmt.Errorf("%w: unbound variable %q", ErrUnsupportedQuery, whereVar)
	}

	nodes, err := s.engine.NodesByLabel(string(kind))
	if err != nil {
		return nil, err
	}
	if whereProp != "" {
		needle := strings.ToLower(whereValue)
		filtered := nodes[:0]
		for _, node := range nodes {
			if strings.Contains(strings.ToLower(propString(node, whereProp)), needle) {
				filtered = append(filtered, node)
			}
		}
		nodes = filtered
	}

	if countReturnRe.MatchString(returnExpr) {
		return []map[string]any{{"count": len(nodes)}}, nil
	}
	if returnExpr != variable && !strings.HasPrefix(returnExpr, variable+".") {
		return nil, fmt.Errorf("%w: return expression %q", ErrUnsupportedQuery, returnExpr)
	}

	limit := len(nodes)
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n < limit {
			limit = n
		}
	}

	rows := make([]map[string]any, 0, limit)
	for _, node := range nodes[:limit] {
		if prop, ok := strings.CutPrefix(returnExpr, variable+"."); ok {
			rows = append(rows, map[string]any{prop: node.Properties[prop]})
			continue
		}
		row := make(map[string]any, len(node.Properties))
		for k, v := range node.Properties {
			if str, ok := v.(string); ok && k == keyProperty(kind) {
				row[k] = s.scoper.Plain(str)
				continue
			}
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func resolveKind(label string) schema.NodeKind {
	for _, kind := range schema.NodeKinds {
		if strings.EqualFold(string(kind), label) {
			return kind
		}
	}
	return ""
}
