// Package graph - whitelisted node updates.
package graph

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/storage"
)

// updateRules is the closed whitelist of (kind, field) pairs accepted by
// UpdateNode. Everything else is rejected before any lookup happens.
// Decision appears with no fields: the kind is addressable but immutable.
var updateRules = map[schema.NodeKind]map[string]struct{}{
	schema.KindTopic:    {"summary": {}},
	schema.KindTask:     {"deadline": {}, "status": {}},
	schema.KindPerson:   {"role": {}},
	schema.KindMeeting:  {"title": {}, "date": {}, "source_file": {}},
	schema.KindDecision: {},
}

// UpdatableFields returns the whitelisted field names for a kind, or nil
// when the kind accepts no updates.
func UpdatableFields(kind schema.NodeKind) []string {
	rules, ok := updateRules[kind]
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	return fields
}

// UpdateNode applies a field map to the node of the given kind matching
// idOrValue, and returns how many nodes changed.
//
// Resolution order: the exact stored key first, then the plain display
// value. Under scoped keys a plain value can match entities from several
// meetings; that is reported as ErrAmbiguousTarget so the caller can
// retry with the scope-qualified key. A missing target yields (0, nil),
// not an error.
func (s *Store) UpdateNode(kind schema.NodeKind, idOrValue string, fields map[string]string) (int, error) {
	rules, ok := updateRules[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	for field, value := range fields {
		if _, allowed := rules[field]; !allowed {
			return 0, fmt.Errorf("%w: %s.%s", ErrFieldNotAllowed, kind, field)
		}
		if kind == schema.KindTask && field == "status" && !schema.ValidTaskStatus(value) {
			return 0, fmt.Errorf("%w: %q (allowed: %s)",
				ErrInvalidStatus, value, strings.Join(schema.TaskStatusOptions(), ", "))
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}

	target, err := s.resolveNode(kind, idOrValue)
	if err != nil {
		return 0, err
	}
	if target == nil {
		return 0, nil
	}

	for field, value := range fields {
		target.Properties[field] = value
	}
	if err := s.engine.UpdateNode(target); err != nil {
		return 0, fmt.Errorf("updating %s: %w", kind, err)
	}
	s.log.Info("node updated",
		zap.String("kind", string(kind)),
		zap.String("id", string(target.ID)),
	)
	return 1, nil
}

// resolveNode finds the single node of a kind addressed by idOrValue.
// Returns nil without error when nothing matches.
func (s *Store) resolveNode(kind schema.NodeKind, idOrValue string) (*storage.Node, error) {
	idOrValue = strings.TrimSpace(idOrValue)
	if idOrValue == "" {
		return nil, nil
	}

	// Exact stored key wins outright.
	if node, err := s.engine.GetNode(nodeID(kind, idOrValue)); err == nil {
		return node, nil
	} else if err != storage.ErrNotFound {
		return nil, err
	}

	keyProp := keyProperty(kind)
	nodes, err := s.engine.NodesByLabel(string(kind))
	if err != nil {
		return nil, err
	}
	var matches []*storage.Node
	for _, node := range nodes {
		if s.scoper.Plain(propString(node, keyProp)) == idOrValue {
			matches = append(matches, node)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d %s nodes",
			ErrAmbiguousTarget, idOrValue, len(matches), kind)
	}
}
