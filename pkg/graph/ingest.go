// Package graph - meeting ingest.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/storage"
)

// Ingest writes one analyzed meeting into the store atomically.
//
// The whole meeting (nodes and edges) goes through a single transaction:
// a failure at any point rolls everything back, so partial meetings are
// never visible. Topic/Task/Decision/Entity keys are scoped through the
// store's Scoper; Person names are shared across meetings by design.
//
// Returns the meeting id (generated when meta.ID is empty).
func (s *Store) Ingest(ctx context.Context, meta schema.Meeting, result schema.AnalysisResult) (string, error) {
	if err := s.validateEmbeddings(result.Utterances); err != nil {
		return "", err
	}

	meetingID := meta.ID
	if meetingID == "" {
		meetingID = "m_" + uuid.NewString()
	}

	tx := storage.NewTransaction(s.engine)
	defer tx.Rollback()

	meetingNode := nodeID(schema.KindMeeting, meetingID)
	err := tx.CreateNode(&storage.Node{
		ID:    meetingNode,
		Label: string(schema.KindMeeting),
		Properties: map[string]any{
			"id":          meetingID,
			"title":       meta.Title,
			"date":        meta.Date,
			"source_file": meta.SourceFile,
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating meeting: %w", err)
	}

	for _, person := range result.People {
		if strings.TrimSpace(person.Name) == "" {
			continue
		}
		if _, err := s.mergePerson(tx, person.Name, person.Role); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	topicNodes := make(map[string]storage.NodeID) // plain title -> node id
	for _, topic := range result.Topics {
		key := s.scoper.Key(meetingID, topic.Title)
		if key == "" {
			continue
		}
		id := nodeID(schema.KindTopic, key)
		if err := s.mergeNode(tx, id, schema.KindTopic, map[string]any{
			"title":   key,
			"summary": topic.Summary,
		}); err != nil {
			return "", err
		}
		topicNodes[strings.TrimSpace(topic.Title)] = id
		if err := createEdge(tx, schema.EdgeDiscussed, meetingNode, id, nil); err != nil {
			return "", err
		}
		if proposer := strings.TrimSpace(topic.Proposer); proposer != "" {
			personID, err := s.mergePerson(tx, proposer, "")
			if err != nil {
				return "", err
			}
			if err := createEdge(tx, schema.EdgeProposed, personID, id, nil); err != nil {
				return "", err
			}
		}
	}

	for _, decision := range result.Decisions {
		key := s.scoper.Key(meetingID, decision.Description)
		if key == "" {
			continue
		}
		id := nodeID(schema.KindDecision, key)
		if err := s.mergeNode(tx, id, schema.KindDecision, map[string]any{
			"description": key,
		}); err != nil {
			return "", err
		}
		if err := createEdge(tx, schema.EdgeHasDecision, meetingNode, id, nil); err != nil {
			return "", err
		}
		if topicID, ok := topicNodes[strings.TrimSpace(decision.RelatedTopic)]; ok {
			if err := createEdge(tx, schema.EdgeResultedIn, topicID, id, nil); err != nil {
				return "", err
			}
		}
	}

	for _, task := range result.Tasks {
		key := s.scoper.Key(meetingID, task.Description)
		if key == "" {
			continue
		}
		id := nodeID(schema.KindTask, key)
		if err := s.mergeNode(tx, id, schema.KindTask, map[string]any{
			"description": key,
			"deadline":    task.Deadline,
			"status":      schema.NormalizeTaskStatus(task.Status),
		}); err != nil {
			return "", err
		}
		if err := createEdge(tx, schema.EdgeHasTask, meetingNode, id, nil); err != nil {
			return "", err
		}
		if assignee := strings.TrimSpace(task.Assignee); assignee != "" {
			personID, err := s.mergePerson(tx, assignee, "")
			if err != nil {
				return "", err
			}
			if err := createEdge(tx, schema.EdgeAssignedTo, personID, id, nil); err != nil {
				return "", err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entityNodes := make(map[string]storage.NodeID) // plain name -> node id
	for _, entity := range result.Entities {
		key := s.scoper.Key(meetingID, entity.Name)
		if key == "" {
			continue
		}
		entityType := entity.EntityType
		if !schema.ValidEntityType(entityType) {
			entityType = schema.EntityConcept
		}
		id := nodeID(schema.KindEntity, key)
		if err := s.mergeNode(tx, id, schema.KindEntity, map[string]any{
			"name":        key,
			"entity_type": string(entityType),
			"description": entity.Description,
		}); err != nil {
			return "", err
		}
		entityNodes[strings.TrimSpace(entity.Name)] = id
		if err := createEdge(tx, schema.EdgeHasEntity, meetingNode, id, nil); err != nil {
			return "", err
		}
	}

	for _, rel := range result.Relations {
		sourceID, okS := entityNodes[strings.TrimSpace(rel.Source)]
		targetID, okT := entityNodes[strings.TrimSpace(rel.Target)]
		if !okS || !okT {
			continue
		}
		props := map[string]any{"relation_type": rel.RelationType}
		if err := createEdge(tx, schema.EdgeRelatedTo, sourceID, targetID, props); err != nil {
			return "", err
		}
	}

	// Topics mention the entities that surface in their text.
	for plainTitle, topicID := range topicNodes {
		topicNode, err := tx.GetNode(topicID)
		if err != nil {
			return "", err
		}
		haystack := strings.ToLower(plainTitle + " " + propString(topicNode, "summary"))
		for plainName, entityID := range entityNodes {
			if plainName == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(plainName)) {
				if err := createEdge(tx, schema.EdgeMentions, topicID, entityID, nil); err != nil {
					return "", err
				}
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var prev storage.NodeID
	for i, utt := range result.Utterances {
		uttID := utt.ID
		if uttID == "" {
			uttID = fmt.Sprintf("u_%s_%d_%d", meetingID, i, int64(utt.Start*1000))
		}
		id := nodeID(schema.KindUtterance, uttID)
		err := tx.CreateNode(&storage.Node{
			ID:    id,
			Label: string(schema.KindUtterance),
			Properties: map[string]any{
				"id":    uttID,
				"text":  utt.Text,
				"start": utt.Start,
				"end":   utt.End,
			},
			Embedding: utt.Embedding,
		})
		if err != nil {
			return "", fmt.Errorf("creating utterance %d: %w", i, err)
		}
		if err := createEdge(tx, schema.EdgeContains, meetingNode, id, nil); err != nil {
			return "", err
		}
		if speaker := strings.TrimSpace(utt.Speaker); speaker != "" {
			personID, err := s.mergePerson(tx, speaker, "")
			if err != nil {
				return "", err
			}
			if err := createEdge(tx, schema.EdgeSpoke, personID, id, nil); err != nil {
				return "", err
			}
		}
		if prev != "" {
			if err := createEdge(tx, schema.EdgeNext, prev, id, nil); err != nil {
				return "", err
			}
		}
		prev = id
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing ingest: %w", err)
	}

	s.log.Info("meeting ingested",
		zap.String("meeting_id", meetingID),
		zap.Int("topics", len(result.Topics)),
		zap.Int("tasks", len(result.Tasks)),
		zap.Int("decisions", len(result.Decisions)),
		zap.Int("utterances", len(result.Utterances)),
	)
	return meetingID, nil
}

// validateEmbeddings enforces the fixed dimension before the transaction
// starts. An utterance either carries a vector of exactly the configured
// length or none at all.
func (s *Store) validateEmbeddings(utterances []schema.Utterance) error {
	for i, utt := range utterances {
		if len(utt.Embedding) != 0 && len(utt.Embedding) != s.dim {
			return fmt.Errorf("utterance %d has %d dimensions, want %d: %w",
				i, len(utt.Embedding), s.dim, ErrEmbeddingDim)
		}
	}
	return nil
}

// mergePerson creates or reuses the Person node for a name. A role seen
// later never overwrites one already stored; it only fills a blank.
func (s *Store) mergePerson(tx *storage.Transaction, name, role string) (storage.NodeID, error) {
	name = strings.TrimSpace(name)
	id := nodeID(schema.KindPerson, name)
	existing, err := tx.GetNode(id)
	if err == nil {
		if role != "" && propString(existing, "role") == "" {
			existing.Properties["role"] = role
			if err := tx.UpdateNode(existing); err != nil {
				return "", err
			}
		}
		return id, nil
	}
	if err != storage.ErrNotFound {
		return "", err
	}
	err = tx.CreateNode(&storage.Node{
		ID:         id,
		Label:      string(schema.KindPerson),
		Properties: map[string]any{"name": name, "role": role},
	})
	if err != nil {
		return "", fmt.Errorf("creating person %q: %w", name, err)
	}
	return id, nil
}

// mergeNode creates the node unless its key already exists in the scope.
// Existing nodes keep their stored properties; the new edge set still
// attaches to them (merge-on-key semantics).
func (s *Store) mergeNode(tx *storage.Transaction, id storage.NodeID, kind schema.NodeKind, props map[string]any) error {
	_, err := tx.GetNode(id)
	if err == nil {
		return nil
	}
	if err != storage.ErrNotFound {
		return err
	}
	err = tx.CreateNode(&storage.Node{
		ID:         id,
		Label:      string(kind),
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("creating %s %q: %w", kind, id, err)
	}
	return nil
}

// createEdge adds a deterministic edge, skipping ones that already exist.
func createEdge(tx *storage.Transaction, kind schema.EdgeKind, start, end storage.NodeID, props map[string]any) error {
	err := tx.CreateEdge(&storage.Edge{
		ID:         edgeID(kind, start, end),
		Start:      start,
		End:        end,
		Type:       string(kind),
		Properties: props,
	})
	if err == storage.ErrAlreadyExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating %s edge: %w", kind, err)
	}
	return nil
}
