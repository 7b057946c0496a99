// Package graph - versioned dump and restore.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/storage"
)

// DumpVersion is the version written by Dump. Restore also accepts the
// previous version, which predates entities and their edge kinds.
const (
	DumpVersion       = 3
	dumpVersionLegacy = 2
)

// Dump is a complete serializable snapshot of one scope's graph,
// grouped by kind. Keys are stored verbatim (scope prefixes included) so
// a restore reproduces the store exactly.
type Dump struct {
	Version int       `json:"version"`
	Nodes   DumpNodes `json:"nodes"`
	Edges   DumpEdges `json:"edges"`
}

// DumpNodes holds the node records of a dump, one bucket per kind.
type DumpNodes struct {
	Meetings   []schema.Meeting  `json:"meetings"`
	People     []schema.Person   `json:"people"`
	Topics     []TopicRecord     `json:"topics"`
	Tasks      []TaskRecord      `json:"tasks"`
	Decisions  []DecisionRecord  `json:"decisions"`
	Utterances []UtteranceRecord `json:"utterances"`
	Entities   []EntityRecord    `json:"entities"`
}

// DumpEdges holds the edge records of a dump, one bucket per kind.
// Endpoints are primary keys, not internal node ids.
type DumpEdges struct {
	Discussed   []EdgeRecord `json:"discussed"`
	Proposed    []EdgeRecord `json:"proposed"`
	AssignedTo  []EdgeRecord `json:"assigned_to"`
	ResultedIn  []EdgeRecord `json:"resulted_in"`
	Spoke       []EdgeRecord `json:"spoke"`
	Next        []EdgeRecord `json:"next"`
	Contains    []EdgeRecord `json:"contains"`
	HasTask     []EdgeRecord `json:"has_task"`
	HasDecision []EdgeRecord `json:"has_decision"`
	RelatedTo   []EdgeRecord `json:"related_to"`
	Mentions    []EdgeRecord `json:"mentions"`
	HasEntity   []EdgeRecord `json:"has_entity"`
}

// TopicRecord is a dumped topic. Title carries the stored key.
type TopicRecord struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// TaskRecord is a dumped task. Description carries the stored key.
type TaskRecord struct {
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
	Status      string `json:"status"`
}

// DecisionRecord is a dumped decision. Description carries the stored key.
type DecisionRecord struct {
	Description string `json:"description"`
}

// UtteranceRecord is a dumped utterance. Embedding is omitted when the
// dump was taken without embeddings.
type UtteranceRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// EntityRecord is a dumped entity. Name carries the stored key.
type EntityRecord struct {
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description"`
}

// EdgeRecord is one dumped edge. RelationType is set only on RELATED_TO.
type EdgeRecord struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	RelationType string `json:"relation_type,omitempty"`
}

// ElementCount returns the total number of nodes and edges in the dump.
func (d *Dump) ElementCount() int {
	n := len(d.Nodes.Meetings) + len(d.Nodes.People) + len(d.Nodes.Topics) +
		len(d.Nodes.Tasks) + len(d.Nodes.Decisions) + len(d.Nodes.Utterances) +
		len(d.Nodes.Entities)
	for _, bucket := range d.Edges.buckets() {
		n += len(*bucket.records)
	}
	return n
}

type edgeBucket struct {
	kind    schema.EdgeKind
	records *[]EdgeRecord
}

func (e *DumpEdges) buckets() []edgeBucket {
	return []edgeBucket{
		{schema.EdgeDiscussed, &e.Discussed},
		{schema.EdgeProposed, &e.Proposed},
		{schema.EdgeAssignedTo, &e.AssignedTo},
		{schema.EdgeResultedIn, &e.ResultedIn},
		{schema.EdgeSpoke, &e.Spoke},
		{schema.EdgeNext, &e.Next},
		{schema.EdgeContains, &e.Contains},
		{schema.EdgeHasTask, &e.HasTask},
		{schema.EdgeHasDecision, &e.HasDecision},
		{schema.EdgeRelatedTo, &e.RelatedTo},
		{schema.EdgeMentions, &e.Mentions},
		{schema.EdgeHasEntity, &e.HasEntity},
	}
}

// Dump serializes the whole scope. Embeddings are dropped when
// includeEmbeddings is false, which shrinks the dump considerably.
func (s *Store) Dump(includeEmbeddings bool) (*Dump, error) {
	dump := &Dump{Version: DumpVersion}

	meetings, err := s.engine.NodesByLabel(string(schema.KindMeeting))
	if err != nil {
		return nil, err
	}
	for _, node := range meetings {
		dump.Nodes.Meetings = append(dump.Nodes.Meetings, meetingFromNode(node))
	}

	people, err := s.engine.NodesByLabel(string(schema.KindPerson))
	if err != nil {
		return nil, err
	}
	for _, node := range people {
		dump.Nodes.People = append(dump.Nodes.People, schema.Person{
			Name: propString(node, "name"),
			Role: propString(node, "role"),
		})
	}

	topics, err := s.engine.NodesByLabel(string(schema.KindTopic))
	if err != nil {
		return nil, err
	}
	for _, node := range topics {
		dump.Nodes.Topics = append(dump.Nodes.Topics, TopicRecord{
			Title:   propString(node, "title"),
			Summary: propString(node, "summary"),
		})
	}

	tasks, err := s.engine.NodesByLabel(string(schema.KindTask))
	if err != nil {
		return nil, err
	}
	for _, node := range tasks {
		dump.Nodes.Tasks = append(dump.Nodes.Tasks, TaskRecord{
			Description: propString(node, "description"),
			Deadline:    propString(node, "deadline"),
			Status:      propString(node, "status"),
		})
	}

	decisions, err := s.engine.NodesByLabel(string(schema.KindDecision))
	if err != nil {
		return nil, err
	}
	for _, node := range decisions {
		dump.Nodes.Decisions = append(dump.Nodes.Decisions, DecisionRecord{
			Description: propString(node, "description"),
		})
	}

	utterances, err := s.engine.NodesByLabel(string(schema.KindUtterance))
	if err != nil {
		return nil, err
	}
	for _, node := range utterances {
		record := UtteranceRecord{
			ID:   propString(node, "id"),
			Text: propString(node, "text"),
		}
		if v, ok := node.Properties["start"].(float64); ok {
			record.Start = v
		}
		if v, ok := node.Properties["end"].(float64); ok {
			record.End = v
		}
		if includeEmbeddings {
			record.Embedding = node.Embedding
		}
		dump.Nodes.Utterances = append(dump.Nodes.Utterances, record)
	}

	entities, err := s.engine.NodesByLabel(string(schema.KindEntity))
	if err != nil {
		return nil, err
	}
	for _, node := range entities {
		dump.Nodes.Entities = append(dump.Nodes.Entities, EntityRecord{
			Name:        propString(node, "name"),
			EntityType:  propString(node, "entity_type"),
			Description: propString(node, "description"),
		})
	}

	edges, err := s.engine.AllEdges()
	if err != nil {
		return nil, err
	}
	byKind := make(map[schema.EdgeKind][]EdgeRecord)
	for _, edge := range edges {
		record := EdgeRecord{
			Start: primaryKey(edge.Start),
			End:   primaryKey(edge.End),
		}
		if edge.Type == string(schema.EdgeRelatedTo) && edge.Properties != nil {
			record.RelationType, _ = edge.Properties["relation_type"].(string)
		}
		byKind[schema.EdgeKind(edge.Type)] = append(byKind[schema.EdgeKind(edge.Type)], record)
	}
	for _, bucket := range dump.Edges.buckets() {
		*bucket.records = byKind[bucket.kind]
	}

	s.log.Debug("dump built",
		zap.Int("elements", dump.ElementCount()),
		zap.Bool("embeddings", includeEmbeddings),
	)
	return dump, nil
}

// ValidateDump checks the version and the size ceilings without touching
// the store. Callers that already hold serialized bytes should pass their
// length; pass 0 to have the dump re-serialized for the size check.
func (s *Store) ValidateDump(dump *Dump, serializedLen int) error {
	if dump.Version != DumpVersion && dump.Version != dumpVersionLegacy {
		return fmt.Errorf("%w: %d", ErrDumpVersion, dump.Version)
	}
	if serializedLen == 0 {
		data, err := json.Marshal(dump)
		if err != nil {
			return fmt.Errorf("serializing dump for validation: %w", err)
		}
		serializedLen = len(data)
	}
	if serializedLen > s.maxDumpBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrDumpTooLarge, serializedLen, s.maxDumpBytes)
	}
	if count := dump.ElementCount(); count > s.maxDumpElements {
		return fmt.Errorf("%w: %d elements (limit %d)", ErrDumpTooManyElements, count, s.maxDumpElements)
	}
	return nil
}

// Restore re-creates a dumped graph inside one transaction. The dump is
// validated (version, size and element ceilings) before any write.
// Existing keys merge rather than duplicate, so restoring into a
// non-empty scope is additive.
func (s *Store) Restore(dump *Dump) error {
	if err := s.ValidateDump(dump, 0); err != nil {
		return err
	}
	if err := s.validateDumpEmbeddings(dump); err != nil {
		return err
	}

	tx := storage.NewTransaction(s.engine)
	defer tx.Rollback()

	for _, m := range dump.Nodes.Meetings {
		err := s.mergeNode(tx, nodeID(schema.KindMeeting, m.ID), schema.KindMeeting, map[string]any{
			"id": m.ID, "title": m.Title, "date": m.Date, "source_file": m.SourceFile,
		})
		if err != nil {
			return err
		}
	}
	for _, p := range dump.Nodes.People {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		if _, err := s.mergePerson(tx, p.Name, p.Role); err != nil {
			return err
		}
	}
	for _, t := range dump.Nodes.Topics {
		err := s.mergeNode(tx, nodeID(schema.KindTopic, t.Title), schema.KindTopic, map[string]any{
			"title": t.Title, "summary": t.Summary,
		})
		if err != nil {
			return err
		}
	}
	for _, t := range dump.Nodes.Tasks {
		err := s.mergeNode(tx, nodeID(schema.KindTask, t.Description), schema.KindTask, map[string]any{
			"description": t.Description,
			"deadline":    t.Deadline,
			"status":      schema.NormalizeTaskStatus(t.Status),
		})
		if err != nil {
			return err
		}
	}
	for _, d := range dump.Nodes.Decisions {
		err := s.mergeNode(tx, nodeID(schema.KindDecision, d.Description), schema.KindDecision, map[string]any{
			"description": d.Description,
		})
		if err != nil {
			return err
		}
	}
	for _, u := range dump.Nodes.Utterances {
		id := nodeID(schema.KindUtterance, u.ID)
		if _, err := tx.GetNode(id); err == nil {
			continue
		} else if err != storage.ErrNotFound {
			return err
		}
		err := tx.CreateNode(&storage.Node{
			ID:    id,
			Label: string(schema.KindUtterance),
			Properties: map[string]any{
				"id": u.ID, "text": u.Text, "start": u.Start, "end": u.End,
			},
			Embedding: u.Embedding,
		})
		if err != nil {
			return fmt.Errorf("restoring utterance %q: %w", u.ID, err)
		}
	}
	for _, e := range dump.Nodes.Entities {
		entityType := schema.EntityType(e.EntityType)
		if !schema.ValidEntityType(entityType) {
			entityType = schema.EntityConcept
		}
		err := s.mergeNode(tx, nodeID(schema.KindEntity, e.Name), schema.KindEntity, map[string]any{
			"name": e.Name, "entity_type": string(entityType), "description": e.Description,
		})
		if err != nil {
			return err
		}
	}

	for _, bucket := range dump.Edges.buckets() {
		endpoints := schema.EdgeEndpoints[bucket.kind]
		for _, record := range *bucket.records {
			start := nodeID(endpoints.From, record.Start)
			end := nodeID(endpoints.To, record.End)
			var props map[string]any
			if bucket.kind == schema.EdgeRelatedTo && record.RelationType != "" {
				props = map[string]any{"relation_type": record.RelationType}
			}
			if err := createEdge(tx, bucket.kind, start, end, props); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing restore: %w", err)
	}
	s.log.Info("dump restored",
		zap.Int("version", dump.Version),
		zap.Int("elements", dump.ElementCount()),
	)
	return nil
}

func (s *Store) validateDumpEmbeddings(dump *Dump) error {
	for i, u := range dump.Nodes.Utterances {
		if len(u.Embedding) != 0 && len(u.Embedding) != s.dim {
			return fmt.Errorf("utterance %d has %d dimensions, want %d: %w",
				i, len(u.Embedding), s.dim, ErrEmbeddingDim)
		}
	}
	return nil
}

// primaryKey strips the kind prefix off an internal node id.
func primaryKey(id storage.NodeID) string {
	if idx := strings.Index(string(id), ":"); idx >= 0 {
		return string(id)[idx+1:]
	}
	return string(id)
}
