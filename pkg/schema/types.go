// Package schema - domain types exchanged between the pipeline stages.
package schema

// Person is a meeting participant. Name is the primary key.
type Person struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Topic is a discussed subject. Title is the primary key within its scope.
type Topic struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Proposer string `json:"proposer,omitempty"`
}

// Task is an action item. Description is the primary key within its scope.
type Task struct {
	Description string `json:"description"`
	Assignee    string `json:"assignee,omitempty"`
	Deadline    string `json:"deadline"`
	Status      string `json:"status"`
}

// Decision is an agreed outcome. Description is the primary key within its
// scope. RelatedTopic links it back to the topic it resulted from.
type Decision struct {
	Description  string `json:"description"`
	RelatedTopic string `json:"related_topic,omitempty"`
}

// EntityType enumerates the allowed Entity classifications.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityTechnology   EntityType = "technology"
	EntityOrganization EntityType = "organization"
	EntityConcept      EntityType = "concept"
	EntityEvent        EntityType = "event"
)

// ValidEntityType reports whether t is one of the enumerated entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityPerson, EntityTechnology, EntityOrganization, EntityConcept, EntityEvent:
		return true
	}
	return false
}

// Entity is an extracted named entity. Name is the primary key within its
// scope. An invalid EntityType is normalized to "concept" at ingest.
type Entity struct {
	Name        string     `json:"name"`
	EntityType  EntityType `json:"entity_type"`
	Description string     `json:"description"`
}

// Relation connects two entities with a free-text relation type label.
type Relation struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	RelationType string `json:"relation_type"`
}

// Utterance is one timestamped transcript segment. The embedding, when
// present, must match the configured dimension exactly.
type Utterance struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Speaker   string    `json:"speaker,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Meeting is the root node of one ingest.
type Meeting struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Date       string `json:"date"`
	SourceFile string `json:"source_file"`
}

// AnalysisResult is the fully-formed extraction output handed to ingest:
// structured items plus the utterances (with embeddings) they came from.
type AnalysisResult struct {
	Topics     []Topic     `json:"topics"`
	Decisions  []Decision  `json:"decisions"`
	Tasks      []Task      `json:"tasks"`
	People     []Person    `json:"people"`
	Entities   []Entity    `json:"entities"`
	Relations  []Relation  `json:"relations"`
	Utterances []Utterance `json:"utterances"`
}
