// Package storage provides the storage engine interface and implementations
// backing the SpeakNode graph store.
//
// The storage layer is a labeled property graph kept deliberately small:
// nodes carry one label from the fixed meeting schema, edges are directed
// and typed. Two engines implement the same interface:
//
//   - MemoryEngine: in-memory maps, used by tests and ephemeral scopes.
//   - BadgerEngine: persistent disk storage on BadgerDB, one directory per
//     isolation scope.
//
// Design principles:
//   - Thread-safe implementations; callers never lock around an Engine.
//   - Deterministic node ids (label + primary key) so "merge on key" is a
//     lookup, not a scan.
//   - Insertion sequence numbers on nodes for stable tie-breaking in
//     similarity ranking.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	node := &storage.Node{
//		ID:    "person:Alice",
//		Label: "Person",
//		Properties: map[string]any{"name": "Alice", "role": "Member"},
//	}
//	engine.CreateNode(node)
package storage

import (
	"errors"
	"time"
)

// Common errors surfaced by every engine.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidEdge   = errors.New("invalid edge: start or end node not found")
	ErrStorageClosed = errors.New("storage closed")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID string

// Node is a graph vertex. Label names the node kind; Properties hold the
// kind's attributes. Embedding is set only on utterance nodes and must
// match the configured dimension. Seq is assigned by the engine at create
// time and increases monotonically per store.
type Node struct {
	ID         NodeID         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Seq        int64          `json:"seq"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Edge is a directed, typed relationship between two nodes. Properties is
// nil for every edge kind except RELATED_TO, which carries its relation
// type label.
type Edge struct {
	ID         EdgeID         `json:"id"`
	Start      NodeID         `json:"start"`
	End        NodeID         `json:"end"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Engine is the storage contract shared by the memory and Badger backends.
//
// All implementations must be safe for concurrent use. Create operations
// fail with ErrAlreadyExists on duplicate ids; lookups fail with
// ErrNotFound. CreateEdge validates that both endpoints exist.
type Engine interface {
	// Node operations
	CreateNode(node *Node) error
	GetNode(id NodeID) (*Node, error)
	UpdateNode(node *Node) error
	DeleteNode(id NodeID) error

	// Edge operations
	CreateEdge(edge *Edge) error
	GetEdge(id EdgeID) (*Edge, error)
	DeleteEdge(id EdgeID) error

	// Query operations. edgeType == "" matches every type.
	NodesByLabel(label string) ([]*Node, error)
	OutgoingEdges(id NodeID, edgeType string) ([]*Edge, error)
	IncomingEdges(id NodeID, edgeType string) ([]*Edge, error)
	EdgeBetween(start, end NodeID, edgeType string) (*Edge, error)
	AllNodes() ([]*Node, error)
	AllEdges() ([]*Edge, error)

	// Stats
	NodeCount() (int64, error)
	EdgeCount() (int64, error)

	// Lifecycle
	Close() error
}

// CopyNode returns a deep copy of a node.
func CopyNode(node *Node) *Node {
	if node == nil {
		return nil
	}
	out := &Node{
		ID:        node.ID,
		Label:     node.Label,
		Seq:       node.Seq,
		CreatedAt: node.CreatedAt,
	}
	if node.Properties != nil {
		out.Properties = make(map[string]any, len(node.Properties))
		for k, v := range node.Properties {
			out.Properties[k] = v
		}
	}
	if node.Embedding != nil {
		out.Embedding = make([]float32, len(node.Embedding))
		copy(out.Embedding, node.Embedding)
	}
	return out
}

// CopyEdge returns a deep copy of an edge.
func CopyEdge(edge *Edge) *Edge {
	if edge == nil {
		return nil
	}
	out := &Edge{
		ID:        edge.ID,
		Start:     edge.Start,
		End:       edge.End,
		Type:      edge.Type,
		CreatedAt: edge.CreatedAt,
	}
	if edge.Properties != nil {
		out.Properties = make(map[string]any, len(edge.Properties))
		for k, v := range edge.Properties {
			out.Properties[k] = v
		}
	}
	return out
}
