// Package storage - in-memory engine.
package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryEngine is a thread-safe in-memory Engine. It backs tests and
// short-lived scopes; the on-disk layout in BadgerEngine mirrors its
// index structure.
type MemoryEngine struct {
	mu sync.RWMutex

	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Secondary indexes
	byLabel  map[string]map[NodeID]struct{}
	outgoing map[NodeID]map[EdgeID]struct{}
	incoming map[NodeID]map[EdgeID]struct{}

	seq    int64
	closed bool
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:    make(map[NodeID]*Node),
		edges:    make(map[EdgeID]*Edge),
		byLabel:  make(map[string]map[NodeID]struct{}),
		outgoing: make(map[NodeID]map[EdgeID]struct{}),
		incoming: make(map[NodeID]map[EdgeID]struct{}),
	}
}

func (e *MemoryEngine) CreateNode(node *Node) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStorageClosed
	}
	if _, exists := e.nodes[node.ID]; exists {
		return ErrAlreadyExists
	}
	stored := CopyNode(node)
	e.seq++
	stored.Seq = e.seq
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	e.nodes[stored.ID] = stored
	if e.byLabel[stored.Label] == nil {
		e.byLabel[stored.Label] = make(map[NodeID]struct{})
	}
	e.byLabel[stored.Label][stored.ID] = struct{}{}
	node.Seq = stored.Seq
	return nil
}

func (e *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return CopyNode(node), nil
}

func (e *MemoryEngine) UpdateNode(node *Node) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStorageClosed
	}
	existing, ok := e.nodes[node.ID]
	if !ok {
		return ErrNotFound
	}
	stored := CopyNode(node)
	stored.Seq = existing.Seq
	stored.CreatedAt = existing.CreatedAt
	if stored.Label != existing.Label {
		delete(e.byLabel[existing.Label], node.ID)
		if e.byLabel[stored.Label] == nil {
			e.byLabel[stored.Label] = make(map[NodeID]struct{})
		}
		e.byLabel[stored.Label][node.ID] = struct{}{}
	}
	e.nodes[node.ID] = stored
	return nil
}

func (e *MemoryEngine) DeleteNode(id NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStorageClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return ErrNotFound
	}
	// Detach edges touching the node.
	for edgeID := range e.outgoing[id] {
		e.removeEdgeUnlocked(edgeID)
	}
	for edgeID := range e.incoming[id] {
		e.removeEdgeUnlocked(edgeID)
	}
	delete(e.byLabel[node.Label], id)
	delete(e.outgoing, id)
	delete(e.incoming, id)
	delete(e.nodes, id)
	return nil
}

func (e *MemoryEngine) CreateEdge(edge *Edge) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStorageClosed
	}
	if _, exists := e.edges[edge.ID]; exists {
		return ErrAlreadyExists
	}
	if _, ok := e.nodes[edge.Start]; !ok {
		return ErrInvalidEdge
	}
	if _, ok := e.nodes[edge.End]; !ok {
		return ErrInvalidEdge
	}
	stored := CopyEdge(edge)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	e.edges[stored.ID] = stored
	if e.outgoing[stored.Start] == nil {
		e.outgoing[stored.Start] = make(map[EdgeID]struct{})
	}
	e.outgoing[stored.Start][stored.ID] = struct{}{}
	if e.incoming[stored.End] == nil {
		e.incoming[stored.End] = make(map[EdgeID]struct{})
	}
	e.incoming[stored.End][stored.ID] = struct{}{}
	return nil
}

func (e *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	edge, ok := e.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return CopyEdge(edge), nil
}

func (e *MemoryEngine) DeleteEdge(id EdgeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStorageClosed
	}
	if _, ok := e.edges[id]; !ok {
		return ErrNotFound
	}
	e.removeEdgeUnlocked(id)
	return nil
}

// removeEdgeUnlocked drops an edge and its index entries. Caller holds mu.
func (e *MemoryEngine) removeEdgeUnlocked(id EdgeID) {
	edge, ok := e.edges[id]
	if !ok {
		return
	}
	delete(e.outgoing[edge.Start], id)
	delete(e.incoming[edge.End], id)
	delete(e.edges, id)
}

func (e *MemoryEngine) NodesByLabel(label string) ([]*Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	ids := e.byLabel[label]
	out := make([]*Node, 0, len(ids))
	for id := range ids {
		out = append(out, CopyNode(e.nodes[id]))
	}
	sortNodesBySeq(out)
	return out, nil
}

func (e *MemoryEngine) OutgoingEdges(id NodeID, edgeType string) ([]*Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	return e.collectEdges(e.outgoing[id], edgeType), nil
}

func (e *MemoryEngine) IncomingEdges(id NodeID, edgeType string) ([]*Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	return e.collectEdges(e.incoming[id], edgeType), nil
}

func (e *MemoryEngine) collectEdges(ids map[EdgeID]struct{}, edgeType string) []*Edge {
	out := make([]*Edge, 0, len(ids))
	for id := range ids {
		edge := e.edges[id]
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		out = append(out, CopyEdge(edge))
	}
	sortEdgesByID(out)
	return out
}

func (e *MemoryEngine) EdgeBetween(start, end NodeID, edgeType string) (*Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	for id := range e.outgoing[start] {
		edge := e.edges[id]
		if edge.End != end {
			continue
		}
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		return CopyEdge(edge), nil
	}
	return nil, ErrNotFound
}

func (e *MemoryEngine) AllNodes() ([]*Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	out := make([]*Node, 0, len(e.nodes))
	for _, node := range e.nodes {
		out = append(out, CopyNode(node))
	}
	sortNodesBySeq(out)
	return out, nil
}

func (e *MemoryEngine) AllEdges() ([]*Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStorageClosed
	}
	out := make([]*Edge, 0, len(e.edges))
	for _, edge := range e.edges {
		out = append(out, CopyEdge(edge))
	}
	sortEdgesByID(out)
	return out, nil
}

func (e *MemoryEngine) NodeCount() (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(e.nodes)), nil
}

func (e *MemoryEngine) EdgeCount() (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(e.edges)), nil
}

// Close marks the engine closed. Further calls fail with ErrStorageClosed.
func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func sortNodesBySeq(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Seq < nodes[j].Seq })
}

func sortEdgesByID(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
}
