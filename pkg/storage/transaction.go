// Package storage - buffered transactions.
package storage

import (
	"errors"
	"fmt"
	"sync"
)

// Transaction errors.
var (
	ErrTxClosed = errors.New("transaction already committed or rolled back")
)

// Transaction buffers a batch of mutations against an Engine and applies
// them atomically on Commit. Reads inside the transaction see its own
// pending writes. Rollback discards the buffer without touching the
// engine.
//
// Commit validates the whole batch first, then applies it. If a write
// fails mid-apply the already-applied operations are undone, so a failed
// Commit leaves the engine as it was. Transactions are not isolated from
// concurrent writers; the graph store serializes writers per scope.
type Transaction struct {
	engine Engine

	mu sync.Mutex

	pendingNodes map[NodeID]*Node
	pendingEdges map[EdgeID]*Edge
	// Buffer insertion order, so sequence numbers assigned at commit
	// reflect the order the caller created nodes in.
	nodeOrder []NodeID
	edgeOrder []EdgeID
	// updatedNodes holds new states for nodes that already exist in the
	// engine; priorNodes their states at buffer time, for undo.
	updatedNodes map[NodeID]*Node
	priorNodes   map[NodeID]*Node

	deletedNodes map[NodeID]struct{}
	deletedEdges map[EdgeID]struct{}

	done bool
}

// NewTransaction starts an empty transaction over the engine.
func NewTransaction(engine Engine) *Transaction {
	return &Transaction{
		engine:       engine,
		pendingNodes: make(map[NodeID]*Node),
		pendingEdges: make(map[EdgeID]*Edge),
		updatedNodes: make(map[NodeID]*Node),
		priorNodes:   make(map[NodeID]*Node),
		deletedNodes: make(map[NodeID]struct{}),
		deletedEdges: make(map[EdgeID]struct{}),
	}
}

// CreateNode buffers a node creation. Fails if the id is already pending
// or already stored (and not deleted in this transaction).
func (tx *Transaction) CreateNode(node *Node) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}
	if _, pending := tx.pendingNodes[node.ID]; pending {
		return ErrAlreadyExists
	}
	if _, updated := tx.updatedNodes[node.ID]; updated {
		return ErrAlreadyExists
	}
	if _, deleted := tx.deletedNodes[node.ID]; deleted {
		// Deleted earlier in this transaction, so the id is stored in the
		// engine. Recreating becomes a full replacement at commit.
		if _, ok := tx.priorNodes[node.ID]; !ok {
			prior, err := tx.engine.GetNode(node.ID)
			if err != nil {
				return err
			}
			tx.priorNodes[node.ID] = prior
		}
		delete(tx.deletedNodes, node.ID)
		tx.updatedNodes[node.ID] = CopyNode(node)
		return nil
	}
	if _, err := tx.engine.GetNode(node.ID); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	tx.pendingNodes[node.ID] = CopyNode(node)
	tx.nodeOrder = append(tx.nodeOrder, node.ID)
	return nil
}

// GetNode reads a node with read-your-writes semantics: pending creations
// and updates win over the engine; deletions hide stored nodes.
func (tx *Transaction) GetNode(id NodeID) (*Node, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxClosed
	}
	if node, ok := tx.pendingNodes[id]; ok {
		return CopyNode(node), nil
	}
	if node, ok := tx.updatedNodes[id]; ok {
		return CopyNode(node), nil
	}
	if _, deleted := tx.deletedNodes[id]; deleted {
		return nil, ErrNotFound
	}
	return tx.engine.GetNode(id)
}

// UpdateNode buffers a full replacement of an existing node. The node may
// be one created earlier in this transaction.
func (tx *Transaction) UpdateNode(node *Node) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}
	if _, pending := tx.pendingNodes[node.ID]; pending {
		tx.pendingNodes[node.ID] = CopyNode(node)
		return nil
	}
	if _, deleted := tx.deletedNodes[node.ID]; deleted {
		return ErrNotFound
	}
	if _, ok := tx.priorNodes[node.ID]; !ok {
		prior, err := tx.engine.GetNode(node.ID)
		if err != nil {
			return err
		}
		tx.priorNodes[node.ID] = prior
	}
	tx.updatedNodes[node.ID] = CopyNode(node)
	return nil
}

// DeleteNode buffers a node deletion.
func (tx *Transaction) DeleteNode(id NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}
	if _, pending := tx.pendingNodes[id]; pending {
		delete(tx.pendingNodes, id)
		tx.dropPendingEdgesTouching(id)
		return nil
	}
	delete(tx.updatedNodes, id)
	delete(tx.priorNodes, id)
	if _, err := tx.engine.GetNode(id); err != nil {
		return err
	}
	tx.deletedNodes[id] = struct{}{}
	tx.dropPendingEdgesTouching(id)
	return nil
}

func (tx *Transaction) dropPendingEdgesTouching(id NodeID) {
	for edgeID, edge := range tx.pendingEdges {
		if edge.Start == id || edge.End == id {
			delete(tx.pendingEdges, edgeID)
		}
	}
}

// CreateEdge buffers an edge creation. Endpoint existence is validated at
// Commit, so edges may reference nodes buffered in the same transaction.
func (tx *Transaction) CreateEdge(edge *Edge) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}
	if _, pending := tx.pendingEdges[edge.ID]; pending {
		return ErrAlreadyExists
	}
	if _, deleted := tx.deletedEdges[edge.ID]; !deleted {
		if _, err := tx.engine.GetEdge(edge.ID); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	delete(tx.deletedEdges, edge.ID)
	tx.pendingEdges[edge.ID] = CopyEdge(edge)
	tx.edgeOrder = append(tx.edgeOrder, edge.ID)
	return nil
}

// GetEdge reads an edge with read-your-writes semantics.
func (tx *Transaction) GetEdge(id EdgeID) (*Edge, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxClosed
	}
	if edge, ok := tx.pendingEdges[id]; ok {
		return CopyEdge(edge), nil
	}
	if _, deleted := tx.deletedEdges[id]; deleted {
		return nil, ErrNotFound
	}
	return tx.engine.GetEdge(id)
}

// EdgeBetween finds an edge start->end of the given type, considering
// both pending and stored edges. edgeType == "" matches every type.
func (tx *Transaction) EdgeBetween(start, end NodeID, edgeType string) (*Edge, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxClosed
	}
	for _, edge := range tx.pendingEdges {
		if edge.Start != start || edge.End != end {
			continue
		}
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		return CopyEdge(edge), nil
	}
	edge, err := tx.engine.EdgeBetween(start, end, edgeType)
	if err != nil {
		return nil, err
	}
	if _, deleted := tx.deletedEdges[edge.ID]; deleted {
		return nil, ErrNotFound
	}
	return edge, nil
}

// DeleteEdge buffers an edge deletion.
func (tx *Transaction) DeleteEdge(id EdgeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}
	if _, pending := tx.pendingEdges[id]; pending {
		delete(tx.pendingEdges, id)
		return nil
	}
	if _, err := tx.engine.GetEdge(id); err != nil {
		return err
	}
	tx.deletedEdges[id] = struct{}{}
	return nil
}

// Commit validates the buffered batch and applies it to the engine.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}

	if err := tx.validate(); err != nil {
		return err
	}

	// Apply order: creations first so edge endpoints exist, then updates,
	// then deletions. Created entities are removed again on failure.
	var createdNodes []NodeID
	var createdEdges []EdgeID
	var restoredNodes []*Node
	undo := func() {
		for _, prior := range restoredNodes {
			_ = tx.engine.UpdateNode(prior)
		}
		for _, id := range createdEdges {
			_ = tx.engine.DeleteEdge(id)
		}
		for _, id := range createdNodes {
			_ = tx.engine.DeleteNode(id)
		}
	}

	seenNodes := make(map[NodeID]struct{}, len(tx.pendingNodes))
	for _, id := range tx.nodeOrder {
		node, pending := tx.pendingNodes[id]
		if !pending {
			continue // deleted again before commit
		}
		if _, done := seenNodes[id]; done {
			continue
		}
		seenNodes[id] = struct{}{}
		if err := tx.engine.CreateNode(node); err != nil {
			undo()
			return fmt.Errorf("applying node %q: %w", id, err)
		}
		createdNodes = append(createdNodes, id)
	}
	seenEdges := make(map[EdgeID]struct{}, len(tx.pendingEdges))
	for _, id := range tx.edgeOrder {
		edge, pending := tx.pendingEdges[id]
		if !pending {
			continue
		}
		if _, done := seenEdges[id]; done {
			continue
		}
		seenEdges[id] = struct{}{}
		if err := tx.engine.CreateEdge(edge); err != nil {
			undo()
			return fmt.Errorf("applying edge %q: %w", id, err)
		}
		createdEdges = append(createdEdges, id)
	}
	for id, node := range tx.updatedNodes {
		if err := tx.engine.UpdateNode(node); err != nil {
			undo()
			return fmt.Errorf("applying update of node %q: %w", id, err)
		}
		restoredNodes = append(restoredNodes, tx.priorNodes[id])
	}
	for id := range tx.deletedEdges {
		if err := tx.engine.DeleteEdge(id); err != nil && !errors.Is(err, ErrNotFound) {
			undo()
			return fmt.Errorf("deleting edge %q: %w", id, err)
		}
	}
	for id := range tx.deletedNodes {
		if err := tx.engine.DeleteNode(id); err != nil && !errors.Is(err, ErrNotFound) {
			undo()
			return fmt.Errorf("deleting node %q: %w", id, err)
		}
	}

	tx.done = true
	return nil
}

// validate checks the batch before any write reaches the engine.
func (tx *Transaction) validate() error {
	nodeVisible := func(id NodeID) (bool, error) {
		if _, ok := tx.pendingNodes[id]; ok {
			return true, nil
		}
		if _, ok := tx.updatedNodes[id]; ok {
			return true, nil
		}
		if _, deleted := tx.deletedNodes[id]; deleted {
			return false, nil
		}
		_, err := tx.engine.GetNode(id)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}

	for id := range tx.pendingNodes {
		if _, deleted := tx.deletedNodes[id]; deleted {
			continue
		}
		if _, err := tx.engine.GetNode(id); err == nil {
			return fmt.Errorf("node %q: %w", id, ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	for id, edge := range tx.pendingEdges {
		for _, endpoint := range []NodeID{edge.Start, edge.End} {
			ok, err := nodeVisible(endpoint)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("edge %q endpoint %q: %w", id, endpoint, ErrInvalidEdge)
			}
		}
	}
	return nil
}

// Rollback discards the buffer. Safe to call after Commit; it is a no-op
// then, which lets callers defer it unconditionally.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true
	tx.pendingNodes = nil
	tx.pendingEdges = nil
	tx.updatedNodes = nil
	tx.priorNodes = nil
	tx.deletedNodes = nil
	tx.deletedEdges = nil
	return nil
}
