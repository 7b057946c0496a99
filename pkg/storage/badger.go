// Package storage - persistent engine on BadgerDB.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Single-byte prefixes; index keys use 0x00 as the component separator.
const (
	prefixNode          = byte(0x01) // 0x01 + nodeID            -> JSON(Node)
	prefixEdge          = byte(0x02) // 0x02 + edgeID            -> JSON(Edge)
	prefixLabelIndex    = byte(0x03) // 0x03 + label + 0 + nodeID -> empty
	prefixOutgoingIndex = byte(0x04) // 0x04 + nodeID + 0 + edgeID -> empty
	prefixIncomingIndex = byte(0x05) // 0x05 + nodeID + 0 + edgeID -> empty
	prefixMeta          = byte(0x06) // sequence counter
)

// BadgerEngine is the persistent Engine. Every isolation scope owns one
// BadgerEngine over its own data directory; no two engines may share a
// directory (Badger enforces this with a directory lock).
type BadgerEngine struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures the persistent engine.
type BadgerOptions struct {
	// DataDir is the directory for data files. Created if absent.
	DataDir string
	// InMemory runs Badger without touching disk. Used by tests.
	InMemory bool
	// SyncWrites forces fsync after each write.
	SyncWrites bool
}

// NewBadgerEngine opens a persistent engine over dataDir with defaults.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions opens a persistent engine with explicit options.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.InMemory {
		badgerOpts.Dir = ""
		badgerOpts.ValueDir = ""
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", opts.DataDir, err)
	}
	seq, err := db.GetSequence([]byte{prefixMeta, 's', 'e', 'q'}, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening sequence: %w", err)
	}
	return &BadgerEngine{db: db, seq: seq}, nil
}

func nodeKey(id NodeID) []byte { return append([]byte{prefixNode}, id...) }
func edgeKey(id EdgeID) []byte { return append([]byte{prefixEdge}, id...) }

func labelIndexKey(label string, id NodeID) []byte {
	key := []byte{prefixLabelIndex}
	key = append(key, label...)
	key = append(key, 0x00)
	return append(key, id...)
}

func adjacencyKey(prefix byte, nodeID NodeID, edgeID EdgeID) []byte {
	key := []byte{prefix}
	key = append(key, nodeID...)
	key = append(key, 0x00)
	return append(key, edgeID...)
}

func (e *BadgerEngine) guard() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrStorageClosed
	}
	return nil
}

func (e *BadgerEngine) CreateNode(node *Node) error {
	if err := e.guard(); err != nil {
		return err
	}
	seq, err := e.seq.Next()
	if err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}
	stored := CopyNode(node)
	stored.Seq = int64(seq) + 1 // sequences start at 0; keep 0 meaning "unset"
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	err = e.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(stored.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling node: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(labelIndexKey(stored.Label, stored.ID), nil)
	})
	if err != nil {
		return err
	}
	node.Seq = stored.Seq
	return nil
}

func (e *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var node *Node
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			node = &Node{}
			if err := json.Unmarshal(val, node); err != nil {
				return fmt.Errorf("unmarshaling node %q: %w", id, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (e *BadgerEngine) UpdateNode(node *Node) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		existing, err := readNode(txn, node.ID)
		if err != nil {
			return err
		}
		stored := CopyNode(node)
		stored.Seq = existing.Seq
		stored.CreatedAt = existing.CreatedAt
		if stored.Label != existing.Label {
			if err := txn.Delete(labelIndexKey(existing.Label, node.ID)); err != nil {
				return err
			}
			if err := txn.Set(labelIndexKey(stored.Label, node.ID), nil); err != nil {
				return err
			}
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling node: %w", err)
		}
		return txn.Set(nodeKey(node.ID), data)
	})
}

func (e *BadgerEngine) DeleteNode(id NodeID) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		node, err := readNode(txn, id)
		if err != nil {
			return err
		}
		// Detach edges touching the node.
		for _, prefix := range []byte{prefixOutgoingIndex, prefixIncomingIndex} {
			edgeIDs, err := scanAdjacency(txn, prefix, id)
			if err != nil {
				return err
			}
			for _, edgeID := range edgeIDs {
				if err := deleteEdgeInTxn(txn, edgeID); err != nil && err != ErrNotFound {
					return err
				}
			}
		}
		if err := txn.Delete(labelIndexKey(node.Label, id)); err != nil {
			return err
		}
		return txn.Delete(nodeKey(id))
	})
}

func (e *BadgerEngine) CreateEdge(edge *Edge) error {
	if err := e.guard(); err != nil {
		return err
	}
	stored := CopyEdge(edge)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	return e.db.Update(func(txn *badger.Txn) error {
		key := edgeKey(stored.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		for _, nodeID := range []NodeID{stored.Start, stored.End} {
			if _, err := txn.Get(nodeKey(nodeID)); err == badger.ErrKeyNotFound {
				return ErrInvalidEdge
			} else if err != nil {
				return err
			}
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling edge: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(adjacencyKey(prefixOutgoingIndex, stored.Start, stored.ID), nil); err != nil {
			return err
		}
		return txn.Set(adjacencyKey(prefixIncomingIndex, stored.End, stored.ID), nil)
	})
}

func (e *BadgerEngine) GetEdge(id EdgeID) (*Edge, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var edge *Edge
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		edge, err = readEdge(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

func (e *BadgerEngine) DeleteEdge(id EdgeID) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return deleteEdgeInTxn(txn, id)
	})
}

func (e *BadgerEngine) NodesByLabel(label string) ([]*Node, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var nodes []*Node
	err := e.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixLabelIndex}
		prefix = append(prefix, label...)
		prefix = append(prefix, 0x00)

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			id := NodeID(it.Item().Key()[len(prefix):])
			node, err := readNode(txn, id)
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNodesBySeq(nodes)
	return nodes, nil
}

func (e *BadgerEngine) OutgoingEdges(id NodeID, edgeType string) ([]*Edge, error) {
	return e.edgesByAdjacency(prefixOutgoingIndex, id, edgeType)
}

func (e *BadgerEngine) IncomingEdges(id NodeID, edgeType string) ([]*Edge, error) {
	return e.edgesByAdjacency(prefixIncomingIndex, id, edgeType)
}

func (e *BadgerEngine) edgesByAdjacency(prefix byte, id NodeID, edgeType string) ([]*Edge, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var edges []*Edge
	err := e.db.View(func(txn *badger.Txn) error {
		edgeIDs, err := scanAdjacency(txn, prefix, id)
		if err != nil {
			return err
		}
		for _, edgeID := range edgeIDs {
			edge, err := readEdge(txn, edgeID)
			if err != nil {
				return err
			}
			if edgeType != "" && edge.Type != edgeType {
				continue
			}
			edges = append(edges, edge)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdgesByID(edges)
	return edges, nil
}

func (e *BadgerEngine) EdgeBetween(start, end NodeID, edgeType string) (*Edge, error) {
	edges, err := e.OutgoingEdges(start, edgeType)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if edge.End == end {
			return edge, nil
		}
	}
	return nil, ErrNotFound
}

func (e *BadgerEngine) AllNodes() ([]*Node, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var nodes []*Node
	err := e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixNode}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				node := &Node{}
				if err := json.Unmarshal(val, node); err != nil {
					return fmt.Errorf("unmarshaling node: %w", err)
				}
				nodes = append(nodes, node)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNodesBySeq(nodes)
	return nodes, nil
}

func (e *BadgerEngine) AllEdges() ([]*Edge, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var edges []*Edge
	err := e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixEdge}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				edge := &Edge{}
				if err := json.Unmarshal(val, edge); err != nil {
					return fmt.Errorf("unmarshaling edge: %w", err)
				}
				edges = append(edges, edge)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdgesByID(edges)
	return edges, nil
}

func (e *BadgerEngine) NodeCount() (int64, error) {
	return e.countPrefix(prefixNode)
}

func (e *BadgerEngine) EdgeCount() (int64, error) {
	return e.countPrefix(prefixEdge)
}

func (e *BadgerEngine) countPrefix(prefix byte) (int64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	var count int64
	err := e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte{prefix},
			PrefetchValues: false,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the sequence and the underlying database. The directory
// lock is dropped so another process (or scope teardown) may take over.
func (e *BadgerEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.seq.Release(); err != nil {
		_ = e.db.Close()
		return fmt.Errorf("releasing sequence: %w", err)
	}
	return e.db.Close()
}

// readNode fetches and decodes a node inside an open Badger transaction.
func readNode(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	node := &Node{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, node)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshaling node %q: %w", id, err)
	}
	return node, nil
}

func readEdge(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	edge := &Edge{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, edge)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshaling edge %q: %w", id, err)
	}
	return edge, nil
}

func deleteEdgeInTxn(txn *badger.Txn, id EdgeID) error {
	edge, err := readEdge(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(adjacencyKey(prefixOutgoingIndex, edge.Start, id)); err != nil {
		return err
	}
	if err := txn.Delete(adjacencyKey(prefixIncomingIndex, edge.End, id)); err != nil {
		return err
	}
	return txn.Delete(edgeKey(id))
}

// scanAdjacency collects the edge ids referenced by one adjacency index.
func scanAdjacency(txn *badger.Txn, prefix byte, id NodeID) ([]EdgeID, error) {
	keyPrefix := []byte{prefix}
	keyPrefix = append(keyPrefix, id...)
	keyPrefix = append(keyPrefix, 0x00)

	var edgeIDs []EdgeID
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         keyPrefix,
		PrefetchValues: false,
	})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		if !bytes.HasPrefix(key, keyPrefix) {
			break
		}
		edgeIDs = append(edgeIDs, EdgeID(key[len(keyPrefix):]))
	}
	return edgeIDs, nil
}
