// Package graph implements the SpeakNode graph store: the sole point of
// access to one isolation scope's persisted meeting graph.
//
// A Store wraps a storage.Engine with the fixed meeting schema. It owns
// ingest (one meeting per transaction), the narrow node-update whitelist,
// vector similarity search over utterance embeddings, structural queries,
// and versioned dump/restore.
//
// Node ids are deterministic: a lowercased kind prefix plus the node's
// primary key ("person:Alice", "topic:m_1::Budget"). Merge-on-key is
// therefore a point lookup, never a scan.
//
// Example:
//
//	store, err := graph.Open(dir, graph.Options{Scoper: schema.ScopedKeys{}})
//	if err != nil { ... }
//	defer store.Close()
//
//	meetingID, err := store.Ingest(ctx, meta, result)
package graph

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/storage"
)

// Errors surfaced by the store.
var (
	ErrEmbeddingDim        = errors.New("embedding dimension mismatch")
	ErrUnknownKind         = errors.New("unknown node kind")
	ErrFieldNotAllowed     = errors.New("field not allowed for update")
	ErrInvalidStatus       = errors.New("invalid task status")
	ErrAmbiguousTarget     = errors.New("value matches multiple nodes, qualify with scope")
	ErrDumpTooLarge        = errors.New("dump exceeds maximum size")
	ErrDumpTooManyElements = errors.New("dump exceeds maximum element count")
	ErrDumpVersion         = errors.New("unsupported dump version")
)

// Defaults for Options left zero.
const (
	DefaultEmbeddingDim    = 384
	DefaultMaxDumpBytes    = 25 << 20
	DefaultMaxDumpElements = 200_000
)

// Options configures a Store.
type Options struct {
	// Scoper selects the key isolation strategy. Defaults to ScopedKeys.
	Scoper schema.Scoper
	// EmbeddingDim is the required utterance embedding length.
	EmbeddingDim int
	// MaxDumpBytes bounds the serialized size accepted by Restore.
	MaxDumpBytes int
	// MaxDumpElements bounds the node+edge count accepted by Restore.
	MaxDumpElements int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

func (o *Options) fill() {
	if o.Scoper == nil {
		o.Scoper = schema.ScopedKeys{}
	}
	if o.EmbeddingDim <= 0 {
		o.EmbeddingDim = DefaultEmbeddingDim
	}
	if o.MaxDumpBytes <= 0 {
		o.MaxDumpBytes = DefaultMaxDumpBytes
	}
	if o.MaxDumpElements <= 0 {
		o.MaxDumpElements = DefaultMaxDumpElements
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Store is the graph store for one isolation scope. Safe for concurrent
// reads; the session manager serializes mutating operations per scope.
type Store struct {
	engine storage.Engine
	scoper schema.Scoper
	log    *zap.Logger

	dim             int
	maxDumpBytes    int
	maxDumpElements int

	dir string
}

// Open opens (or creates) a persistent store rooted at dir.
func Open(dir string, opts Options) (*Store, error) {
	opts.fill()
	engine, err := storage.NewBadgerEngine(dir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	store := newStore(engine, opts)
	store.dir = dir
	store.log.Debug("store opened", zap.String("dir", dir))
	return store, nil
}

// OpenMemory opens an in-memory store. Used by tests and ephemeral scopes.
func OpenMemory(opts Options) *Store {
	opts.fill()
	return newStore(storage.NewMemoryEngine(), opts)
}

func newStore(engine storage.Engine, opts Options) *Store {
	return &Store{
		engine:          engine,
		scoper:          opts.Scoper,
		log:             opts.Logger,
		dim:             opts.EmbeddingDim,
		maxDumpBytes:    opts.MaxDumpBytes,
		maxDumpElements: opts.MaxDumpElements,
	}
}

// EmbeddingDim returns the embedding length this store enforces.
func (s *Store) EmbeddingDim() int { return s.dim }

// Counts returns the node and edge totals for the scope.
func (s *Store) Counts() (nodes, edges int64, err error) {
	nodes, err = s.engine.NodeCount()
	if err != nil {
		return 0, 0, err
	}
	edges, err = s.engine.EdgeCount()
	if err != nil {
		return 0, 0, err
	}
	return nodes, edges, nil
}

// Close releases the underlying engine. The store is unusable afterwards.
func (s *Store) Close() error {
	return s.engine.Close()
}

// Destroy closes the store and removes its on-disk data. Used by scope
// teardown. Destroying an in-memory store just closes it.
func (s *Store) Destroy() error {
	if err := s.engine.Close(); err != nil {
		return err
	}
	if s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("removing store dir: %w", err)
	}
	s.log.Info("store destroyed", zap.String("dir", s.dir))
	return nil
}

// nodeID builds the deterministic node id for a kind and primary key.
func nodeID(kind schema.NodeKind, key string) storage.NodeID {
	return storage.NodeID(strings.ToLower(string(kind)) + ":" + key)
}

func edgeID(kind schema.EdgeKind, start, end storage.NodeID) storage.EdgeID {
	return storage.EdgeID(string(kind) + "|" + string(start) + "|" + string(end))
}

// keyProperty names the primary-key property of each node kind.
func keyProperty(kind schema.NodeKind) string {
	switch kind {
	case schema.KindMeeting, schema.KindUtterance:
		return "id"
	case schema.KindPerson, schema.KindEntity:
		return "name"
	case schema.KindTopic:
		return "title"
	case schema.KindTask, schema.KindDecision:
		return "description"
	}
	return ""
}

func propString(node *storage.Node, key string) string {
	if node == nil || node.Properties == nil {
		return ""
	}
	v, _ := node.Properties[key].(string)
	return v
}
