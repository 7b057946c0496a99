// Package session maps logical scope identifiers (chat sessions or
// single meetings) to physically isolated graph stores.
//
// One scope owns one store directory and one mutex. Every operation runs
// through WithScope, which holds the scope's lock for the operation's
// full duration: mutating operations on the same scope serialize, while
// different scopes never block each other. A small meta.json sidecar per
// scope allows listing without opening the stores.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/speaknode/speaknode/pkg/graph"
)

// Manager errors.
var (
	ErrScopeNotFound = errors.New("scope not found")
	ErrScopeExists   = errors.New("scope already exists")
	ErrManagerClosed = errors.New("session manager closed")
	ErrBadScopeID    = errors.New("invalid scope id")
)

const (
	metaFileName = "meta.json"
	storeDirName = "db"
)

// Meta is the sidecar record describing a scope.
type Meta struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Date       string    `json:"date,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Options configures a Manager.
type Options struct {
	// StoreOptions is the template applied to every opened store.
	StoreOptions graph.Options
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Manager owns the scope registry under one root directory.
type Manager struct {
	root string
	opts graph.Options
	log  *zap.Logger

	mu     sync.Mutex
	scopes map[string]*scope
	closed bool
}

type scope struct {
	mu    sync.Mutex
	meta  Meta
	store *graph.Store // nil until first use
}

// NewManager opens a manager over root, discovering existing scopes from
// their sidecar files. The root directory is created if absent.
func NewManager(root string, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating session root: %w", err)
	}
	m := &Manager{
		root:   root,
		opts:   opts.StoreOptions,
		log:    opts.Logger,
		scopes: make(map[string]*scope),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scanning session root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := readMeta(filepath.Join(root, entry.Name(), metaFileName))
		if err != nil {
			m.log.Warn("skipping scope with unreadable sidecar",
				zap.String("scope", entry.Name()), zap.Error(err))
			continue
		}
		m.scopes[meta.ID] = &scope{meta: meta}
	}
	m.log.Info("session manager opened",
		zap.String("root", root), zap.Int("scopes", len(m.scopes)))
	return m, nil
}

// Create registers a new scope and writes its sidecar. An empty meta.ID
// gets a generated identifier. Returns the scope id.
func (m *Manager) Create(meta Meta) (string, error) {
	if meta.ID == "" {
		meta.ID = "s_" + uuid.NewString()
	}
	if err := validateScopeID(meta.ID); err != nil {
		return "", err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrManagerClosed
	}
	if _, exists := m.scopes[meta.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrScopeExists, meta.ID)
	}

	dir := filepath.Join(m.root, meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scope dir: %w", err)
	}
	if err := writeMeta(filepath.Join(dir, metaFileName), meta); err != nil {
		return "", err
	}
	m.scopes[meta.ID] = &scope{meta: meta}
	m.log.Info("scope created", zap.String("scope", meta.ID))
	return meta.ID, nil
}

// List returns every scope's sidecar, newest first.
func (m *Manager) List() ([]Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	out := make([]Meta, 0, len(m.scopes))
	for _, sc := range m.scopes {
		out = append(out, sc.meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns one scope's sidecar.
func (m *Manager) Get(id string) (Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Meta{}, ErrManagerClosed
	}
	sc, ok := m.scopes[id]
	if !ok {
		return Meta{}, fmt.Errorf("%w: %s", ErrScopeNotFound, id)
	}
	return sc.meta, nil
}

// WithScope runs fn while holding the scope's lock, opening the store on
// first use. The lock is held across fn entirely, including any external
// collaborator calls fn makes, and is always released on return. The
// context is consulted before fn runs; fn receives it for its own
// cancellation points.
func (m *Manager) WithScope(ctx context.Context, id string, fn func(ctx context.Context, store *graph.Store) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	sc, ok := m.scopes[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrScopeNotFound, id)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if sc.store == nil {
		store, err := graph.Open(filepath.Join(m.root, id, storeDirName), m.opts)
		if err != nil {
			return fmt.Errorf("opening scope %s: %w", id, err)
		}
		sc.store = store
	}
	return fn(ctx, sc.store)
}

// Delete tears a scope down: closes its store, removes its directory,
// and forgets it. In-flight operations on the scope finish first.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	sc, ok := m.scopes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScopeNotFound, id)
	}
	delete(m.scopes, id)
	m.mu.Unlock()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.store != nil {
		if err := sc.store.Close(); err != nil {
			return fmt.Errorf("closing scope %s: %w", id, err)
		}
		sc.store = nil
	}
	if err := os.RemoveAll(filepath.Join(m.root, id)); err != nil {
		return fmt.Errorf("removing scope %s: %w", id, err)
	}
	m.log.Info("scope deleted", zap.String("scope", id))
	return nil
}

// Close closes every open store. Further manager calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	scopes := make([]*scope, 0, len(m.scopes))
	for _, sc := range m.scopes {
		scopes = append(scopes, sc)
	}
	m.mu.Unlock()

	var firstErr error
	for _, sc := range scopes {
		sc.mu.Lock()
		if sc.store != nil {
			if err := sc.store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			sc.store = nil
		}
		sc.mu.Unlock()
	}
	return firstErr
}

// validateScopeID keeps ids usable as directory names.
func validateScopeID(id string) error {
	if id == "" || len(id) > 128 {
		return fmt.Errorf("%w: %q", ErrBadScopeID, id)
	}
	if strings.ContainsAny(id, "/\\.") || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrBadScopeID, id)
	}
	return nil
}

func readMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if meta.ID == "" {
		return Meta{}, fmt.Errorf("sidecar %s has no id", path)
	}
	return meta, nil
}

func writeMeta(path string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}
