package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engines returns one instance of every Engine implementation, each over
// fresh state.
func engines(t *testing.T) map[string]Engine {
	t.Helper()
	badgerEngine, err := NewBadgerEngine(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerEngine.Close() })

	memEngine := NewMemoryEngine()
	t.Cleanup(func() { _ = memEngine.Close() })

	return map[string]Engine{
		"memory": memEngine,
		"badger": badgerEngine,
	}
}

func TestEngineNodeLifecycle(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			node := &Node{
				ID:         "person:Alice",
				Label:      "Person",
				Properties: map[string]any{"name": "Alice", "role": "Member"},
			}
			require.NoError(t, engine.CreateNode(node))
			assert.Greater(t, node.Seq, int64(0))

			assert.ErrorIs(t, engine.CreateNode(node), ErrAlreadyExists)

			got, err := engine.GetNode("person:Alice")
			require.NoError(t, err)
			assert.Equal(t, "Person", got.Label)
			assert.Equal(t, "Alice", got.Properties["name"])
			assert.False(t, got.CreatedAt.IsZero())

			got.Properties["role"] = "Lead"
			require.NoError(t, engine.UpdateNode(got))
			updated, err := engine.GetNode("person:Alice")
			require.NoError(t, err)
			assert.Equal(t, "Lead", updated.Properties["role"])
			assert.Equal(t, got.Seq, updated.Seq, "update preserves sequence")

			require.NoError(t, engine.DeleteNode("person:Alice"))
			_, err = engine.GetNode("person:Alice")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, engine.DeleteNode("person:Alice"), ErrNotFound)
		})
	}
}

func TestEngineEdgeLifecycle(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, engine.CreateNode(&Node{ID: "a", Label: "Person"}))
			require.NoError(t, engine.CreateNode(&Node{ID: "b", Label: "Task"}))

			edge := &Edge{ID: "a->b", Start: "a", End: "b", Type: "ASSIGNED_TO"}
			require.NoError(t, engine.CreateEdge(edge))
			assert.ErrorIs(t, engine.CreateEdge(edge), ErrAlreadyExists)

			dangling := &Edge{ID: "a->ghost", Start: "a", End: "ghost", Type: "ASSIGNED_TO"}
			assert.ErrorIs(t, engine.CreateEdge(dangling), ErrInvalidEdge)

			got, err := engine.GetEdge("a->b")
			require.NoError(t, err)
			assert.Equal(t, NodeID("b"), got.End)

			between, err := engine.EdgeBetween("a", "b", "ASSIGNED_TO")
			require.NoError(t, err)
			assert.Equal(t, EdgeID("a->b"), between.ID)
			_, err = engine.EdgeBetween("a", "b", "MENTIONS")
			assert.ErrorIs(t, err, ErrNotFound)

			out, err := engine.OutgoingEdges("a", "")
			require.NoError(t, err)
			require.Len(t, out, 1)
			in, err := engine.IncomingEdges("b", "ASSIGNED_TO")
			require.NoError(t, err)
			require.Len(t, in, 1)

			require.NoError(t, engine.DeleteEdge("a->b"))
			_, err = engine.GetEdge("a->b")
			assert.ErrorIs(t, err, ErrNotFound)
			out, err = engine.OutgoingEdges("a", "")
			require.NoError(t, err)
			assert.Empty(t, out)
		})
	}
}

func TestEngineDeleteNodeDetachesEdges(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, engine.CreateNode(&Node{ID: "a", Label: "Person"}))
			require.NoError(t, engine.CreateNode(&Node{ID: "b", Label: "Task"}))
			require.NoError(t, engine.CreateNode(&Node{ID: "c", Label: "Topic"}))
			require.NoError(t, engine.CreateEdge(&Edge{ID: "e1", Start: "a", End: "b", Type: "ASSIGNED_TO"}))
			require.NoError(t, engine.CreateEdge(&Edge{ID: "e2", Start: "c", End: "a", Type: "MENTIONS"}))

			require.NoError(t, engine.DeleteNode("a"))

			for _, id := range []EdgeID{"e1", "e2"} {
				_, err := engine.GetEdge(id)
				assert.ErrorIs(t, err, ErrNotFound, "edge %s should be detached", id)
			}
			count, err := engine.EdgeCount()
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestEngineNodesByLabelOrderedBySeq(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []NodeID{"t:one", "t:two", "t:three"} {
				require.NoError(t, engine.CreateNode(&Node{ID: id, Label: "Topic"}))
			}
			require.NoError(t, engine.CreateNode(&Node{ID: "p:x", Label: "Person"}))

			topics, err := engine.NodesByLabel("Topic")
			require.NoError(t, err)
			require.Len(t, topics, 3)
			assert.Equal(t, NodeID("t:one"), topics[0].ID)
			assert.Equal(t, NodeID("t:three"), topics[2].ID)

			none, err := engine.NodesByLabel("Decision")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestEngineCounts(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, engine.CreateNode(&Node{ID: "a", Label: "Person"}))
			require.NoError(t, engine.CreateNode(&Node{ID: "b", Label: "Person"}))
			require.NoError(t, engine.CreateEdge(&Edge{ID: "e", Start: "a", End: "b", Type: "NEXT"}))

			nodes, err := engine.NodeCount()
			require.NoError(t, err)
			assert.Equal(t, int64(2), nodes)
			edges, err := engine.EdgeCount()
			require.NoError(t, err)
			assert.Equal(t, int64(1), edges)

			all, err := engine.AllNodes()
			require.NoError(t, err)
			assert.Len(t, all, 2)
			allEdges, err := engine.AllEdges()
			require.NoError(t, err)
			assert.Len(t, allEdges, 1)
		})
	}
}

func TestEngineCopySemantics(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			node := &Node{
				ID:         "n",
				Label:      "Topic",
				Properties: map[string]any{"title": "Budget"},
				Embedding:  []float32{0.1, 0.2},
			}
			require.NoError(t, engine.CreateNode(node))

			// Mutating the caller's copy must not leak into storage.
			node.Properties["title"] = "mutated"
			node.Embedding[0] = 99

			got, err := engine.GetNode("n")
			require.NoError(t, err)
			assert.Equal(t, "Budget", got.Properties["title"])
			assert.InDelta(t, 0.1, got.Embedding[0], 1e-6)

			// Mutating a returned copy must not leak either.
			got.Properties["title"] = "again"
			fresh, err := engine.GetNode("n")
			require.NoError(t, err)
			assert.Equal(t, "Budget", fresh.Properties["title"])
		})
	}
}

func TestEngineClosedErrors(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, engine.Close())
			assert.ErrorIs(t, engine.CreateNode(&Node{ID: "x", Label: "Person"}), ErrStorageClosed)
			_, err := engine.GetNode("x")
			assert.ErrorIs(t, err, ErrStorageClosed)
			_, err = engine.NodeCount()
			assert.ErrorIs(t, err, ErrStorageClosed)
		})
	}
}

func TestBadgerEnginePersistence(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	require.NoError(t, engine.CreateNode(&Node{
		ID:         "topic:Budget",
		Label:      "Topic",
		Properties: map[string]any{"title": "Budget", "summary": "Q3 numbers"},
		Embedding:  []float32{0.5, 0.5},
	}))
	require.NoError(t, engine.CreateNode(&Node{ID: "person:Alice", Label: "Person"}))
	require.NoError(t, engine.CreateEdge(&Edge{
		ID: "m", Start: "person:Alice", End: "topic:Budget", Type: "MENTIONS",
	}))
	require.NoError(t, engine.Close())

	reopened, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	defer reopened.Close()

	node, err := reopened.GetNode("topic:Budget")
	require.NoError(t, err)
	assert.Equal(t, "Q3 numbers", node.Properties["summary"])
	assert.Len(t, node.Embedding, 2)

	edges, err := reopened.OutgoingEdges("person:Alice", "MENTIONS")
	require.NoError(t, err)
	require.Len(t, edges, 1)

	topics, err := reopened.NodesByLabel("Topic")
	require.NoError(t, err)
	assert.Len(t, topics, 1)
}
