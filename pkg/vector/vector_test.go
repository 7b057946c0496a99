package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{0.3, 0.4, 0.5}
		assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 2}, []float32{-1, -2}), 1e-9)
	})

	t.Run("mismatched lengths return zero", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	})

	t.Run("zero vector returns zero", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	})

	t.Run("ranking order", func(t *testing.T) {
		query := []float32{1, 0, 0}
		near := []float32{0.9, 0.1, 0}
		far := []float32{0.1, 0.9, 0}
		assert.Greater(t, CosineSimilarity(query, near), CosineSimilarity(query, far))
	})
}

func TestNormalize(t *testing.T) {
	t.Run("unit length", func(t *testing.T) {
		out := Normalize([]float32{3, 4})
		assert.InDelta(t, 0.6, out[0], 1e-6)
		assert.InDelta(t, 0.8, out[1], 1e-6)
		assert.InDelta(t, 1.0, CosineSimilarity(out, []float32{3, 4}), 1e-6)
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
	})

	t.Run("input not mutated", func(t *testing.T) {
		in := []float32{2, 0}
		Normalize(in)
		assert.Equal(t, float32(2), in[0])
	})
}
