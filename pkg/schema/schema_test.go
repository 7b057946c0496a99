package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedKey(t *testing.T) {
	t.Run("prefixes with scope and separator", func(t *testing.T) {
		assert.Equal(t, "m_1::Budget review", ScopedKey("m_1", "Budget review"))
	})

	t.Run("empty scope returns trimmed plain value", func(t *testing.T) {
		assert.Equal(t, "Budget review", ScopedKey("", "  Budget review "))
	})

	t.Run("empty value returns empty key", func(t *testing.T) {
		assert.Equal(t, "", ScopedKey("m_1", "   "))
	})
}

func TestDecodeScopedValue(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for _, plain := range []string{"Budget", "a b c", "한국어 주제"} {
			key := ScopedKey("m_42", plain)
			assert.Equal(t, plain, DecodeScopedValue(key))
			assert.Equal(t, "m_42", ExtractScope(key))
		}
	})

	t.Run("plain values pass through unchanged", func(t *testing.T) {
		assert.Equal(t, "no separator here", DecodeScopedValue("no separator here"))
		assert.Equal(t, "", ExtractScope("no separator here"))
	})

	t.Run("strips exactly one prefix", func(t *testing.T) {
		assert.Equal(t, "a::b", DecodeScopedValue("m_1::a::b"))
	})

	t.Run("idempotent on decoded output without separator", func(t *testing.T) {
		decoded := DecodeScopedValue("m_1::plain")
		assert.Equal(t, decoded, DecodeScopedValue(decoded))
	})
}

func TestEdgeEndpointsCoverAllKinds(t *testing.T) {
	require.Len(t, EdgeEndpoints, 12)
	for kind, ep := range EdgeEndpoints {
		assert.True(t, ValidEdgeKind(kind))
		assert.True(t, ValidNodeKind(ep.From), "edge %s from", kind)
		assert.True(t, ValidNodeKind(ep.To), "edge %s to", kind)
	}
}

func TestScoperStrategies(t *testing.T) {
	t.Run("scoped keys", func(t *testing.T) {
		var s Scoper = ScopedKeys{}
		key := s.Key("m_7", "Deploy plan")
		assert.Equal(t, "m_7::Deploy plan", key)
		assert.Equal(t, "Deploy plan", s.Plain(key))
		assert.Equal(t, "m_7", s.Scope(key))
	})

	t.Run("plain keys ignore the meeting id", func(t *testing.T) {
		var s Scoper = PlainKeys{}
		key := s.Key("m_7", "Deploy plan")
		assert.Equal(t, "Deploy plan", key)
		assert.Equal(t, "Deploy plan", s.Plain(key))
		assert.Equal(t, "", s.Scope(key))
	})
}
