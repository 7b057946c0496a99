package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/vector"
)

func TestHashEmbedder(t *testing.T) {
	embedder := HashEmbedder{Dim: 16}
	ctx := context.Background()

	a, err := embedder.Embed(ctx, "budget review for the quarter")
	require.NoError(t, err)
	assert.Len(t, a, 16)

	same, err := embedder.Embed(ctx, "budget review for the quarter")
	require.NoError(t, err)
	assert.Equal(t, a, same, "deterministic")

	related, err := embedder.Embed(ctx, "quarter budget numbers")
	require.NoError(t, err)
	unrelated, err := embedder.Embed(ctx, "kubernetes ingress timeout")
	require.NoError(t, err)
	assert.Greater(t,
		vector.CosineSimilarity(a, related),
		vector.CosineSimilarity(a, unrelated),
		"shared tokens score higher")
}

func TestTemplateTranslator(t *testing.T) {
	translator := TemplateTranslator{}
	ctx := context.Background()

	query, err := translator.Translate(ctx, "How many people attended?")
	require.NoError(t, err)
	assert.Equal(t, `MATCH (p:Person) RETURN count(p)`, query)

	_, err = translator.Translate(ctx, "something completely different")
	assert.Error(t, err)
}

func TestPipelineAttachesEmbeddings(t *testing.T) {
	pipeline := &Pipeline{
		Extractor: KeywordExtractor{},
		Embedder:  HashEmbedder{Dim: 8},
	}
	utterances := []schema.Utterance{
		{Text: "Alice here, we decided to ship on Friday.", Speaker: "Alice"},
		{Text: "Bob will take care of the release notes.", Speaker: "Bob"},
	}

	result, err := pipeline.Analyze(context.Background(), utterances)
	require.NoError(t, err)
	assert.Len(t, result.People, 2)
	assert.Len(t, result.Decisions, 1)
	assert.Len(t, result.Tasks, 1)
	require.Len(t, result.Utterances, 2)
	for _, utt := range result.Utterances {
		assert.Len(t, utt.Embedding, 8)
	}
}
