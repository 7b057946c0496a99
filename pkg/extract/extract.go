// Package extract defines the external collaborator contracts of the
// ingest pipeline (transcription, structured extraction, embedding,
// query translation) and ships deterministic local implementations.
//
// The local implementations are not models: the hash embedder and the
// template translator exist so the system runs end to end without any
// network service, and so tests get stable vectors. Production wiring
// swaps in real services behind the same interfaces.
package extract

import (
	"context"

	"github.com/speaknode/speaknode/pkg/schema"
)

// Transcriber turns an audio source into timestamped utterances.
type Transcriber interface {
	Transcribe(ctx context.Context, sourcePath string) ([]schema.Utterance, error)
}

// Extractor turns transcript utterances into structured analysis output
// (topics, decisions, tasks, people, entities, relations). The returned
// result does not carry embeddings; the pipeline adds them.
type Extractor interface {
	Extract(ctx context.Context, utterances []schema.Utterance) (schema.AnalysisResult, error)
}

// Embedder turns text into a fixed-dimension vector. Mirrors the
// retrieval-side contract so one implementation serves both.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline runs extraction and then attaches an embedding to every
// utterance. Embedding happens before any graph write, so a failed
// embedding run leaves no partial meeting behind.
type Pipeline struct {
	Extractor Extractor
	Embedder  Embedder
}

// Analyze produces a fully-formed analysis result ready for ingest.
func (p *Pipeline) Analyze(ctx context.Context, utterances []schema.Utterance) (schema.AnalysisResult, error) {
	result, err := p.Extractor.Extract(ctx, utterances)
	if err != nil {
		return schema.AnalysisResult{}, err
	}
	result.Utterances = utterances
	for i := range result.Utterances {
		if len(result.Utterances[i].Embedding) > 0 {
			continue
		}
		vec, err := p.Embedder.Embed(ctx, result.Utterances[i].Text)
		if err != nil {
			return schema.AnalysisResult{}, err
		}
		result.Utterances[i].Embedding = vec
	}
	return result, nil
}
