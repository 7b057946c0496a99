// Package graph - vector similarity search.
package graph

import (
	"fmt"
	"sort"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/storage"
	"github.com/speaknode/speaknode/pkg/vector"
)

// SimilarUtterance is one vector-query hit with its surrounding context.
type SimilarUtterance struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Speaker      string  `json:"speaker,omitempty"`
	MeetingID    string  `json:"meeting_id,omitempty"`
	MeetingTitle string  `json:"meeting_title,omitempty"`
	Score        float64 `json:"score"`
}

// SearchSimilar ranks stored utterances by cosine similarity to the query
// embedding, descending, and returns the top k with speaker and meeting
// context attached. Ties break by insertion order. Utterances without an
// embedding are skipped.
func (s *Store) SearchSimilar(embedding []float32, k int) ([]SimilarUtterance, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query has %d dimensions, want %d: %w",
			len(embedding), s.dim, ErrEmbeddingDim)
	}
	if k <= 0 {
		return nil, nil
	}

	utterances, err := s.engine.NodesByLabel(string(schema.KindUtterance))
	if err != nil {
		return nil, err
	}

	type scored struct {
		node  *storage.Node
		score float64
	}
	hits := make([]scored, 0, len(utterances))
	for _, node := range utterances {
		if len(node.Embedding) == 0 {
			continue
		}
		hits = append(hits, scored{node, vector.CosineSimilarity(embedding, node.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].node.Seq < hits[j].node.Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]SimilarUtterance, 0, len(hits))
	for _, hit := range hits {
		item := SimilarUtterance{
			ID:    propString(hit.node, "id"),
			Text:  propString(hit.node, "text"),
			Score: hit.score,
		}
		if v, ok := hit.node.Properties["start"].(float64); ok {
			item.Start = v
		}
		if v, ok := hit.node.Properties["end"].(float64); ok {
			item.End = v
		}
		if speaker, err := s.utteranceSpeaker(hit.node.ID); err == nil {
			item.Speaker = speaker
		}
		if meeting, err := s.utteranceMeeting(hit.node.ID); err == nil && meeting != nil {
			item.MeetingID = propString(meeting, "id")
			item.MeetingTitle = propString(meeting, "title")
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) utteranceSpeaker(id storage.NodeID) (string, error) {
	edges, err := s.engine.IncomingEdges(id, string(schema.EdgeSpoke))
	if err != nil || len(edges) == 0 {
		return "", err
	}
	person, err := s.engine.GetNode(edges[0].Start)
	if err != nil {
		return "", err
	}
	return propString(person, "name"), nil
}

func (s *Store) utteranceMeeting(id storage.NodeID) (*storage.Node, error) {
	edges, err := s.engine.IncomingEdges(id, string(schema.EdgeContains))
	if err != nil || len(edges) == 0 {
		return nil, err
	}
	return s.engine.GetNode(edges[0].Start)
}
