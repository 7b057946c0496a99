// Package extract - deterministic local collaborators.
package extract

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/vector"
)

// HashEmbedder maps text into a fixed-dimension vector by hashing word
// tokens into buckets and normalizing. Deterministic and dependency-free;
// similar token sets land near each other, which is all local search and
// tests need.
type HashEmbedder struct {
	Dim int
}

// Embed never fails and never blocks; ctx exists to satisfy the contract.
func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 384
	}
	vec := make([]float32, dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?\"'()[]")
		if token == "" {
			continue
		}
		hash := fnv.New32a()
		hash.Write([]byte(token))
		vec[hash.Sum32()%uint32(dim)]++
	}
	return vector.Normalize(vec), nil
}

// TemplateTranslator is a rule-based stand-in for an LLM query
// translator: it recognizes a handful of question shapes and emits the
// matching read-only query. Unrecognized questions produce an error so
// the retrieval engine falls back to its other strategies.
type TemplateTranslator struct{}

var translationRules = []struct {
	keywords []string
	query    string
}{
	{[]string{"how many people", "how many participants"}, `MATCH (p:Person) RETURN count(p)`},
	{[]string{"how many tasks"}, `MATCH (t:Task) RETURN count(t)`},
	{[]string{"how many topics"}, `MATCH (t:Topic) RETURN count(t)`},
	{[]string{"all tasks", "every task"}, `MATCH (t:Task) RETURN t`},
	{[]string{"all decisions", "every decision"}, `MATCH (d:Decision) RETURN d`},
	{[]string{"all topics", "every topic"}, `MATCH (t:Topic) RETURN t`},
}

func (TemplateTranslator) Translate(_ context.Context, question string) (string, error) {
	lowered := strings.ToLower(question)
	for _, rule := range translationRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return rule.query, nil
			}
		}
	}
	return "", fmt.Errorf("no translation template for %q", question)
}

// KeywordExtractor is a rule-based Extractor for offline use: it finds
// speakers and crude task sentences in the transcript. Real structured
// extraction comes from an LLM collaborator; this keeps ingest usable
// without one.
type KeywordExtractor struct{}

func (KeywordExtractor) Extract(_ context.Context, utterances []schema.Utterance) (schema.AnalysisResult, error) {
	var result schema.AnalysisResult
	seenPeople := make(map[string]struct{})
	for _, utt := range utterances {
		speaker := strings.TrimSpace(utt.Speaker)
		if speaker != "" {
			if _, ok := seenPeople[speaker]; !ok {
				seenPeople[speaker] = struct{}{}
				result.People = append(result.People, schema.Person{Name: speaker})
			}
		}
		lowered := strings.ToLower(utt.Text)
		if strings.Contains(lowered, "action item") || strings.Contains(lowered, "todo") ||
			strings.Contains(lowered, "will take care of") {
			result.Tasks = append(result.Tasks, schema.Task{
				Description: strings.TrimSpace(utt.Text),
				Assignee:    speaker,
				Status:      schema.StatusPending,
			})
		}
		if strings.Contains(lowered, "we decided") || strings.Contains(lowered, "it's agreed") {
			result.Decisions = append(result.Decisions, schema.Decision{
				Description: strings.TrimSpace(utt.Text),
			})
		}
	}
	return result, nil
}
