// Package retrieval answers natural-language questions against one graph
// store by fusing three strategies: semantic vector search, exact
// structural traversal, and denylist-gated execution of translated
// queries.
//
// The engine degrades gracefully: a failing collaborator disables only
// its own strategy, and an error surfaces to the caller only when every
// triggered strategy failed.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/schema"
)

// Embedder turns text into a fixed-dimension vector. Implemented by the
// external embedding service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryTranslator turns a question into a candidate query string. The
// engine validates the candidate against the denylist before running it.
type QueryTranslator interface {
	Translate(ctx context.Context, question string) (string, error)
}

// Strategy identifies one retrieval path. The set is closed; routing is
// a switch over these values, not a plugin registry.
type Strategy string

const (
	StrategySemantic   Strategy = "semantic"
	StrategyStructural Strategy = "structural"
	StrategyTranslated Strategy = "translated"
)

// Result is the fused output of one retrieval run.
type Result struct {
	Strategies []Strategy               `json:"strategies"`
	Utterances []graph.SimilarUtterance `json:"utterances,omitempty"`
	Topics     []graph.TopicInfo        `json:"topics,omitempty"`
	Tasks      []graph.TaskInfo         `json:"tasks,omitempty"`
	Decisions  []graph.DecisionInfo     `json:"decisions,omitempty"`
	People     []graph.PersonInfo       `json:"people,omitempty"`
	Meetings   []schema.Meeting         `json:"meetings,omitempty"`
	Rows       []map[string]any         `json:"rows,omitempty"`
}

// Options configures an Engine.
type Options struct {
	// Embedder powers the semantic strategy; nil disables it.
	Embedder Embedder
	// Translator powers the translated strategy; nil disables it.
	Translator QueryTranslator
	// TopK is the semantic result limit. Defaults to 5.
	TopK int
	// CacheSize bounds the question-embedding cache. Defaults to 256.
	CacheSize int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Engine runs hybrid retrieval against one store.
type Engine struct {
	store      *graph.Store
	embedder   Embedder
	translator QueryTranslator
	topK       int
	log        *zap.Logger

	embedCache *lru.Cache[string, []float32]
}

// NewEngine builds a retrieval engine over a store.
func NewEngine(store *graph.Store, opts Options) (*Engine, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Engine{
		store:      store,
		embedder:   opts.Embedder,
		translator: opts.Translator,
		topK:       opts.TopK,
		log:        opts.Logger,
		embedCache: cache,
	}, nil
}

// Retrieve answers a question by running every applicable strategy and
// fusing the outcomes. An error is returned only when all triggered
// strategies failed.
func (e *Engine) Retrieve(ctx context.Context, question string) (*Result, error) {
	result := &Result{}
	var failures []error
	succeeded := 0

	if e.embedder != nil {
		if err := e.runSemantic(ctx, question, result); err != nil {
			e.log.Warn("semantic strategy failed", zap.Error(err))
			failures = append(failures, fmt.Errorf("semantic: %w", err))
		} else {
			succeeded++
		}
	}

	if intent := detectIntent(question); intent != "" {
		if err := e.runStructural(question, intent, result); err != nil {
			e.log.Warn("structural strategy failed", zap.Error(err))
			failures = append(failures, fmt.Errorf("structural: %w", err))
		} else {
			succeeded++
		}
	}

	if e.translator != nil {
		if err := e.runTranslated(ctx, question, result); err != nil {
			e.log.Warn("translated strategy failed", zap.Error(err))
			failures = append(failures, fmt.Errorf("translated: %w", err))
		} else {
			succeeded++
		}
	}

	if succeeded == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	return result, nil
}

func (e *Engine) runSemantic(ctx context.Context, question string, result *Result) error {
	embedding, ok := e.embedCache.Get(question)
	if !ok {
		var err error
		embedding, err = e.embedder.Embed(ctx, question)
		if err != nil {
			return err
		}
		e.embedCache.Add(question, embedding)
	}
	hits, err := e.store.SearchSimilar(embedding, e.topK)
	if err != nil {
		return err
	}
	result.Strategies = append(result.Strategies, StrategySemantic)
	result.Utterances = mergeUtterances(result.Utterances, hits)
	return nil
}

func (e *Engine) runTranslated(ctx context.Context, question string, result *Result) error {
	query, err := e.translator.Translate(ctx, question)
	if err != nil {
		return err
	}
	if err := ValidateReadOnly(query); err != nil {
		return err
	}
	rows, err := e.store.ExecuteQuery(query)
	if err != nil {
		return err
	}
	result.Strategies = append(result.Strategies, StrategyTranslated)
	result.Rows = rows
	return nil
}

// mergeUtterances appends hits not already present, keyed by utterance id.
func mergeUtterances(existing, hits []graph.SimilarUtterance) []graph.SimilarUtterance {
	seen := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		seen[u.ID] = struct{}{}
	}
	for _, hit := range hits {
		if _, ok := seen[hit.ID]; ok {
			continue
		}
		seen[hit.ID] = struct{}{}
		existing = append(existing, hit)
	}
	return existing
}

// intent is the structural target inferred from question keywords.
type intent string

const (
	intentTasks     intent = "tasks"
	intentPeople    intent = "people"
	intentDecisions intent = "decisions"
	intentTopics    intent = "topics"
	intentMeetings  intent = "meetings"
)

var intentKeywords = []struct {
	target intent
	words  []string
}{
	{intentTasks, []string{"task", "assigned", "todo", "to-do", "action item", "deadline", "due"}},
	{intentDecisions, []string{"decision", "decide", "decided", "agreed", "approved"}},
	{intentPeople, []string{"who", "participant", "people", "attendee", "speaker"}},
	{intentMeetings, []string{"meeting", "session", "when did"}},
	{intentTopics, []string{"topic", "discuss", "about", "agenda"}},
}

// detectIntent maps question keywords onto a structural target, or ""
// when the question is open-ended and should stay semantic-only.
func detectIntent(question string) intent {
	lowered := strings.ToLower(question)
	for _, entry := range intentKeywords {
		for _, word := range entry.words {
			if strings.Contains(lowered, word) {
				return entry.target
			}
		}
	}
	return ""
}

func (e *Engine) runStructural(question string, target intent, result *Result) error {
	keyword := keywordFromQuestion(question)
	switch target {
	case intentTasks:
		tasks, err := e.store.Tasks("")
		if err != nil {
			return err
		}
		result.Tasks = tasks
	case intentDecisions:
		decisions, err := e.store.Decisions(keyword)
		if err != nil {
			return err
		}
		result.Decisions = decisions
	case intentPeople:
		people, err := e.store.People()
		if err != nil {
			return err
		}
		result.People = people
		// "who" questions usually want assignments too.
		for _, person := range people {
			tasks, err := e.store.PersonTasks(person.Name)
			if err != nil {
				return err
			}
			result.Tasks = append(result.Tasks, tasks...)
		}
	case intentMeetings:
		meetings, err := e.store.Meetings()
		if err != nil {
			return err
		}
		result.Meetings = meetings
	case intentTopics:
		topics, err := e.store.Topics(keyword)
		if err != nil {
			return err
		}
		result.Topics = topics
	default:
		return nil
	}
	result.Strategies = append(result.Strategies, StrategyStructural)
	return nil
}

var stopwords = map[string]struct{}{
	"what": {}, "which": {}, "who": {}, "when": {}, "where": {}, "how": {},
	"was": {}, "were": {}, "is": {}, "are": {}, "the": {}, "a": {}, "an": {},
	"about": {}, "did": {}, "we": {}, "they": {}, "discuss": {}, "discussed": {},
	"topic": {}, "topics": {}, "decision": {}, "decisions": {}, "meeting": {},
	"decide": {}, "decided": {}, "agreed": {}, "approved": {}, "list": {},
}

// keywordFromQuestion picks the longest non-stopword as a crude filter
// term. Empty output means "no filter".
func keywordFromQuestion(question string) string {
	best := ""
	for _, word := range strings.Fields(strings.ToLower(question)) {
		word = strings.Trim(word, "?.,!\"'")
		if _, stop := stopwords[word]; stop {
			continue
		}
		if len(word) > len(best) {
			best = word
		}
	}
	if len(best) < 3 {
		return ""
	}
	return best
}
