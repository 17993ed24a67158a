// Package grounding assembles the context bundle handed to the reasoning
// engine: retrieved workspace passages, remembered user facts, and recent
// session history.
package grounding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devanshuguptaa/Converge-AI/internal/observability"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// Collaborator names recorded in ContextBundle.Degraded.
const (
	CollaboratorRetrieval = "retrieval"
	CollaboratorMemory    = "memory"
)

// Retriever searches the workspace index.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]models.Passage, error)
}

// MemoryStore returns remembered facts relevant to a query.
type MemoryStore interface {
	FetchRelevant(ctx context.Context, userID, query string, limit int) ([]models.Fact, error)
}

// Session is the read-only view of a conversation the pipeline reads history
// from.
type Session interface {
	Key() models.SessionKey
	History() []*models.Turn
}

// DefaultRetrievalKeywords are the phrases that mark a message as asking
// about past workspace activity.
var DefaultRetrievalKeywords = []string{
	"what did", "when did", "who said", "discussed", "mentioned",
	"talked about", "conversation", "yesterday", "last week",
	"remember", "recall", "find", "search",
}

// Config tunes assembly.
type Config struct {
	// HistoryWindow is how many completed turns are included. Default 10.
	HistoryWindow int

	// MaxPassages caps retrieved passages. Default 10.
	MaxPassages int

	// MemoryLimit caps remembered facts. Default 5.
	MemoryLimit int

	RetrievalTimeout time.Duration
	MemoryTimeout    time.Duration

	ConflictPolicy ConflictPolicy

	// RetrievalKeywords, when set, limits retrieval to messages containing
	// one of the phrases. Empty means every message is searched.
	RetrievalKeywords []string
}

// DefaultConfig returns the default assembly settings.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:    10,
		MaxPassages:      10,
		MemoryLimit:      5,
		RetrievalTimeout: 5 * time.Second,
		MemoryTimeout:    3 * time.Second,
		ConflictPolicy:   MemoryWins,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.MaxPassages <= 0 {
		c.MaxPassages = d.MaxPassages
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = d.MemoryLimit
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = d.RetrievalTimeout
	}
	if c.MemoryTimeout <= 0 {
		c.MemoryTimeout = d.MemoryTimeout
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = d.ConflictPolicy
	}
	return c
}

// Deps are the collaborators of a Pipeline. Nil collaborators are treated as
// disabled.
type Deps struct {
	Retriever Retriever
	Memory    MemoryStore
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Pipeline builds a fresh ContextBundle per turn.
type Pipeline struct {
	cfg       Config
	retriever Retriever
	memory    MemoryStore
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg.withDefaults(),
		retriever: deps.Retriever,
		memory:    deps.Memory,
		logger:    logger.With("component", "grounding"),
		metrics:   deps.Metrics,
	}
}

// Assemble gathers passages, facts, and history for one turn. Collaborator
// failures never fail assembly: the affected list is left empty and the
// collaborator is named in Degraded.
func (p *Pipeline) Assemble(ctx context.Context, session Session, userID, text string) *models.ContextBundle {
	var (
		passages     []models.Passage
		facts        []models.Fact
		retrievalErr error
		memoryErr    error
	)

	var g errgroup.Group
	if p.retriever != nil && p.shouldRetrieve(text) {
		g.Go(func() error {
			passages, retrievalErr = p.retrieve(ctx, text)
			return nil
		})
	}
	if p.memory != nil && userID != "" {
		g.Go(func() error {
			facts, memoryErr = p.recall(ctx, userID, text)
			return nil
		})
	}
	_ = g.Wait()

	bundle := &models.ContextBundle{
		Passages: []models.Passage{},
		Facts:    []models.Fact{},
	}
	if retrievalErr != nil {
		p.degrade(ctx, bundle, CollaboratorRetrieval, retrievalErr)
	} else if passages != nil {
		bundle.Passages = passages
	}
	if memoryErr != nil {
		p.degrade(ctx, bundle, CollaboratorMemory, memoryErr)
	} else if facts != nil {
		bundle.Facts = facts
	}

	if session != nil {
		bundle.History = recentCompleted(session.History(), p.cfg.HistoryWindow)
	}

	resolveConflicts(bundle, p.cfg.ConflictPolicy)
	return bundle
}

func (p *Pipeline) retrieve(ctx context.Context, query string) ([]models.Passage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RetrievalTimeout)
	defer cancel()

	passages, err := bounded(ctx, func(ctx context.Context) ([]models.Passage, error) {
		return p.retriever.Search(ctx, query, p.cfg.MaxPassages)
	})
	if err != nil {
		return nil, err
	}
	if len(passages) > p.cfg.MaxPassages {
		passages = passages[:p.cfg.MaxPassages]
	}
	return passages, nil
}

func (p *Pipeline) recall(ctx context.Context, userID, query string) ([]models.Fact, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.MemoryTimeout)
	defer cancel()

	facts, err := bounded(ctx, func(ctx context.Context) ([]models.Fact, error) {
		return p.memory.FetchRelevant(ctx, userID, query, p.cfg.MemoryLimit)
	})
	if err != nil {
		return nil, err
	}
	if len(facts) > p.cfg.MemoryLimit {
		facts = facts[:p.cfg.MemoryLimit]
	}
	return facts, nil
}

type outcome[T any] struct {
	val T
	err error
}

// bounded runs fn on its own goroutine and returns when it finishes or ctx
// ends, whichever comes first. A collaborator that ignores ctx is abandoned;
// its late result lands in the buffered channel and is dropped.
func bounded[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("collaborator panicked: %v", r)}
			}
		}()
		val, err := fn(ctx)
		done <- outcome[T]{val: val, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *Pipeline) degrade(ctx context.Context, bundle *models.ContextBundle, name string, err error) {
	bundle.Degraded = append(bundle.Degraded, name)
	p.metrics.RecordDegraded(name)
	p.logger.WarnContext(ctx, "context collaborator unavailable", "collaborator", name, "error", err)
}

func (p *Pipeline) shouldRetrieve(text string) bool {
	if len(p.cfg.RetrievalKeywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range p.cfg.RetrievalKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// recentCompleted returns the last n completed turns, oldest first.
func recentCompleted(history []*models.Turn, n int) []*models.Turn {
	var out []*models.Turn
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if t := history[i]; t != nil && t.Status == models.TurnCompleted {
			out = append(out, t)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
