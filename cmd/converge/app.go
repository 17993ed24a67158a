package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/backoff"
	"github.com/devanshuguptaa/Converge-AI/internal/config"
	"github.com/devanshuguptaa/Converge-AI/internal/cron"
	"github.com/devanshuguptaa/Converge-AI/internal/gateway"
	"github.com/devanshuguptaa/Converge-AI/internal/grounding"
	"github.com/devanshuguptaa/Converge-AI/internal/integrations/google"
	"github.com/devanshuguptaa/Converge-AI/internal/memory"
	"github.com/devanshuguptaa/Converge-AI/internal/observability"
	"github.com/devanshuguptaa/Converge-AI/internal/rag"
	"github.com/devanshuguptaa/Converge-AI/internal/reminders"
	"github.com/devanshuguptaa/Converge-AI/internal/sessions"
	"github.com/devanshuguptaa/Converge-AI/internal/tools"
	calendartools "github.com/devanshuguptaa/Converge-AI/internal/tools/calendar"
	mailtools "github.com/devanshuguptaa/Converge-AI/internal/tools/mail"
	memorytools "github.com/devanshuguptaa/Converge-AI/internal/tools/memory"
	remindertools "github.com/devanshuguptaa/Converge-AI/internal/tools/reminders"
	"github.com/devanshuguptaa/Converge-AI/internal/tools/workspace"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

// baseScopes are granted to every turn; Google scopes are added when a
// token is present.
var baseScopes = []models.Scope{
	models.ScopeWorkspaceRead,
	models.ScopeWorkspaceWrite,
	models.ScopeMemoryRead,
	models.ScopeMemoryWrite,
	models.ScopeRemindersWrite,
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("CONVERGE_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Output:         out,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
}

// components holds everything built from the configuration. Closers run in
// reverse order.
type components struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	slack     *slack.Client
	scheduler *cron.Scheduler
	index     *rag.Index
	memory    *memory.SQLStore
	google    *google.Integration
	reminders *reminders.Service
	registry  *tools.Registry
	granted   models.ScopeSet

	closers []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildComponents opens the optional stores and integrations and fills the
// tool registry. sender delivers reminders and may be nil when reminders are
// never fired (tools list).
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, sender reminders.Sender) (*components, error) {
	c := &components{cfg: cfg, logger: logger, metrics: metrics}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	c.slack = slack.New(cfg.Slack.BotToken)

	loc := time.Local
	if cfg.Reminders.Timezone != "" {
		l, err := time.LoadLocation(cfg.Reminders.Timezone)
		if err != nil {
			return nil, fmt.Errorf("reminders timezone: %w", err)
		}
		loc = l
	}
	c.scheduler = cron.NewScheduler(cron.WithLogger(logger), cron.WithLocation(loc))

	if cfg.RAG.Enabled {
		embedder, err := rag.NewEmbedder(ctx, rag.EmbedderConfig{
			Provider: cfg.RAG.Embedder,
			APIKey:   cfg.RAG.APIKey,
			BaseURL:  cfg.RAG.BaseURL,
			Model:    cfg.RAG.EmbeddingModel,
		})
		if err != nil {
			return nil, fmt.Errorf("rag embedder: %w", err)
		}
		idx, err := rag.OpenIndex(ctx, cfg.RAG.Path, embedder)
		if err != nil {
			return nil, fmt.Errorf("rag index: %w", err)
		}
		c.index = idx
		c.closers = append(c.closers, idx.Close)
	}

	if cfg.Memory.Enabled {
		store, err := memory.Open(ctx, memory.Config{Driver: cfg.Memory.Driver, DSN: cfg.Memory.DSN})
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		c.memory = store
		c.closers = append(c.closers, store.Close)
	}

	if cfg.Google.Enabled {
		integ, err := google.Connect(ctx, googleAuthConfig(cfg))
		switch {
		case errors.Is(err, google.ErrNoToken):
			logger.Warn("google account not connected; run `converge google auth`", "token_file", cfg.Google.TokenFile)
		case err != nil:
			return nil, fmt.Errorf("google: %w", err)
		default:
			c.google = integ
		}
	}

	if cfg.Reminders.Enabled {
		c.reminders = reminders.NewService(c.scheduler, sender, loc, logger)
	}

	reg, err := buildRegistry(c)
	if err != nil {
		return nil, err
	}
	c.registry = reg

	c.granted = models.NewScopeSet(baseScopes...)
	if c.google != nil {
		c.granted = c.granted.Union(c.google.Scopes)
	}
	ok = true
	return c, nil
}

// buildRegistry registers every tool whose backing service is available and
// freezes the registry.
func buildRegistry(c *components) (*tools.Registry, error) {
	reg := tools.NewRegistry()

	deps := workspace.Deps{API: c.slack}
	if c.index != nil {
		deps.Search = c.index
	}
	if err := workspace.Register(reg, deps); err != nil {
		return nil, err
	}
	if c.memory != nil {
		if err := memorytools.Register(reg, c.memory); err != nil {
			return nil, err
		}
	}
	if c.reminders != nil {
		if err := remindertools.Register(reg, c.reminders); err != nil {
			return nil, err
		}
	}
	if c.google != nil {
		if err := mailtools.Register(reg, c.google.Mail); err != nil {
			return nil, err
		}
		if err := calendartools.Register(reg, c.google.Calendar); err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}

func googleAuthConfig(cfg *config.Config) google.AuthConfig {
	return google.AuthConfig{
		ClientSecretFile: cfg.Google.ClientSecretFile,
		TokenFile:        cfg.Google.TokenFile,
		Scopes:           cfg.Google.Scopes,
	}
}

func openSessionStore(ctx context.Context, cfg config.SessionsConfig) (sessions.Store, func() error, error) {
	switch cfg.Store {
	case "sqlite", "postgres":
		store, err := sessions.OpenSQLStore(ctx, sessions.SQLConfig{Driver: cfg.Store, DSN: cfg.DSN, MaxTurns: cfg.HistoryLimit})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		store, err := sessions.NewRedisStore(ctx, sessions.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
			MaxTurns: cfg.Redis.MaxTurns,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return sessions.NewMemoryStore(cfg.HistoryLimit), func() error { return nil }, nil
	}
}

func loopConfig(cfg *config.Config) agent.LoopConfig {
	lc := agent.LoopConfig{
		MaxIterations: cfg.Agent.MaxIterations,
		TurnTimeout:   cfg.Agent.TurnTimeout,
		EngineTimeout: cfg.Agent.EngineTimeout,
		RetryAttempts: cfg.Agent.Retry.Attempts,
		Backoff: backoff.Policy{
			Initial: cfg.Agent.Retry.Initial,
			Max:     cfg.Agent.Retry.Max,
			Factor:  cfg.Agent.Retry.Factor,
			Jitter:  cfg.Agent.Retry.Jitter,
		},
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
	}
	if lc.SystemPrompt == "" {
		lc.SystemPrompt = agent.DefaultSystemPrompt
	}
	return lc
}

func groundingConfig(cfg *config.Config) (grounding.Config, error) {
	policy, err := grounding.ParseConflictPolicy(cfg.Context.ConflictPolicy)
	if err != nil {
		return grounding.Config{}, err
	}
	return grounding.Config{
		HistoryWindow:     cfg.Context.HistoryWindow,
		MaxPassages:       cfg.Context.MaxPassages,
		MemoryLimit:       cfg.Context.MemoryLimit,
		RetrievalTimeout:  cfg.Context.RetrievalTimeout,
		MemoryTimeout:     cfg.Context.MemoryTimeout,
		ConflictPolicy:    policy,
		RetrievalKeywords: cfg.Context.RetrievalKeywords,
	}, nil
}

func accessConfig(cfg config.AccessConfig) gateway.AccessConfig {
	return gateway.AccessConfig{
		DMPolicy:      cfg.DMPolicy,
		AllowedUsers:  cfg.AllowedUsers,
		RatePerMinute: cfg.RatePerMinute,
		Burst:         cfg.Burst,
	}
}
