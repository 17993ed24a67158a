package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
	"github.com/devanshuguptaa/Converge-AI/internal/agent/providers"
	slackchannel "github.com/devanshuguptaa/Converge-AI/internal/channels/slack"
	"github.com/devanshuguptaa/Converge-AI/internal/commands"
	"github.com/devanshuguptaa/Converge-AI/internal/config"
	"github.com/devanshuguptaa/Converge-AI/internal/gateway"
	"github.com/devanshuguptaa/Converge-AI/internal/grounding"
	"github.com/devanshuguptaa/Converge-AI/internal/observability"
	"github.com/devanshuguptaa/Converge-AI/internal/pairing"
	"github.com/devanshuguptaa/Converge-AI/internal/rag"
	"github.com/devanshuguptaa/Converge-AI/internal/sessions"
)

const shutdownTimeout = 15 * time.Second

// runServe wires every component and runs until a shutdown signal.
func runServe(ctx context.Context, configPath string) error {
	configPath = resolveConfigPath(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	logger.Info("starting converge", "version", version, "config", configPath)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	tracer, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "converge",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	adapter, err := slackchannel.NewAdapter(slackchannel.Config{
		BotToken:      cfg.Slack.BotToken,
		AppToken:      cfg.Slack.AppToken,
		Debug:         cfg.Slack.Debug,
		InboundBuffer: cfg.Slack.InboundBuffer,
	}, logger)
	if err != nil {
		return err
	}

	comp, err := buildComponents(ctx, cfg, logger, metrics, adapter)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Warn("close components failed", "error", err)
		}
	}()

	engine, err := providers.New(ctx, providers.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Region:          cfg.LLM.Region,
		AccessKeyID:     cfg.LLM.AccessKeyID,
		SecretAccessKey: cfg.LLM.SecretAccessKey,
		SessionToken:    cfg.LLM.SessionToken,
	})
	if err != nil {
		return err
	}

	store, closeStore, err := openSessionStore(ctx, cfg.Sessions)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer closeStore()
	manager := sessions.NewManager(store, sessions.Config{
		IdleTimeout:  cfg.Sessions.IdleTimeout,
		QueueDepth:   cfg.Sessions.QueueDepth,
		HistoryLimit: cfg.Sessions.HistoryLimit,
	}, logger, metrics)
	if _, err := sessions.NewSweeper(manager, comp.scheduler, cfg.Sessions.SweepSchedule, logger); err != nil {
		return err
	}

	gcfg, err := groundingConfig(cfg)
	if err != nil {
		return err
	}
	deps := grounding.Deps{Logger: logger, Metrics: metrics}
	if comp.index != nil {
		deps.Retriever = comp.index
		indexer := rag.NewIndexer(comp.index, comp.slack, cfg.RAG.Lookback, logger)
		if err := indexer.Schedule(comp.scheduler, cfg.RAG.IndexerSchedule); err != nil {
			return err
		}
	}
	if comp.memory != nil {
		deps.Memory = comp.memory
	}
	pipeline := grounding.NewPipeline(gcfg, deps)

	tel := agent.Telemetry{Logger: logger, Metrics: metrics, Tracer: tracer}
	executor := agent.NewExecutor(comp.registry, agent.ExecutorConfig{
		MaxConcurrency: cfg.Agent.ToolParallel,
		DefaultTimeout: cfg.Agent.ToolTimeout,
		MaxOutputBytes: cfg.Agent.MaxOutputBytes,
	}, tel)
	loop := agent.NewLoop(engine, pipeline, comp.registry, executor, loopConfig(cfg), tel)

	cmds := commands.NewRegistry(logger)
	if err := commands.RegisterBuiltins(cmds, manager, func(err error) bool { return errors.Is(err, sessions.ErrSessionBusy) }); err != nil {
		return err
	}
	pairStore, err := pairing.NewStore(cfg.Access.PairingDir)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		Access:        accessConfig(cfg.Access),
		Granted:       comp.granted,
		MaxConcurrent: cfg.Agent.MaxConcurrent,
	}, gateway.Deps{
		Transport: adapter,
		Sessions:  manager,
		Agent:     loop,
		Commands:  cmds,
		Pairing:   pairStore,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	if err := adapter.Start(ctx); err != nil {
		return err
	}
	comp.scheduler.Start()
	logger.Info("converge ready", "tools", comp.registry.Len(), "granted_scopes", len(comp.granted))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(gctx) })
	g.Go(func() error {
		return config.Watch(gctx, configPath, config.WatchOptions{Logger: logger}, func(next *config.Config) {
			gw.SetAccess(accessConfig(next.Access))
		})
	})
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(registry), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := comp.scheduler.Stop(sctx); serr != nil {
		logger.Warn("scheduler stop failed", "error", serr)
	}
	if serr := adapter.Stop(sctx); serr != nil {
		logger.Warn("slack adapter stop failed", "error", serr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(g))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
