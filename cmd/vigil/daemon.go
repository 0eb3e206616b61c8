package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vigilops/vigil/internal/collect"
	"github.com/vigilops/vigil/internal/config"
	"github.com/vigilops/vigil/internal/llm"
	"github.com/vigilops/vigil/internal/monitor"
	"github.com/vigilops/vigil/internal/notify"
	"github.com/vigilops/vigil/internal/prune"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/telemetry"
)

// daemon bundles the constructed monitoring pipeline and whatever
// needs closing when it stops.
type daemon struct {
	lifecycle *session.Lifecycle
	monitor   *monitor.Monitor
	logger    *slog.Logger
	closers   []func() error
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", "error", err)
		}
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	return telemetry.NewRedactedLogger(os.Stdout, level,
		cfg.LLM.APIKey, cfg.Notify.SlackWebhook)
}

// buildDaemon assembles the full pipeline from configuration: store,
// session lifecycle, model client, collectors, rules, notifier.
func buildDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*daemon, error) {
	d := &daemon{logger: logger}

	store, err := buildStore(ctx, cfg, d)
	if err != nil {
		return nil, err
	}

	sessionID := cfg.Session.ID
	if sessionID == "" {
		sessionID = session.NewID()
	}

	lc, err := session.NewLifecycle(session.LifecycleConfig{
		SessionID: sessionID,
		Store:     monitor.InstrumentStore(store, metrics),
		Pruner: prune.NewPolicy(prune.PolicyConfig{
			MaxTokens:        cfg.Session.MaxTokens,
			KeepRecent:       cfg.Session.KeepRecent,
			CriticalKeywords: cfg.Session.CriticalKeywords,
		}),
		SystemPrompt: cfg.Session.SystemPrompt,
		SmartPrune:   cfg.Session.SmartPrune,
		OnPrune: func(strategy string, before, after int) {
			metrics.RecordPrune(strategy, before-after)
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if err := lc.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing session: %w", err)
	}
	if cfg.Monitor.Cluster != "" {
		lc.SetCluster(cfg.Monitor.Cluster)
	}
	d.lifecycle = lc

	collector, err := buildCollector(cfg, logger)
	if err != nil {
		return nil, err
	}
	rules, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}

	tracer := telemetry.NewTracer(nil)
	if cfg.Telemetry.TraceSpans {
		tracer = telemetry.NewTracer(telemetry.LogExporter(logger))
	}

	m, err := monitor.New(monitor.Config{
		Lifecycle:      lc,
		Client:         buildClient(cfg),
		Collector:      collector,
		Rules:          rules,
		Notifier:       buildNotifier(cfg, logger),
		MaxTokens:      cfg.Session.MaxTokens,
		Cluster:        cfg.Monitor.Cluster,
		DebounceCycles: cfg.Monitor.DebounceCycles,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})
	if err != nil {
		return nil, err
	}
	d.monitor = m
	return d, nil
}

// buildStore constructs the configured session store backend. Backends
// that hold connections register closers on d.
func buildStore(ctx context.Context, cfg *config.Config, d *daemon) (session.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return session.NewMemoryStore(), nil

	case config.BackendFile:
		store, err := session.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		return store, nil

	case config.BackendSQLite:
		store, err := session.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		d.closers = append(d.closers, store.Close)
		return store, nil

	case config.BackendPostgres:
		var opts []session.PostgresStoreOption
		if cfg.Store.Table != "" {
			opts = append(opts, session.WithTable(cfg.Store.Table))
		}
		store, err := session.ConnectPostgres(ctx, cfg.Store.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		d.closers = append(d.closers, store.Close)
		return store, nil

	case config.BackendS3:
		var opts []session.S3StoreOption
		if cfg.Store.Prefix != "" {
			opts = append(opts, session.WithKeyPrefix(cfg.Store.Prefix))
		}
		store, err := session.ConnectS3(ctx, cfg.Store.Bucket, opts...)
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		return store, nil

	case config.BackendEtcd:
		var opts []session.EtcdStoreOption
		if cfg.Store.Prefix != "" {
			opts = append(opts, session.WithEtcdPrefix(cfg.Store.Prefix))
		}
		store, err := session.ConnectEtcd(cfg.Store.Endpoints, opts...)
		if err != nil {
			return nil, fmt.Errorf("etcd store: %w", err)
		}
		d.closers = append(d.closers, store.Close)
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func buildClient(cfg *config.Config) llm.Client {
	if cfg.LLM.Provider == config.ProviderMock {
		return llm.NewMockClient(llm.MockReply{Text: "All clear, no issues observed."})
	}
	if cfg.LLM.APIKey != "" {
		return llm.NewAnthropicClientWithKey(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
	}
	return llm.NewAnthropicClient(cfg.LLM.Model, cfg.LLM.MaxTokens)
}

func buildCollector(cfg *config.Config, logger *slog.Logger) (collect.Collector, error) {
	if cfg.Collect.Static != "" {
		return collect.NewMultiCollector(logger,
			collect.NewStaticCollector("static", cfg.Collect.Static)), nil
	}

	var opts []collect.KubernetesOption
	if len(cfg.Collect.Namespaces) > 0 {
		opts = append(opts, collect.WithNamespaces(cfg.Collect.Namespaces...))
	}
	if cfg.Collect.MaxEvents > 0 {
		opts = append(opts, collect.WithMaxEvents(cfg.Collect.MaxEvents))
	}
	kube, err := collect.ConnectKubernetes(cfg.Collect.Kubeconfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("kubernetes collector: %w", err)
	}
	return collect.NewMultiCollector(logger, kube), nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if cfg.Notify.SlackWebhook != "" {
		return notify.NewSlackWebhook(cfg.Notify.SlackWebhook)
	}
	return notify.NewLogNotifier(logger)
}

func loadRules(cfg *config.Config) ([]*monitor.Rule, error) {
	if cfg.Monitor.RulesFile == "" {
		return monitor.DefaultRules(), nil
	}
	rules, err := monitor.LoadRules(cfg.Monitor.RulesFile)
	if err != nil {
		return nil, err
	}
	return rules, nil
}
