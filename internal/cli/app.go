package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/recall/internal/agent"
	"github.com/soyeahso/recall/internal/config"
	"github.com/soyeahso/recall/internal/history"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/metrics"
	"github.com/soyeahso/recall/internal/retrieval"
	"github.com/soyeahso/recall/internal/store"
	"github.com/soyeahso/recall/internal/summarize"
	"github.com/soyeahso/recall/internal/tokens"
	"github.com/soyeahso/recall/internal/vectormem"
)

// app holds the wired components shared by chat, ask, serve and memory.
type app struct {
	cfg      config.Config
	db       *store.DB
	gateway  *llm.Gateway
	memory   *vectormem.Store
	users    *store.UserStore
	chats    *store.ChatLog
	sessions *store.SessionStore
	runner   *agent.Runner
	metrics  *metrics.Metrics
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openDB opens the SQLite database named by the config.
func openDB(cfg config.Config) (*store.DB, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}
	path := cfg.Store.Path
	if path == "" {
		path = paths.DB
	}
	db, err := store.Open(path, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// openBackend returns the vector backend selected by memory.backend.
func openBackend(ctx context.Context, mc config.MemoryConfig, collection string, db *store.DB) (vectormem.Backend, error) {
	switch mc.Backend {
	case "memory":
		return vectormem.NewMemoryBackend(), nil
	case "postgres":
		return vectormem.NewPostgresBackend(ctx, mc.PostgresURL, collection)
	case "sqlite", "":
		return vectormem.NewSQLiteBackend(db, collection), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", mc.Backend)
	}
}

func memoryConfig(mc config.MemoryConfig, collection string) vectormem.Config {
	return vectormem.Config{
		Collection:     collection,
		EmbeddingModel: mc.EmbeddingModel,
		Workers:        mc.Workers,
		MinScore:       mc.MinScore,
	}
}

// openApp wires every component from cfg. The caller must Close it.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	registry, err := llm.NewRegistryFromConfig(ctx, cfg.Models, log)
	if err != nil {
		return nil, err
	}
	if len(registry.List()) == 0 {
		return nil, fmt.Errorf("no model providers configured; add models.providers to %s", paths.Config)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		users:    store.NewUserStore(db),
		chats:    store.NewChatLog(db),
		sessions: store.NewSessionStore(db),
		metrics:  metrics.Default(),
	}
	a.gateway = llm.NewGateway(registry, llm.GatewayConfigFrom(cfg.Models), a.metrics, log)

	backend, err := openBackend(ctx, cfg.Memory, cfg.Memory.CollectionName, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening memory backend: %w", err)
	}
	a.memory = vectormem.New(backend, a.gateway, memoryConfig(cfg.Memory, cfg.Memory.CollectionName), a.metrics, log)

	counter, err := tokens.New(cfg.History.TokenizerModel)
	if err != nil {
		a.Close()
		return nil, err
	}

	summarizer := summarize.New(a.gateway, summarize.Config{MaxChars: cfg.Memory.SummaryMaxChars}, a.metrics, log)
	augmentor := retrieval.New(a.memory, a.users, retrieval.Config{K: cfg.Memory.K}, log)

	tools := agent.NewToolRegistry()
	if err := agent.RegisterBuiltins(tools, a.users, a.memory, a.chats, cfg.Memory.K); err != nil {
		a.Close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	orch := agent.NewOrchestrator(a.gateway, tools, agent.OrchestratorConfig{
		MaxFunctionCalls: cfg.Agent.MaxFunctionCalls,
		ResultMaxChars:   cfg.Agent.ToolResultMaxChars,
	}, summarizer, a.metrics, log)

	a.runner = agent.NewRunner(agent.RunnerConfig{
		AgentName:   cfg.Agent.Name,
		ExtraPrompt: cfg.Agent.SystemPrompt,
		Limits: history.Limits{
			MaxPairs:  cfg.History.MaxHistoryPairs,
			MaxChars:  cfg.History.MaxCharacters,
			MaxTokens: cfg.History.MaxTokens,
		},
	}, agent.Deps{
		Orchestrator: orch,
		Meter:        counter,
		Summarizer:   summarizer,
		Memory:       a.memory,
		Context:      augmentor,
		ChatLog:      a.chats,
		Metrics:      a.metrics,
		Log:          log,
	})

	log.Debug().
		Strs("providers", registry.List()).
		Str("memoryBackend", cfg.Memory.Backend).
		Str("collection", cfg.Memory.CollectionName).
		Int("tools", len(tools.Definitions())).
		Msg("components wired")
	return a, nil
}

// Close releases the memory backend and the database.
func (a *app) Close() error {
	var errs []error
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}
