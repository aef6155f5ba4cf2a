package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/user/bankdesk/internal/config"
	"github.com/user/bankdesk/internal/gateway"
	"github.com/user/bankdesk/internal/pipeline"
	"github.com/user/bankdesk/internal/prompt"
	"github.com/user/bankdesk/internal/schema"
	"github.com/user/bankdesk/internal/state"
	"github.com/user/bankdesk/internal/types"
	"github.com/user/bankdesk/pkg/llm"
	"github.com/user/bankdesk/pkg/llm/gemini"
	"github.com/user/bankdesk/pkg/llm/openai"
)

// stores bundles the persistence layer selected by the configuration.
type stores struct {
	sessions  types.SessionStore
	events    *state.EventStore
	artifacts *state.ArtifactStore
	close     func() error
}

// openStores opens the configured session backend. Events and artifacts
// always live under the data directory.
func openStores(cfg *config.Config) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &stores{
		events:    state.NewEventStore(cfg.DataDir),
		artifacts: state.NewArtifactStore(cfg.DataDir),
		close:     func() error { return nil },
	}

	switch cfg.Storage.Backend {
	case "", "file":
		s.sessions = state.NewSessionStore(cfg.DataDir)

	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "sessions.db")
		}
		store, err := state.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		s.sessions = store
		s.close = store.Close

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		ttl := config.Duration(cfg.Session.IdleTTL, 0)
		store, err := state.NewRedisStore(client, cfg.Storage.Redis.Prefix, ttl)
		if err != nil {
			client.Close()
			return nil, err
		}
		s.sessions = store
		s.close = client.Close

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	slog.Debug("stores opened", "backend", cfg.Storage.Backend, "data_dir", cfg.DataDir)
	return s, nil
}

// newProvider creates the configured completion service client.
func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	llmCfg := &llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		TopK:        cfg.LLM.TopK,
	}

	switch cfg.LLM.Provider {
	case "", "gemini":
		if llmCfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider needs llm.api_key or GEMINI_API_KEY")
		}
		return gemini.New(ctx, llmCfg)
	case "openai":
		return openai.New(llmCfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// app is the fully wired conversation service.
type app struct {
	cfg      *config.Config
	stores   *stores
	gateway  *gateway.Gateway
	pipeline *pipeline.Pipeline
}

// buildApp wires stores, completion service, prompt engine and pipeline
// into a gateway. The gateway is not started.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		st.close()
		return nil, err
	}

	system, err := prompt.LoadSystemPrompt(cfg.LLM.SystemPromptPath)
	if err != nil {
		st.close()
		return nil, err
	}

	engine, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("create prompt engine: %w", err)
	}

	retry := gateway.DefaultRetryPolicy()
	if cfg.Pipeline.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Pipeline.MaxAttempts
	}

	pl := pipeline.New(
		llm.NewAdapter(provider, system),
		engine,
		schema.MustDefault(),
		st.sessions,
		st.events,
		st.artifacts,
		pipeline.Options{
			AcceptanceThreshold: cfg.Pipeline.AcceptanceThreshold,
			Retry:               retry,
		},
	)

	gw := gateway.New(st.sessions, st.events, st.artifacts, int64(cfg.Session.MaxConcurrent))
	gw.Queue.SetProcessor(pl.ProcessRun)

	return &app{cfg: cfg, stores: st, gateway: gw, pipeline: pl}, nil
}

// Close releases the session backend.
func (a *app) Close() error {
	return a.stores.close()
}
