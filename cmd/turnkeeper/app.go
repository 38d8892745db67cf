package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mohammad-safakhou/turnkeeper/config"
	"github.com/mohammad-safakhou/turnkeeper/internal/llm"
	"github.com/mohammad-safakhou/turnkeeper/internal/orchestrator"
	"github.com/mohammad-safakhou/turnkeeper/internal/rpc"
	"github.com/mohammad-safakhou/turnkeeper/internal/store"
	"github.com/mohammad-safakhou/turnkeeper/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newLogger(cfg config.GeneralConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// app holds the dependencies shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	closers []func() error
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.General)}
	if cfg.Telemetry.Enabled {
		a.metrics = telemetry.New()
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close")
		}
	}
}

func (a *app) completer() *llm.OpenAI {
	c := a.cfg.LLM
	return llm.NewOpenAI(llm.Options{
		APIKey:     c.APIKeyOrEnv(),
		BaseURL:    c.BaseURL,
		Model:      c.Model,
		MaxTokens:  c.MaxTokens,
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
	}, a.logger)
}

func (a *app) locker(ctx context.Context) (store.Locker, error) {
	sc := a.cfg.Store
	if sc.Lock.Backend != "redis" {
		return store.NewProcessLocker(sc.Path), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     sc.Lock.Redis.Address,
		Password: sc.Lock.Redis.Password,
		DB:       sc.Lock.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", sc.Lock.Redis.Address, err)
	}
	a.closers = append(a.closers, rdb.Close)
	return store.NewRedisLocker(rdb, sc.Lock.Key, sc.Lock.TTL), nil
}

func (a *app) guarded(ctx context.Context) (*store.Guarded, error) {
	l, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewGuarded(store.NewFileStore(a.cfg.Store.Path, a.logger), l), nil
}

func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	g, err := a.guarded(ctx)
	if err != nil {
		return nil, err
	}
	completer := a.completer()
	oc := a.cfg.Orchestrator

	exec := orchestrator.NewExecutor(
		rpc.NewSearchClient(a.cfg.Tools.SearchURL, nil, a.logger),
		rpc.NewSummaryClient(a.cfg.Tools.SummaryURL, nil, a.logger),
		orchestrator.ExecutorOptions{CallTimeout: oc.CallTimeout, SummaryWindow: oc.SummaryWindow, Metrics: a.metrics},
		a.logger,
	)
	return orchestrator.New(
		g,
		orchestrator.NewLLMOracle(completer, a.logger),
		exec,
		orchestrator.NewHistoryResponder(completer, a.logger),
		orchestrator.Options{CallTimeout: oc.CallTimeout, HistoryWindow: oc.HistoryWindow, Metrics: a.metrics},
		a.logger,
	), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
