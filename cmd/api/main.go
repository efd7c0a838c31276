package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/tavern-chatter/backend/internal/config"
	"github.com/zhouzirui/tavern-chatter/backend/internal/handler"
	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/ambient"
	engine "github.com/zhouzirui/tavern-chatter/backend/internal/service/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/history"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/live"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/tavern"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Log)
	if envErr != nil {
		log.Warn("failed to load .env file, continuing with system environment variables only", "error", envErr)
	}

	if err := run(ctx, cfg, log); err != nil {
		logger.WithError(log, err).Error("server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	registry, err := persona.LoadRegistry(cfg.Persona.File)
	if err != nil {
		return err
	}
	log.Info("persona catalogue loaded", "personas", registry.Len(), "file", cfg.Persona.File)

	generator, err := cfg.AI.NewGenerator(ctx)
	if err != nil {
		return err
	}
	if cfg.AI.Enabled() {
		log.Info("generation backend ready", "backend", generator.Name(), "model", cfg.AI.Model)
	} else {
		log.Warn("LLM_PROVIDER 未配置，所有对话将使用兜底台词")
	}

	store, closeStore, err := openHistory(ctx, cfg.History, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := live.NewHub(nil, live.DefaultBuffer, log)

	orch := engine.NewOrchestrator(registry, generator, engine.Options{
		Compiler: engine.NewCompiler(engine.CompilerConfig{
			HistoryWindow:   cfg.Dialogue.HistoryWindow,
			MaxParticipants: cfg.Dialogue.MaxParticipants,
		}),
		Decoding:      cfg.AI.Options(),
		ReplyDecoding: cfg.AI.ReplyOptions(),
		Logger:        log,
	})

	svc := tavern.NewService(orch, store, hub, tavern.Config{Logger: log})

	var wg sync.WaitGroup
	worker := ambient.NewWorker(svc, registry, ambient.Config{
		Interval:    cfg.Ambient.Interval,
		Scene:       dialogue.Scene{Name: cfg.Ambient.Scene, Atmosphere: cfg.Ambient.Atmosphere},
		MaxInFlight: cfg.Ambient.MaxInFlight,
		Logger:      log,
	})
	workerCtx, stopWorker := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(workerCtx)
	}()
	defer func() {
		stopWorker()
		wg.Wait()
	}()

	router := handler.NewRouter(handler.Deps{
		Personas: registry,
		Tavern:   svc,
		Hub:      hub,
		Backend:  generator.Name(),
		Logger:   log,
	})

	return startServer(ctx, cfg.Server, router, log)
}

// openHistory picks Redis when REDIS_ADDR is set, otherwise the in-process store.
func openHistory(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (history.Store, func(), error) {
	if !cfg.UseRedis() {
		store, err := history.NewMemoryStore(cfg.MaxScenes, cfg.MaxTurns)
		if err != nil {
			return nil, nil, err
		}
		log.Info("history store: memory", "maxScenes", cfg.MaxScenes, "maxTurns", cfg.MaxTurns)
		return store, func() {}, nil
	}

	store, err := history.NewRedisStore(ctx, history.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		MaxTurns: cfg.MaxTurns,
		TTL:      cfg.TTL,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("history store: redis", "addr", cfg.RedisAddr, "maxTurns", cfg.MaxTurns, "ttl", cfg.TTL)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.WithError(log, err).Warn("close redis failed")
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *slog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("tavern backend listening", "addr", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
