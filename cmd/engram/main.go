package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	enghttp "github.com/engramhq/engram/internal/adapter/http"
	"github.com/engramhq/engram/internal/adapter/litellm"
	"github.com/engramhq/engram/internal/adapter/mcp"
	"github.com/engramhq/engram/internal/adapter/natskv"
	engotel "github.com/engramhq/engram/internal/adapter/otel"
	"github.com/engramhq/engram/internal/adapter/postgres"
	"github.com/engramhq/engram/internal/adapter/ristretto"
	"github.com/engramhq/engram/internal/adapter/task"
	"github.com/engramhq/engram/internal/adapter/tiered"
	"github.com/engramhq/engram/internal/adapter/ws"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/logger"
	"github.com/engramhq/engram/internal/middleware"
	"github.com/engramhq/engram/internal/resilience"
	"github.com/engramhq/engram/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"mcp_enabled", cfg.MCP.Enabled,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := engotel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := engotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	// NATS (L2 context cache)
	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer nc.Close()

	l2, err := natskv.New(ctx, nc, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("nats kv: %w", err)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()

	contextCache := tiered.New(l1, l2, cfg.Cache.L1Backfill)

	// Extraction backend
	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Model)
	llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Cooldown))

	// Background task pool
	sched := task.New(cfg.Tasks.MaxConcurrent, cfg.Tasks.Timeout)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	memSvc := service.NewMemoryService(store, contextCache)
	memSvc.SetMetrics(metrics)
	memSvc.SetBroadcaster(hub)

	obsSvc := service.NewObserverService(store, llm, sched, memSvc, service.ObserverOptions{
		DedupWindow:     cfg.Memory.DedupWindow,
		TranscriptLimit: cfg.Memory.TranscriptLimit,
		ExistingLimit:   cfg.Memory.ExistingLimit,
	})
	obsSvc.SetMetrics(metrics)
	obsSvc.SetBroadcaster(hub)

	reflSvc := service.NewReflectorService(store, memSvc)
	reflSvc.SetMetrics(metrics)
	reflSvc.SetBroadcaster(hub)

	// --- HTTP ---
	handlers := &enghttp.Handlers{
		Memory:    memSvc,
		Observer:  obsSvc,
		Reflector: reflSvc,
		Extractor: llm,
		DBPing:    pool.Ping,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(enghttp.Logger)
	r.Use(enghttp.SecurityHeaders)
	r.Use(enghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.APIKeyAuth(cfg.Server.APIKeyHash))

	// WebSocket endpoint (memory lifecycle events)
	r.Get("/ws", hub.HandleWS)

	// API routes
	enghttp.MountRoutes(r, handlers)

	// --- MCP tool server ---
	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(
			mcp.ServerConfig{
				Addr:    cfg.MCP.Addr,
				Name:    "engram",
				Version: "0.1.0",
				APIKey:  cfg.MCP.APIKey,
			},
			mcp.ServerDeps{Memory: memSvc, Rememberer: obsSvc},
		)
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "engram"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()

	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Warn("task pool shutdown", "error", err)
	}

	return srv.Shutdown(shutdownCtx)
}
