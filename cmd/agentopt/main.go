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
	"github.com/spf13/pflag"
	gootel "go.opentelemetry.io/otel"

	aohttp "github.com/Strob0t/agentopt/internal/adapter/http"
	aomcp "github.com/Strob0t/agentopt/internal/adapter/mcp"
	"github.com/Strob0t/agentopt/internal/adapter/memstore"
	aonats "github.com/Strob0t/agentopt/internal/adapter/nats"
	"github.com/Strob0t/agentopt/internal/adapter/natskv"
	"github.com/Strob0t/agentopt/internal/adapter/ollama"
	"github.com/Strob0t/agentopt/internal/adapter/otel"
	"github.com/Strob0t/agentopt/internal/adapter/postgres"
	"github.com/Strob0t/agentopt/internal/adapter/ristretto"
	"github.com/Strob0t/agentopt/internal/adapter/tiered"
	"github.com/Strob0t/agentopt/internal/adapter/ws"
	"github.com/Strob0t/agentopt/internal/config"
	"github.com/Strob0t/agentopt/internal/domain/agent"
	"github.com/Strob0t/agentopt/internal/logger"
	"github.com/Strob0t/agentopt/internal/middleware"
	"github.com/Strob0t/agentopt/internal/port/cache"
	"github.com/Strob0t/agentopt/internal/port/contextstore"
	"github.com/Strob0t/agentopt/internal/secrets"
	"github.com/Strob0t/agentopt/internal/service"
)

var version = "dev"

// rateLimiterIdle is how long a session's task bucket may sit unused
// before it is dropped.
const rateLimiterIdle = 30 * time.Minute

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		if err := runConfig(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("agentopt", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to a YAML or JSONC config file")
	preset := fs.String("preset", "", "configuration preset (development, production, testing, lightweight)")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.LoadFrom(*configPath, *preset)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"preset", cfg.Preset,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"learning", cfg.Optimization.LearningEnabled,
		"nats", cfg.NATS.URL != "",
	)

	vault, err := secrets.NewVault(secrets.ConfigLoader(*configPath, *preset))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	ctx := context.Background()

	// --- Telemetry ---

	shutdownOtel, err := otel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics(gootel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	store, closeStore, err := openContextStore(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer closeStore()

	var queue *aonats.Queue
	if cfg.NATS.URL != "" {
		queue, err = aonats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	recCache, closeCache, err := openCache(ctx, cfg.Cache, queue)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Services ---

	hub := ws.NewHub()
	defer hub.Close()

	orch := service.NewOrchestrator(cfg.Optimization, cfg.Breaker, service.Deps{
		Store:     store,
		Cache:     recCache,
		CacheTTL:  cfg.Cache.L2TTL,
		Telemetry: metrics,
	})

	client := ollama.NewClient(cfg.Executor.URL, cfg.Executor.Timeout).
		WithToken(vault.Source(secrets.KeyExecutorToken))
	if err := registerAgents(ctx, orch, client, cfg.Executor); err != nil {
		return err
	}

	if queue != nil {
		orch.Events().SubscribeAll(service.NewEventForwarder(queue, cfg.NATS.SubjectPrefix, hub))
		stopControl, err := service.ListenControl(ctx, queue, cfg.NATS.SubjectPrefix, orch)
		if err != nil {
			return fmt.Errorf("control subscriber: %w", err)
		}
		defer stopControl()
	} else {
		orch.Events().SubscribeAll(service.NewEventForwarder(nil, "", hub))
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Optimization.ShutdownGracePeriod+5*time.Second)
		defer cancel()
		_ = orch.Stop(sctx)
	}()

	// --- MCP ---

	var mcpSrv *aomcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = aomcp.NewServer(aomcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "agentopt",
			Version: version,
		}, orch)
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		slog.Info("mcp server started", "addr", cfg.MCP.Addr)
	}

	// --- HTTP ---

	var taskLimit func(http.Handler) http.Handler
	handlers := &aohttp.Handlers{Orch: orch}
	if cfg.Server.TaskRate > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.TaskRate, cfg.Server.TaskBurst, func(r *http.Request) string {
			return chi.URLParam(r, "id")
		})
		taskLimit = limiter.Handler
		handlers.OnSessionEnd = limiter.Forget

		sweepCtx, stopSweep := context.WithCancel(ctx)
		defer stopSweep()
		go sweepLimiter(sweepCtx, limiter)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(aohttp.CORS(cfg.Server.CORSOrigin))
	r.Use(aohttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	aohttp.MountRoutes(r, handlers, taskLimit, hub.HandleWS)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// SIGHUP re-reads the executor token from the config file and environment.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadSecrets(hup, vault)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			slog.Warn("mcp shutdown", "error", err)
		}
	}
	return nil
}

// openContextStore returns the Postgres store when a DSN is configured and
// the in-memory store otherwise.
func openContextStore(ctx context.Context, cfg config.Postgres) (contextstore.Store, func(), error) {
	if cfg.DSN == "" {
		slog.Info("context store: memory")
		return memstore.NewContextStore(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, cfg.DSN); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("context store: postgres", "max_conns", cfg.MaxConns)
	return postgres.NewContextStore(pool), pool.Close, nil
}

// openCache builds the recommendation cache: ristretto in process, backed
// by a JetStream key-value bucket when NATS is available.
func openCache(ctx context.Context, cfg config.Cache, queue *aonats.Queue) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("cache l1: %w", err)
	}
	closeL1 := func() {
		st := l1.Stats()
		slog.Info("recommendation cache closed", "hits", st.Hits, "misses", st.Misses, "hit_ratio", st.HitRatio)
		l1.Close()
	}
	if queue == nil {
		return l1, closeL1, nil
	}

	l2, err := natskv.Open(ctx, queue.JetStream(), cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		slog.Warn("cache l2 unavailable, using l1 only", "bucket", cfg.L2Bucket, "error", err)
		return l1, closeL1, nil
	}
	return tiered.New(l1, l2, cfg.L1TTL), closeL1, nil
}

// registerAgents adds one Ollama-backed agent per configured model. With no
// models configured, every model installed on the server is registered.
func registerAgents(ctx context.Context, orch *service.Orchestrator, client *ollama.Client, cfg config.Executor) error {
	models := cfg.Models
	if len(models) == 0 {
		lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		discovered, err := client.Models(lctx)
		if err != nil {
			slog.Warn("model discovery failed, starting without agents", "url", cfg.URL, "error", err)
			return nil
		}
		models = discovered
	}

	for _, m := range models {
		if err := orch.RegisterAgent(agent.Profile{ID: m, Name: m}, client.Executor(m)); err != nil {
			return fmt.Errorf("register agent %s: %w", m, err)
		}
	}
	slog.Info("agents registered", "count", len(models), "url", cfg.URL)
	return nil
}

func sweepLimiter(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(rateLimiterIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup(rateLimiterIdle)
		}
	}
}

func reloadSecrets(hup <-chan os.Signal, vault *secrets.Vault) {
	for range hup {
		changed, err := vault.Reload()
		if err != nil {
			slog.Error("secret reload failed, keeping previous values", "error", err)
			continue
		}
		slog.Info("secrets reloaded", "changed", changed)
	}
}
