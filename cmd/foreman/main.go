package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/forgeline/foreman/internal/adapter/httpapi"
	fmnats "github.com/forgeline/foreman/internal/adapter/nats"
	"github.com/forgeline/foreman/internal/adapter/otel"
	"github.com/forgeline/foreman/internal/adapter/postgres"
	"github.com/forgeline/foreman/internal/adapter/ristretto"
	"github.com/forgeline/foreman/internal/adapter/trackerhttp"
	"github.com/forgeline/foreman/internal/adapter/ws"
	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/git"
	"github.com/forgeline/foreman/internal/gitops"
	"github.com/forgeline/foreman/internal/logger"
	"github.com/forgeline/foreman/internal/port/runstore"
	"github.com/forgeline/foreman/internal/port/session"
	"github.com/forgeline/foreman/internal/resilience"
	"github.com/forgeline/foreman/internal/secrets"
	"github.com/forgeline/foreman/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "run":
		err = runEpic(args)
	case "help", "--help", "-h":
		printHelp()
	default:
		printHelp()
		err = fmt.Errorf("unknown command: %s", cmd)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: foreman <command> [options]

Commands:
  serve   Start the HTTP/WebSocket API server (default)
  run     Execute one epic's plan and print the run summary
  help    Show this help message

Examples:
  foreman serve
  foreman run PROJ-42
  foreman run PROJ-42 --sequential --from F03
`)
}

// deps holds everything both the server and the one-shot run mode need.
type deps struct {
	cfg   *config.Config
	orch  *service.Orchestrator
	hub   *ws.Hub
	store *postgres.RunStore
	close func()
}

// storeOrNil avoids handing a typed-nil pointer to an interface field.
func (d *deps) storeOrNil() runstore.Store {
	if d.store == nil {
		return nil
	}
	return d.store
}

// buildDeps loads config and wires the adapter stack. Postgres, NATS and
// telemetry are optional: an empty DSN/URL or a disabled flag leaves the
// corresponding collaborator unset.
func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger.New(cfg.Logging))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"tracker", cfg.Tracker.BaseURL,
		"repo", cfg.Git.RepoPath,
		"max_agents", cfg.Orchestrator.MaxAgents,
	)

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		closers = append(closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		})
	}

	// Tracker client with a read cache
	trkOpts := []trackerhttp.Option{}
	if cfg.Cache.MaxSizeMB > 0 {
		c, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("cache: %w", err)
		}
		closers = append(closers, c.Close)
		trkOpts = append(trkOpts, trackerhttp.WithCache(c, cfg.Tracker.CacheTTL))
	}
	trkOpts = append(trkOpts, trackerhttp.WithBreaker(resilience.New(5, 30*time.Second)))
	trk := trackerhttp.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.APIKey, cfg.Tracker.Timeout, trkOpts...)

	// Session provider; credentials come through the vault so rotated
	// keys are picked up on reload.
	vault, err := secrets.New(secrets.FromEnv(cfg.Agent.APIKeyEnvVar))
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("secrets: %w", err)
	}
	provider, err := session.New(cfg.Agent.Provider, map[string]string{
		"api_key":    vault.Get(cfg.Agent.APIKeyEnvVar),
		"model":      cfg.Agent.Model,
		"max_tokens": strconv.Itoa(cfg.Agent.MaxTokens),
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("session provider: %w", err)
	}

	// Git
	gitPool := git.NewPool(cfg.Git.MaxConcurrent)
	branches := gitops.NewBranchManager(cfg.Git.RepoPath, gitPool, cfg.Orchestrator.BranchPrefix)
	merger := gitops.NewMergeCoordinator(cfg.Git.RepoPath, gitPool)
	checkpoints := gitops.NewCheckpointManager(cfg.Git.RepoPath, gitPool)

	hub := ws.NewHub()

	orch := service.NewOrchestrator(trk, provider, branches, merger, checkpoints, hub,
		cfg.Orchestrator, cfg.Agent, cfg.Git.RepoPath)

	d := &deps{cfg: cfg, orch: orch, hub: hub}

	// Run-history store (optional)
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			closeAll()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")
		d.store = postgres.NewRunStore(pool)
		orch.SetRunStore(d.store)
	}

	// Telemetry queue (optional)
	if cfg.NATS.URL != "" {
		queue, err := fmnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("nats: %w", err)
		}
		closers = append(closers, func() { _ = queue.Close() })
		orch.SetQueue(queue)
	}

	if cfg.Telemetry.Enabled {
		metrics, err := otel.NewMetrics()
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("metrics: %w", err)
		}
		orch.SetMetrics(metrics)
	}

	d.close = closeAll
	return d, nil
}

func serve() error {
	ctx := context.Background()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	handlers := httpapi.NewHandlers(d.orch, d.storeOrNil())

	r := chi.NewRouter()

	// Middleware
	r.Use(httpapi.CORS(d.cfg.Server.CORSOrigin))
	r.Use(httpapi.Logger)
	if d.cfg.Telemetry.Enabled {
		r.Use(otel.HTTPMiddleware(d.cfg.Logging.Service))
	}
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(d.cfg))

	// WebSocket endpoint for run observers
	r.Get("/ws", d.hub.HandleWS)

	httpapi.MountRoutes(r, handlers)

	addr := ":" + d.cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports configured collaborators so a dashboard can tell
// which optional pieces are live.
func healthHandler(cfg *config.Config) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Tracker  string `json:"tracker"`
		Postgres bool   `json:"postgres"`
		NATS     bool   `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:   "ok",
			Tracker:  cfg.Tracker.BaseURL,
			Postgres: cfg.Postgres.DSN != "",
			NATS:     cfg.NATS.URL != "",
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
