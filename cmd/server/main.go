package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dailydraw/lottery-engine/internal/api"
	"github.com/dailydraw/lottery-engine/internal/config"
	"github.com/dailydraw/lottery-engine/internal/draw"
	"github.com/dailydraw/lottery-engine/internal/events"
	"github.com/dailydraw/lottery-engine/internal/ledger"
	"github.com/dailydraw/lottery-engine/internal/metrics"
	"github.com/dailydraw/lottery-engine/internal/scheduler"
	"github.com/dailydraw/lottery-engine/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("LOTTO_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("lottery-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("lottery-engine stopped")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store and ledger ---
	var (
		st      store.Store
		led     ledger.Ledger
		cleanup []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.Database.URL != "" {
		if err := store.MigrateUp(cfg.Database.URL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		led = ledger.NewPostgresLedger(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("redis.url: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
		led = ledger.NewMemoryLedger()
	}

	// --- Event fan-out ---
	hub := events.NewHub()
	publishers := events.Multi{hub}
	if cfg.NATS.URL != "" {
		np, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		cleanup = append(cleanup, np.Close)
		publishers = append(publishers, np)
		slog.Info("NATS publishing enabled", "subject", cfg.NATS.Subject)
	}

	// --- Engine and scheduler ---
	drawCfg, err := cfg.DrawConfig()
	if err != nil {
		return err
	}
	engine, err := draw.New(drawCfg, st, led, draw.WithPublisher(publishers))
	if err != nil {
		return err
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(engine, schedCfg)
	if err != nil {
		return err
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lottery-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	api.NewHandler(ctx, engine, sched, http.HandlerFunc(hub.HandleWS), cfg.Admin.Token).Mount(r)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if cfg.Schedule.Enabled {
		g.Go(func() error { return sched.Run(gctx) })
	} else {
		slog.Warn("draw scheduler disabled; draws only run on manual trigger")
	}
	g.Go(func() error {
		slog.Info("lottery-engine listening", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down lottery-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		// Restarted schedulers run under ctx, not gctx.
		sched.Stop()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
