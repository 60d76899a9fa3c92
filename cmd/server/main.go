package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/conf"
	"github.com/foldfi/position-engine/internal/metrics"
	"github.com/foldfi/position-engine/internal/store"
	"github.com/foldfi/position-engine/internal/vault"
	"github.com/foldfi/position-engine/internal/venue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Configuration ---
	cfg := conf.Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := conf.Load(path)
		if err != nil {
			slog.Error("config load failed", "path", path, "err", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("configuration loaded", "path", path)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if key := os.Getenv("ADMIN_KEY"); key != "" {
		cfg.Server.AdminKey = key
	}
	if key := os.Getenv("TRIGGER_KEY"); key != "" {
		cfg.Server.TriggerKey = key
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Venue ---
	// Simulated lending pool and swap venue. On-chain adapters plug in
	// behind the same interfaces.
	sim := venue.NewSimVenue(
		decimal.NewFromFloat(cfg.Venue.MaxLTV),
		decimal.NewFromFloat(cfg.Venue.LiquidationThreshold),
		cfg.Venue.SwapFeeBps,
	)

	// --- WebSocket hub ---
	wsHub := vault.NewWSHub()
	go wsHub.Run()

	// --- Engine service ---
	svc := vault.NewService(st, sim, sim, sim, wsHub, vault.Options{
		Account:     cfg.Assets.Account,
		BaseAsset:   cfg.Assets.Base,
		BorrowAsset: cfg.Assets.Borrow,
		AdminKey:    cfg.Server.AdminKey,
		TriggerKey:  cfg.Server.TriggerKey,
		Params:      cfg.Risk.Params(),
	})
	if err := svc.Rehydrate(context.Background()); err != nil {
		slog.Error("rehydration failed", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key, X-Trigger-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"position-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time position updates.
		r.Get("/ws", wsHub.HandleWS)

		// Position lifecycle.
		r.Get("/position", svc.HandleSnapshot)
		r.Post("/position/contribute", svc.HandleContribute)
		r.Post("/position/withdraw", svc.HandleWithdraw)
		r.Post("/position/rebalance", svc.HandleRebalance)
		r.Get("/position/holdings/{depositor}", svc.HandleHolding)

		// Event history.
		r.Get("/events", svc.HandleEvents)

		// DCA schedules.
		r.Post("/dca", svc.HandleConfigureDCA)
		r.Get("/dca/{depositor}", svc.HandleGetDCA)
		r.Post("/dca/{depositor}/execute", svc.HandleExecuteDCA)
		r.Delete("/dca/{depositor}", svc.HandleCancelDCA)

		// Admin surface.
		r.Put("/admin/risk-params", svc.HandleUpdateRiskParams)
		r.Post("/admin/pause", svc.HandlePause)
		r.Post("/admin/unwind", svc.HandleUnwindAll)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("position-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down position-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("position-engine stopped")
}
