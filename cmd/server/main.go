package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pawanbishnoiii/vk1-sub001/internal/admin"
	"github.com/pawanbishnoiii/vk1-sub001/internal/auth"
	"github.com/pawanbishnoiii/vk1-sub001/internal/bonus"
	"github.com/pawanbishnoiii/vk1-sub001/internal/config"
	"github.com/pawanbishnoiii/vk1-sub001/internal/jobs"
	"github.com/pawanbishnoiii/vk1-sub001/internal/limits"
	"github.com/pawanbishnoiii/vk1-sub001/internal/mailer"
	"github.com/pawanbishnoiii/vk1-sub001/internal/metrics"
	"github.com/pawanbishnoiii/vk1-sub001/internal/notify"
	"github.com/pawanbishnoiii/vk1-sub001/internal/pair"
	"github.com/pawanbishnoiii/vk1-sub001/internal/pricefeed"
	"github.com/pawanbishnoiii/vk1-sub001/internal/seed"
	"github.com/pawanbishnoiii/vk1-sub001/internal/social"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
	"github.com/pawanbishnoiii/vk1-sub001/internal/trade"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		// The database may still be starting next to us.
		ping := func() error { return pool.Ping(ctx) }
		if err := backoff.Retry(ping, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 6), ctx)); err != nil {
			slog.Error("database unreachable", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
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

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			slog.Error("load seed file", "path", cfg.SeedFile, "err", err)
			os.Exit(1)
		}
		if err := seed.Apply(ctx, st, f, time.Now().UTC()); err != nil {
			slog.Error("apply seed", "err", err)
			os.Exit(1)
		}
	}

	// --- Pairs and limits ---
	pairs, err := pair.NewSet(cfg.Pairs)
	if err != nil {
		slog.Error("invalid PAIRS", "err", err)
		os.Exit(1)
	}
	limiter := limits.NewLimiter(cfg.MaxStakePerTrade, cfg.MaxExposurePerPair, cfg.MaxCorrelatedExposure)

	// --- Price feed and WebSocket hub ---
	jwtSecret := []byte(cfg.JWTSecret)
	hub := pricefeed.NewHub()
	feed := pricefeed.New(pairs, pricefeed.Options{
		RESTURL:         cfg.FeedRESTURL,
		StreamURL:       cfg.FeedStreamURL,
		InitialDelay:    cfg.FeedInitialDelay,
		MaxDelay:        cfg.FeedMaxDelay,
		MaxAttempts:     cfg.FeedMaxAttempts,
		PollInterval:    cfg.FeedPollInterval,
		CircuitCooldown: cfg.FeedCircuitCooldown,
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
	}, hub.BroadcastTicker)

	// Anonymous sockets get prices only; a valid ?token= also gets trade events.
	hub.Identify = func(r *http.Request) string {
		tok := r.URL.Query().Get("token")
		if tok == "" {
			return ""
		}
		userID, err := auth.ParseToken(jwtSecret, tok)
		if err != nil {
			return ""
		}
		return userID
	}
	hub.Welcome = func() pricefeed.Message {
		return pricefeed.Message{Type: pricefeed.MsgSnapshot, Data: feed.Snapshot()}
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	go feed.Run(ctx)

	// --- Services ---
	mail := mailer.New(st, mailer.SMTPTransport{Timeout: cfg.SMTPTimeout})
	settler := trade.NewSettler(st, mail, hub)
	tradeSvc := trade.NewService(st, pairs, feed, limiter, settler, trade.Options{
		MinDuration: cfg.MinTradeDuration,
		MaxDuration: cfg.MaxTradeDuration,
		Hub:         hub,
	})
	bonusSvc := bonus.NewService(st)
	bonusHandler := bonus.NewHandler(bonusSvc)
	notifySvc := notify.NewService(st)
	adminHandler := admin.NewHandler(st, bonusSvc, notifySvc, mail)
	socialHandler := social.NewHandler(st)

	// --- Background jobs ---
	scheduler := jobs.NewScheduler(jobs.Schedules{
		Settle:      cfg.SettleSchedule,
		BonusExpiry: cfg.BonusExpirySchedule,
	}, trade.NewSweeper(settler, st, cfg.SettleBatchSize), bonusSvc)
	if err := scheduler.Start(ctx); err != nil {
		slog.Error("scheduler", "err", err)
		os.Exit(1)
	}

	ipLimiter := auth.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go ipLimiter.Cleanup(ctx, 10*time.Minute)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.AdminKeyHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"binopt-engine","feed":"` + string(feed.State()) + `"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for prices and the owner's trade events.
		// Long-lived, so it sits outside the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(ipLimiter.Middleware)

			r.Get("/prices", feed.HandlePrices)
			r.Method(http.MethodGet, "/social-channels", socialHandler)

			// Authenticated user API.
			r.Group(func(r chi.Router) {
				r.Use(auth.Authenticated(jwtSecret))

				r.Post("/trades", tradeSvc.OpenTrade)
				r.Get("/trades", tradeSvc.ListTrades)
				r.Post("/trades/settle", tradeSvc.Settle)
				r.Get("/trades/{tradeID}", tradeSvc.GetTrade)
				r.Get("/wallet", tradeSvc.GetWallet)
				r.Get("/transactions", tradeSvc.ListTransactions)

				bonusHandler.Routes(r)
				notifySvc.Routes(r)
			})

			// Operator API.
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.AdminOnly(cfg.AdminKeyHash))
				adminHandler.Routes(r)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("binopt-engine listening", "port", cfg.Port, "pairs", len(pairs.Pairs()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()
	slog.Info("shutting down binopt-engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	scheduler.Stop()
	settler.Wait()
	stopHub()
	slog.Info("binopt-engine stopped")
}
