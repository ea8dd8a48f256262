package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/commentguard/moderation-gateway/internal/gateway/catalog"
	"github.com/commentguard/moderation-gateway/internal/gateway/handlers"
	"github.com/commentguard/moderation-gateway/internal/gateway/providers"
	"github.com/commentguard/moderation-gateway/internal/gateway/ratelimit"
	"github.com/commentguard/moderation-gateway/internal/shared/config"
	"github.com/commentguard/moderation-gateway/internal/shared/database"
	sharedredis "github.com/commentguard/moderation-gateway/internal/shared/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	if cfg.Env == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	log.WithFields(log.Fields{
		"port":     cfg.Port,
		"env":      cfg.Env,
		"provider": cfg.Provider,
	}).Info("starting moderation gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	// Rate-limit windows and catalog cache live in Redis when
	// configured, otherwise in process memory.
	window := ratelimit.Rule{
		Limit:  cfg.RateLimitPerWindow,
		Window: time.Duration(cfg.RateLimitWindowSecs) * time.Second,
	}
	var limiter ratelimit.Limiter
	var catalogStore catalog.Store

	if cfg.RedisURL != "" {
		redisClient, err := sharedredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		defer redisClient.Close()
		log.Info("connected to Redis")

		redisLimiter := ratelimit.NewRedis(redisClient, window)
		redisLimiter.Privilege(cfg.PrivilegedCallers...)
		limiter = redisLimiter
		catalogStore = redisClient
	} else {
		memLimiter := ratelimit.NewMemory(window)
		memLimiter.Privilege(cfg.PrivilegedCallers...)
		limiter = memLimiter
		catalogStore = catalog.NewMemoryStore()
		log.Info("using in-memory rate limiter and catalog cache")
	}

	manager := providers.NewManager(cfg, config.EnvCredentialStore{}, providers.Deps{
		Limiter: limiter,
		Ledger:  db,
		Catalog: catalog.New(catalogStore),
	})
	log.WithField("providers", manager.Names()).Info("initialized moderation providers")

	handler := handlers.NewModerationHandler(manager, db, cfg.MonthlyBudgetUSD)

	r := chi.NewRouter()
	r.Use(handlers.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(90 * time.Second))
	r.Use(handlers.CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/moderate", handler.HandleModerate)
		r.Get("/providers", handler.HandleListProviders)
		r.Get("/providers/{provider}/models", handler.HandleListModels)
		r.Post("/providers/{provider}/test", handler.HandleTestConnection)
		r.Get("/usage/summary", handler.HandleUsageSummary)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
