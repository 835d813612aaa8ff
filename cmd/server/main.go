package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caixalink/pairing-server-go/internal/config"
	"github.com/caixalink/pairing-server-go/internal/database"
	"github.com/caixalink/pairing-server-go/internal/handler"
	"github.com/caixalink/pairing-server-go/internal/jobs"
	"github.com/caixalink/pairing-server-go/internal/middleware"
	"github.com/caixalink/pairing-server-go/internal/redis"
	"github.com/caixalink/pairing-server-go/internal/repository"
	"github.com/caixalink/pairing-server-go/internal/service"
	"github.com/caixalink/pairing-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	eventRepo := repository.NewPairingEventRepository(db.DB)
	saleRepo := repository.NewSaleRepository(db.DB)

	broker := sse.NewBroker()
	defer broker.Close()

	dir := service.NewDirectory()
	gen := service.NewCodeGenerator(cfg.CodeAlphabet, cfg.CodeLength)
	scheduler := service.NewExpiryScheduler()
	defer scheduler.Close()

	registry := service.NewRegistry(dir, gen, scheduler, cfg.CodeTTL())
	saleService := service.NewSaleService(dir, saleRepo)
	router := service.NewRouter(registry, dir, broker, saleService, eventRepo)

	authMiddleware := middleware.NewAuthMiddleware(dir)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.RateLimitPerMin)

	sessionHandler := handler.NewSessionHandler(dir, authMiddleware.Handler)
	eventsHandler := handler.NewEventsHandler(broker, router)
	statsHandler := handler.NewStatsHandler(dir, registry, broker, eventRepo, saleRepo)

	startedAt := time.Now()

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"uptime":   time.Since(startedAt).Milliseconds(),
			"sessions": dir.Count(),
			"pairs":    dir.CountPaired(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/sessions", sessionHandler.Routes())

		r.Get("/stats", statsHandler.ServeHTTP)

		// The SSE stream stays out of the request timeout; it lives as
		// long as the device connection.
		r.With(authMiddleware.Handler).Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(authMiddleware.Handler)
			r.Use(rateLimitMiddleware.Handler)
			r.Post("/events", eventsHandler.Dispatch)
		})
	})

	cleanupJob := jobs.NewCleanupJob(
		eventRepo, registry, config.CleanupJobInterval,
		cfg.AuditRetention(), config.ConsumedCodeRetention,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
