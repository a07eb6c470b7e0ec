package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/auth"
	"github.com/rankstream/rankstream/internal/config"
	"github.com/rankstream/rankstream/internal/gateway"
	"github.com/rankstream/rankstream/internal/leaderboard"
	"github.com/rankstream/rankstream/internal/match"
	"github.com/rankstream/rankstream/internal/metrics"
	"github.com/rankstream/rankstream/internal/ranking"
	"github.com/rankstream/rankstream/internal/relay"
	"github.com/rankstream/rankstream/internal/rooms"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("nats_url", cfg.NATS.URL).
		Bool("auth_required", cfg.Auth.Required).
		Int("full_snapshot_threshold", cfg.Leaderboard.FullSnapshotThreshold).
		Msg("starting leaderboard sync server")

	metricsService := metrics.NewService()

	var validator auth.Validator
	if cfg.Auth.JWTSecret != "" {
		validator = auth.NewJWTValidator(cfg.Auth.JWTSecret)
	}

	registry := rooms.NewRegistry()
	manager := gateway.NewManager(registry, gateway.DefaultConnectionConfig(), validator, cfg.Auth.Required, nil, metricsService)
	dispatcher := gateway.NewDispatcher(registry, manager, metricsService)

	differ := leaderboard.NewDiffer(cfg.Leaderboard.FullSnapshotThreshold, nil)
	notifier := leaderboard.NewNotifier(dispatcher, nil)
	provider := ranking.NewClient(cfg.Ranking.BaseURL)
	matches := match.NewRouter(registry, dispatcher, notifier, nil)

	router := gateway.NewRouter(registry, dispatcher, differ, notifier, provider, matches, nil, metricsService)
	manager.SetMessageHandler(router)
	manager.OnDisconnect(matches.HandleDisconnect)

	// Cross-instance relay. A bus connection failure is fatal: running a
	// fleet member that silently drops remote broadcasts is worse than not
	// starting.
	bus, err := relay.NewNATSBus(relay.NATSBusConfig{
		URL:           cfg.NATS.URL,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	rly := relay.New(bus, dispatcher, relay.Config{
		SubjectPrefix:  cfg.NATS.SubjectPrefix,
		PublishRetries: cfg.NATS.PublishRetries,
		RetryBackoff:   cfg.NATS.RetryBackoff,
	}, nil, metricsService)
	if err := rly.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start relay")
	}
	dispatcher.SetForwarder(rly)

	log.Info().Str("origin", rly.Origin()).Msg("relay started")

	mux := http.NewServeMux()
	gateway.NewWSHandler(manager, router).RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.NewHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if err := rly.Stop(); err != nil {
		log.Error().Err(err).Msg("relay shutdown failed")
	}
	bus.Close()

	log.Info().Msg("leaderboard sync server shutdown complete")
}
