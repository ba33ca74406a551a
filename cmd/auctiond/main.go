package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/auctiond/internal/auction/gateway"
	"github.com/bidhaus/auctiond/internal/auction/notify"
	"github.com/bidhaus/auctiond/internal/auction/outbox"
	"github.com/bidhaus/auctiond/internal/auction/registry"
	"github.com/bidhaus/auctiond/internal/auction/repository"
	"github.com/bidhaus/auctiond/internal/auction/room"
	"github.com/bidhaus/auctiond/internal/auction/scheduler"
	"github.com/bidhaus/auctiond/internal/catalog"
	"github.com/bidhaus/auctiond/internal/config"
	"github.com/bidhaus/auctiond/internal/dbconfig"
	"github.com/bidhaus/auctiond/internal/identity"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	rules, err := cfg.AuctionRules()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid auction rules")
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	db, err := dbCfg.Open()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", cfg.NATS.URL).
		Str("addr", cfg.HTTP.Addr).
		Dur("auction_duration", rules.Duration).
		Str("min_increment", rules.MinIncrement.String()).
		Msg("starting auctiond")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	repo := repository.New(db)
	reg := registry.New(repo, rules, clock)
	sched := scheduler.New(reg, repo, scheduler.DefaultConfig(rules.Duration), clock)

	// Publisher first: it ensures the stream the consumers attach to.
	pubCfg := outbox.DefaultJetStreamConfig()
	pubCfg.URL = cfg.NATS.URL
	pubCfg.StreamName = cfg.NATS.StreamName
	pubCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
	publisher, err := outbox.NewJetStreamPublisher(pubCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create JetStream publisher")
	}
	defer publisher.Close()

	relayCfg := outbox.DefaultRelayConfig()
	relayCfg.DatabaseURL = dbCfg.DSN()
	relay, err := outbox.NewRelay(db, publisher, relayCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox relay")
	}

	hub := room.NewHub(room.DefaultConnectionConfig())

	roomCfg := room.DefaultConsumerConfig()
	roomCfg.URL = cfg.NATS.URL
	roomCfg.StreamName = cfg.NATS.StreamName
	roomCfg.SubjectFilter = cfg.NATS.SubjectPrefix + ".>"
	roomConsumer, err := room.NewEventConsumer(hub, roomCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create room consumer")
	}
	defer roomConsumer.Stop()

	dispatcher := notify.NewDispatcher(hub)
	notifyCfg := notify.DefaultConsumerConfig()
	notifyCfg.URL = cfg.NATS.URL
	notifyCfg.StreamName = cfg.NATS.StreamName
	notifyCfg.SubjectFilter = cfg.NATS.SubjectPrefix + ".>"
	notifyConsumer, err := notify.NewConsumer(dispatcher, notifyCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create notification consumer")
	}
	defer notifyConsumer.Stop()

	idp, err := identity.NewStaticProviderFromEnv(os.Getenv("AUTH_TOKENS"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse AUTH_TOKENS")
	}
	cat := catalog.NewPostgresReader(db)
	gw := gateway.New(reg, repo, cat, idp, rules, clock, sched.Wake)

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	room.NewHandler(hub, idp).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	go hub.Start(ctx)
	go func() {
		if err := roomConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("room consumer failed")
		}
	}()
	go func() {
		if err := notifyConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("notification consumer failed")
		}
	}()
	go func() {
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox relay failed")
		}
	}()
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("deadline scheduler failed")
		}
	}()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Client-Nonce"},
	}).Handler(mux)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("auctiond stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
