package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-credentials/internal/auth"
	"ms-credentials/internal/config"
	"ms-credentials/internal/database"
	"ms-credentials/internal/database/migrations"
	"ms-credentials/internal/directory"
	"ms-credentials/internal/kafka"
	"ms-credentials/internal/logger"
	"ms-credentials/internal/metrics"
	"ms-credentials/internal/roster"
	roster_api "ms-credentials/internal/roster/api"
	ticket_db "ms-credentials/internal/tickets/db"
	"ms-credentials/internal/tickets/lock"
	"ms-credentials/internal/tickets/qrcode"
	tickets "ms-credentials/internal/tickets/service"
	"ms-credentials/internal/tickets/ticket_api"
	"ms-credentials/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client
}

func migrate(bunDB *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) {
	if !cfg.AutoMigrate {
		log.Info("MIGRATE", "Auto-migrate disabled, skipping")
		return
	}
	// The runner is not closed here: closing it would close the shared pool.
	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: cfg.MigrationsDir}, log)
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to run migrations: %v", err))
	}
}

func main() {
	log, err := logger.NewLogger("ms-credentials")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting ticket credential service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	if cfg.Tickets.CodeSecret == "" {
		log.Warn("CONFIG", "QR_SECRET_KEY not set, secure codes rely on randomness alone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()
	migrate(bunDB, cfg.Database, log)

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	dir := &directory.DB{Bun: bunDB}
	events := directory.NewEventCache(redisClient, dir, cfg.Redis.EventCacheTTL, log)
	store := &ticket_db.DB{Bun: bunDB}
	codes := qrcode.NewGenerator(cfg.Tickets.CodeSecret, cfg.Tickets.PublicBaseURL)
	m := metrics.New()

	var publisher tickets.Publisher
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics(cfg.Kafka.Topics), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
		publisher = producer
	} else {
		log.Warn("KAFKA", "Kafka disabled, credential events will not be published")
	}

	ticketService := tickets.NewTicketService(
		store,
		events,
		dir,
		lock.NewIssuanceLock(redisClient, cfg.Redis.LockTTL),
		codes,
		publisher,
		log,
		tickets.Options{
			MaxCodeAttempts:     cfg.Tickets.MaxCodeAttempts,
			IssuanceConcurrency: cfg.Tickets.IssuanceConcurrency,
			ExpiryGrace:         cfg.Tickets.ExpiryGrace,
		},
	)
	ticketService.Metrics = m

	aggregator := roster.NewAggregator(dir, store, dir, log)
	aggregator.Metrics = m

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to configure token verification: %v", err))
	}
	log.Info("AUTH", fmt.Sprintf("Token verification mode: %s", cfg.Auth.Mode))

	ticketHandler := ticket_api.NewHandler(ticketService, codes, log)
	rosterHandler := roster_api.NewHandler(aggregator, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(m.Instrument)

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("database unavailable", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", m.Handler())
	ticketHandler.RegisterPublicRoutes(r)
	log.Info("ROUTER", "Public consult endpoint registered at /tickets/consult")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		ticketHandler.RegisterRoutes(r)
		rosterHandler.RegisterRoutes(r)
		log.Info("ROUTER", "Ticket and roster routes registered under /api")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics, ticketService, events, log)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
			}
		}()
	}

	go ticketService.RunExpirySweeper(ctx, cfg.Tickets.ExpirySweepInterval)
	log.Info("APP", fmt.Sprintf("Expiry sweeper running every %s", cfg.Tickets.ExpirySweepInterval))

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticket credential service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Ticket credential service shutdown complete")
	}
}
