package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/bahdcoder/posthog/internal/config"
	"github.com/bahdcoder/posthog/internal/consumer"
	"github.com/bahdcoder/posthog/internal/dlq"
	"github.com/bahdcoder/posthog/internal/droplist"
	"github.com/bahdcoder/posthog/internal/logging"
	"github.com/bahdcoder/posthog/internal/messaging"
	"github.com/bahdcoder/posthog/internal/normalize"
	"github.com/bahdcoder/posthog/internal/persons"
	"github.com/bahdcoder/posthog/internal/pipeline"
	"github.com/bahdcoder/posthog/internal/plugins"
	"github.com/bahdcoder/posthog/internal/reporting"
	"github.com/bahdcoder/posthog/internal/server"
	"github.com/bahdcoder/posthog/internal/sink"
	"github.com/bahdcoder/posthog/internal/steps"
	"github.com/bahdcoder/posthog/internal/teams"
	"github.com/bahdcoder/posthog/internal/warnings"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("pipeline"))
	logging.SetDefault(logger)

	slog.Info("Starting pipeline service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect NATS and set up the streams the pipeline publishes to and
	// consumes from.
	conn, err := messaging.Connect(messaging.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	producer, err := messaging.NewProducer(conn)
	if err != nil {
		log.Fatalf("Failed to create JetStream producer: %v", err)
	}
	defer producer.Close()

	setupCtx, setupCancel := context.WithTimeout(ctx, 30*time.Second)
	for _, stream := range []messaging.StreamConfig{
		messaging.RawEventsStream,
		messaging.ProcessedEventsStream,
		messaging.WarningsStream,
		messaging.DLQStream,
	} {
		if _, err := producer.CreateOrUpdateStream(setupCtx, stream); err != nil {
			setupCancel()
			log.Fatalf("Failed to set up stream %s: %v", stream.Name, err)
		}
	}
	setupCancel()

	// Postgres pool for team and person lookups.
	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Failed to create Postgres pool: %v", err)
	}
	defer pool.Close()

	// Redis cache for team resolution.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	cache := redis.NewClient(redisOpts)
	defer cache.Close()

	// Assemble the pipeline.
	composite := &steps.Composite{
		Teams:      teams.NewManager(teams.NewPostgresStore(pool), cache, cfg.Redis.CacheTTL, logger),
		Plugins:    plugins.NewChain(logger),
		Normalizer: normalize.New(),
		Persons:    persons.NewResolver(pool, logger),
		Sink:       sink.NewWriter(producer, logger),
	}

	deadLetters := dlq.NewQueue(producer, logger)
	reporter := reporting.NewBusReporter(producer, logger)
	exec := pipeline.NewExecutor(logger, deadLetters, reporter, cfg.Pipeline.StallTimeout)

	drops := droplist.Parse(cfg.Pipeline.DropEventsByToken)
	if !drops.Empty() {
		slog.Info("Event drop list configured")
	}
	routing := pipeline.NewEmbraceJoinRouting(
		cfg.Pipeline.EmbraceJoinTeams,
		cfg.Pipeline.EmbraceJoinMaxTeam,
		cfg.Pipeline.EmbraceJoinExcluded,
	)

	runner := pipeline.NewRunner(composite, warnings.NewEmitter(producer, logger), exec, drops, routing, logger)

	// Start the raw events consumer.
	jsConsumer, err := producer.Consumer(ctx, messaging.RawEventsStream.Name, messaging.ConsumerPipeline, "")
	if err != nil {
		log.Fatalf("Failed to create pipeline consumer: %v", err)
	}

	cons := consumer.New(jsConsumer, runner, logger)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- cons.Start(ctx)
	}()
	slog.Info("Pipeline consumer started",
		slog.String("stream", messaging.RawEventsStream.Name),
		slog.String("consumer", messaging.ConsumerPipeline),
	)

	// Operational HTTP surface.
	handler := server.NewHandler(map[string]server.ReadyCheck{
		"nats": func(ctx context.Context) error {
			if !conn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		},
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return cache.Ping(ctx).Err() },
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Pipeline service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()

	slog.Info("Shutting down pipeline service")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := <-consumerDone; err != nil {
		slog.Error("Consumer stopped with error", logging.Error(err))
	}

	slog.Info("Pipeline service stopped")
}
