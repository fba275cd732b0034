package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dataproc/internal/app/ingest"
	"dataproc/internal/blob"
	"dataproc/internal/cache"
	"dataproc/internal/channel"
	"dataproc/internal/config"
	"dataproc/internal/db"
	"dataproc/internal/db/repository"
	"dataproc/internal/http/handlers/health"
	"dataproc/internal/http/handlers/worker"
	"dataproc/internal/http/router"
	"dataproc/internal/kafka"
	"dataproc/internal/logging"
	"dataproc/internal/telemetry"
)

func main() {
	// Top-level context with graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(
		cfg.Observability.ServiceName,
		cfg.Observability.ServiceEnv,
		cfg.LogLevel,
	)

	logger.Info("starting worker",
		"env", cfg.Environment,
		"transport", cfg.Worker.Transport,
		"queue", cfg.Worker.Queue,
		"dead_letter", cfg.Worker.DeadLetter,
	)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		logging.Sync(logger)
		os.Exit(1)
	}
	logger.Info("worker stopped")
	logging.Sync(logger)
}

// closer is run on shutdown in reverse registration order.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i].fn(shutdownCtx); cerr != nil {
				logger.Error("failed to close "+closers[i].name, "error", cerr)
			}
		}
	}()

	// 1) Telemetry
	otelShutdown, err := telemetry.Setup(ctx, cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	closers = append(closers, closer{"telemetry", otelShutdown})

	// 2) Storage
	var dbClient *db.Client
	var connector db.Connector
	switch cfg.Postgres.ConnMode {
	case config.ConnModePooled:
		dbClient, err = db.NewClient(ctx, cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		closers = append(closers, closer{"database", func(context.Context) error { return dbClient.Close() }})
		connector = db.NewPooledConnector(dbClient)
	default:
		connector = db.NewPerCallConnector(cfg.Postgres.EffectiveDSN())
		// The store may come up later; each message connects on its own.
		if err := connector.Ping(ctx); err != nil {
			logger.Warn("database not reachable at startup", "error", err)
		}
	}
	repo := repository.NewReadingRepository(connector, cfg.Postgres.Table, logger)

	// 3) Redis (optional)
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		closers = append(closers, closer{"redis", func(context.Context) error { return redisClient.Close() }})
	}

	// 4) AWS, only when a component needs it
	var awsCfg aws.Config
	if cfg.Worker.Transport == config.TransportSQS || cfg.Worker.DeadLetter == config.DeadLetterS3 {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
	}

	// 5) Dead-letter destination
	var deadLetters ingest.DeadLetters = ingest.NoopDeadLetters{}
	var letterSource worker.LetterSource
	switch cfg.Worker.DeadLetter {
	case config.DeadLetterKafka:
		bus, closeBus, err := kafka.NewBus(cfg.Kafka, logger)
		if err != nil {
			return fmt.Errorf("init kafka bus: %w", err)
		}
		closers = append(closers, closer{"kafka bus", closeBus})
		deadLetters = kafka.NewDeadLetters(bus, cfg.Kafka, logger)
	case config.DeadLetterRedis:
		list := cache.NewDeadLetterList(redisClient, cfg.Redis.DeadLetterKey, cfg.Redis.DeadLetterMaxLen)
		deadLetters = list
		letterSource = list
	case config.DeadLetterS3:
		bucket, err := blob.NewDeadLetterBucket(s3.NewFromConfig(awsCfg), cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			return fmt.Errorf("init s3 dead letters: %w", err)
		}
		deadLetters = bucket
	}

	// 6) Delivery channel
	ch, queue, err := newChannel(cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	// 7) Worker
	w, err := ingest.NewWorker(ch, repo, ingest.Options{
		Queue:         queue,
		InsertTimeout: cfg.Worker.InsertTimeout,
		Retry:         ingest.NewStorageRetry(cfg.Worker.StorageAttempts, cfg.Worker.RetryBaseDelay, cfg.Worker.RetryMaxDelay),
		DeadLetters:   deadLetters,
	}, logger)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("init worker: %w", err)
	}

	// 8) HTTP
	checks := map[string]health.Pinger{"db": connector}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	httpRouter := router.NewRouter(
		logger,
		health.NewHandler(checks),
		worker.NewHandler(w.Stats(), letterSource, logger),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           otelhttp.NewHandler(httpRouter, cfg.Observability.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 9) Start worker and HTTP server
	errCh := make(chan error, 2)
	workerDone := make(chan struct{})

	go func() {
		defer close(workerDone)
		if err := w.Run(ctx); err != nil {
			errCh <- fmt.Errorf("worker: %w", err)
		}
	}()

	go func() {
		logger.Info("http server starting",
			"host", cfg.HTTP.Host,
			"port", cfg.HTTP.Port,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 10) Wait for a shutdown signal, the worker ending, or a fatal error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case <-workerDone:
		select {
		case runErr = <-errCh:
		default:
		}
	case runErr = <-errCh:
		logger.Error("fatal error from subsystem", "error", runErr)
	}

	// 11) Graceful shutdown: finish the in-flight message first
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.StopTimeout)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		logger.Error("worker did not stop in time", "error", err)
	}

	shutdownCtx, cancelHTTP := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelHTTP()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown http server", "error", err)
	}

	return runErr
}

// newChannel connects the configured transport and returns the queue name
// as that transport addresses it.
func newChannel(cfg *config.Config, awsCfg aws.Config, logger logging.Logger) (channel.Channel, string, error) {
	switch cfg.Worker.Transport {
	case config.TransportSQS:
		ch, err := channel.NewSQS(sqs.NewFromConfig(awsCfg), channel.SQSConfig{
			QueueURL:        cfg.SQS.QueueURL,
			WaitTimeSeconds: cfg.SQS.WaitTimeSeconds,
			VisibilityTO:    cfg.SQS.VisibilityTO,
			Base64Body:      cfg.SQS.Base64Body,
		}, logger)
		if err != nil {
			return nil, "", fmt.Errorf("init sqs channel: %w", err)
		}
		return ch, cfg.Worker.Queue, nil
	default:
		sub, err := kafka.NewSubscriber(cfg.Kafka, logger)
		if err != nil {
			return nil, "", fmt.Errorf("init kafka subscriber: %w", err)
		}
		return channel.NewWatermill(sub, logger), kafka.Topic(cfg.Kafka, cfg.Worker.Queue), nil
	}
}
