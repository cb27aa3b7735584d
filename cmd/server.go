// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaihere14/novadrive/pkg/api"
	"github.com/kaihere14/novadrive/pkg/debug"
	"github.com/kaihere14/novadrive/pkg/enrich"
	"github.com/kaihere14/novadrive/pkg/events"
	"github.com/kaihere14/novadrive/pkg/files"
	"github.com/kaihere14/novadrive/pkg/fingerprint"
	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/objstore"
	"github.com/kaihere14/novadrive/pkg/quota"
	"github.com/kaihere14/novadrive/pkg/session"
	"github.com/kaihere14/novadrive/pkg/taskqueue"
)

// ServerOpts holds all configuration for the API server.
type ServerOpts struct {
	ListenAddr string
	DebugPort  int
	JWTSecret  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PostgresDSN enables the durable file store and task queue. Empty
	// falls back to in-memory stores (single process, dev only).
	PostgresDSN string

	S3 objstore.S3Config

	KafkaBrokers []string
	KafkaTopic   string

	Model enrich.ModelConfig

	QuotaLimitBytes int64
	QuotaWindow     time.Duration

	GrantTTL time.Duration

	// EmbeddedWorker runs enrichment workers inside the API process.
	EmbeddedWorker    bool
	WorkerConcurrency int
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the upload coordination API server",
	Long: `Start the NovaDrive API server. It coordinates chunked uploads into
object storage, enforces per-owner quota, and schedules enrichment of
finished files.`,
	Run: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()

	f.String("listen_addr", ":8080", "API listen address")
	f.Int("debug_port", 9090, "Debug HTTP port (metrics, pprof, probes)")
	f.String("jwt_secret", "", "HS256 secret for bearer tokens. Required.")

	f.String("redis_addr", "localhost:6379", "Redis address for session state")
	f.String("redis_password", "", "Redis password")
	f.Int("redis_db", 0, "Redis database number")

	f.String("pg_dsn", "", "PostgreSQL DSN for file records and the task queue (empty = in-memory)")

	f.String("s3_endpoint", "", "S3-compatible endpoint URL (empty = AWS)")
	f.String("s3_region", "us-east-1", "S3 region")
	f.String("s3_bucket", "", "S3 bucket for uploads (empty = in-memory backend, dev only)")
	f.String("s3_access_key", "", "S3 access key ID")
	f.String("s3_secret_key", "", "S3 secret access key")
	f.Bool("s3_path_style", false, "Use path-style S3 addressing (MinIO et al.)")

	f.StringSlice("kafka_brokers", nil, "Kafka brokers for file events (empty = disabled)")
	f.String("kafka_topic", "novadrive-files", "Kafka topic for file events")

	f.String("model_base_url", "", "Chat-completions endpoint for tagging (empty = enrichment disabled)")
	f.String("model_api_key", "", "Model API key")
	f.String("model_name", "gpt-4o-mini", "Model name")

	f.Int64("quota_limit_bytes", quota.DefaultLimit, "Per-owner upload byte budget per window")
	f.Duration("quota_window", quota.DefaultWindow, "Quota window length")

	f.Duration("grant_ttl", objstore.DefaultGrantTTL, "Transfer grant lifetime")

	f.Bool("embedded_worker", true, "Run enrichment workers in-process")
	f.Int("worker_concurrency", taskqueue.DefaultConcurrency, "Enrichment worker goroutines")

	viper.BindPFlags(f)
}

func loadServerOpts(cmd *cobra.Command) ServerOpts {
	f := NewFlagLoader(cmd)
	return ServerOpts{
		ListenAddr:    f.String("listen_addr"),
		DebugPort:     f.Int("debug_port"),
		JWTSecret:     f.String("jwt_secret"),
		RedisAddr:     f.String("redis_addr"),
		RedisPassword: f.String("redis_password"),
		RedisDB:       f.Int("redis_db"),
		PostgresDSN:   f.String("pg_dsn"),
		S3: objstore.S3Config{
			Endpoint:        f.String("s3_endpoint"),
			Region:          f.String("s3_region"),
			Bucket:          f.String("s3_bucket"),
			AccessKeyID:     f.String("s3_access_key"),
			SecretAccessKey: f.String("s3_secret_key"),
			PathStyle:       f.Bool("s3_path_style"),
		},
		KafkaBrokers: f.StringSlice("kafka_brokers"),
		KafkaTopic:   f.String("kafka_topic"),
		Model: enrich.ModelConfig{
			BaseURL: f.String("model_base_url"),
			APIKey:  f.String("model_api_key"),
			Model:   f.String("model_name"),
		},
		QuotaLimitBytes:   f.Int64("quota_limit_bytes"),
		QuotaWindow:       f.Duration("quota_window"),
		GrantTTL:          f.Duration("grant_ttl"),
		EmbeddedWorker:    f.Bool("embedded_worker"),
		WorkerConcurrency: f.Int("worker_concurrency"),
	}
}

func runServer(cmd *cobra.Command, args []string) {
	loadConfiguration("server")
	opts := loadServerOpts(cmd)
	ctx := cmd.Context()

	if opts.JWTSecret == "" {
		logger.Fatal().Msg("jwt_secret is required")
	}

	debug.SetNotReady()

	redisClient := newRedisClient(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	defer redisClient.Close()

	fileStore, queue, pool := newStores(ctx, opts.PostgresDSN)
	if pool != nil {
		defer pool.Close()
	}
	defer queue.Close()

	backend := newBackend(ctx, opts.S3)
	publisher := newPublisher(opts.KafkaBrokers, opts.KafkaTopic)
	defer publisher.Close()

	pipeline := enrich.NewPipeline(queue)
	registry := session.NewRegistry(
		session.NewRedisStore(redisClient),
		fingerprint.NewIndex(redisClient, fingerprint.DefaultTTL),
		quota.NewLedger(redisClient, quota.Config{
			LimitBytes: opts.QuotaLimitBytes,
			Window:     opts.QuotaWindow,
		}),
		backend,
		fileStore,
		session.WithEnrichment(pipeline),
		session.WithEvents(publisher),
		session.WithGrantTTL(opts.GrantTTL),
	)

	router := api.NewRouter(api.NewHandlers(registry, fileStore), []byte(opts.JWTSecret))
	apiServer := api.NewServer(api.Config{Addr: opts.ListenAddr}, router)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	debugServer := startDebugServer(opts.DebugPort)

	var worker *taskqueue.Worker
	if opts.EmbeddedWorker {
		worker = newEnrichmentWorker(queue, fileStore, backend, opts.Model, opts.WorkerConcurrency)
		if worker != nil {
			worker.Start(ctx)
		}
	}

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	logger.Info().Msg("shutting down")
	if worker != nil {
		worker.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)
	debugServer.Shutdown(shutdownCtx)
}

func newRedisClient(ctx context.Context, addr, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("redis unreachable")
	}
	return client
}

// newStores returns the file store and task queue, Postgres-backed when a
// DSN is configured.
func newStores(ctx context.Context, dsn string) (files.Store, taskqueue.Queue, *pgxpool.Pool) {
	if dsn == "" {
		logger.Warn().Msg("no pg_dsn configured, file records and tasks are in-memory")
		return files.NewMemoryStore(), taskqueue.NewMemoryQueue(), nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres pool creation failed")
	}

	fileStore := files.NewPGStore(pool)
	if err := fileStore.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("files migration failed")
	}

	queue, err := taskqueue.NewPGQueue(taskqueue.PGQueueConfig{Pool: pool})
	if err != nil {
		logger.Fatal().Err(err).Msg("task queue creation failed")
	}
	if err := queue.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("task queue migration failed")
	}

	return fileStore, queue, pool
}

func newBackend(ctx context.Context, cfg objstore.S3Config) objstore.Backend {
	if cfg.Bucket == "" {
		logger.Warn().Msg("no s3_bucket configured, objects are in-memory")
		return objstore.NewMemoryBackend()
	}
	backend, err := objstore.NewS3Backend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("s3 backend creation failed")
	}
	return backend
}

func newPublisher(brokers []string, topic string) events.Publisher {
	if len(brokers) == 0 {
		return events.NopPublisher{}
	}
	cfg := events.DefaultKafkaConfig(brokers)
	cfg.Topic = topic
	publisher, err := events.NewKafkaPublisher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("kafka publisher creation failed")
	}
	return publisher
}

// newEnrichmentWorker builds a worker with all pipeline handlers, or nil
// when no model endpoint is configured.
func newEnrichmentWorker(queue taskqueue.Queue, fileStore files.Store, backend objstore.Backend, model enrich.ModelConfig, concurrency int) *taskqueue.Worker {
	if model.BaseURL == "" {
		logger.Warn().Msg("no model_base_url configured, enrichment is disabled")
		return nil
	}

	hostname, _ := os.Hostname()
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:          hostname + "-" + strconv.Itoa(os.Getpid()),
		Queue:       queue,
		Concurrency: concurrency,
	})

	client := enrich.NewHTTPModelClient(model)
	worker.RegisterHandler(enrich.NewExtractHandler(queue, fileStore, backend))
	worker.RegisterHandler(enrich.NewImageTagger(fileStore, client))
	worker.RegisterHandler(enrich.NewDocumentTagger(fileStore, client))
	worker.RegisterHandler(enrich.NewGenericTagger(fileStore, client))
	return worker
}

func startDebugServer(port int) *http.Server {
	server := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: debug.Mux(),
	}
	go func() {
		logger.Info().Int("port", port).Msg("debug server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("debug server failed")
		}
	}()
	return server
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
