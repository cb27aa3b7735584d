// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kaihere14/novadrive/pkg/debug"
	"github.com/kaihere14/novadrive/pkg/enrich"
	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/objstore"
	"github.com/kaihere14/novadrive/pkg/taskqueue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a standalone enrichment worker",
	Long: `Start an enrichment worker that processes extraction and tagging
tasks from the shared PostgreSQL queue. Run alongside the API server to
scale enrichment independently of upload traffic.`,
	Run: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	f := workerCmd.Flags()

	f.Int("debug_port", 9091, "Debug HTTP port (metrics, pprof, probes)")
	f.String("pg_dsn", "", "PostgreSQL DSN for file records and the task queue. Required.")

	f.String("s3_endpoint", "", "S3-compatible endpoint URL (empty = AWS)")
	f.String("s3_region", "us-east-1", "S3 region")
	f.String("s3_bucket", "", "S3 bucket holding uploaded objects. Required.")
	f.String("s3_access_key", "", "S3 access key ID")
	f.String("s3_secret_key", "", "S3 secret access key")
	f.Bool("s3_path_style", false, "Use path-style S3 addressing (MinIO et al.)")

	f.String("model_base_url", "", "Chat-completions endpoint for tagging. Required.")
	f.String("model_api_key", "", "Model API key")
	f.String("model_name", "gpt-4o-mini", "Model name")

	f.Int("worker_concurrency", taskqueue.DefaultConcurrency, "Worker goroutines")
	f.Duration("poll_interval", taskqueue.DefaultPollInterval, "Queue poll interval")

	viper.BindPFlags(f)
}

func runWorker(cmd *cobra.Command, args []string) {
	loadConfiguration("worker")
	f := NewFlagLoader(cmd)
	ctx := cmd.Context()

	dsn := f.String("pg_dsn")
	if dsn == "" {
		logger.Fatal().Msg("pg_dsn is required, the worker shares the queue with the server")
	}
	modelCfg := enrich.ModelConfig{
		BaseURL: f.String("model_base_url"),
		APIKey:  f.String("model_api_key"),
		Model:   f.String("model_name"),
	}
	if modelCfg.BaseURL == "" {
		logger.Fatal().Msg("model_base_url is required")
	}
	if f.String("s3_bucket") == "" {
		logger.Fatal().Msg("s3_bucket is required")
	}

	debug.SetNotReady()

	fileStore, queue, pool := newStores(ctx, dsn)
	defer pool.Close()
	defer queue.Close()

	backend := newBackend(ctx, objstore.S3Config{
		Endpoint:        f.String("s3_endpoint"),
		Region:          f.String("s3_region"),
		Bucket:          f.String("s3_bucket"),
		AccessKeyID:     f.String("s3_access_key"),
		SecretAccessKey: f.String("s3_secret_key"),
		PathStyle:       f.Bool("s3_path_style"),
	})

	worker := newEnrichmentWorker(queue, fileStore, backend, modelCfg, f.Int("worker_concurrency"))
	worker.Start(ctx)

	debugServer := startDebugServer(f.Int("debug_port"))

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	logger.Info().Msg("shutting down")
	worker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	debugServer.Shutdown(shutdownCtx)
}
