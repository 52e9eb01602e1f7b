// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/api"
	"github.com/LeeDigitalWorks/zapupload/pkg/debug"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapupload/pkg/upload"
	"github.com/LeeDigitalWorks/zapupload/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type UploadServerOpts struct {
	BackendOpts

	IP           string
	HTTPPort     int
	DebugPort    int
	CertFile     string
	KeyFile      string
	ClientCAFile string
	ConnTimeout  time.Duration

	MaxChunkBytes int64
	MaxFormMemory int64

	// Embedded finalize worker
	RunWorker          bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration

	ShutdownTimeout time.Duration
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start upload API server",
	Long: `Start a ZapUpload API server that handles:
- Pre-upload of files and folders with conflict checks
- Chunk upload into multipart uploads
- Finalize requests and job status queries`,
	Run: runUploadServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.String("ip", utils.DetectedHostAddress(), "IP address to bind to")
	f.Int("http_port", 5079, "HTTP port for the upload API")
	f.Int("debug_port", 5080, "Debug HTTP port (metrics, pprof, health)")
	f.String("cert_file", "", "Path to TLS certificate file")
	f.String("key_file", "", "Path to TLS key file")
	f.String("client_ca_file", "", "CA file for verifying client certificates")
	f.Duration("conn_timeout", time.Minute, "Base connection read/write timeout, scaled with bytes transferred")

	def := api.DefaultConfig()
	f.Int64("max_chunk_bytes", def.MaxChunkBytes, "Largest accepted chunk request body")
	f.Int64("max_form_memory", def.MaxFormMemory, "Chunk form bytes kept in memory before spilling to disk")

	f.Bool("run_worker", true, "Run a finalize worker in this process")
	f.Int("worker_concurrency", taskqueue.DefaultConcurrency, "Finalize tasks processed in parallel")
	f.Duration("worker_poll_interval", taskqueue.DefaultPollInterval, "Task queue poll interval")
	f.Duration("shutdown_timeout", 30*time.Second, "Grace period for in-flight requests on shutdown")

	addBackendFlags(f)

	viper.BindPFlags(f)
}

func runUploadServer(cmd *cobra.Command, args []string) {
	opts := loadUploadServerOpts(cmd)

	debug.SetNotReady()

	backends, err := openBackends(cmd.Context(), opts.BackendOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize backends")
	}

	coordinator, err := upload.NewCoordinator(opts.Upload, backends.Deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create upload coordinator")
	}

	var worker *taskqueue.Worker
	workerCtx, cancelWorker := context.WithCancel(cmd.Context())
	if opts.RunWorker {
		worker = startFinalizeWorker(workerCtx, workerID("server"), backends, opts.Upload, opts.WorkerConcurrency, opts.WorkerPollInterval)
	} else if opts.QueueDriver == queueDriverMemory {
		logger.Warn().Msg("memory task queue without an embedded worker: finalize tasks will never run")
	}

	uploadServer := api.NewServer(api.Config{
		Version:       Version,
		MaxChunkBytes: opts.MaxChunkBytes,
		MaxFormMemory: opts.MaxFormMemory,
	}, coordinator, debug.RunChecks)

	tlsCfg, err := utils.LoadServerTLSConfig(opts.CertFile, opts.KeyFile, opts.ClientCAFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load TLS credentials")
	}
	httpServer := startHTTPServer(uploadServer, opts.IP, opts.HTTPPort, opts.ConnTimeout, tlsCfg)
	debugServer := startHTTPServer(debug.GetMux(), opts.IP, opts.DebugPort, 0, nil)

	logger.Info().
		Str("namespace", opts.Upload.Namespace).
		Str("zone", opts.Upload.Zone().String()).
		Bool("run_worker", opts.RunWorker).
		Msg("upload server ready")

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("upload server shutdown")
	}
	if worker != nil {
		worker.Stop()
	}
	cancelWorker()
	debugServer.Shutdown(ctx)
	backends.Close()
}

func loadUploadServerOpts(cmd *cobra.Command) UploadServerOpts {
	backend := loadConfig(cmd, "upload")
	f := NewFlagLoader(cmd)

	return UploadServerOpts{
		BackendOpts:        backend,
		IP:                 f.String("ip"),
		HTTPPort:           f.Int("http_port"),
		DebugPort:          f.Int("debug_port"),
		CertFile:           f.String("cert_file"),
		KeyFile:            f.String("key_file"),
		ClientCAFile:       f.String("client_ca_file"),
		ConnTimeout:        f.Duration("conn_timeout"),
		MaxChunkBytes:      f.Int64("max_chunk_bytes"),
		MaxFormMemory:      f.Int64("max_form_memory"),
		RunWorker:          f.Bool("run_worker"),
		WorkerConcurrency:  f.Int("worker_concurrency"),
		WorkerPollInterval: f.Duration("worker_poll_interval"),
		ShutdownTimeout:    f.Duration("shutdown_timeout"),
	}
}
