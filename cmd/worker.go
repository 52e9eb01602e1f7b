// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/debug"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapupload/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type FinalizeWorkerOpts struct {
	BackendOpts

	IP           string
	DebugPort    int
	Concurrency  int
	PollInterval time.Duration
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start finalize worker",
	Long: `Start a standalone finalize worker. It claims finalize tasks from a
database task queue, combines the uploaded parts, registers the file in the
catalog and publishes the activity event.`,
	Run: runFinalizeWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	f := workerCmd.Flags()
	f.String("ip", utils.DetectedHostAddress(), "IP address to bind the debug server to")
	f.Int("debug_port", 5081, "Debug HTTP port (metrics, pprof, health)")
	f.Int("worker_concurrency", taskqueue.DefaultConcurrency, "Finalize tasks processed in parallel")
	f.Duration("worker_poll_interval", taskqueue.DefaultPollInterval, "Task queue poll interval")

	addBackendFlags(f)

	viper.BindPFlags(f)
}

func runFinalizeWorker(cmd *cobra.Command, args []string) {
	opts := loadFinalizeWorkerOpts(cmd)
	if opts.QueueDriver == "" || opts.QueueDriver == queueDriverMemory {
		logger.Fatal().Msg("standalone worker needs a database task queue (queue_driver postgres or mysql)")
	}

	debug.SetNotReady()

	backends, err := openBackends(cmd.Context(), opts.BackendOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize backends")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	worker := startFinalizeWorker(ctx, workerID("worker"), backends, opts.Upload, opts.Concurrency, opts.PollInterval)
	debugServer := startHTTPServer(debug.GetMux(), opts.IP, opts.DebugPort, 0, nil)

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	worker.Stop()
	cancel()
	debugServer.Shutdown(context.Background())
	backends.Close()
}

func loadFinalizeWorkerOpts(cmd *cobra.Command) FinalizeWorkerOpts {
	backend := loadConfig(cmd, "upload")
	f := NewFlagLoader(cmd)

	return FinalizeWorkerOpts{
		BackendOpts:  backend,
		IP:           f.String("ip"),
		DebugPort:    f.Int("debug_port"),
		Concurrency:  f.Int("worker_concurrency"),
		PollInterval: f.Duration("worker_poll_interval"),
	}
}
