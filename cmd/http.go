// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/utils"
)

// startHTTPServer serves handler on ip:port. timeout is the base per-read
// deadline of each connection; tlsCfg switches the listener to TLS.
func startHTTPServer(handler http.Handler, ip string, port int, timeout time.Duration, tlsCfg *tls.Config) *http.Server {
	listener, err := utils.NewListener(utils.JoinHostPort(ip, port), timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create HTTP listener")
	}
	if tlsCfg != nil {
		listener = tls.NewListener(listener, tlsCfg)
	}

	httpServer := &http.Server{Handler: handler}
	go func() {
		logger.Info().Str("http_addr", utils.JoinHostPort(ip, port)).Bool("tls", tlsCfg != nil).Msg("Starting HTTP server")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	return httpServer
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGALRM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}

// workerID names a worker after its host so claims can be traced back.
func workerID(role string) string {
	host, err := os.Hostname()
	if err != nil {
		host = utils.DetectedHostAddress()
	}
	return fmt.Sprintf("%s-%s-%d", role, host, os.Getpid())
}
