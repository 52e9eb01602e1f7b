// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package api is the HTTP surface of the upload service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"
	"github.com/LeeDigitalWorks/zapupload/pkg/upload"
)

// Service is the upload flow the handlers drive. *upload.Coordinator
// implements it.
type Service interface {
	PreUpload(ctx context.Context, sessionID string, req types.PreUploadRequest) ([]types.JobRecord, error)
	CheckConflicts(ctx context.Context, req upload.ConflictCheck) error
	ListJobs(ctx context.Context, sessionID string) ([]types.JobRecord, error)
	GetJob(ctx context.Context, sessionID, jobID string) (types.JobRecord, error)
	UploadChunk(ctx context.Context, req types.ChunkRequest) error
	PresignPart(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error)
	TriggerFinalize(ctx context.Context, req types.FinalizeRequest) (types.JobRecord, error)
	ResumableStatus(ctx context.Context, q types.ResumableQuery) ([]types.ChunksInfo, error)
}

var _ Service = (*upload.Coordinator)(nil)

// HealthFunc probes the dependencies and returns the failures by name.
type HealthFunc func(ctx context.Context) map[string]error

type Config struct {
	Name    string
	Version string

	// MaxChunkBytes caps the body of a chunk upload.
	MaxChunkBytes int64 `mapstructure:"max_chunk_bytes"`
	// MaxFormMemory is how much of a multipart form is kept in memory
	// before spilling to temp files.
	MaxFormMemory int64 `mapstructure:"max_form_memory"`
}

func DefaultConfig() Config {
	return Config{
		Name:          "zapupload",
		MaxChunkBytes: 5 << 30,
		MaxFormMemory: 32 << 20,
	}
}

type Handler func(*Data, http.ResponseWriter)

// Server routes upload requests through the filter chain to the handlers.
type Server struct {
	config  Config
	service Service
	health  HealthFunc
	chain   *Chain
	mux     *http.ServeMux
}

func NewServer(cfg Config, service Service, health HealthFunc) *Server {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = def.MaxChunkBytes
	}
	if cfg.MaxFormMemory <= 0 {
		cfg.MaxFormMemory = def.MaxFormMemory
	}
	if health == nil {
		health = func(context.Context) map[string]error { return nil }
	}

	s := &Server{
		config:  cfg,
		service: service,
		health:  health,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()

	s.chain = NewChain()
	s.chain.AddFilter(NewRequestIDFilter())
	s.chain.AddFilter(NewSessionFilter(s.mux, sessionRoutes...))
	return s
}

// sessionRoutes act on a client session and need the session header.
var sessionRoutes = []string{
	"POST /v1/files/jobs",
	"GET /v1/files/jobs",
	"GET /v1/files/jobs/{job_id}",
	"POST /v1/files/chunks",
	"POST /v1/files",
}

func (s *Server) registerRoutes() {
	s.handle("GET /{$}", s.root)
	s.handle("GET /v1/health", s.checkHealth)

	s.handle("POST /v1/files/jobs", s.preUpload)
	s.handle("GET /v1/files/jobs", s.listJobs)
	s.handle("GET /v1/files/jobs/{job_id}", s.getJob)
	s.handle("POST /v1/files/conflicts", s.checkConflicts)

	s.handle("POST /v1/files/chunks", s.uploadChunk)
	s.handle("GET /v1/files/chunks/presigned", s.presignChunk)

	s.handle("POST /v1/files", s.finalize)
	s.handle("POST /v1/files/resumable", s.resumable)
}

func (s *Server) handle(pattern string, h Handler) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		d := dataFrom(r)
		d.Req = r
		h(d, w)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	wrapped := &wrappedResponseRecorder{ResponseWriter: w}
	d := NewData(r.Context(), r)

	defer func() {
		if p := recover(); p != nil {
			panicsTotal.Inc()
			logger.Ctx(d.Ctx).Error().
				Str("panic", fmt.Sprint(p)).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			if !wrapped.wroteHeader {
				writeError(wrapped, d, apierr.New(apierr.ErrInternal, "internal server error"))
			}
		}

		status := wrapped.statusCode
		// a client that hung up is not a server error
		if status == http.StatusInternalServerError && errors.Is(r.Context().Err(), context.Canceled) {
			status = 0
		}
		route := d.Route
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		logger.Ctx(d.Ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Int64("bytes", wrapped.bytesWritten).
			Dur("took", time.Since(start)).
			Msg("request")
	}()

	if _, err := s.chain.Run(d); err != nil {
		writeError(wrapped, d, err)
		return
	}

	req := d.Req.WithContext(withData(d.Ctx, d))
	s.mux.ServeHTTP(wrapped, req)
}
