// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"github.com/LeeDigitalWorks/zapupload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PreUploadFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "preupload_files_total",
		Help:      "Files announced through pre-upload by job type",
	}, []string{"job_type"})

	ConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "conflicts_total",
		Help:      "Pre-upload name conflicts by type",
	}, []string{"type"}) // type: "file", "folder"

	ChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "chunks_total",
		Help:      "Chunk uploads by result",
	}, []string{"result"})

	ChunkBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "chunk_bytes_total",
		Help:      "Bytes accepted as chunks",
	})

	FinalizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "finalize_total",
		Help:      "Finalization runs by result",
	}, []string{"result"}) // result: "succeed", "failed", "skipped"

	FinalizeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "finalize_duration_seconds",
		Help:      "Time spent finalizing one file",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
	})

	ReconcileRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "reconcile_retries_total",
		Help:      "Part listings repeated because fewer parts than declared were visible",
	})

	ArchivePreviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "upload",
		Name:      "archive_previews_total",
		Help:      "Archive previews by format and result",
	}, []string{"format", "result"})
)

func init() {
	debug.Registry().MustRegister(
		PreUploadFilesTotal,
		ConflictsTotal,
		ChunksTotal,
		ChunkBytesTotal,
		FinalizeTotal,
		FinalizeDuration,
		ReconcileRetriesTotal,
		ArchivePreviewsTotal,
	)
}
