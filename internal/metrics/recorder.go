// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChunkUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recfleet_chunk_uploads_total",
		Help: "Total number of chunk upload attempts",
	}, []string{"result"})

	ChunkUploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recfleet_chunk_upload_bytes_total",
		Help: "Total bytes of chunk data uploaded",
	})

	ChunkDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recfleet_chunk_downloads_total",
		Help: "Total number of chunk download attempts",
	}, []string{"result"})

	JoinDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recfleet_join_duration_seconds",
		Help:    "Wall time of the final concat step",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	CaptureExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recfleet_capture_exit_total",
		Help: "Total number of capture engine exits",
	}, []string{"reason"})
)
