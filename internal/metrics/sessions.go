// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics exposes prometheus collectors for the controller and the
// recorder pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recfleet_sessions_registered_total",
		Help: "Total number of session registrations accepted",
	})

	SessionsDeregistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recfleet_sessions_deregistered_total",
		Help: "Total number of session deregistrations",
	})

	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recfleet_heartbeats_total",
		Help: "Total number of heartbeats processed",
	}, []string{"result"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recfleet_status_transitions_total",
		Help: "Total number of accepted status transitions",
	}, []string{"from", "to"})

	ReaperFailovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recfleet_reaper_failovers_total",
		Help: "Total number of sessions failed by the reaper",
	}, []string{"reason"})

	ReaperTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recfleet_reaper_ticks_total",
		Help: "Total number of completed reaper passes",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recfleet_active_sessions",
		Help: "Number of sessions currently in the active index",
	})
)
