// Package metrics provides Prometheus metrics for pregen.
// Counters, gauges and histograms for generation, watchdogs, persistence
// and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Generation ─────────────────────────────────────────────────────────────

// CellsGenerated tracks cells materialized per world.
var CellsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pregen",
	Name:      "cells_generated_total",
	Help:      "Total cells materialized.",
}, []string{"world"})

// MaterializeFailures tracks failed materialization batches per world.
var MaterializeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pregen",
	Name:      "materialize_failures_total",
	Help:      "Total failed materialization attempts.",
}, []string{"world"})

// TasksActive tracks tasks currently in the ACTIVE state.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pregen",
	Name:      "tasks_active",
	Help:      "Number of active generation tasks.",
})

// TasksFinished tracks tasks that left the scheduler by outcome.
var TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pregen",
	Name:      "tasks_finished_total",
	Help:      "Total generation tasks finished by outcome (completed, cancelled).",
}, []string{"outcome"})

// TaskProgress tracks the completed fraction per world (0..1).
var TaskProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pregen",
	Name:      "task_progress_ratio",
	Help:      "Completed fraction of each generation task.",
}, []string{"world"})

// TickDuration tracks how long one scheduler tick takes.
var TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pregen",
	Name:      "tick_duration_seconds",
	Help:      "Scheduler tick duration in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
})

// ─── Watchdogs ──────────────────────────────────────────────────────────────

// WatchdogHolding tracks whether each watchdog currently holds (1) or not (0).
var WatchdogHolding = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pregen",
	Name:      "watchdog_holding",
	Help:      "Watchdog hold state per signal (1=holding, 0=clear).",
}, []string{"signal"})

// HeldTicks tracks ticks skipped because a watchdog held.
var HeldTicks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pregen",
	Name:      "held_ticks_total",
	Help:      "Total scheduler ticks skipped by a watchdog hold.",
})

// SignalValue tracks the latest health reading per signal.
var SignalValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pregen",
	Name:      "signal_value",
	Help:      "Latest health signal reading.",
}, []string{"signal"})

// ─── Persistence ────────────────────────────────────────────────────────────

// SaveFailures tracks failed record saves.
var SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pregen",
	Name:      "save_failures_total",
	Help:      "Total failed task record saves.",
})

// SaveLatency tracks record save duration.
var SaveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pregen",
	Name:      "save_latency_seconds",
	Help:      "Task record save duration in seconds.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pregen",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// OverlayClients tracks connected map overlay subscribers.
var OverlayClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pregen",
	Name:      "overlay_clients",
	Help:      "Number of connected map overlay clients.",
})

// HostBreakerState tracks the host circuit breaker (0=closed, 1=open, 2=half-open).
var HostBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pregen",
	Name:      "host_breaker_state",
	Help:      "Host circuit breaker state (0=closed, 1=open, 2=half-open).",
})
