package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "svchecks"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events received from supervisord, by event name.",
		}, []string{"event"},
	)
	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "TICK events that triggered an evaluation.",
		},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time from reading a tick to acknowledging it.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 20, 30, 50},
		},
	)
	checkResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_results_total",
			Help:      "Check evaluations by kind and result (pass|fail).",
		}, []string{"check", "result"},
	)
	unhealthy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhealthy_total",
			Help:      "Ticks on which a process failed at least one check.",
		}, []string{"process"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Restart requests by outcome (ok|error).",
		}, []string{"process", "outcome"},
	)
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Last sampled CPU percent of a supervised process.",
		}, []string{"process"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_memory_rss_bytes",
			Help:      "Last sampled resident memory of a supervised process.",
		}, []string{"process"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{events, ticks, tickDuration, checkResults, unhealthy, restarts, processCPU, processRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncEvent(name string) {
	if regOK.Load() {
		events.WithLabelValues(name).Inc()
	}
}

func ObserveTick(seconds float64) {
	if regOK.Load() {
		ticks.Inc()
		tickDuration.Observe(seconds)
	}
}

func IncCheckResult(kind string, ok bool) {
	if regOK.Load() {
		result := "fail"
		if ok {
			result = "pass"
		}
		checkResults.WithLabelValues(kind, result).Inc()
	}
}

func IncUnhealthy(process string) {
	if regOK.Load() {
		unhealthy.WithLabelValues(process).Inc()
	}
}

func IncRestart(process string, err error) {
	if regOK.Load() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		restarts.WithLabelValues(process, outcome).Inc()
	}
}

func SetProcessCPU(process string, percent float64) {
	if regOK.Load() {
		processCPU.WithLabelValues(process).Set(percent)
	}
}

func SetProcessRSS(process string, bytes uint64) {
	if regOK.Load() {
		processRSS.WithLabelValues(process).Set(float64(bytes))
	}
}

// ForgetProcess drops the resource gauges of a process that left the group.
func ForgetProcess(process string) {
	if regOK.Load() {
		processCPU.DeleteLabelValues(process)
		processRSS.DeleteLabelValues(process)
	}
}
