// Invariants are conditions that must hold unless there is a bug in memo itself, e.g. a cache constructed with a
// negative capacity or a janitor asked to tick every zero seconds. Raising one does not crash the process: it logs an
// error and bumps the `invariants_total` counter so that the violation is visible on /metrics. The caller still owns
// recovery, usually by falling back to a sane default and carrying on.
//
// Only builds with TestMode set turn violations into panics, which keeps them loud in CI.
//
// Do not raise invariants for conditions that depend on the outside world (a closed socket, a bad request from a
// client); those are plain errors.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records a violated invariant of type `invariantType` inside `module`.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetMetricValue returns the current value of the invariant counter labelled with `module` and `invariantType`.
func GetMetricValue(module, invariantType string) int {
	var metric = &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error("Failed to read invariant metric.", "module", module, "type", invariantType, "error", err)
		return 0
	}
	return int(metric.GetCounter().GetValue())
}
