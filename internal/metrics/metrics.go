// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics wires store activity into Prometheus collectors. A
// store that never calls into it still works; every recording function
// is nil-safe before the first Reset/init.
//
// Adapted from the provisioner controller's metrics package in the
// reference corpus: the package-level registry-behind-a-mutex structure,
// Reset-for-tests, and Handler-returns-promhttp pattern are carried
// over, relabeled from Redfish request/phase metrics onto lock wait
// time, construct outcomes, and waiter latency.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	lockWaitDuration    *prometheus.HistogramVec
	constructOutcomes   *prometheus.CounterVec
	waiterLatency       *prometheus.HistogramVec
	itemGauge           prometheus.Gauge
	pendingGauge        prometheus.Gauge
	aliasGauge          prometheus.Gauge
)

// Outcome labels for ConstructOutcomes.
const (
	OutcomeMissing  = "missing"
	OutcomePending  = "pending"
	OutcomeComplete = "complete"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Primarily used by tests
// to ensure clean state between cases that share a process.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveLockWait records how long a caller waited to acquire the process
// lock before entering a critical section.
func ObserveLockWait(op string, d time.Duration) {
	label := sanitizeLabel(op)
	mu.RLock()
	defer mu.RUnlock()
	if lockWaitDuration != nil {
		lockWaitDuration.WithLabelValues(label).Observe(durationSeconds(d))
	}
}

// IncConstructOutcome records which of the three constructOrAsync
// outcomes (missing/pending/complete) a caller observed.
func IncConstructOutcome(outcome string) {
	label := sanitizeLabel(outcome)
	mu.RLock()
	defer mu.RUnlock()
	if constructOutcomes != nil {
		constructOutcomes.WithLabelValues(label).Inc()
	}
}

// ObserveWaiterLatency records how long a waiter blocked between
// subscription and delivery of a terminal update.
func ObserveWaiterLatency(d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if waiterLatency != nil {
		waiterLatency.WithLabelValues().Observe(durationSeconds(d))
	}
}

// SetItemCounts publishes the current item and pending-build counts,
// typically called after a listAll scan.
func SetItemCounts(items, pending int) {
	mu.RLock()
	defer mu.RUnlock()
	if itemGauge != nil {
		itemGauge.Set(float64(items))
	}
	if pendingGauge != nil {
		pendingGauge.Set(float64(pending))
	}
}

// SetAliasCount publishes the current alias row count.
func SetAliasCount(aliases int) {
	mu.RLock()
	defer mu.RUnlock()
	if aliasGauge != nil {
		aliasGauge.Set(float64(aliases))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowstore",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting to acquire the store process lock, by operation.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"op"})

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstore",
		Name:      "construct_outcomes_total",
		Help:      "Outcomes observed by constructOrAsync, by kind.",
	}, []string{"outcome"})

	waiter := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowstore",
		Name:      "waiter_latency_seconds",
		Help:      "Time from waiter subscription to delivery of a terminal update.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 3, 5, 10, 30, 60},
	}, []string{})

	items := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstore",
		Name:      "items",
		Help:      "Number of item-<hash> trees currently present in the store root.",
	})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstore",
		Name:      "pending_builds",
		Help:      "Number of pending-<hash> build directories currently present.",
	})
	aliases := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstore",
		Name:      "aliases",
		Help:      "Number of rows in the alias sidecar table.",
	})

	registry.MustRegister(lockWait, outcomes, waiter, items, pending, aliases)

	reg = registry
	lockWaitDuration = lockWait
	constructOutcomes = outcomes
	waiterLatency = waiter
	itemGauge = items
	pendingGauge = pending
	aliasGauge = aliases
}

func sanitizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
