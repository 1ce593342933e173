package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every series this process exports.
const namespace = "lessons_bot"

var (
	once    sync.Once
	pending []prometheus.Collector
)

// register queues collectors from each file's init until MustRegister runs.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister adds the queued collectors to the default registry. Repeated
// calls are no-ops, so tests and main can both call it.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(pending...)
	})
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

// norm keeps label values stable regardless of how callers spell them.
func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
