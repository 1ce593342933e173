package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(adminCommandsTotal, httpRequestsTotal, httpRequestSeconds) }

var (
	// status: authorized|unauthorized
	adminCommandsTotal = counterVec("admin_commands_total",
		"Admin bot commands by permission check result.", "command", "status")

	httpRequestsTotal = counterVec("http_requests_total",
		"Admin HTTP requests by method, route pattern and status code.", "method", "route", "code")

	httpRequestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Admin HTTP latency by route pattern.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 5, 15},
	}, []string{"route"})
)

func IncAdminCommand(command, status string) {
	adminCommandsTotal.WithLabelValues(norm(command), norm(status)).Inc()
}

func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestSeconds.WithLabelValues(route).Observe(d.Seconds())
}
