package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		broadcastRunsTotal,
		broadcastClaimsTotal,
		broadcastReclaimsTotal,
		broadcastOutcomesTotal,
		broadcastActiveRuns,
		pacerWaitSeconds,
		onboardingStepsTotal,
	)
}

var (
	// status: done|failed|interrupted|claim_lost
	broadcastRunsTotal = counterVec("broadcast_runs_total", "Broadcast runs by exit status.", "status")
	// result: won|lost|error
	broadcastClaimsTotal = counterVec("broadcast_claims_total", "Claim attempts on due jobs.", "result")
	// result: requeued|failed
	broadcastReclaimsTotal = counterVec("broadcast_reclaims_total", "Stuck running jobs handled by the sweep.", "result")
	broadcastOutcomesTotal = counterVec("broadcast_outcomes_total", "Per-recipient broadcast outcomes.", "result")

	broadcastActiveRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broadcast_active_runs",
		Help:      "Broadcast runs executing in this process.",
	})

	pacerWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "telegram_pacer_wait_seconds",
		Help:      "Time spent waiting for a send token.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
	})

	// result: sent|failed|completed
	onboardingStepsTotal = counterVec("onboarding_steps_total", "Onboarding drip steps by result.", "result")
)

func IncBroadcastRun(status string)     { broadcastRunsTotal.WithLabelValues(norm(status)).Inc() }
func IncBroadcastClaim(result string)   { broadcastClaimsTotal.WithLabelValues(norm(result)).Inc() }
func IncBroadcastReclaim(result string) { broadcastReclaimsTotal.WithLabelValues(norm(result)).Inc() }
func IncBroadcastOutcome(result string) { broadcastOutcomesTotal.WithLabelValues(norm(result)).Inc() }
func IncOnboardingStep(result string)   { onboardingStepsTotal.WithLabelValues(norm(result)).Inc() }

func RunStarted()  { broadcastActiveRuns.Inc() }
func RunFinished() { broadcastActiveRuns.Dec() }

func ObservePacerWait(d time.Duration) { pacerWaitSeconds.Observe(d.Seconds()) }
