package metrics

func init() {
	register(paymentsTotal, starsRevenueTotal, preCheckoutTotal, deliveriesTotal)
}

var (
	// status: completed|duplicate|duplicate_lesson|refunded|rejected
	paymentsTotal = counterVec("payments_total", "Successful-payment handling by result.", "status")

	starsRevenueTotal = counterVec("payments_revenue_total", "Captured payment amounts by currency.", "currency")

	// reason: approved or the reject reason
	preCheckoutTotal = counterVec("payments_precheckout_total", "Pre-checkout answers by reason.", "reason")

	// result: delivered|failed|reconciled|reconcile_failed
	deliveriesTotal = counterVec("lesson_deliveries_total", "Lesson content deliveries after purchase.", "result")
)

func IncPayment(status string) { paymentsTotal.WithLabelValues(norm(status)).Inc() }

func AddPaymentRevenue(currency string, amount int64) {
	starsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncPreCheckout(reason string) {
	if reason == "" {
		reason = "approved"
	}
	preCheckoutTotal.WithLabelValues(norm(reason)).Inc()
}

func IncDelivery(result string) { deliveriesTotal.WithLabelValues(norm(result)).Inc() }
