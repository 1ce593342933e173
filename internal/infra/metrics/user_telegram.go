package metrics

func init() {
	register(
		usersRegisteredTotal,
		usersDeactivatedTotal,
		telegramUpdatesTotal,
		throttledUpdatesTotal,
		telegramSendsTotal,
	)
}

var (
	usersRegisteredTotal  = counter("users_registered_total", "Users seen for the first time.")
	usersDeactivatedTotal = counter("users_deactivated_total", "Users flagged inactive after Telegram reported them unreachable.")

	telegramUpdatesTotal  = counterVec("telegram_updates_total", "Incoming updates by route.", "route")
	throttledUpdatesTotal = counter("telegram_throttled_updates_total", "Updates dropped by the per-user throttle.")

	// result is the SendResult kind: delivered|blocked|invalid_chat|rate_limited|transient|source_missing
	telegramSendsTotal = counterVec("telegram_sends_total", "Outbound Bot API calls by classified result.", "result")
)

func IncUsersRegistered()  { usersRegisteredTotal.Inc() }
func IncUsersDeactivated() { usersDeactivatedTotal.Inc() }

func IncTelegramUpdate(route string) { telegramUpdatesTotal.WithLabelValues(norm(route)).Inc() }
func IncRateLimitTriggered()         { throttledUpdatesTotal.Inc() }
func IncSend(result string)          { telegramSendsTotal.WithLabelValues(norm(result)).Inc() }
