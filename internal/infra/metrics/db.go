package metrics

func init() { register(dbPoolConns, cacheRequestsTotal) }

var (
	// state: total|idle|in_use
	dbPoolConns = gaugeVec("db_pool_connections",
		"Postgres pool connections by state.", "state")

	// result: hit|miss|error
	cacheRequestsTotal = counterVec("cache_requests_total",
		"Lesson cache lookups by cache and result.", "cache", "result")
)

func SetDBPoolStats(total, idle, inUse int32) {
	for state, v := range map[string]int32{"total": total, "idle": idle, "in_use": inUse} {
		dbPoolConns.WithLabelValues(state).Set(float64(v))
	}
}

func IncCacheRequest(cache, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cache), norm(result)).Inc()
}
