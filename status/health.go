package status

import "time"

type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthStale    Health = "stale"
)

const (
	// DegradedErrorRate is the refresh error fraction above which the
	// refresher is considered degraded.
	DegradedErrorRate = 0.10
	// StaleCacheAge is the snapshot age above which served values are
	// considered stale.
	StaleCacheAge = 10 * time.Minute
)

// ErrorRate returns the fraction of refreshes that failed.
func ErrorRate(m Metrics) float64 {
	if m.Refreshes == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Refreshes)
}

// Assess derives a qualitative health state from refresh metrics and the
// cache age. Degraded outranks stale: a failing store is the more urgent
// signal, and persistent failures also make the cache old.
func Assess(m Metrics, cacheAge time.Duration) Health {
	if ErrorRate(m) > DegradedErrorRate {
		return HealthDegraded
	}
	if cacheAge > StaleCacheAge {
		return HealthStale
	}
	return HealthHealthy
}
