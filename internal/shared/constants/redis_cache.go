package constants

import (
	"fmt"
	"time"
)

// Redis keys for the seat engine.
// Pattern: tripseat:{module}:{operation}:{identifier}

const CACHE_PREFIX = "tripseat"

// ================== TTL DURATIONS ==================

const (
	TTL_TRIP_DETAIL = 10 * time.Minute
	TTL_SEAT_MAP    = 30 * time.Second // invalidated by seat deltas well before this
	TTL_TRIP_LIST   = 1 * time.Minute
)

// ================== TRIPS ==================

const (
	CACHE_KEY_TRIP_DETAIL = CACHE_PREFIX + ":trips:detail:"   // + trip-id
	CACHE_KEY_TRIP_LIST   = CACHE_PREFIX + ":trips:list"      // + :status:X:page:Y:limit:Z
	CACHE_KEY_SEAT_MAP    = CACHE_PREFIX + ":trips:seat_map:" // + trip-id
	RATE_LIMIT_PREFIX     = CACHE_PREFIX + ":ratelimit:"      // + ip:type
)

// ================== KEY BUILDERS ==================

func BuildTripDetailKey(tripID string) string {
	return CACHE_KEY_TRIP_DETAIL + tripID
}

func BuildTripListKey(status string, page, limit int) string {
	if status == "" {
		status = "all"
	}
	return fmt.Sprintf("%s:status:%s:page:%d:limit:%d", CACHE_KEY_TRIP_LIST, status, page, limit)
}

// BuildTripListPattern matches every cached trip listing
func BuildTripListPattern() string {
	return CACHE_KEY_TRIP_LIST + ":*"
}

func BuildSeatMapKey(tripID string) string {
	return CACHE_KEY_SEAT_MAP + tripID
}

func BuildRateLimitKey(clientIP, limitType string) string {
	return RATE_LIMIT_PREFIX + clientIP + ":" + limitType
}
