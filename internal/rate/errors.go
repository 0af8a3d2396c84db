package rate

import "errors"

var (
	// ErrRateLimited is returned once the failed-attempt budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable is returned when the counters cannot be read or written.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
