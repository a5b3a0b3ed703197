package tools

import (
	"time"

	"golang.org/x/time/rate"
)

// newHourlyLimiter builds a token bucket refilling at perHour tokens per
// hour, with a small burst allowance so a persona can front-load a few
// rapid tool calls at the start of a turn instead of being throttled to a
// strictly uniform rate. perHour <= 0 disables the limit.
func newHourlyLimiter(perHour int) *rate.Limiter {
	if perHour <= 0 {
		return nil
	}
	burst := perHour/10 + 1
	if burst > 10 {
		burst = 10
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), burst)
}
