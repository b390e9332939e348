package ratelimit

import "golang.org/x/time/rate"

// NewLimiter returns a token bucket allowing rps calls per second. rps <= 0 disables
// limiting. burst < 1 is raised to 1.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
