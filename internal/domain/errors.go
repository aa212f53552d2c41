package domain

import "errors"

var (
	ErrMissingCredential  = errors.New("provider credential not configured")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrDeliveryFailed     = errors.New("gemini call failed")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrWatchdogTimeout    = errors.New("request watchdog expired")
)
