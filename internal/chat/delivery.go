package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/simhastha/anubhav-gateway/internal/domain"
	"github.com/simhastha/anubhav-gateway/internal/metrics"
	"github.com/simhastha/anubhav-gateway/internal/provider/gemini"
	"github.com/simhastha/anubhav-gateway/internal/telemetry"
)

// attemptError records why one model attempt failed and whether the round
// may continue with the next model.
type attemptError struct {
	model  string
	result string
	err    error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// fallsThrough reports whether the next model in the same round is tried.
// Only a provider rejection that is not about the model itself ends the round.
func (e *attemptError) fallsThrough() bool {
	return e.result != metrics.AttemptRejected
}

// attemptLog keeps the most recent failed attempt where the watchdog can
// read it while delivery is still running.
type attemptLog struct {
	mu   sync.Mutex
	last error
}

func (l *attemptLog) record(err error) {
	l.mu.Lock()
	l.last = err
	l.mu.Unlock()
}

func (l *attemptLog) Last() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func randomJitter(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		if hi <= lo {
			return lo
		}
		return lo + rand.N(hi-lo)
	}
}

// deliver runs the round loop: every model in order, up to cfg.Rounds times,
// with a jittered pause between rounds. It returns the first successful
// response and the model that produced it.
func (s *Service) deliver(ctx context.Context, payload gemini.GenerateContentRequest, attempts *attemptLog, logger *slog.Logger) (*gemini.GenerateContentResponse, string, error) {
	var lastErr *attemptError
	models := s.router.Models()

	for round := 1; round <= s.cfg.Rounds; round++ {
		for _, model := range models {
			if ctx.Err() != nil {
				return nil, "", lastErrOr(lastErr, ctx.Err())
			}

			resp, err := s.attempt(ctx, model, round, payload)
			if err == nil {
				metrics.RecordRounds(round)
				return resp, model, nil
			}

			lastErr = err
			attempts.record(err)
			logger.Warn("gemini attempt failed",
				"model", model,
				"round", round,
				"result", err.result,
				"error", err.err,
			)

			if !err.fallsThrough() {
				break
			}
		}

		if round == s.cfg.Rounds {
			break
		}

		if err := sleepContext(ctx, s.jitter()); err != nil {
			return nil, "", lastErrOr(lastErr, err)
		}
	}

	metrics.RecordRounds(s.cfg.Rounds)
	return nil, "", lastErrOr(lastErr, domain.ErrDeliveryFailed)
}

// attempt makes one bounded call to one model.
func (s *Service) attempt(ctx context.Context, model string, round int, payload gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, *attemptError) {
	if err := s.router.Allow(ctx, model); err != nil {
		metrics.RecordAttempt(model, metrics.AttemptBreakerOpen, 0)
		return nil, &attemptError{model: model, result: metrics.AttemptBreakerOpen, err: fmt.Errorf("%s: %w", model, err)}
	}

	ctx, span := telemetry.StartSpan(ctx, "gemini.generateContent")
	defer span.End()
	telemetry.AddAttemptAttributes(span, model, round)

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	started := time.Now()
	resp, err := s.provider.GenerateContent(attemptCtx, model, payload)
	elapsed := time.Since(started).Seconds()

	if err == nil {
		metrics.RecordAttempt(model, metrics.AttemptSuccess, elapsed)
		s.router.RecordSuccess(ctx, model)
		return resp, nil
	}

	aerr := classify(model, err, attemptCtx, s.cfg.AttemptTimeout)
	metrics.RecordAttempt(model, aerr.result, elapsed)
	telemetry.AddErrorAttribute(span, aerr)

	// A watchdog or client cancel says nothing about the model's health.
	if ctx.Err() == nil {
		s.router.RecordFailure(ctx, model)
	}

	return nil, aerr
}

func classify(model string, err error, attemptCtx context.Context, timeout time.Duration) *attemptError {
	var apiErr *gemini.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.ModelUnavailable():
		return &attemptError{model: model, result: metrics.AttemptUnavailable, err: err}
	case errors.As(err, &apiErr):
		return &attemptError{model: model, result: metrics.AttemptRejected, err: err}
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return &attemptError{
			model:  model,
			result: metrics.AttemptTimeout,
			err:    fmt.Errorf("%s: no response within %s: %w", model, timeout, err),
		}
	default:
		return &attemptError{model: model, result: metrics.AttemptNetwork, err: fmt.Errorf("%s: %w", model, err)}
	}
}

func lastErrOr(lastErr *attemptError, fallback error) error {
	if lastErr != nil {
		return lastErr
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
