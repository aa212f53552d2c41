// Package router owns the ordered list of Gemini models a chat request is
// offered to, and the optional per-model circuit breakers.
package router

import (
	"context"
	"strings"

	"github.com/simhastha/anubhav-gateway/internal/circuitbreaker"
	"github.com/simhastha/anubhav-gateway/internal/metrics"
)

const DefaultPrimaryModel = "models/gemini-2.5-pro"

// DefaultFallbacks are tried, in order, after the primary model.
var DefaultFallbacks = []string{
	"models/gemini-2.5-flash",
	"models/gemini-1.5-pro-002",
	"models/gemini-1.5-flash-002",
	"models/gemini-1.5-flash",
}

type Router struct {
	models   []string
	breakers *circuitbreaker.Manager
}

type Option func(*Router)

func WithCircuitBreakers(m *circuitbreaker.Manager) Option {
	return func(r *Router) {
		r.breakers = m
	}
}

// New builds the model order: primary (or DefaultPrimaryModel when blank)
// followed by fallbacks, with blanks and repeats dropped.
func New(primary string, fallbacks []string, opts ...Option) *Router {
	primary = strings.TrimSpace(primary)
	if primary == "" {
		primary = DefaultPrimaryModel
	}

	r := &Router{models: dedupe(append([]string{primary}, fallbacks...))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func dedupe(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (r *Router) Models() []string {
	out := make([]string, len(r.models))
	copy(out, r.models)
	return out
}

func (r *Router) Primary() string {
	return r.models[0]
}

// Allow reports whether model may be attempted. Without breakers every
// model is always allowed.
func (r *Router) Allow(ctx context.Context, model string) error {
	if r.breakers == nil {
		return nil
	}
	return r.breakers.Get(model).Allow(ctx)
}

func (r *Router) RecordSuccess(ctx context.Context, model string) {
	if r.breakers == nil {
		return
	}
	cb := r.breakers.Get(model)
	cb.RecordSuccess(ctx)
	metrics.SetCircuitBreakerState(model, int(cb.State(ctx)))
}

func (r *Router) RecordFailure(ctx context.Context, model string) {
	if r.breakers == nil {
		return
	}
	cb := r.breakers.Get(model)
	cb.RecordFailure(ctx)
	metrics.SetCircuitBreakerState(model, int(cb.State(ctx)))
}

// States returns breaker state per model, or nil when breakers are off.
func (r *Router) States(ctx context.Context) map[string]string {
	if r.breakers == nil {
		return nil
	}
	return r.breakers.States(ctx)
}
