// Package circuitbreaker keeps one breaker per Gemini model so a model that
// keeps failing is skipped by the fallback loop until it cools down.
//
// InMemoryCircuitBreaker serves a single gateway process; RedisCircuitBreaker
// shares state between replicas through Lua scripts.
package circuitbreaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simhastha/anubhav-gateway/internal/domain"
)

type CircuitBreaker interface {
	// Allow returns domain.ErrCircuitBreakerOpen while the model is being skipped.
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Timeout          time.Duration // open period before a trial call is let through
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

type InMemoryCircuitBreaker struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
	now         func() time.Time
}

func NewInMemory(cfg Config) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
	}
}

func (cb *InMemoryCircuitBreaker) Allow(ctx context.Context) error {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	if state != StateOpen {
		return nil
	}

	if cb.now().Sub(lastFailure) < cb.config.Timeout {
		return domain.ErrCircuitBreakerOpen
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	cb.mu.Unlock()
	return nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *InMemoryCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
	}
}

func (cb *InMemoryCircuitBreaker) State(ctx context.Context) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *InMemoryCircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Manager hands out one breaker per model identifier.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
	config   Config
	factory  func(model string) CircuitBreaker
}

type ManagerOption func(*Manager)

// WithRedisClient makes every breaker share state through client.
func WithRedisClient(client *redis.Client) ManagerOption {
	return func(m *Manager) {
		m.factory = func(model string) CircuitBreaker {
			return NewRedisWithClient(client, model, m.config)
		}
	}
}

func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]CircuitBreaker),
		config:   cfg,
		factory: func(string) CircuitBreaker {
			return NewInMemory(cfg)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Get(model string) CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[model]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.breakers[model]; ok {
		return existing
	}

	cb = m.factory(model)
	m.breakers[model] = cb
	return cb
}

// Models lists the identifiers that have a breaker, sorted.
func (m *Manager) Models() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	models := make([]string, 0, len(m.breakers))
	for model := range m.breakers {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

func (m *Manager) States(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for model, cb := range m.breakers {
		states[model] = cb.State(ctx).String()
	}
	return states
}
