// Package chat answers one chat turn: it builds the provider payload,
// delivers it across the model fallback list, and normalises whatever
// happens into a single ChatResponse. Every adapter (HTTP route, function
// handler, queue worker) goes through Service.Chat.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/simhastha/anubhav-gateway/internal/domain"
	"github.com/simhastha/anubhav-gateway/internal/metrics"
	"github.com/simhastha/anubhav-gateway/internal/notifications"
	"github.com/simhastha/anubhav-gateway/internal/provider/gemini"
	"github.com/simhastha/anubhav-gateway/internal/router"
	"github.com/simhastha/anubhav-gateway/internal/telemetry"
)

// Messages returned to the browser.
const (
	MsgMissingCredential = "Server is not configured with GEMINI_API_KEY"
	MsgInvalidMessage    = "Invalid message"
	MsgDeliveryFailed    = "Sorry, I hit an error, please retry."
	MsgTimeout           = "Request timed out. Please try again."
	MsgEmptyReply        = "Sorry, I could not craft a response. Please try again."
	MsgUnsafeReply       = "I couldn't complete that safely. Please try rephrasing."
	MsgRateLimited       = "Too many requests. Please try again later."
)

type Provider interface {
	GenerateContent(ctx context.Context, model string, req gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, error)
	HasAPIKey() bool
}

type Alerter interface {
	Alert(ctx context.Context, notification notifications.Notification)
}

type Config struct {
	Rounds         int
	AttemptTimeout time.Duration
	Watchdog       time.Duration
	JitterMin      time.Duration
	JitterMax      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Rounds:         3,
		AttemptTimeout: 12 * time.Second,
		Watchdog:       15 * time.Second,
		JitterMin:      200 * time.Millisecond,
		JitterMax:      800 * time.Millisecond,
	}
}

type Service struct {
	provider Provider
	router   *router.Router
	alerter  Alerter
	cfg      Config
	jitter   func() time.Duration
	logger   *slog.Logger
	alerts   sync.WaitGroup
}

type Option func(*Service)

func WithAlerter(a Alerter) Option {
	return func(s *Service) {
		s.alerter = a
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithJitter(fn func() time.Duration) Option {
	return func(s *Service) {
		s.jitter = fn
	}
}

func New(provider Provider, r *router.Router, cfg Config, opts ...Option) *Service {
	if cfg.Rounds < 1 {
		cfg.Rounds = 1
	}

	s := &Service{
		provider: provider,
		router:   r,
		cfg:      cfg,
		jitter:   randomJitter(cfg.JitterMin, cfg.JitterMax),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) HasAPIKey() bool {
	return s.provider.HasAPIKey()
}

func (s *Service) Models() []string {
	return s.router.Models()
}

// Close waits for in-flight alerts to finish.
func (s *Service) Close() {
	s.alerts.Wait()
}

type deliveryResult struct {
	resp  *gemini.GenerateContentResponse
	model string
	err   error
}

// Chat answers req. It never fails: every problem becomes a response with
// Error set.
func (s *Service) Chat(ctx context.Context, req domain.ChatRequest) domain.ChatResponse {
	started := time.Now()
	metrics.IncrementActiveRequests()
	defer metrics.DecrementActiveRequests()

	ctx, span := telemetry.StartSpan(ctx, "chat.Chat")
	defer span.End()

	requestID := RequestIDFromContext(ctx)
	telemetry.AddChatAttributes(span, requestID, req.CorrelationID, len(req.History))

	logger := s.logger.With("request_id", requestID, "correlation_id", req.CorrelationID)
	if traceID := telemetry.GetTraceID(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}

	resp, outcome := s.chat(ctx, req, requestID, logger)

	elapsed := time.Since(started)
	metrics.RecordChat(outcome, elapsed.Seconds())
	telemetry.AddOutcomeAttribute(span, outcome)

	logger.Info("chat done",
		"outcome", outcome,
		"model", resp.Model,
		"latency_ms", elapsed.Milliseconds(),
	)

	return resp
}

func (s *Service) chat(ctx context.Context, req domain.ChatRequest, requestID string, logger *slog.Logger) (domain.ChatResponse, string) {
	if !s.provider.HasAPIKey() {
		logger.Warn("chat request refused", "error", domain.ErrMissingCredential)
		return failure(req, MsgMissingCredential, ""), metrics.OutcomeUnconfigured
	}
	if req.Message == "" {
		logger.Debug("chat request refused", "error", domain.ErrInvalidMessage)
		return failure(req, MsgInvalidMessage, ""), metrics.OutcomeInvalid
	}

	payload := BuildPayload(req)

	deliverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a result that loses the race to the watchdog is dropped
	// without blocking the delivery goroutine.
	results := make(chan deliveryResult, 1)
	attempts := &attemptLog{}
	go func() {
		resp, model, err := s.deliver(deliverCtx, payload, attempts, logger)
		results <- deliveryResult{resp: resp, model: model, err: err}
	}()

	watchdog := time.NewTimer(s.cfg.Watchdog)
	defer watchdog.Stop()

	select {
	case res := <-results:
		if res.err != nil && ctx.Err() != nil {
			logger.Warn("chat request cancelled by caller", "error", ctx.Err())
			return failure(req, MsgTimeout, ""), metrics.OutcomeTimeout
		}
		if res.err != nil {
			logger.Error("gemini delivery exhausted", "error", res.err)
			s.alert(ctx, notifications.Notification{
				Type:          notifications.NotificationDeliveryExhausted,
				Message:       "every model failed for a chat request",
				CorrelationID: req.CorrelationID,
				RequestID:     requestID,
				Data:          map[string]string{"error": res.err.Error()},
			})
			return failure(req, MsgDeliveryFailed, res.err.Error()), metrics.OutcomeProviderErr
		}
		return domain.ChatResponse{
			Text:          replyText(res.resp),
			CorrelationID: req.CorrelationID,
			Model:         res.model,
		}, metrics.OutcomeSuccess

	case <-watchdog.C:
		cancel()
		details := watchdogDetails(s.cfg.Watchdog, attempts.Last())
		logger.Error("chat watchdog expired", "watchdog", s.cfg.Watchdog, "error", details)
		s.alert(ctx, notifications.Notification{
			Type:          notifications.NotificationWatchdogTimeout,
			Message:       "chat request hit the watchdog before delivery finished",
			CorrelationID: req.CorrelationID,
			RequestID:     requestID,
			Data:          map[string]string{"error": details},
		})
		return failure(req, MsgTimeout, details), metrics.OutcomeTimeout

	case <-ctx.Done():
		logger.Warn("chat request cancelled by caller", "error", ctx.Err())
		return failure(req, MsgTimeout, ""), metrics.OutcomeTimeout
	}
}

// watchdogDetails names the expiry and, when one exists, the last failed
// attempt before it.
func watchdogDetails(after time.Duration, last error) string {
	details := fmt.Sprintf("%v after %s", domain.ErrWatchdogTimeout, after)
	if last != nil {
		details += "; last attempt: " + last.Error()
	}
	return details
}

// replyText picks the text to show for a successful provider reply.
func replyText(resp *gemini.GenerateContentResponse) string {
	if resp.FinishReason() != gemini.FinishReasonStop {
		return MsgUnsafeReply
	}
	if text := resp.FirstText(); text != "" {
		return text
	}
	return MsgEmptyReply
}

func failure(req domain.ChatRequest, msg, details string) domain.ChatResponse {
	return domain.ChatResponse{
		Error:         msg,
		CorrelationID: req.CorrelationID,
		Details:       details,
	}
}

func (s *Service) alert(ctx context.Context, n notifications.Notification) {
	if s.alerter == nil {
		return
	}
	n.Timestamp = time.Now().UTC()

	ctx = context.WithoutCancel(ctx)
	s.alerts.Add(1)
	go func() {
		defer s.alerts.Done()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		s.alerter.Alert(ctx, n)
	}()
}
