package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simhastha/anubhav-gateway/internal/circuitbreaker"
	"github.com/simhastha/anubhav-gateway/internal/domain"
	"github.com/simhastha/anubhav-gateway/internal/notifications"
	"github.com/simhastha/anubhav-gateway/internal/provider/gemini"
	"github.com/simhastha/anubhav-gateway/internal/router"
)

var testModels = []string{"models/m1", "models/m2", "models/m3"}

type MockProvider struct {
	NoKey        bool
	GenerateFunc func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error)

	mu          sync.Mutex
	calls       []string
	lastPayload gemini.GenerateContentRequest
}

func (m *MockProvider) HasAPIKey() bool { return !m.NoKey }

func (m *MockProvider) GenerateContent(ctx context.Context, model string, req gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, model)
	m.lastPayload = req
	call := len(m.calls)
	m.mu.Unlock()

	return m.GenerateFunc(ctx, model, call)
}

func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

type recordingAlerter struct {
	mu   sync.Mutex
	sent []notifications.Notification
}

func (a *recordingAlerter) Alert(ctx context.Context, n notifications.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, n)
}

func (a *recordingAlerter) Sent() []notifications.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]notifications.Notification(nil), a.sent...)
}

func reply(text, finish string) *gemini.GenerateContentResponse {
	return &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content:      gemini.Content{Role: gemini.RoleModel, Parts: []gemini.Part{{Text: text}}},
			FinishReason: finish,
		}},
	}
}

func notFound(model string) error {
	return &gemini.APIError{Model: model, StatusCode: http.StatusNotFound, Message: model + " is not found for API version v1"}
}

func waitForCancel(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testConfig() Config {
	return Config{
		Rounds:         3,
		AttemptTimeout: time.Second,
		Watchdog:       5 * time.Second,
	}
}

type jitterCounter struct {
	mu sync.Mutex
	n  int
}

func (j *jitterCounter) next() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.n++
	return 0
}

func (j *jitterCounter) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.n
}

func newTestService(p Provider, cfg Config, opts ...Option) (*Service, *jitterCounter) {
	jc := &jitterCounter{}
	opts = append([]Option{
		WithJitter(jc.next),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	r := router.New(testModels[0], testModels[1:])
	return New(p, r, cfg, opts...), jc
}

func ramGhatRequest() domain.ChatRequest {
	return domain.ChatRequest{
		Message:       "Where is Ram Ghat?",
		History:       []domain.ChatTurn{},
		SystemContext: domain.SystemContext{Language: "English", Layers: domain.NewLayers("ghats")},
		CorrelationID: "abc123",
	}
}

func TestChat_RamGhatSuccess(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		return reply("Ram Ghat is near the main river.", "STOP"), nil
	}}
	svc, jc := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), ramGhatRequest())

	assert.Equal(t, domain.ChatResponse{
		Text:          "Ram Ghat is near the main river.",
		CorrelationID: "abc123",
		Model:         "models/m1",
	}, resp)
	assert.Equal(t, []string{"models/m1"}, p.Calls())
	assert.Equal(t, 0, jc.count())

	last := p.lastPayload.Contents[len(p.lastPayload.Contents)-1]
	assert.Contains(t, last.Parts[0].Text, "Available layers: ghats\n\nWhere is Ram Ghat?")
}

func TestChat_RamGhatAllAttemptsTimeOut(t *testing.T) {
	p := &MockProvider{GenerateFunc: waitForCancel}
	cfg := testConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond
	svc, jc := newTestService(p, cfg)

	started := time.Now()
	resp := svc.Chat(context.Background(), ramGhatRequest())
	elapsed := time.Since(started)

	assert.Equal(t, MsgDeliveryFailed, resp.Error)
	assert.Equal(t, "abc123", resp.CorrelationID)
	assert.NotEmpty(t, resp.Details)
	assert.Empty(t, resp.Text)
	assert.Len(t, p.Calls(), 9, "3 models x 3 rounds")
	assert.Equal(t, 2, jc.count(), "pause between rounds only")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestChat_MissingCredential(t *testing.T) {
	p := &MockProvider{NoKey: true, GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		t.Fatal("provider must not be called without a credential")
		return nil, nil
	}}
	svc, _ := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), ramGhatRequest())

	assert.Equal(t, MsgMissingCredential, resp.Error)
	assert.Equal(t, "abc123", resp.CorrelationID)
	assert.Empty(t, p.Calls())
}

func TestChat_MissingCredentialLogged(t *testing.T) {
	var buf bytes.Buffer
	p := &MockProvider{NoKey: true}
	svc, _ := newTestService(p, testConfig(), WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	svc.Chat(context.Background(), ramGhatRequest())

	assert.Contains(t, buf.String(), domain.ErrMissingCredential.Error())
}

func TestChat_MissingCredentialCheckedBeforeMessage(t *testing.T) {
	p := &MockProvider{NoKey: true}
	svc, _ := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), domain.ChatRequest{CorrelationID: "x"})
	assert.Equal(t, MsgMissingCredential, resp.Error)
}

func TestChat_InvalidMessage(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		t.Fatal("provider must not be called for an invalid message")
		return nil, nil
	}}
	svc, _ := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), domain.ChatRequest{Message: "", CorrelationID: "abc123"})

	assert.Equal(t, domain.ChatResponse{Error: MsgInvalidMessage, CorrelationID: "abc123"}, resp)
	assert.Empty(t, p.Calls())
}

func TestChat_FallsBackOnModelNotFound(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		if model != "models/m3" {
			return nil, notFound(model)
		}
		return reply("from m3", "STOP"), nil
	}}
	svc, jc := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), ramGhatRequest())

	assert.Equal(t, "from m3", resp.Text)
	assert.Equal(t, "models/m3", resp.Model)
	assert.Equal(t, []string{"models/m1", "models/m2", "models/m3"}, p.Calls())
	assert.Equal(t, 0, jc.count())
}

func TestChat_FallsBackOnNotSupported(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		if model == "models/m1" {
			return nil, &gemini.APIError{Model: model, StatusCode: 400, Message: "Model is NOT SUPPORTED for generateContent"}
		}
		return reply("ok", "STOP"), nil
	}}
	svc, _ := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), ramGhatRequest())
	assert.Equal(t, "models/m2", resp.Model)
}

func TestChat_RejectionAbandonsRound(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		return nil, &gemini.APIError{Model: model, StatusCode: 403, Message: "API key not valid. Please pass a valid API key."}
	}}
	alerter := &recordingAlerter{}
	svc, jc := newTestService(p, testConfig(), WithAlerter(alerter))

	resp := svc.Chat(context.Background(), ramGhatRequest())
	svc.Close()

	assert.Equal(t, MsgDeliveryFailed, resp.Error)
	assert.Equal(t, "abc123", resp.CorrelationID)
	assert.Equal(t, "API key not valid. Please pass a valid API key.", resp.Details)
	assert.Equal(t, []string{"models/m1", "models/m1", "models/m1"}, p.Calls(), "only the first model per round")
	assert.Equal(t, 2, jc.count())

	sent := alerter.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notifications.NotificationDeliveryExhausted, sent[0].Type)
	assert.Equal(t, "abc123", sent[0].CorrelationID)
}

func TestChat_RejectionThenRecoveryNextRound(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		if call == 1 {
			return nil, &gemini.APIError{Model: model, StatusCode: 503, Message: "The model is overloaded."}
		}
		return reply("second round", "STOP"), nil
	}}
	svc, jc := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), ramGhatRequest())

	assert.Equal(t, "second round", resp.Text)
	assert.Equal(t, []string{"models/m1", "models/m1"}, p.Calls())
	assert.Equal(t, 1, jc.count())
}

func TestChat_NetworkErrorFallsThrough(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		if model == "models/m1" {
			return nil, errors.New("dial tcp: connection refused")
		}
		return reply("via m2", "STOP"), nil
	}}
	svc, _ := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), ramGhatRequest())

	assert.Equal(t, "via m2", resp.Text)
	assert.Equal(t, []string{"models/m1", "models/m2"}, p.Calls())
}

func TestChat_LastErrorSurfaces(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		return nil, notFound(model)
	}}
	svc, _ := newTestService(p, testConfig())

	resp := svc.Chat(context.Background(), ramGhatRequest())

	assert.Equal(t, MsgDeliveryFailed, resp.Error)
	assert.Equal(t, "models/m3 is not found for API version v1", resp.Details)
	assert.Len(t, p.Calls(), 9)
}

func TestChat_PostProcessing(t *testing.T) {
	tests := []struct {
		name     string
		response *gemini.GenerateContentResponse
		want     string
	}{
		{"normal", reply("Mahakal temple opens at 4am.", "STOP"), "Mahakal temple opens at 4am."},
		{"missing finish reason", reply("hello", ""), "hello"},
		{"safety stop hides text", reply("partial unsafe text", "SAFETY"), MsgUnsafeReply},
		{"max tokens counts as abnormal", reply("truncated", "MAX_TOKENS"), MsgUnsafeReply},
		{"no candidates", &gemini.GenerateContentResponse{}, MsgEmptyReply},
		{"empty text", reply("", "STOP"), MsgEmptyReply},
		{"empty text and safety", reply("", "SAFETY"), MsgUnsafeReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
				return tt.response, nil
			}}
			svc, _ := newTestService(p, testConfig())

			resp := svc.Chat(context.Background(), ramGhatRequest())

			assert.Equal(t, tt.want, resp.Text)
			assert.Empty(t, resp.Error)
			assert.Equal(t, "abc123", resp.CorrelationID)
		})
	}
}

func TestChat_WatchdogWins(t *testing.T) {
	p := &MockProvider{GenerateFunc: waitForCancel}
	cfg := testConfig()
	cfg.AttemptTimeout = 10 * time.Second
	cfg.Watchdog = 30 * time.Millisecond
	alerter := &recordingAlerter{}
	svc, _ := newTestService(p, cfg, WithAlerter(alerter))

	started := time.Now()
	resp := svc.Chat(context.Background(), ramGhatRequest())
	elapsed := time.Since(started)
	svc.Close()

	assert.Equal(t, MsgTimeout, resp.Error)
	assert.Equal(t, "abc123", resp.CorrelationID)
	assert.Empty(t, resp.Text)
	assert.Contains(t, resp.Details, domain.ErrWatchdogTimeout.Error())
	assert.Less(t, elapsed, time.Second)

	sent := alerter.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notifications.NotificationWatchdogTimeout, sent[0].Type)

	// The delivery goroutine observes the cancel and stops trying models.
	require.Eventually(t, func() bool { return len(p.Calls()) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	calls := len(p.Calls())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, len(p.Calls()), "no attempts after the watchdog fired")
}

// Same shape as production (12s attempts under a 15s watchdog), scaled down:
// the first attempt times out, the second is still running when the
// watchdog fires.
func TestChat_WatchdogAtProductionRatio(t *testing.T) {
	p := &MockProvider{GenerateFunc: waitForCancel}
	cfg := Config{
		Rounds:         3,
		AttemptTimeout: 120 * time.Millisecond,
		Watchdog:       150 * time.Millisecond,
	}
	alerter := &recordingAlerter{}
	svc, _ := newTestService(p, cfg, WithAlerter(alerter))

	resp := svc.Chat(context.Background(), ramGhatRequest())
	svc.Close()

	assert.Equal(t, MsgTimeout, resp.Error)
	assert.Equal(t, "abc123", resp.CorrelationID)
	assert.Empty(t, resp.Text)
	require.NotEmpty(t, resp.Details)
	assert.Contains(t, resp.Details, domain.ErrWatchdogTimeout.Error())
	assert.Contains(t, resp.Details, "150ms")
	assert.Contains(t, resp.Details, "models/m1: no response within 120ms")

	sent := alerter.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, resp.Details, sent[0].Data["error"])
}

func TestWatchdogDetails(t *testing.T) {
	assert.Equal(t, "request watchdog expired after 15s", watchdogDetails(15*time.Second, nil))
	assert.Equal(t,
		"request watchdog expired after 15s; last attempt: models/m1: boom",
		watchdogDetails(15*time.Second, errors.New("models/m1: boom")),
	)
}

func TestChat_CallerCancel(t *testing.T) {
	p := &MockProvider{GenerateFunc: waitForCancel}
	svc, _ := newTestService(p, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp := svc.Chat(ctx, ramGhatRequest())

	assert.Equal(t, MsgTimeout, resp.Error)
	assert.Equal(t, "abc123", resp.CorrelationID)
}

func TestChat_CircuitBreakerSkipsOpenModel(t *testing.T) {
	p := &MockProvider{GenerateFunc: func(ctx context.Context, model string, call int) (*gemini.GenerateContentResponse, error) {
		if model == "models/m1" {
			return nil, errors.New("connection reset by peer")
		}
		return reply("ok", "STOP"), nil
	}}

	breakers := circuitbreaker.NewManager(circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	r := router.New(testModels[0], testModels[1:], router.WithCircuitBreakers(breakers))
	svc := New(p, r, testConfig(),
		WithJitter(func() time.Duration { return 0 }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	first := svc.Chat(context.Background(), ramGhatRequest())
	assert.Equal(t, "models/m2", first.Model)

	second := svc.Chat(context.Background(), ramGhatRequest())
	assert.Equal(t, "models/m2", second.Model)

	assert.Equal(t, []string{"models/m1", "models/m2", "models/m2"}, p.Calls())
	assert.Equal(t, "open", r.States(context.Background())["models/m1"])
}

func TestChat_RequestIDFromContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestRandomJitter_Bounds(t *testing.T) {
	j := randomJitter(200*time.Millisecond, 800*time.Millisecond)
	for i := 0; i < 200; i++ {
		d := j()
		if d < 200*time.Millisecond || d >= 800*time.Millisecond {
			t.Fatalf("jitter %v outside [200ms, 800ms)", d)
		}
	}

	assert.Equal(t, 5*time.Millisecond, randomJitter(5*time.Millisecond, 5*time.Millisecond)())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.Rounds)
	assert.Equal(t, 12*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 15*time.Second, cfg.Watchdog)
	assert.Equal(t, 200*time.Millisecond, cfg.JitterMin)
	assert.Equal(t, 800*time.Millisecond, cfg.JitterMax)
}
