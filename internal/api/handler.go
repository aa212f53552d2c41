package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simhastha/anubhav-gateway/internal/chat"
	"github.com/simhastha/anubhav-gateway/internal/domain"
	"github.com/simhastha/anubhav-gateway/internal/metrics"
	"github.com/simhastha/anubhav-gateway/internal/ratelimit"
	"github.com/simhastha/anubhav-gateway/internal/router"
)

const maxBodyBytes = 1 << 20

// ChatService is what the HTTP surface needs from the chat core.
type ChatService interface {
	Chat(ctx context.Context, req domain.ChatRequest) domain.ChatResponse
	HasAPIKey() bool
}

type HandlerConfig struct {
	Chat           ChatService
	Router         *router.Router
	RateLimiter    ratelimit.RateLimiter
	RateLimitRPM   int
	AllowedOrigins []string
	Checkers       []HealthChecker
	ReadyTimeout   time.Duration
	Version        string
}

type Handler struct {
	chat         ChatService
	router       *router.Router
	rateLimiter  ratelimit.RateLimiter
	rateLimitRPM int
	version      string
	started      time.Time
	mux          *chi.Mux
}

var chatRoutes = []string{"/api/chat", "/chat"}

func NewHandler(cfg HandlerConfig) *Handler {
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 2 * time.Second
	}

	h := &Handler{
		chat:         cfg.Chat,
		router:       cfg.Router,
		rateLimiter:  cfg.RateLimiter,
		rateLimitRPM: cfg.RateLimitRPM,
		version:      cfg.Version,
		started:      time.Now(),
		mux:          chi.NewRouter(),
	}

	h.mux.Use(chimiddleware.RealIP)
	h.mux.Use(chimiddleware.Recoverer)
	h.mux.Use(requestID)
	h.mux.Use(traceContext)
	h.mux.Use(cors(cfg.AllowedOrigins))
	h.mux.MethodNotAllowed(methodNotAllowed)

	for _, route := range chatRoutes {
		h.mux.Post(route, h.handleChat)
	}
	h.mux.Get("/health", h.handleHealth)
	h.mux.Get("/health/live", handleHealthLive)
	h.mux.Get("/health/ready", handleHealthReadyWithCheckers(cfg.Checkers, readyTimeout, cfg.Version))
	h.mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
	h.mux.Get("/", handleIndex)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	req := decodeBody(w, r)

	if !h.allow(w, r) {
		metrics.RecordRateLimitHit()
		metrics.RecordChat(metrics.OutcomeRateLimited, 0)
		writeChat(w, domain.ChatResponse{Error: chat.MsgRateLimited, CorrelationID: req.CorrelationID})
		return
	}

	writeChat(w, h.chat.Chat(r.Context(), req))
}

// allow applies the per-client limit. Limiter failures let the request through.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.rateLimiter == nil || h.rateLimitRPM <= 0 {
		return true
	}

	ctx := r.Context()
	allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, clientKey(r), h.rateLimitRPM)
	if err != nil {
		slog.Error("rate limiter error", "error", err, "request_id", chat.RequestIDFromContext(ctx))
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

	if !allowed {
		slog.Warn("chat request refused",
			"error", domain.ErrRateLimited,
			"client", clientKey(r),
			"request_id", chat.RequestIDFromContext(ctx),
		)
	}
	return allowed
}

// clientKey identifies the caller by host only, so every connection from one
// address shares a bucket. RealIP has already folded proxy headers into
// RemoteAddr, and leaves it without a port when it does.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"hasApiKey": h.chat.HasAPIKey(),
		"uptime":    time.Since(h.started).Seconds(),
		"routes":    append(append([]string{}, chatRoutes...), "/health"),
	}
	if h.version != "" {
		resp["version"] = h.version
	}
	if h.router != nil {
		resp["models"] = h.router.Models()
		if states := h.router.States(r.Context()); states != nil {
			resp["circuitBreakers"] = states
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const indexHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Ujjain Mahakumbh Chat API</title>
    <style>body{font-family:system-ui,Segoe UI,Arial;max-width:720px;margin:40px auto;padding:0 16px;line-height:1.5} code{background:#f5f5f5;padding:2px 6px;border-radius:4px}</style>
  </head>
  <body>
    <h1>Ujjain Mahakumbh Chat API</h1>
    <p>This server only serves API endpoints for the app:</p>
    <ul>
      <li><a href="/health">/health</a>: basic health check</li>
      <li><code>POST /api/chat</code>: chat endpoint used by the frontend</li>
      <li><a href="/metrics">/metrics</a>: Prometheus metrics</li>
    </ul>
  </body>
</html>
`

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, indexHTML)
}

// NewChatFunction returns a self-contained chat handler for hosts that
// invoke one function per request. It does its own method check and needs
// no router.
func NewChatFunction(svc ChatService) http.HandlerFunc {
	return requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		writeChat(w, svc.Chat(r.Context(), decodeBody(w, r)))
	})).ServeHTTP
}

// decodeBody reads a chat request. A body that cannot be read or decoded
// yields a request with an empty message, which the chat core rejects.
func decodeBody(w http.ResponseWriter, r *http.Request) domain.ChatRequest {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Debug("read chat body", "error", err, "request_id", chat.RequestIDFromContext(r.Context()))
		return domain.ChatRequest{}
	}

	req, err := domain.DecodeChatRequest(data)
	if err != nil {
		slog.Debug("decode chat body", "error", err, "request_id", chat.RequestIDFromContext(r.Context()))
	}
	return req
}

func writeChat(w http.ResponseWriter, resp domain.ChatResponse) {
	if resp.Model != "" {
		w.Header().Set("X-Model", resp.Model)
	}
	writeJSON(w, http.StatusOK, resp)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}
