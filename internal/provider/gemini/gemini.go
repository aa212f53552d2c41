package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/simhastha/anubhav-gateway/internal/httputil"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1"

// APIError is a non-success reply from the provider.
type APIError struct {
	Model      string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// ModelUnavailable reports whether the provider rejected the model
// identifier itself, as opposed to the request.
func (e *APIError) ModelUnavailable() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not supported")
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// New builds a client. Without WithHTTPClient, request bounds come only from
// the caller's context.
func New(apiKey, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.NewClient(httputil.ForAttempt(0)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

func (c *Client) modelURL(model string) string {
	return fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, model, url.QueryEscape(c.apiKey))
}

// GenerateContent posts req to the given model. The caller bounds the call
// through ctx.
func (c *Client) GenerateContent(ctx context.Context, model string, req GenerateContentRequest) (*GenerateContentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL(model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", redactKey(err, c.apiKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(model, resp.StatusCode, respBody)
	}

	var out GenerateContentResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &out, nil
}

func newAPIError(model string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Model:      model,
		StatusCode: status,
		Message:    fmt.Sprintf("Gemini error (%s)", model),
	}

	var parsed GenerateContentResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
	}

	return apiErr
}

// redactKey strips the credential from transport errors, which quote the
// full request URL.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	escaped := url.QueryEscape(key)
	msg := err.Error()
	if !strings.Contains(msg, key) && !strings.Contains(msg, escaped) {
		return err
	}
	msg = strings.ReplaceAll(msg, escaped, "REDACTED")
	msg = strings.ReplaceAll(msg, key, "REDACTED")
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
