// Package httputil builds the outbound HTTP client used for provider calls.
package httputil

import (
	"net"
	"net/http"
	"time"
)

// Connection-level limits. These do not depend on how long a model may take
// to answer.
const (
	dialTimeout         = 5 * time.Second
	tlsHandshakeTimeout = 5 * time.Second
	idleConnTimeout     = 90 * time.Second
	keepAlive           = 30 * time.Second
	maxIdleConns        = 100
	maxIdleConnsPerHost = 10

	// outerHeadroom is how far the client-wide timeout sits past one attempt,
	// so the attempt's context deadline always fires first.
	outerHeadroom = 8 * time.Second
)

type ClientConfig struct {
	Timeout               time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// ForAttempt sizes the client around the per-attempt deadline a caller puts
// on each request context. Headers may take the whole attempt; the client
// timeout only catches requests sent without a deadline. A zero attempt
// leaves both unbounded and relies entirely on the request context.
func ForAttempt(attempt time.Duration) ClientConfig {
	cfg := ClientConfig{
		DialTimeout:         dialTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
	}
	if attempt > 0 {
		cfg.ResponseHeaderTimeout = attempt
		cfg.Timeout = attempt + outerHeadroom
	}
	return cfg
}

func NewClient(cfg ClientConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: keepAlive}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			MaxIdleConns:          cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		},
	}
}
