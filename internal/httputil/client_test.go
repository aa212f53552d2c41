package httputil

import (
	"net/http"
	"testing"
	"time"
)

func TestForAttempt(t *testing.T) {
	cfg := ForAttempt(12 * time.Second)

	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"Timeout", cfg.Timeout, 20 * time.Second},
		{"ResponseHeaderTimeout", cfg.ResponseHeaderTimeout, 12 * time.Second},
		{"DialTimeout", cfg.DialTimeout, 5 * time.Second},
		{"TLSHandshakeTimeout", cfg.TLSHandshakeTimeout, 5 * time.Second},
		{"IdleConnTimeout", cfg.IdleConnTimeout, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.MaxIdleConns != 100 {
		t.Errorf("MaxIdleConns = %d, want 100", cfg.MaxIdleConns)
	}
	if cfg.MaxIdleConnsPerHost != 10 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 10", cfg.MaxIdleConnsPerHost)
	}
}

func TestForAttempt_TracksAttempt(t *testing.T) {
	for _, attempt := range []time.Duration{time.Second, 12 * time.Second, time.Minute} {
		cfg := ForAttempt(attempt)
		if cfg.ResponseHeaderTimeout != attempt {
			t.Errorf("ForAttempt(%v).ResponseHeaderTimeout = %v, want %v", attempt, cfg.ResponseHeaderTimeout, attempt)
		}
		if cfg.Timeout <= attempt {
			t.Errorf("ForAttempt(%v).Timeout = %v, must exceed the attempt", attempt, cfg.Timeout)
		}
	}
}

func TestForAttempt_Zero(t *testing.T) {
	cfg := ForAttempt(0)

	if cfg.Timeout != 0 || cfg.ResponseHeaderTimeout != 0 {
		t.Errorf("ForAttempt(0) = %+v, want no request bounds", cfg)
	}
	if cfg.DialTimeout != 5*time.Second {
		t.Errorf("DialTimeout = %v, want 5s", cfg.DialTimeout)
	}
}

func TestNewClient(t *testing.T) {
	cfg := ClientConfig{
		Timeout:               60 * time.Second,
		DialTimeout:           5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       45 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   5,
	}

	client := NewClient(cfg)

	if client.Timeout != cfg.Timeout {
		t.Errorf("client.Timeout = %v, want %v", client.Timeout, cfg.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("client.Transport = %T, want *http.Transport", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 15*time.Second {
		t.Errorf("ResponseHeaderTimeout = %v, want 15s", transport.ResponseHeaderTimeout)
	}
	if transport.MaxIdleConnsPerHost != 5 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 5", transport.MaxIdleConnsPerHost)
	}
}

func TestNewClient_ZeroConfig(t *testing.T) {
	client := NewClient(ClientConfig{})

	// Zero timeout means no timeout
	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", client.Timeout)
	}
}
