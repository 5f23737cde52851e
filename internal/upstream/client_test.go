package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-hub/esm-hub/internal/config"
)

func TestClientGetReturnsBodyAndContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		_, _ = w.Write([]byte("export default 1;"))
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{})
	resp, err := client.Get(context.Background(), server.URL+"/npm/x@1/+esm")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(resp.Body) != "export default 1;" {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
	if resp.ContentType != "application/javascript; charset=utf-8" {
		t.Fatalf("unexpected content type: %s", resp.ContentType)
	}
}

func TestClientGetNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{MaxRetries: 3, InitialBackoff: time.Millisecond})
	_, err := client.Get(context.Background(), server.URL+"/missing")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound || statusErr.URL != server.URL+"/missing" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("404 should not be retried, got %d calls", calls.Load())
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"version":"1.0.0"}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{MaxRetries: 2, InitialBackoff: time.Millisecond})
	var payload struct {
		Version string `json:"version"`
	}
	if err := client.GetJSON(context.Background(), server.URL, &payload); err != nil {
		t.Fatalf("GetJSON error: %v", err)
	}
	if payload.Version != "1.0.0" || calls.Load() != 3 {
		t.Fatalf("unexpected result: %+v after %d calls", payload, calls.Load())
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Millisecond, func() error {
		return &RetryableError{Err: ErrNetwork}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewHTTPClientUsesConfiguredTimeout(t *testing.T) {
	cfg := &config.Config{Global: config.GlobalConfig{UpstreamTimeout: config.Duration(5 * time.Second)}}
	if client := NewHTTPClient(cfg); client.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %s", client.Timeout)
	}
	if client := NewHTTPClient(nil); client.Timeout != 30*time.Second {
		t.Fatalf("unexpected default timeout: %s", client.Timeout)
	}
}
