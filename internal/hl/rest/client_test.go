package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hl-funding-bot/internal/ratelimit"

	"go.uber.org/zap"
)

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(map[ratelimit.Channel]ratelimit.Budget{
		ratelimit.ChannelREST: {Capacity: 1000, Window: time.Minute},
	})
}

func TestInfoDecodesObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, testLimiter(), zap.NewNop())
	data, err := client.Info(context.Background(), InfoRequest{Type: "meta"})
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if data["status"] != "ok" {
		t.Fatalf("unexpected response %v", data)
	}
}

func TestRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, testLimiter(), zap.NewNop())
	if _, err := client.Info(context.Background(), InfoRequest{Type: "meta"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestRateLimitSurfacesAfterExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, testLimiter(), zap.NewNop())
	_, err := client.Info(context.Background(), InfoRequest{Type: "meta"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid request"))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, testLimiter(), zap.NewNop())
	_, err := client.Info(context.Background(), InfoRequest{Type: "meta"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) {
		t.Fatalf("400 must be terminal, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls.Load())
	}
}

func TestServerErrorsRetryAsTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, testLimiter(), zap.NewNop())
	if _, err := client.Info(context.Background(), InfoRequest{Type: "meta"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}
