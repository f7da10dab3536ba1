package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clavrr/guardrail/internal/logger"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:        url,
		Model:          "test-model",
		Timeout:        2 * time.Second,
		MaxRetries:     0,
		RetryDelay:     time.Millisecond,
		MaxTokens:      64,
		RequestsPerSec: 1000,
		Burst:          1000,
	}
}

func TestClassifySuccess(t *testing.T) {
	var gotReq generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected /api/generate, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: `{"safe": true}`, Done: true})
	}))
	defer server.Close()

	c := NewHTTPClassifier(testConfig(server.URL), logger.Nop())
	text, err := c.Classify(context.Background(), "is this safe?")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if text != `{"safe": true}` {
		t.Errorf("Expected model text, got %q", text)
	}

	if gotReq.Model != "test-model" {
		t.Errorf("Expected model test-model, got %s", gotReq.Model)
	}
	if gotReq.Stream {
		t.Error("Expected non-streaming request")
	}
	if gotReq.Prompt != "is this safe?" {
		t.Errorf("Prompt not forwarded: %q", gotReq.Prompt)
	}
	if temp, ok := gotReq.Options["temperature"]; !ok || temp != float64(0) {
		t.Errorf("Expected temperature 0, got %v", temp)
	}
	if np, ok := gotReq.Options["num_predict"]; !ok || np != float64(64) {
		t.Errorf("Expected num_predict 64, got %v", np)
	}
}

func TestClassifyBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPClassifier(testConfig(server.URL), logger.Nop())
	_, err := c.Classify(context.Background(), "prompt")
	if !errors.Is(err, ErrBadStatus) {
		t.Errorf("Expected ErrBadStatus, got %v", err)
	}
}

func TestClassifyEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "", Done: true})
	}))
	defer server.Close()

	c := NewHTTPClassifier(testConfig(server.URL), logger.Nop())
	_, err := c.Classify(context.Background(), "prompt")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestClassifyRetriesTransientFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "safe", Done: true})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 2
	c := NewHTTPClassifier(cfg, logger.Nop())

	text, err := c.Classify(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Classify failed after retries: %v", err)
	}
	if text != "safe" {
		t.Errorf("Expected safe, got %q", text)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
}

func TestClassifyNegativeRetriesClampedToSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = -1
	c := NewHTTPClassifier(cfg, logger.Nop())

	if _, err := c.Classify(context.Background(), "prompt"); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("Expected ErrBadStatus, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", got)
	}
}

func TestClassifyBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPClassifier(testConfig(server.URL), logger.Nop())
	ctx := context.Background()

	for i := 0; i <= breakerTripFailures; i++ {
		if _, err := c.Classify(ctx, "prompt"); err == nil {
			t.Fatal("Expected failure from failing server")
		}
	}
	hitsBeforeOpen := hits.Load()

	_, err := c.Classify(ctx, "prompt")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable once breaker opened, got %v", err)
	}
	if hits.Load() != hitsBeforeOpen {
		t.Error("Open breaker should not let requests reach the server")
	}
}

func TestClassifyTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(generateResponse{Response: "late", Done: true})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := NewHTTPClassifier(cfg, logger.Nop())

	_, err := c.Classify(context.Background(), "prompt")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "safe", Done: true})
	}))
	defer server.Close()

	c := NewHTTPClassifier(testConfig(server.URL), logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Classify(ctx, "prompt"); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}
