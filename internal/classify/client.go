// Package classify provides the client for the local safety classifier, an
// LLM served over an ollama-compatible generate API. The client carries its
// own resilience stack (outbound throttle, circuit breaker, bounded retries)
// so a sick classifier degrades into the caller's fail-open path instead of
// stalling the guard pipeline.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/clavrr/guardrail/internal/logger"
	"github.com/clavrr/guardrail/internal/metrics"
	"github.com/clavrr/guardrail/internal/telemetry"
)

var (
	// ErrUnavailable is returned when the circuit breaker is open or the
	// outbound throttle rejects the call.
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrBadStatus is returned for non-200 responses.
	ErrBadStatus = errors.New("classifier returned unexpected status")
	// ErrEmptyResponse is returned when the model produces no text.
	ErrEmptyResponse = errors.New("classifier returned empty response")
)

// Classifier produces a raw model verdict for a prompt. Implementations
// return the model's text output; parsing is the caller's concern.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// Config holds classifier client settings.
type Config struct {
	BaseURL        string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxTokens      int
	RequestsPerSec float64
	Burst          int
}

// Breaker thresholds. The breaker opens after six consecutive failures and
// probes again after the open timeout.
const (
	breakerMaxRequests  = 3
	breakerInterval     = 5 * time.Second
	breakerOpenTimeout  = 30 * time.Second
	breakerTripFailures = 5
)

// HTTPClassifier talks to an ollama-compatible /api/generate endpoint.
// Safe for concurrent use.
type HTTPClassifier struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     logger.Logger
}

// NewHTTPClassifier creates a classifier client. Zero config values fall
// back to defaults suitable for a local model server.
func NewHTTPClassifier(cfg Config, log logger.Logger) *HTTPClassifier {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// MaxRetries feeds a uint conversion; a negative value must not wrap.
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "safety-classifier",
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > breakerTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("classifier breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})

	return &HTTPClassifier{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		log:     log,
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Classify sends the prompt through the throttle, breaker, and retry chain
// and returns the model's raw text output.
func (c *HTTPClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "classifier.classify",
		attribute.String("classifier.model", c.cfg.Model))
	defer span.End()

	start := time.Now()
	text, err := c.classify(ctx, prompt)
	metrics.ClassifierRequestDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.ClassifierRequestsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrUnavailable):
		metrics.ClassifierRequestsTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.ClassifierRequestsTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return text, err
}

func (c *HTTPClassifier) classify(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: outbound throttle: %v", ErrUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var text string
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(c.cfg.MaxRetries)+1),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return c.cfg.RetryDelay * time.Duration(n+1)
			}),
		)
		retryErr := r.Do(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()

			var callErr error
			text, callErr = c.doRequest(reqCtx, prompt)
			return callErr
		})
		return text, retryErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPClassifier) doRequest(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": 0,
			"num_predict": c.cfg.MaxTokens,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode classifier response: %w", err)
	}
	if result.Response == "" {
		return "", ErrEmptyResponse
	}
	return result.Response, nil
}
