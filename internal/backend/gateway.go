package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrGatewayUnavailable covers every way a question can fail to get an
// answer: transport errors, non-2xx statuses and malformed bodies.
var ErrGatewayUnavailable = errors.New("answer gateway unavailable")

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 1 << 20

// GatewayError describes a failed call. It matches ErrGatewayUnavailable
// with errors.Is.
type GatewayError struct {
	Op         string // encode, send, read, status, decode
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", ErrGatewayUnavailable, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrGatewayUnavailable, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGatewayUnavailable }

// HTTPGateway asks questions over a single JSON POST per call
type HTTPGateway struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	failures   metric.Int64Counter
}

// NewHTTPGateway creates a gateway client for endpoint. A zero timeout
// disables the client timeout.
func NewHTTPGateway(endpoint string, timeout time.Duration, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*HTTPGateway, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway URL %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q: missing host", endpoint)
	}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	failures, err := meter.Int64Counter(
		"gateway.failures",
		metric.WithDescription("Gateway calls that did not produce an answer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}

	return &HTTPGateway{
		url:        u.String(),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		tracer:     tracer,
		duration:   duration,
		failures:   failures,
	}, nil
}

// Ask posts question and returns the answer field of the response.
// Every error returned wraps ErrGatewayUnavailable.
func (g *HTTPGateway) Ask(ctx context.Context, question string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gateway_ask")
	defer span.End()

	start := time.Now()
	answer, status, err := g.do(ctx, question)

	g.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Int("http.response.status_code", status)))
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	if err != nil {
		g.failures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unavailable")
		g.logger.Warn("gateway call failed", "url", g.url, "status", status, "error", err)
		return "", err
	}

	g.logger.Debug("gateway answered", "url", g.url, "status", status, "answer_length", len(answer))
	return answer, nil
}

func (g *HTTPGateway) do(ctx context.Context, question string) (string, int, error) {
	jsonData, err := json.Marshal(AskRequest{Question: question})
	if err != nil {
		return "", 0, &GatewayError{Op: "encode", Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", 0, &GatewayError{Op: "encode", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", 0, &GatewayError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	// One byte past the limit tells a full body from a cut one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return "", resp.StatusCode, &GatewayError{Op: "read", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, &GatewayError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API error: %s - %s", resp.Status, truncate(string(body), 200)),
		}
	}

	if len(body) > maxBodyBytes {
		return "", resp.StatusCode, &GatewayError{
			Op:         "read",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response too large: more than %d bytes", maxBodyBytes),
		}
	}

	var apiResp AskResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", resp.StatusCode, &GatewayError{Op: "decode", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if apiResp.Answer == nil {
		return "", resp.StatusCode, &GatewayError{Op: "decode", StatusCode: resp.StatusCode, Err: errors.New("response has no answer field")}
	}

	return *apiResp.Answer, resp.StatusCode, nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
