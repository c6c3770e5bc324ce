package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func newTestGateway(t *testing.T, endpoint string, timeout time.Duration) *HTTPGateway {
	t.Helper()
	g, err := NewHTTPGateway(
		endpoint,
		timeout,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracenoop.NewTracerProvider().Tracer("test"),
		metricnoop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)
	return g
}

func TestAskSendsQuestionAndReturnsAnswer(t *testing.T) {
	var got AskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer": "Eggs, chicken, and legumes."}`))
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL+"/ask", time.Second)
	answer, err := g.Ask(context.Background(), "High protein snacks?")
	require.NoError(t, err)
	assert.Equal(t, "Eggs, chicken, and legumes.", answer)
	assert.Equal(t, "High protein snacks?", got.Question)
}

func TestAskAcceptsAnySuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"answer": ""}`))
	}))
	defer srv.Close()

	answer, err := newTestGateway(t, srv.URL, time.Second).Ask(context.Background(), "hi")
	require.NoError(t, err)
	assert.Empty(t, answer)
}

func TestAskFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		op     string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"detail": "boom"}`, op: "status"},
		{name: "not found", status: http.StatusNotFound, body: `{"answer": "ignored"}`, op: "status"},
		{name: "invalid json", status: http.StatusOK, body: `<html>`, op: "decode"},
		{name: "missing answer", status: http.StatusOK, body: `{"result": "x"}`, op: "decode"},
		{name: "null answer", status: http.StatusOK, body: `{"answer": null}`, op: "decode"},
		{name: "non-string answer", status: http.StatusOK, body: `{"answer": 42}`, op: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestGateway(t, srv.URL, time.Second).Ask(context.Background(), "hello")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrGatewayUnavailable))

			var gerr *GatewayError
			require.True(t, errors.As(err, &gerr))
			assert.Equal(t, tt.op, gerr.Op)
			assert.Equal(t, tt.status, gerr.StatusCode)
		})
	}
}

func TestAskRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer": "`))
		_, _ = w.Write([]byte(strings.Repeat("a", 2*maxBodyBytes)))
		_, _ = w.Write([]byte(`"}`))
	}))
	defer srv.Close()

	_, err := newTestGateway(t, srv.URL, 5*time.Second).Ask(context.Background(), "hello")
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "read", gerr.Op)
	assert.Equal(t, http.StatusOK, gerr.StatusCode)
	assert.ErrorContains(t, err, "response too large")
}

func TestAskAcceptsBodyAtLimit(t *testing.T) {
	prefix, suffix := `{"answer": "`, `"}`
	fill := maxBodyBytes - len(prefix) - len(suffix)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(prefix + strings.Repeat("b", fill) + suffix))
	}))
	defer srv.Close()

	answer, err := newTestGateway(t, srv.URL, 5*time.Second).Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, answer, fill)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // two bytes each
	got := truncate(s, 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé...", got)

	assert.Equal(t, "short", truncate("short", 200))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}

func TestAskTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := newTestGateway(t, endpoint, time.Second).Ask(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "send", gerr.Op)
	assert.Zero(t, gerr.StatusCode)
}

func TestAskTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestGateway(t, srv.URL, 50*time.Millisecond).Ask(context.Background(), "slow?")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestNewHTTPGatewayValidatesURL(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://example.com/ask", "http://", "://bad"} {
		_, err := NewHTTPGateway(
			endpoint,
			time.Second,
			slog.New(slog.NewTextHandler(io.Discard, nil)),
			tracenoop.NewTracerProvider().Tracer("test"),
			metricnoop.NewMeterProvider().Meter("test"),
		)
		assert.Error(t, err, endpoint)
	}

	_, err := NewHTTPGateway("http://localhost:8000/ask", time.Second, nil,
		tracenoop.NewTracerProvider().Tracer("test"), metricnoop.NewMeterProvider().Meter("test"))
	assert.Error(t, err)
}
