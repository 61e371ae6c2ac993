package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/model"
)

const tracerName = "github.com/pitabwire/admindash/internal/query"

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 10 << 20

// Backend performs one request against a resource API and returns the raw
// JSON response body.
type Backend interface {
	Do(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error)

// Do calls f.
func (f BackendFunc) Do(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error) {
	return f(ctx, method, path, params, body)
}

// RetrySettings controls retries of idempotent requests.
type RetrySettings struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// HTTPFetcherOption configures an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithBreaker guards the fetcher with a circuit breaker.
func WithBreaker(b *Breaker) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.breaker = b }
}

// WithRetry enables retries for GET, PUT and DELETE requests.
func WithRetry(r RetrySettings) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.retry = r }
}

// WithFetcherLogger sets the fetcher's logger.
func WithFetcherLogger(l *zap.Logger) HTTPFetcherOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// HTTPFetcher is the HTTP Backend. Relative paths are resolved against the
// base URL; absolute URLs are used as given.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	breaker *Breaker
	retry   RetrySettings
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewHTTPFetcher creates a fetcher for the given base URL.
func NewHTTPFetcher(baseURL string, timeout time.Duration, opts ...HTTPFetcherOption) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	f := &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Breaker returns the fetcher's circuit breaker, or nil.
func (f *HTTPFetcher) Breaker() *Breaker { return f.breaker }

// Do sends the request, retrying idempotent methods on transport errors and
// 5xx responses. Non-2xx responses become ErrorEnvelopes.
func (f *HTTPFetcher) Do(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("query: marshal body: %w", err)
		}
	}
	target := ResolveURL(f.baseURL, path, params)

	ctx, span := f.tracer.Start(ctx, "backend "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	attempts := 1
	if isIdempotent(method) && f.retry.MaxAttempts > 1 {
		attempts = f.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(f.retry, attempt)):
			}
			f.logger.Debug("retrying backend request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
			)
		}

		raw, status, again, err := f.once(ctx, method, target, payload)
		if status > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !again {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

// once sends a single request. again reports whether a failure is worth
// retrying.
func (f *HTTPFetcher) once(ctx context.Context, method, target string, payload []byte) (raw json.RawMessage, status int, again bool, err error) {
	if f.breaker != nil {
		if err := f.breaker.Allow(); err != nil {
			return nil, 0, false, model.NewBackendUnavailableError()
		}
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, 0, false, fmt.Errorf("query: build request: %w", err)
	}
	setHeaders(ctx, req, payload != nil)

	resp, err := f.client.Do(req)
	if err != nil {
		f.recordFailure()
		if ctx.Err() != nil {
			return nil, 0, false, model.NewBackendTimeoutError()
		}
		if isTimeout(err) {
			return nil, 0, true, model.NewBackendTimeoutError()
		}
		if isConnectionError(err) {
			return nil, 0, true, model.NewBackendUnavailableError()
		}
		return nil, 0, true, fmt.Errorf("query: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		f.recordFailure()
		return nil, resp.StatusCode, true, fmt.Errorf("query: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		f.recordFailure()
	case resp.StatusCode < 400:
		f.recordSuccess()
	}

	if resp.StatusCode >= 300 {
		again = resp.StatusCode >= 500
		return nil, resp.StatusCode, again, model.NewBackendError(resp.StatusCode, backendMessage(data, resp.Status))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), resp.StatusCode, false, nil
	}
	return json.RawMessage(data), resp.StatusCode, false, nil
}

func (f *HTTPFetcher) recordFailure() {
	if f.breaker != nil {
		f.breaker.RecordFailure()
	}
}

func (f *HTTPFetcher) recordSuccess() {
	if f.breaker != nil {
		f.breaker.RecordSuccess()
	}
}

func setHeaders(ctx context.Context, req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.Token != "" {
			req.Header.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		if rctx.CorrelationID != "" {
			req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.SubjectID != "" {
			req.Header.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// ResolveURL joins base and path and appends params. An absolute path wins
// over base.
func ResolveURL(base, path string, params url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		target = strings.TrimRight(base, "/") + path
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + params.Encode()
	}
	return target
}

// ExpandPath substitutes {id} in an endpoint template.
func ExpandPath(template, id string) string {
	return strings.ReplaceAll(template, "{id}", url.PathEscape(id))
}

// backendMessage extracts a message from a JSON error body, falling back to
// the HTTP status text.
func backendMessage(data []byte, status string) string {
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if s, ok := body.Error.(string); ok && s != "" {
			return s
		}
	}
	return "backend returned " + status
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func backoff(r RetrySettings, attempt int) time.Duration {
	initial := r.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxDelay := r.BackoffMax
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
