// Package resource issues plain HTTP calls against a fixed base URL.
// Credential endpoints and other small JSON services are reached through it.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// RequestIDHeader carries the per-call request ID.
const RequestIDHeader = "X-Request-Id"

// maxBodySize caps how much of a response body is buffered.
const maxBodySize = 1 << 20

var (
	// ErrUnexpectedStatusCode is wrapped by UnexpectedStatusError.
	ErrUnexpectedStatusCode = errors.New("unexpected status code")

	// ErrBodyTooLarge indicates the response exceeded maxBodySize.
	ErrBodyTooLarge = errors.New("response body too large")
)

// UnexpectedStatusError is returned for any non-2xx response.
type UnexpectedStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d from %s, body: %s", ErrUnexpectedStatusCode, e.StatusCode, e.URL, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return ErrUnexpectedStatusCode
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// Resource is a base URL plus the client and headers used to reach it.
type Resource struct {
	base    *url.URL
	client  *http.Client
	header  http.Header
	timeout time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// Option configures a Resource.
type Option func(*Resource) error

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resource) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		r.client = hc
		return nil
	}
}

// WithHeader adds a header sent on every call.
func WithHeader(key, value string) Option {
	return func(r *Resource) error {
		r.header.Add(key, value)
		return nil
	}
}

// WithBearerToken sets an Authorization: Bearer header.
func WithBearerToken(token string) Option {
	return func(r *Resource) error {
		if token == "" {
			return nil
		}
		r.header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// WithTimeout bounds each call. Zero means only the caller's context applies.
func WithTimeout(d time.Duration) Option {
	return func(r *Resource) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		r.timeout = d
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resource) error {
		r.logger = logger.With().Str("component", "resource").Logger()
		return nil
	}
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resource) error {
		if tracer != nil {
			r.tracer = tracer
		}
		return nil
	}
}

// New creates a Resource rooted at baseURL.
func New(baseURL string, opts ...Option) (*Resource, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	r := &Resource{
		base:   base,
		client: http.DefaultClient,
		header: make(http.Header),
		logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("applying resource option: %w", err)
		}
	}

	return r, nil
}

// URL resolves path against the base URL.
func (r *Resource) URL(path string) string {
	if path == "" {
		return r.base.String()
	}
	u := *r.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return u.String()
}

// Get performs exactly one GET for path.
func (r *Resource) Get(ctx context.Context, path string) (*Response, error) {
	return r.Do(ctx, http.MethodGet, path, nil)
}

// Do performs exactly one request. Retries are the caller's business.
func (r *Resource) Do(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	target := r.URL(path)
	requestID := uuid.NewString()

	ctx, span := r.tracer.Start(ctx, "resource."+strings.ToLower(method))
	defer span.End()
	span.SetAttributes(
		attribute.String("url", target),
		attribute.String("request_id", requestID),
	)

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(data) > maxBodySize {
		return nil, ErrBodyTooLarge
	}

	r.logger.Debug().
		Str("method", method).
		Str("url", target).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("resource call")
	span.SetAttributes(attribute.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UnexpectedStatusError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Body:       string(data),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		RequestID:  requestID,
	}, nil
}
