package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/prn-tf/alexander-client/internal/credentials"
	"github.com/prn-tf/alexander-client/internal/metrics"
)

// SignedRequest is a clone of the caller's request with the signature
// headers applied.
type SignedRequest struct {
	Request     *http.Request
	Signature   Signature
	AccessKeyID string
	SignedAt    time.Time
}

// Provider signs requests and keeps its credentials current.
//
// While the credentials are usable, Authenticate signs immediately. When they
// are missing or expired, the first caller starts a fetch from the
// credentials provider and every caller arriving before it finishes waits
// for that same fetch. Waiters are signed and released in the order they
// arrived. A waiter whose context ends leaves the queue without disturbing
// the fetch or anyone else.
type Provider struct {
	signer  Signer
	rules   SigningRules
	fetcher credentials.Provider
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.Mutex
	creds    credentials.Credentials
	inflight *refresh
}

// refresh is one in-flight fetch and the requests waiting on it.
type refresh struct {
	waiters []*waiter
}

func (r *refresh) remove(w *waiter) bool {
	i := slices.Index(r.waiters, w)
	if i < 0 {
		return false
	}
	r.waiters = slices.Delete(r.waiters, i, i+1)
	return true
}

type waiter struct {
	ctx    context.Context
	req    *http.Request
	result chan authResult
}

type authResult struct {
	signed *SignedRequest
	err    error
}

// Option configures a Provider.
type Option func(*Provider)

// WithSigner sets the signer. Defaults to NewHMACSigner().
func WithSigner(s Signer) Option {
	return func(p *Provider) {
		p.signer = s
	}
}

// WithSigningRules sets which headers and query keys are signed.
func WithSigningRules(rules SigningRules) Option {
	return func(p *Provider) {
		p.rules = rules
	}
}

// WithCredentials installs initial credentials.
func WithCredentials(c credentials.Credentials) Option {
	return func(p *Provider) {
		p.creds = c
	}
}

// WithCredentialsProvider sets where fresh credentials come from. Without
// one, missing credentials fail with ErrNoCredentials.
func WithCredentialsProvider(cp credentials.Provider) Option {
	return func(p *Provider) {
		p.fetcher = cp
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger.With().Str("component", "auth").Logger()
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) {
		p.metrics = m
	}
}

// WithTracer sets the tracer for refresh spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Provider) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithClock replaces time.Now for signing timestamps and validity checks.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// NewProvider creates a Provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		signer: NewHMACSigner(),
		rules:  DefaultSigningRules(),
		logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer(""),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Authenticate returns a signed clone of r. It blocks while a credential
// refresh is in flight, until the refresh ends or ctx is done.
func (p *Provider) Authenticate(ctx context.Context, r *http.Request) (*SignedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if credentials.Usable(p.creds, p.now()) {
		creds := p.creds
		p.mu.Unlock()
		return p.sign(ctx, r, creds), nil
	}

	if p.fetcher == nil {
		p.mu.Unlock()
		return nil, errNoCredentials()
	}

	w := &waiter{ctx: ctx, req: r, result: make(chan authResult, 1)}
	start := p.inflight == nil
	if start {
		p.inflight = &refresh{}
	}
	ref := p.inflight
	ref.waiters = append(ref.waiters, w)
	position := len(ref.waiters)
	p.mu.Unlock()

	if start {
		// The fetch belongs to every waiter, so it must outlive the first
		// caller's cancellation.
		go p.refresh(context.WithoutCancel(ctx), ref)
	} else {
		p.logger.Debug().Int("position", position).Msg("waiting for in-flight credential refresh")
	}

	select {
	case res := <-w.result:
		return res.signed, res.err
	case <-ctx.Done():
		p.mu.Lock()
		removed := ref.remove(w)
		p.mu.Unlock()
		p.logger.Debug().Bool("dequeued", removed).Msg("request left credential refresh queue")
		return nil, ctx.Err()
	}
}

func (p *Provider) refresh(ctx context.Context, ref *refresh) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	p.logger.Debug().Msg("refreshing credentials")

	creds, err := p.fetcher.Fetch(ctx)
	if err == nil && !credentials.Usable(creds, p.now()) {
		err = fmt.Errorf("%w: %v", ErrInvalidCredentials, credentials.LogObject(creds))
	}

	p.mu.Lock()
	if err == nil {
		p.creds = creds
	}
	waiters := ref.waiters
	ref.waiters = nil
	p.inflight = nil
	p.mu.Unlock()

	p.metrics.ObserveRefresh(err == nil, time.Since(start).Seconds(), len(waiters))
	span.SetAttributes(attribute.Int("waiters", len(waiters)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		p.logger.Warn().Err(err).Int("waiters", len(waiters)).Msg("credential refresh failed")

		authErr := errRefreshFailed(err)
		for _, w := range waiters {
			w.result <- authResult{err: authErr}
		}
		return
	}

	p.logger.Info().
		Object("credentials", credentials.LogObject(creds)).
		Int("waiters", len(waiters)).
		Dur("duration", time.Since(start)).
		Msg("credentials refreshed")

	for _, w := range waiters {
		w.result <- authResult{signed: p.sign(w.ctx, w.req, creds)}
	}
}

func (p *Provider) sign(ctx context.Context, r *http.Request, creds credentials.Credentials) *SignedRequest {
	at := p.now()
	sig := p.signer.Sign(NewCanonicalRequest(r, p.rules, at), creds)

	out := r.Clone(ctx)
	sig.Apply(out)

	p.metrics.RequestSigned(sig.Scheme)
	return &SignedRequest{
		Request:     out,
		Signature:   sig,
		AccessKeyID: creds.AccessKeyID(),
		SignedAt:    at,
	}
}

// Invalidate drops the current credentials. The next Authenticate refreshes.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = nil
}

// InvalidateIf drops the current credentials only while they still carry
// accessKeyID. A rejection of an older key therefore leaves credentials that a
// completed refresh already replaced untouched. It reports whether anything
// was dropped.
func (p *Provider) InvalidateIf(accessKeyID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.creds == nil || p.creds.AccessKeyID() != accessKeyID {
		return false
	}
	p.creds = nil
	return true
}

// SetCredentials replaces the current credentials.
func (p *Provider) SetCredentials(c credentials.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = c
}

// Credentials returns the current credentials, which may be nil or expired.
func (p *Provider) Credentials() credentials.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

// CanRefresh reports whether a credentials provider is configured.
func (p *Provider) CanRefresh() bool {
	return p.fetcher != nil
}
