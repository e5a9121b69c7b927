package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-client/internal/credentials"
	"github.com/prn-tf/alexander-client/internal/metrics"
)

// gatedFetcher blocks every Fetch until release is closed.
type gatedFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	creds   credentials.Credentials
	err     error
	sawCtx  chan context.Context
}

func newGatedFetcher(creds credentials.Credentials, err error) *gatedFetcher {
	return &gatedFetcher{
		release: make(chan struct{}),
		creds:   creds,
		err:     err,
		sawCtx:  make(chan context.Context, 8),
	}
}

func (f *gatedFetcher) Fetch(ctx context.Context) (credentials.Credentials, error) {
	f.calls.Add(1)
	f.sawCtx <- ctx
	<-f.release
	return f.creds, f.err
}

// recordingSigner remembers the order requests were signed in.
type recordingSigner struct {
	mu    sync.Mutex
	paths []string
	inner Signer
}

func (s *recordingSigner) Sign(cr CanonicalRequest, creds credentials.Credentials) Signature {
	s.mu.Lock()
	s.paths = append(s.paths, cr.Path)
	s.mu.Unlock()
	return s.inner.Sign(cr, creds)
}

func (s *recordingSigner) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func newRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, "http://s3.local"+path, nil)
	require.NoError(t, err)
	return r
}

func waitForWaiters(t *testing.T, p *Provider, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.inflight != nil && len(p.inflight.waiters) == n
	}, 2*time.Second, time.Millisecond)
}

type result struct {
	signed *SignedRequest
	err    error
}

func authenticateAsync(ctx context.Context, p *Provider, r *http.Request) <-chan result {
	ch := make(chan result, 1)
	go func() {
		signed, err := p.Authenticate(ctx, r)
		ch <- result{signed, err}
	}()
	return ch
}

func TestProvider_ValidCredentialsSignImmediately(t *testing.T) {
	fetcher := newGatedFetcher(nil, nil)
	p := NewProvider(
		WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK"}),
		WithCredentialsProvider(fetcher),
		WithClock(func() time.Time { return testTime }),
		WithLogger(zerolog.Nop()),
	)

	r := newRequest(t, "/bucket/key")
	signed, err := p.Authenticate(context.Background(), r)
	require.NoError(t, err)

	require.Equal(t, "AK", signed.AccessKeyID)
	require.Equal(t, testTime, signed.SignedAt)
	require.Equal(t, signed.Signature.Authorization(), signed.Request.Header.Get(AuthorizationHeader))
	require.Equal(t, "Fri, 15 Mar 2024 10:30:00 GMT", signed.Request.Header.Get(DateHeader))
	require.Empty(t, r.Header.Get(AuthorizationHeader), "caller's request must not be modified")
	require.Equal(t, int32(0), fetcher.calls.Load())
}

func TestProvider_NoCredentialsNoProvider(t *testing.T) {
	p := NewProvider()

	_, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.ErrorIs(t, err, ErrNoCredentials)
	require.NotErrorIs(t, err, ErrRefreshFailed)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ErrorNoCredentials, authErr.Code)
}

func TestProvider_ExpiredCredentialsWithoutProvider(t *testing.T) {
	p := NewProvider(
		WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK", Expires: testTime.Add(-time.Second)}),
		WithClock(func() time.Time { return testTime }),
	)

	_, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestProvider_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	fetcher := newGatedFetcher(credentials.Static{AccessKey: "NEW", SecretKey: "SK"}, nil)
	p := NewProvider(WithCredentialsProvider(fetcher))

	const n = 8
	results := make([]<-chan result, n)
	for i := range n {
		results[i] = authenticateAsync(context.Background(), p, newRequest(t, fmt.Sprintf("/b/%d", i)))
	}
	waitForWaiters(t, p, n)
	close(fetcher.release)

	for i := range n {
		res := <-results[i]
		require.NoError(t, res.err)
		require.Equal(t, "NEW", res.signed.AccessKeyID)
		require.Contains(t, res.signed.Request.Header.Get(AuthorizationHeader), "AWS NEW:")
	}
	require.Equal(t, int32(1), fetcher.calls.Load())
	require.Equal(t, "NEW", p.Credentials().AccessKeyID())

	// Stored credentials now serve without another fetch.
	_, err := p.Authenticate(context.Background(), newRequest(t, "/b/after"))
	require.NoError(t, err)
	require.Equal(t, int32(1), fetcher.calls.Load())
}

func TestProvider_WaitersReleasedInAttachOrder(t *testing.T) {
	fetcher := newGatedFetcher(credentials.Static{AccessKey: "AK", SecretKey: "SK"}, nil)
	signer := &recordingSigner{inner: NewHMACSigner()}
	p := NewProvider(WithCredentialsProvider(fetcher), WithSigner(signer))

	var results []<-chan result
	want := []string{"/b/0", "/b/1", "/b/2", "/b/3"}
	for i, path := range want {
		results = append(results, authenticateAsync(context.Background(), p, newRequest(t, path)))
		waitForWaiters(t, p, i+1)
	}
	close(fetcher.release)

	for _, ch := range results {
		require.NoError(t, (<-ch).err)
	}
	require.Equal(t, want, signer.order())
}

func TestProvider_RefreshFailureReachesEveryWaiter(t *testing.T) {
	cause := &credentials.FetchError{Err: errors.New("endpoint down")}
	fetcher := newGatedFetcher(nil, cause)
	p := NewProvider(WithCredentialsProvider(fetcher))

	const n = 3
	results := make([]<-chan result, n)
	for i := range n {
		results[i] = authenticateAsync(context.Background(), p, newRequest(t, "/b/k"))
	}
	waitForWaiters(t, p, n)
	close(fetcher.release)

	var first error
	for i := range n {
		res := <-results[i]
		require.ErrorIs(t, res.err, ErrRefreshFailed)

		var fetchErr *credentials.FetchError
		require.ErrorAs(t, res.err, &fetchErr)
		require.Same(t, cause, fetchErr)

		if first == nil {
			first = res.err
		}
		require.Same(t, first, res.err, "every waiter gets the same error")
	}
	require.Nil(t, p.Credentials())
	require.Equal(t, int32(1), fetcher.calls.Load())
}

func TestProvider_FailedRefreshIsRetriedByNextRequest(t *testing.T) {
	var calls atomic.Int32
	p := NewProvider(WithCredentialsProvider(credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("first fails")
		}
		return credentials.Static{AccessKey: "AK", SecretKey: "SK"}, nil
	})))

	_, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.ErrorIs(t, err, ErrRefreshFailed)

	_, err = p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestProvider_UnusableFetchedCredentials(t *testing.T) {
	p := NewProvider(WithCredentialsProvider(credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
		return credentials.Static{AccessKey: "AK"}, nil
	})))

	_, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Nil(t, p.Credentials())
}

func TestProvider_CancelledWaiterLeavesQueue(t *testing.T) {
	fetcher := newGatedFetcher(credentials.Static{AccessKey: "AK", SecretKey: "SK"}, nil)
	signer := &recordingSigner{inner: NewHMACSigner()}
	p := NewProvider(WithCredentialsProvider(fetcher), WithSigner(signer))

	first := authenticateAsync(context.Background(), p, newRequest(t, "/b/first"))
	waitForWaiters(t, p, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := authenticateAsync(ctx, p, newRequest(t, "/b/cancelled"))
	waitForWaiters(t, p, 2)

	last := authenticateAsync(context.Background(), p, newRequest(t, "/b/last"))
	waitForWaiters(t, p, 3)

	cancel()
	res := <-cancelled
	require.ErrorIs(t, res.err, context.Canceled)
	waitForWaiters(t, p, 2)

	close(fetcher.release)
	require.NoError(t, (<-first).err)
	require.NoError(t, (<-last).err)

	require.Equal(t, []string{"/b/first", "/b/last"}, signer.order())
	require.Equal(t, int32(1), fetcher.calls.Load())
}

func TestProvider_FirstCallerCancelDoesNotCancelRefresh(t *testing.T) {
	fetcher := newGatedFetcher(credentials.Static{AccessKey: "AK", SecretKey: "SK"}, nil)
	p := NewProvider(WithCredentialsProvider(fetcher))

	ctx, cancel := context.WithCancel(context.Background())
	starter := authenticateAsync(ctx, p, newRequest(t, "/b/starter"))
	fetchCtx := <-fetcher.sawCtx

	other := authenticateAsync(context.Background(), p, newRequest(t, "/b/other"))
	waitForWaiters(t, p, 2)

	cancel()
	require.ErrorIs(t, (<-starter).err, context.Canceled)
	require.NoError(t, fetchCtx.Err())

	close(fetcher.release)
	res := <-other
	require.NoError(t, res.err)
	require.Equal(t, "AK", res.signed.AccessKeyID)
}

func TestProvider_AlreadyCancelledContext(t *testing.T) {
	p := NewProvider(WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Authenticate(ctx, newRequest(t, "/b/k"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestProvider_ExpiryTriggersRefresh(t *testing.T) {
	now := testTime
	var calls atomic.Int32
	p := NewProvider(
		WithCredentials(credentials.Static{AccessKey: "OLD", SecretKey: "SK", Expires: testTime.Add(time.Minute)}),
		WithCredentialsProvider(credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
			calls.Add(1)
			return credentials.Static{AccessKey: "NEW", SecretKey: "SK", Expires: now.Add(time.Hour)}, nil
		})),
		WithClock(func() time.Time { return now }),
	)

	signed, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.NoError(t, err)
	require.Equal(t, "OLD", signed.AccessKeyID)

	now = now.Add(2 * time.Minute)
	signed, err = p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.NoError(t, err)
	require.Equal(t, "NEW", signed.AccessKeyID)
	require.Equal(t, int32(1), calls.Load())
}

func TestProvider_InvalidateAndSetCredentials(t *testing.T) {
	var calls atomic.Int32
	p := NewProvider(
		WithCredentials(credentials.Static{AccessKey: "A", SecretKey: "S"}),
		WithCredentialsProvider(credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
			calls.Add(1)
			return credentials.Static{AccessKey: "FETCHED", SecretKey: "S"}, nil
		})),
	)

	p.Invalidate()
	require.Nil(t, p.Credentials())

	signed, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.NoError(t, err)
	require.Equal(t, "FETCHED", signed.AccessKeyID)

	p.SetCredentials(credentials.Static{AccessKey: "MANUAL", SecretKey: "S"})
	signed, err = p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.NoError(t, err)
	require.Equal(t, "MANUAL", signed.AccessKeyID)
	require.Equal(t, int32(1), calls.Load())
}

func TestProvider_SessionTokenHeader(t *testing.T) {
	p := NewProvider(WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK", Token: "TOK"}))

	signed, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.NoError(t, err)
	require.Equal(t, "TOK", signed.Request.Header.Get(XAmzSecurityTokenHeader))
}

func TestProvider_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	p := NewProvider(
		WithMetrics(m),
		WithCredentialsProvider(credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
			return credentials.Static{AccessKey: "AK", SecretKey: "SK"}, nil
		})),
	)

	_, err = p.Authenticate(context.Background(), newRequest(t, "/b/k"))
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "alexander_client_signed_requests_total", "alexander_client_credential_refreshes_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
