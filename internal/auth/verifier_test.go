package auth

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-client/internal/credentials"
)

func newVerifyingServer(t *testing.T, v *Verifier, cfg MiddlewareConfig) (*httptest.Server, *atomic.Pointer[RequestAuth]) {
	t.Helper()
	var seen atomic.Pointer[RequestAuth]
	handler := Middleware(v, cfg, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ra, _ := GetRequestAuth(r.Context())
		seen.Store(ra)
		_, _ = w.Write([]byte("ok"))
	}))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestTransport_HMACRoundTrip(t *testing.T) {
	v := &Verifier{Store: StaticSecrets{"AK": "SK"}, Rules: DefaultSigningRules()}
	srv, seen := newVerifyingServer(t, v, MiddlewareConfig{RequireSessionToken: true})

	p := NewProvider(WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK", Token: "TOK"}))
	client := &http.Client{Transport: NewTransport(p, nil)}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/bucket/key?acl", nil)
	require.NoError(t, err)
	req.Header.Set("X-Amz-Meta-Note", "hello")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ra := seen.Load()
	require.NotNil(t, ra)
	require.Equal(t, "AK", ra.AccessKeyID)
	require.Equal(t, SchemeV2, ra.Scheme)
	require.Equal(t, "TOK", ra.SessionToken)
}

func TestTransport_V4RoundTrip(t *testing.T) {
	v := &Verifier{Store: StaticSecrets{"AK": "SK"}}
	srv, seen := newVerifyingServer(t, v, MiddlewareConfig{})

	p := NewProvider(
		WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK"}),
		WithSigner(NewV4Signer("eu-central-1", "s3")),
		WithSigningRules(V4SigningRules()),
	)
	client := &http.Client{Transport: NewTransport(p, nil)}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/bucket/some%20key?list-type=2&prefix=a+b", nil)
	require.NoError(t, err)
	req.Header.Set("X-Amz-Request-Payer", "requester")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, SignV4Algorithm, seen.Load().Scheme)
}

func TestMiddleware_RejectsBadSignature(t *testing.T) {
	v := &Verifier{Store: StaticSecrets{"AK": "SK"}, Rules: DefaultSigningRules()}
	srv, seen := newVerifyingServer(t, v, MiddlewareConfig{})

	p := NewProvider(WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "WRONG"}))
	client := &http.Client{Transport: NewTransport(p, nil)}

	resp, err := client.Get(srv.URL + "/bucket/key")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Nil(t, seen.Load())

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var errResp ErrorResponse
	require.NoError(t, xml.Unmarshal(body, &errResp))
	require.Equal(t, string(S3ErrorSignatureDoesNotMatch), errResp.Code)
}

func TestMiddleware_SkipPaths(t *testing.T) {
	v := &Verifier{Store: StaticSecrets{}}
	srv, _ := newVerifyingServer(t, v, MiddlewareConfig{SkipPaths: []string{"/health"}})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/bucket")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerifier_Errors(t *testing.T) {
	now := testTime
	v := &Verifier{Store: StaticSecrets{"AK": "SK"}, Rules: DefaultSigningRules(), Now: func() time.Time { return now }}

	sign := func(creds credentials.Static, at time.Time) *http.Request {
		p := NewProvider(WithCredentials(creds), WithClock(func() time.Time { return at }))
		signed, err := p.Authenticate(context.Background(), newRequest(t, "/b/k"))
		require.NoError(t, err)
		return signed.Request
	}

	_, err := v.Verify(sign(credentials.Static{AccessKey: "AK", SecretKey: "SK"}, now))
	require.NoError(t, err)

	_, err = v.Verify(sign(credentials.Static{AccessKey: "UNKNOWN", SecretKey: "SK"}, now))
	require.ErrorIs(t, err, ErrInvalidAccessKeyID)

	_, err = v.Verify(sign(credentials.Static{AccessKey: "AK", SecretKey: "SK"}, now.Add(-time.Hour)))
	require.ErrorIs(t, err, ErrRequestTimeTooSkewed)

	tampered := sign(credentials.Static{AccessKey: "AK", SecretKey: "SK"}, now)
	tampered.URL.Path = "/b/other"
	_, err = v.Verify(tampered)
	require.ErrorIs(t, err, ErrSignatureDoesNotMatch)
}

func TestTransport_RetryForbiddenRefreshes(t *testing.T) {
	v := &Verifier{Store: StaticSecrets{"GOOD": "SK"}, Rules: DefaultSigningRules()}
	srv, _ := newVerifyingServer(t, v, MiddlewareConfig{})

	var fetches atomic.Int32
	p := NewProvider(
		WithCredentials(credentials.Static{AccessKey: "STALE", SecretKey: "SK"}),
		WithCredentialsProvider(credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
			fetches.Add(1)
			return credentials.Static{AccessKey: "GOOD", SecretKey: "SK"}, nil
		})),
	)
	tr := NewTransport(p, nil)
	tr.RetryForbidden = true
	client := &http.Client{Transport: tr}

	resp, err := client.Get(srv.URL + "/bucket/key")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), fetches.Load())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransport_StaleForbiddenKeepsRefreshedCredentials(t *testing.T) {
	slowSeen := make(chan struct{})
	release := make(chan struct{})

	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		status := http.StatusOK
		if strings.HasPrefix(r.Header.Get(AuthorizationHeader), "AWS OLD:") {
			status = http.StatusForbidden
			if r.URL.Path == "/bucket/slow" {
				close(slowSeen)
				<-release
			}
		}
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})

	var fetches atomic.Int32
	p := NewProvider(
		WithCredentials(credentials.Static{AccessKey: "OLD", SecretKey: "SK"}),
		WithCredentialsProvider(credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
			n := fetches.Add(1)
			return credentials.Static{AccessKey: fmt.Sprintf("NEW%d", n), SecretKey: "SK"}, nil
		})),
	)
	tr := NewTransport(p, base)
	tr.RetryForbidden = true
	client := &http.Client{Transport: tr}

	slow := make(chan *http.Response, 1)
	go func() {
		resp, err := client.Get("http://store.test/bucket/slow")
		if err != nil {
			slow <- nil
			return
		}
		slow <- resp
	}()
	<-slowSeen

	resp, err := client.Get("http://store.test/bucket/fast")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), fetches.Load())
	require.Equal(t, "NEW1", p.Credentials().AccessKeyID())

	close(release)
	resp = <-slow
	require.NotNil(t, resp)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), fetches.Load())
	require.Equal(t, "NEW1", p.Credentials().AccessKeyID())
}

func TestProvider_InvalidateIf(t *testing.T) {
	p := NewProvider(WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK"}))

	require.False(t, p.InvalidateIf("OTHER"))
	require.NotNil(t, p.Credentials())

	require.True(t, p.InvalidateIf("AK"))
	require.Nil(t, p.Credentials())
	require.False(t, p.InvalidateIf("AK"))
}

func TestTransport_AuthErrorSurfaces(t *testing.T) {
	client := &http.Client{Transport: NewTransport(NewProvider(), nil)}

	_, err := client.Get("http://127.0.0.1:1/bucket/key")
	require.ErrorIs(t, err, ErrNoCredentials)
}
