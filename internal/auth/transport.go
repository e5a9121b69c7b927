package auth

import (
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Transport is an http.RoundTripper that signs every request through a
// Provider before handing it to Base.
type Transport struct {
	Provider *Provider

	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper

	// RetryForbidden retries a bodiless request once with freshly fetched
	// credentials when the server answers 403.
	RetryForbidden bool
}

// NewTransport wraps base.
func NewTransport(p *Provider, base http.RoundTripper) *Transport {
	return &Transport{Provider: p, Base: base}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, signed, err := t.roundTrip(r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusForbidden && t.RetryForbidden && t.Provider.CanRefresh() && bodiless(r) {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		// Only the key that was rejected is dropped; if another request
		// already refreshed it, the retry signs with the new one.
		t.Provider.InvalidateIf(signed.AccessKeyID)
		resp, _, err = t.roundTrip(r)
		return resp, err
	}

	return resp, nil
}

func (t *Transport) roundTrip(r *http.Request) (*http.Response, *SignedRequest, error) {
	signed, err := t.Provider.Authenticate(r.Context(), r)
	if err != nil {
		if r.Body != nil {
			r.Body.Close()
		}
		return nil, nil, err
	}

	otel.GetTextMapPropagator().Inject(r.Context(), propagation.HeaderCarrier(signed.Request.Header))

	resp, err := t.base().RoundTrip(signed.Request)
	if err != nil {
		return nil, nil, err
	}
	return resp, signed, nil
}

func bodiless(r *http.Request) bool {
	return r.Body == nil || r.Body == http.NoBody
}
