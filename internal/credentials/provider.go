package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-client/internal/resource"
)

// ErrIncompleteCredentials indicates a response decoded without an access key
// or secret key.
var ErrIncompleteCredentials = errors.New("credentials response missing access key or secret key")

// Provider obtains fresh credentials.
//
// Each call to Fetch performs its own fetch. Coalescing concurrent callers is
// the job of the auth provider, not of implementations.
type Provider interface {
	Fetch(ctx context.Context) (Credentials, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Credentials, error)

// Fetch implements Provider.
func (f ProviderFunc) Fetch(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// FetchError wraps a transport or transform failure without altering it.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "fetch credentials: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Getter is the part of resource.Resource a ResourceProvider needs.
type Getter interface {
	Get(ctx context.Context, path string) (*resource.Response, error)
}

// Transform turns a credential endpoint response into Credentials.
type Transform func(resp *resource.Response) (Credentials, error)

// ResourceProvider fetches credentials with one GET per Fetch.
type ResourceProvider struct {
	res       Getter
	path      string
	transform Transform
	timeout   time.Duration
	logger    zerolog.Logger
}

// ResourceOption configures a ResourceProvider.
type ResourceOption func(*ResourceProvider)

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) ResourceOption {
	return func(p *ResourceProvider) {
		p.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ResourceOption {
	return func(p *ResourceProvider) {
		p.logger = logger.With().Str("component", "credentials").Logger()
	}
}

// NewResourceProvider creates a provider that GETs path from res and applies
// transform to the response. A nil transform means JSONTransform.
func NewResourceProvider(res Getter, path string, transform Transform, opts ...ResourceOption) *ResourceProvider {
	if transform == nil {
		transform = JSONTransform
	}
	p := &ResourceProvider{
		res:       res,
		path:      path,
		transform: transform,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch implements Provider.
func (p *ResourceProvider) Fetch(ctx context.Context) (Credentials, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.res.Get(ctx, p.path)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	creds, err := p.transform(resp)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	p.logger.Debug().
		Object("credentials", LogObject(creds)).
		Str("request_id", resp.RequestID).
		Msg("fetched credentials")

	return creds, nil
}

// jsonCredentials accepts both the storage service's own field names and the
// container-credentials shape used by AWS endpoints.
type jsonCredentials struct {
	AccessKey    string    `json:"accessKey"`
	SecretKey    string    `json:"secretKey"`
	SessionToken string    `json:"sessionToken"`
	Expiration   time.Time `json:"expiration"`

	AWSAccessKeyID     string    `json:"AccessKeyId"`
	AWSSecretAccessKey string    `json:"SecretAccessKey"`
	AWSToken           string    `json:"Token"`
	AWSExpiration      time.Time `json:"Expiration"`
}

// JSONTransform decodes a JSON credentials document. Expiration is RFC 3339
// and optional.
func JSONTransform(resp *resource.Response) (Credentials, error) {
	var doc jsonCredentials
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}

	creds := Static{
		AccessKey: firstNonEmpty(doc.AccessKey, doc.AWSAccessKeyID),
		SecretKey: firstNonEmpty(doc.SecretKey, doc.AWSSecretAccessKey),
		Token:     firstNonEmpty(doc.SessionToken, doc.AWSToken),
		Expires:   doc.Expiration,
	}
	if creds.Expires.IsZero() {
		creds.Expires = doc.AWSExpiration
	}

	if creds.AccessKey == "" || creds.SecretKey == "" {
		return nil, ErrIncompleteCredentials
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	_ Provider = (*ResourceProvider)(nil)
	_ Provider = ProviderFunc(nil)
)
