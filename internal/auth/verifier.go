package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"hash"
	"net/http"
	"slices"
	"time"

	"github.com/prn-tf/alexander-client/internal/credentials"
)

// SecretStore resolves the secret key of an access key ID.
type SecretStore interface {
	SecretKey(ctx context.Context, accessKeyID string) (string, error)
}

// StaticSecrets is a SecretStore backed by a map.
type StaticSecrets map[string]string

// SecretKey implements SecretStore.
func (s StaticSecrets) SecretKey(_ context.Context, accessKeyID string) (string, error) {
	secret, ok := s[accessKeyID]
	if !ok {
		return "", ErrInvalidAccessKeyID
	}
	return secret, nil
}

// Verifier recomputes the signature of an incoming request and compares it
// with the one the client sent.
type Verifier struct {
	Store SecretStore

	// Rules must match the rules the client signed with (HMAC scheme only;
	// v4 requests list their signed headers themselves).
	Rules SigningRules

	// Hash is the HMAC hash of the HMAC scheme. Defaults to SHA-1.
	Hash func() hash.Hash

	// MaxSkew bounds the clock difference. Zero means MaxSkewTime.
	MaxSkew time.Duration

	Now func() time.Time
}

// Verify checks the Authorization header of r.
func (v *Verifier) Verify(r *http.Request) (*SignedValues, error) {
	sv, err := ParseAuthorization(r.Header.Get(AuthorizationHeader))
	if err != nil {
		return nil, err
	}

	requestTime, err := GetRequestTime(r)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	maxSkew := v.MaxSkew
	if maxSkew == 0 {
		maxSkew = MaxSkewTime
	}
	if err := ValidateRequestTime(requestTime, now(), maxSkew); err != nil {
		return nil, err
	}

	secret, err := v.Store.SecretKey(r.Context(), sv.AccessKey)
	if err != nil {
		return nil, ErrInvalidAccessKeyID
	}
	creds := credentials.Static{AccessKey: sv.AccessKey, SecretKey: secret}

	var expected Signature
	if sv.IsV4() {
		rules := SigningRules{SignAllQuery: true}
		for _, h := range sv.SignedHeaders {
			if !slices.Contains([]string{"host", "x-amz-date", "content-type", "content-md5"}, h) {
				rules.Headers = append(rules.Headers, h)
			}
		}
		cr := NewCanonicalRequest(r, rules, requestTime)
		expected = V4Signer{Region: sv.Scope.Region, Service: sv.Scope.Service}.Sign(cr, creds)
	} else {
		newHash := v.Hash
		if newHash == nil {
			newHash = sha1.New
		}
		cr := NewCanonicalRequest(r, v.Rules, requestTime)
		expected = HMACSigner{Scheme: sv.Scheme, Hash: newHash}.Sign(cr, creds)
	}

	if !hmac.Equal([]byte(expected.Value), []byte(sv.Signature)) {
		return nil, ErrSignatureDoesNotMatch
	}

	return sv, nil
}
