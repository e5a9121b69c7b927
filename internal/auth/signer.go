package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"hash"
	"net/http"
	"strings"
	"time"

	"github.com/prn-tf/alexander-client/internal/credentials"
)

// Signer computes a signature. Implementations must be pure: the same
// canonical request and credentials always give the same Signature.
type Signer interface {
	Sign(cr CanonicalRequest, creds credentials.Credentials) Signature
}

// Signature is the output of a Signer: the headers to add to the request.
type Signature struct {
	Scheme      string
	AccessKeyID string

	// Value is the encoded signature alone.
	Value string

	// Headers holds Authorization plus whatever else the scheme sends.
	Headers http.Header
}

// Authorization returns the Authorization header value.
func (s Signature) Authorization() string {
	return s.Headers.Get(AuthorizationHeader)
}

// Apply sets the signature headers on r, replacing existing values.
func (s Signature) Apply(r *http.Request) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	for k, vs := range s.Headers {
		r.Header[k] = append([]string(nil), vs...)
	}
}

// HMACSigner implements the S3 HMAC signature:
//
//	Authorization: <Scheme> <AccessKeyID>:base64(HMAC(secret, StringToSign))
//
// The zero value signs with scheme "AWS" and HMAC-SHA1.
type HMACSigner struct {
	Scheme string
	Hash   func() hash.Hash
}

// NewHMACSigner returns the default S3 signer.
func NewHMACSigner() HMACSigner {
	return HMACSigner{Scheme: SchemeV2, Hash: sha1.New}
}

func (s HMACSigner) scheme() string {
	if s.Scheme == "" {
		return SchemeV2
	}
	return s.Scheme
}

// StringToSign builds the canonical string:
//
//	METHOD\nCONTENT-MD5\nCONTENT-TYPE\nDATE\n<name:value\n...>RESOURCE
func (s HMACSigner) StringToSign(cr CanonicalRequest) string {
	var b strings.Builder
	b.WriteString(cr.Method)
	b.WriteByte('\n')
	b.WriteString(cr.ContentMD5)
	b.WriteByte('\n')
	b.WriteString(cr.ContentType)
	b.WriteByte('\n')
	b.WriteString(FormatDate(cr.Timestamp))
	b.WriteByte('\n')

	for _, name := range cr.HeaderNames() {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(cr.headerValue(name))
		b.WriteByte('\n')
	}

	b.WriteString(cr.Resource())
	return b.String()
}

// Sign implements Signer.
func (s HMACSigner) Sign(cr CanonicalRequest, creds credentials.Credentials) Signature {
	newHash := s.Hash
	if newHash == nil {
		newHash = sha1.New
	}

	mac := hmac.New(newHash, []byte(creds.SecretAccessKey()))
	mac.Write([]byte(s.StringToSign(cr)))
	value := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headers := make(http.Header)
	headers.Set(AuthorizationHeader, s.scheme()+" "+creds.AccessKeyID()+":"+value)
	headers.Set(DateHeader, FormatDate(cr.Timestamp))
	if token := creds.SessionToken(); token != "" {
		headers.Set(XAmzSecurityTokenHeader, token)
	}

	return Signature{
		Scheme:      s.scheme(),
		AccessKeyID: creds.AccessKeyID(),
		Value:       value,
		Headers:     headers,
	}
}

// FormatDate renders t the way the Date header carries it.
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

var _ Signer = HMACSigner{}
