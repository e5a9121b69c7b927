package auth

import (
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"
)

// SigningRules decide which headers and query parameters take part in a
// signature. Services differ here, so nothing is hard-coded in the signers.
type SigningRules struct {
	// HeaderPrefixes selects extension headers by lowercase name prefix.
	HeaderPrefixes []string

	// Headers selects additional extension headers by name.
	Headers []string

	// SubResources lists the query keys that are part of the resource.
	SubResources []string

	// SignAllQuery includes every query parameter, ignoring SubResources.
	SignAllQuery bool
}

// DefaultSigningRules returns the S3 rules for the HMAC-SHA1 scheme.
func DefaultSigningRules() SigningRules {
	return SigningRules{
		HeaderPrefixes: []string{"x-amz-"},
		SubResources:   slices.Clone(s3SubResources),
	}
}

// V4SigningRules returns the rules used with V4Signer.
func V4SigningRules() SigningRules {
	return SigningRules{
		HeaderPrefixes: []string{"x-amz-"},
		SignAllQuery:   true,
	}
}

func (sr SigningRules) signsHeader(lower string) bool {
	if excludedHeaders[lower] {
		return false
	}
	for _, p := range sr.HeaderPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	for _, h := range sr.Headers {
		if strings.EqualFold(h, lower) {
			return true
		}
	}
	return false
}

func (sr SigningRules) signsQuery(key string) bool {
	return sr.SignAllQuery || slices.Contains(sr.SubResources, key)
}

// CanonicalRequest is everything a signature covers. It is computed once per
// signing attempt and is never sent anywhere.
type CanonicalRequest struct {
	Method      string
	ContentMD5  string
	ContentType string
	Timestamp   time.Time

	// Headers are the signable extension headers, keyed by lowercase name.
	Headers map[string][]string

	Host string

	// Path is the escaped request path.
	Path string

	// Query holds the signable query parameters.
	Query url.Values

	PayloadHash string
}

// NewCanonicalRequest extracts the signable parts of r. The timestamp is an
// input so that signing never reads the clock.
func NewCanonicalRequest(r *http.Request, rules SigningRules, at time.Time) CanonicalRequest {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	cr := CanonicalRequest{
		Method:      method,
		ContentMD5:  r.Header.Get(ContentMD5Header),
		ContentType: r.Header.Get(ContentTypeHeader),
		Timestamp:   at,
		Headers:     make(map[string][]string),
		Host:        r.Host,
		Path:        r.URL.EscapedPath(),
		Query:       make(url.Values),
		PayloadHash: GetPayloadHash(r),
	}
	if cr.Host == "" {
		cr.Host = r.URL.Host
	}
	if cr.Path == "" {
		cr.Path = "/"
	}

	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if rules.signsHeader(lower) {
			cr.Headers[lower] = append(cr.Headers[lower], values...)
		}
	}

	for key, values := range r.URL.Query() {
		if rules.signsQuery(key) {
			cr.Query[key] = slices.Clone(values)
		}
	}

	return cr
}

// HeaderNames returns the lowercase extension header names, sorted.
func (cr CanonicalRequest) HeaderNames() []string {
	names := make([]string, 0, len(cr.Headers))
	for name := range cr.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// headerValue joins the trimmed values of a header with commas, collapsing
// inner whitespace.
func (cr CanonicalRequest) headerValue(name string) string {
	values := cr.Headers[name]
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.Join(strings.Fields(v), " ")
	}
	return strings.Join(out, ",")
}

// Resource returns the path followed by the sorted sub-resource markers,
// e.g. "/bucket/key?acl&versionId=3".
func (cr CanonicalRequest) Resource() string {
	if len(cr.Query) == 0 {
		return cr.Path
	}

	keys := make([]string, 0, len(cr.Query))
	for k := range cr.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := cr.Query[k]
		if len(values) == 0 {
			parts = append(parts, k)
			continue
		}
		for _, v := range values {
			if v == "" {
				parts = append(parts, k)
			} else {
				parts = append(parts, k+"="+v)
			}
		}
	}

	return cr.Path + "?" + strings.Join(parts, "&")
}

// GetPayloadHash extracts or computes the payload hash from a request.
func GetPayloadHash(r *http.Request) string {
	if hash := r.Header.Get(XAmzContentSHA256Header); hash != "" {
		return hash
	}

	// Bodiless methods hash the empty string.
	if r.Method == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodDelete {
		return EmptyStringSHA256
	}

	return UnsignedPayload
}
