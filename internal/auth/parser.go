package auth

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Authorization Header Parsing
// =============================================================================

// Regular expressions for parsing AWS v4 authorization header
var (
	// credentialRegex matches Credential=accessKey/date/region/service/aws4_request
	credentialRegex = regexp.MustCompile(`Credential=([^/]+)/(\d{8})/([^/]+)/([^/]+)/aws4_request`)

	// signedHeadersRegex matches SignedHeaders=header1;header2;header3
	signedHeadersRegex = regexp.MustCompile(`SignedHeaders=([^,\s]+)`)

	// signatureRegex matches Signature=hexstring
	signatureRegex = regexp.MustCompile(`Signature=([a-f0-9]{64})`)
)

// SignedValues are the parts of a parsed Authorization header.
type SignedValues struct {
	// Scheme is "AWS4-HMAC-SHA256" for v4, otherwise the HMAC scheme name.
	Scheme string

	AccessKey string

	// Signature is base64 for the HMAC scheme and hex for v4.
	Signature string

	// Scope and SignedHeaders are only set for v4.
	Scope         CredentialScope
	SignedHeaders []string
}

// IsV4 reports whether the header used AWS Signature Version 4.
func (sv *SignedValues) IsV4() bool {
	return sv.Scheme == SignV4Algorithm
}

// ParseAuthorization parses either
//
//	<scheme> <accessKey>:<signature>
//	AWS4-HMAC-SHA256 Credential=..., SignedHeaders=..., Signature=...
func ParseAuthorization(header string) (*SignedValues, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAuthorizationHeader)
	}
	if strings.HasPrefix(header, SignV4Algorithm+" ") {
		return ParseSignV4(header)
	}

	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidAuthorizationHeader)
	}

	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 || idx == len(rest)-1 {
		return nil, fmt.Errorf("%w: expected <accessKey>:<signature>", ErrInvalidAuthorizationHeader)
	}

	return &SignedValues{
		Scheme:    scheme,
		AccessKey: strings.TrimSpace(rest[:idx]),
		Signature: rest[idx+1:],
	}, nil
}

// ParseSignV4 parses an AWS v4 Authorization header.
// Format: AWS4-HMAC-SHA256 Credential=access_key/date/region/service/aws4_request, SignedHeaders=..., Signature=...
func ParseSignV4(authHeader string) (*SignedValues, error) {
	if !strings.HasPrefix(authHeader, SignV4Algorithm) {
		return nil, ErrInvalidAuthorizationHeader
	}

	credentialMatch := credentialRegex.FindStringSubmatch(authHeader)
	if len(credentialMatch) < 5 {
		return nil, fmt.Errorf("%w: invalid credential format", ErrInvalidAuthorizationHeader)
	}

	date, err := time.Parse(YYYYMMDD, credentialMatch[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date in credential", ErrInvalidAuthorizationHeader)
	}

	signedHeadersMatch := signedHeadersRegex.FindStringSubmatch(authHeader)
	if len(signedHeadersMatch) < 2 {
		return nil, fmt.Errorf("%w: missing signed headers", ErrInvalidAuthorizationHeader)
	}
	signedHeaders := strings.Split(signedHeadersMatch[1], ";")

	if !sort.StringsAreSorted(signedHeaders) {
		return nil, fmt.Errorf("%w: signed headers not sorted", ErrInvalidAuthorizationHeader)
	}

	signatureMatch := signatureRegex.FindStringSubmatch(authHeader)
	if len(signatureMatch) < 2 {
		return nil, fmt.Errorf("%w: missing or invalid signature", ErrInvalidAuthorizationHeader)
	}

	return &SignedValues{
		Scheme:    SignV4Algorithm,
		AccessKey: credentialMatch[1],
		Scope: CredentialScope{
			Date:    date,
			Region:  credentialMatch[3],
			Service: credentialMatch[4],
		},
		SignedHeaders: signedHeaders,
		Signature:     signatureMatch[1],
	}, nil
}

// GetRequestTime extracts the signing time from X-Amz-Date or Date.
func GetRequestTime(r *http.Request) (time.Time, error) {
	if dateStr := r.Header.Get(XAmzDateHeader); dateStr != "" {
		t, err := time.Parse(ISO8601BasicFormat, dateStr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad %s", ErrMissingSecurityHeader, XAmzDateHeader)
		}
		return t, nil
	}

	if dateStr := r.Header.Get(DateHeader); dateStr != "" {
		t, err := http.ParseTime(dateStr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad %s", ErrMissingSecurityHeader, DateHeader)
		}
		return t, nil
	}

	return time.Time{}, ErrMissingSecurityHeader
}

// ValidateRequestTime checks if the request time is within maxSkew of now.
func ValidateRequestTime(requestTime, now time.Time, maxSkew time.Duration) error {
	skew := now.Sub(requestTime)
	if skew < 0 {
		skew = -skew
	}

	if skew > maxSkew {
		return ErrRequestTimeTooSkewed
	}

	return nil
}
