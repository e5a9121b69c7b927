package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/prn-tf/alexander-client/internal/credentials"
)

// =============================================================================
// Credential Scope
// =============================================================================

// CredentialScope represents the scope of AWS credentials.
// Format: {date}/{region}/{service}/aws4_request
type CredentialScope struct {
	Date    time.Time
	Region  string
	Service string
}

// String returns the credential scope as a string.
func (cs CredentialScope) String() string {
	return cs.Date.UTC().Format(YYYYMMDD) + "/" + cs.Region + "/" + cs.Service + "/" + AWS4Request
}

// =============================================================================
// Signer
// =============================================================================

// V4Signer implements AWS Signature Version 4. Like HMACSigner it leaves the
// session token out of the signature and only attaches it as a header.
type V4Signer struct {
	Region  string
	Service string
}

// NewV4Signer returns a signer for region and service, defaulting to
// us-east-1 and s3.
func NewV4Signer(region, service string) V4Signer {
	if region == "" {
		region = DefaultRegion
	}
	if service == "" {
		service = ServiceS3
	}
	return V4Signer{Region: region, Service: service}
}

func (s V4Signer) scope(t time.Time) CredentialScope {
	return CredentialScope{Date: t, Region: s.Region, Service: s.Service}
}

// signedHeaders returns the canonical header set: the extension headers plus
// host, the date, the payload hash, and the content headers when present.
func (s V4Signer) signedHeaders(cr CanonicalRequest) map[string]string {
	headers := make(map[string]string, len(cr.Headers)+4)
	for _, name := range cr.HeaderNames() {
		headers[name] = cr.headerValue(name)
	}
	headers["host"] = cr.Host
	headers["x-amz-date"] = cr.Timestamp.UTC().Format(ISO8601BasicFormat)
	if _, ok := headers["x-amz-content-sha256"]; !ok {
		headers["x-amz-content-sha256"] = cr.PayloadHash
	}
	if cr.ContentType != "" {
		headers["content-type"] = strings.Join(strings.Fields(cr.ContentType), " ")
	}
	if cr.ContentMD5 != "" {
		headers["content-md5"] = cr.ContentMD5
	}
	return headers
}

// CanonicalString builds the v4 canonical request string.
func (s V4Signer) CanonicalString(cr CanonicalRequest) (canonical string, signed []string) {
	headers := s.signedHeaders(cr)
	signed = make([]string, 0, len(headers))
	for name := range headers {
		signed = append(signed, name)
	}
	sort.Strings(signed)

	var h strings.Builder
	for _, name := range signed {
		h.WriteString(name)
		h.WriteByte(':')
		h.WriteString(headers[name])
		h.WriteByte('\n')
	}

	canonical = cr.Method + "\n" +
		getCanonicalURI(cr.Path) + "\n" +
		getCanonicalQueryString(cr.Query) + "\n" +
		h.String() + "\n" +
		strings.Join(signed, ";") + "\n" +
		cr.PayloadHash

	return canonical, signed
}

// StringToSign builds the v4 string to sign.
func (s V4Signer) StringToSign(cr CanonicalRequest) string {
	canonical, _ := s.CanonicalString(cr)
	return GetStringToSign(canonical, cr.Timestamp, s.scope(cr.Timestamp))
}

// Sign implements Signer.
func (s V4Signer) Sign(cr CanonicalRequest, creds credentials.Credentials) Signature {
	t := cr.Timestamp.UTC()
	canonical, signed := s.CanonicalString(cr)
	scope := s.scope(t)

	signingKey := GetSigningKey(creds.SecretAccessKey(), t, s.Region, s.Service)
	value := GetSignature(signingKey, GetStringToSign(canonical, t, scope))

	headers := make(http.Header)
	headers.Set(AuthorizationHeader, SignV4Algorithm+
		" Credential="+creds.AccessKeyID()+"/"+scope.String()+
		", SignedHeaders="+strings.Join(signed, ";")+
		", Signature="+value)
	headers.Set(XAmzDateHeader, t.Format(ISO8601BasicFormat))
	if _, ok := cr.Headers["x-amz-content-sha256"]; !ok {
		headers.Set(XAmzContentSHA256Header, cr.PayloadHash)
	}
	if token := creds.SessionToken(); token != "" {
		headers.Set(XAmzSecurityTokenHeader, token)
	}

	return Signature{
		Scheme:      SignV4Algorithm,
		AccessKeyID: creds.AccessKeyID(),
		Value:       value,
		Headers:     headers,
	}
}

// =============================================================================
// Signing Key Generation
// =============================================================================

// GetSigningKey derives the signing key for AWS v4 signatures.
// This implements the key derivation: HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), service), "aws4_request")
func GetSigningKey(secretKey string, date time.Time, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(date.UTC().Format(YYYYMMDD)))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(AWS4Request))
}

// GetSignature calculates the signature using the signing key.
func GetSignature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// GetStringToSign builds the string to sign.
func GetStringToSign(canonicalRequest string, requestTime time.Time, scope CredentialScope) string {
	hash := sha256.Sum256([]byte(canonicalRequest))

	return SignV4Algorithm + "\n" +
		requestTime.UTC().Format(ISO8601BasicFormat) + "\n" +
		scope.String() + "\n" +
		hex.EncodeToString(hash[:])
}

// =============================================================================
// Canonicalization Helpers
// =============================================================================

// getCanonicalURI returns the path as sent. S3 signs the escaped path once,
// without normalizing it.
func getCanonicalURI(escapedPath string) string {
	if escapedPath == "" {
		return "/"
	}
	return escapedPath
}

// getCanonicalQueryString returns the sorted, URI-encoded query string.
func getCanonicalQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var pairs []string
	for _, key := range keys {
		values := append([]string(nil), query[key]...)
		sort.Strings(values)
		for _, value := range values {
			pairs = append(pairs, uriEncode(key)+"="+uriEncode(value))
		}
	}

	return strings.Join(pairs, "&")
}

// uriEncode percent-encodes everything but unreserved characters.
func uriEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
