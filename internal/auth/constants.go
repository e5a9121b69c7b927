// Package auth signs requests for Alexander Storage and keeps the signing
// credentials fresh. Both the legacy HMAC-SHA1 scheme and AWS Signature
// Version 4 are supported, along with verification for test servers.
package auth

import "time"

// =============================================================================
// Constants
// =============================================================================

const (
	// SchemeV2 is the default authorization scheme of the HMAC-SHA1 signer.
	SchemeV2 = "AWS"

	// SignV4Algorithm is the algorithm identifier for AWS Signature Version 4.
	SignV4Algorithm = "AWS4-HMAC-SHA256"

	// ISO8601BasicFormat is the date format used in AWS v4 signatures.
	ISO8601BasicFormat = "20060102T150405Z"

	// YYYYMMDD is the short date format used in credential scope.
	YYYYMMDD = "20060102"

	// ServiceS3 is the service name for S3.
	ServiceS3 = "s3"

	// DefaultRegion is the default region if not specified.
	DefaultRegion = "us-east-1"

	// MaxSkewTime is the maximum allowed time skew when verifying requests.
	MaxSkewTime = 15 * time.Minute

	// AWS4Request is the termination string for credential scope.
	AWS4Request = "aws4_request"
)

// =============================================================================
// Header Constants
// =============================================================================

const (
	// AuthorizationHeader is the HTTP header for authorization.
	AuthorizationHeader = "Authorization"

	// DateHeader carries the signing time of v2 requests.
	DateHeader = "Date"

	// ContentMD5Header is the content fingerprint header.
	ContentMD5Header = "Content-Md5"

	// ContentTypeHeader is the content type header.
	ContentTypeHeader = "Content-Type"

	// XAmzDateHeader is the AWS date header.
	XAmzDateHeader = "X-Amz-Date"

	// XAmzContentSHA256Header is the content hash header.
	XAmzContentSHA256Header = "X-Amz-Content-Sha256"

	// XAmzSecurityTokenHeader is the session token header.
	XAmzSecurityTokenHeader = "X-Amz-Security-Token"
)

// =============================================================================
// Special Content Hash Values
// =============================================================================

const (
	// UnsignedPayload indicates the payload is not included in the signature.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// EmptyStringSHA256 is the SHA-256 hash of an empty string.
	EmptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// =============================================================================
// Excluded Headers
// =============================================================================

// excludedHeaders never take part in the extension header set. The signer
// owns the date headers, and the session token travels unsigned.
var excludedHeaders = map[string]bool{
	"authorization":        true,
	"date":                 true,
	"x-amz-date":           true,
	"x-amz-security-token": true,
	"content-md5":          true,
	"content-type":         true,
	"host":                 true,
}

// s3SubResources are the query keys S3 includes in the v2 resource string.
var s3SubResources = []string{
	"acl", "cors", "delete", "lifecycle", "location", "logging", "notification",
	"partNumber", "policy", "requestPayment", "response-cache-control",
	"response-content-disposition", "response-content-encoding",
	"response-content-language", "response-content-type", "response-expires",
	"restore", "tagging", "torrent", "uploadId", "uploads", "versionId",
	"versioning", "versions", "website",
}
