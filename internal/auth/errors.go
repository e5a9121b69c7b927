package auth

import (
	"errors"
	"net/http"
)

// Client-side errors.
var (
	// ErrNoCredentials indicates there are no usable credentials and no
	// credentials provider to obtain them.
	ErrNoCredentials = errors.New("no credentials available")

	// ErrRefreshFailed indicates the credentials provider failed.
	ErrRefreshFailed = errors.New("credential refresh failed")

	// ErrInvalidCredentials indicates a provider returned credentials that
	// cannot sign.
	ErrInvalidCredentials = errors.New("provider returned unusable credentials")
)

// Verification errors.
var (
	// ErrInvalidAuthorizationHeader indicates the Authorization header is malformed.
	ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")

	// ErrSignatureDoesNotMatch indicates the calculated signature doesn't match.
	ErrSignatureDoesNotMatch = errors.New("the request signature we calculated does not match the signature you provided")

	// ErrMissingSecurityHeader indicates a required security header is missing.
	ErrMissingSecurityHeader = errors.New("missing required security header")

	// ErrRequestTimeTooSkewed indicates the request time is too far from server time.
	ErrRequestTimeTooSkewed = errors.New("the difference between the request time and the server time is too large")

	// ErrInvalidAccessKeyID indicates the access key ID is not found or invalid.
	ErrInvalidAccessKeyID = errors.New("the access key ID you provided does not exist in our records")
)

// ErrorCode identifies an authentication failure. Server-side codes match
// the S3 error codes.
type ErrorCode string

const (
	// ErrorNoCredentials is returned when nothing can supply credentials.
	ErrorNoCredentials ErrorCode = "NoCredentials"

	// ErrorRefreshFailed is returned to every waiter of a failed refresh.
	ErrorRefreshFailed ErrorCode = "RefreshFailed"

	// S3ErrorAccessDenied maps to HTTP 403
	S3ErrorAccessDenied ErrorCode = "AccessDenied"

	// S3ErrorSignatureDoesNotMatch maps to HTTP 403
	S3ErrorSignatureDoesNotMatch ErrorCode = "SignatureDoesNotMatch"

	// S3ErrorInvalidAccessKeyId maps to HTTP 403
	S3ErrorInvalidAccessKeyId ErrorCode = "InvalidAccessKeyId"

	// S3ErrorRequestTimeTooSkewed maps to HTTP 403
	S3ErrorRequestTimeTooSkewed ErrorCode = "RequestTimeTooSkewed"

	// S3ErrorMissingSecurityHeader maps to HTTP 400
	S3ErrorMissingSecurityHeader ErrorCode = "MissingSecurityHeader"

	// S3ErrorAuthorizationHeaderMalformed maps to HTTP 400
	S3ErrorAuthorizationHeaderMalformed ErrorCode = "AuthorizationHeaderMalformed"
)

// AuthError carries an error code and the underlying cause.
type AuthError struct {
	// Code is the error code.
	Code ErrorCode

	// Message is the error message.
	Message string

	// HTTPStatus is the status a server answers with. Zero on the client side.
	HTTPStatus int

	// Err is the cause, if any.
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the client-side sentinels by code.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrNoCredentials:
		return e.Code == ErrorNoCredentials
	case ErrRefreshFailed:
		return e.Code == ErrorRefreshFailed
	}
	return false
}

func errNoCredentials() *AuthError {
	return &AuthError{Code: ErrorNoCredentials, Message: ErrNoCredentials.Error()}
}

func errRefreshFailed(cause error) *AuthError {
	return &AuthError{Code: ErrorRefreshFailed, Message: ErrRefreshFailed.Error(), Err: cause}
}

// NewAuthError maps a verification error to its S3 error code and status.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrSignatureDoesNotMatch):
		return &AuthError{
			Code:       S3ErrorSignatureDoesNotMatch,
			Message:    err.Error(),
			HTTPStatus: http.StatusForbidden,
		}

	case errors.Is(err, ErrInvalidAccessKeyID):
		return &AuthError{
			Code:       S3ErrorInvalidAccessKeyId,
			Message:    err.Error(),
			HTTPStatus: http.StatusForbidden,
		}

	case errors.Is(err, ErrRequestTimeTooSkewed):
		return &AuthError{
			Code:       S3ErrorRequestTimeTooSkewed,
			Message:    err.Error(),
			HTTPStatus: http.StatusForbidden,
		}

	case errors.Is(err, ErrMissingSecurityHeader):
		return &AuthError{
			Code:       S3ErrorMissingSecurityHeader,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadRequest,
		}

	case errors.Is(err, ErrInvalidAuthorizationHeader):
		return &AuthError{
			Code:       S3ErrorAuthorizationHeaderMalformed,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadRequest,
		}

	default:
		return &AuthError{
			Code:       S3ErrorAccessDenied,
			Message:    err.Error(),
			HTTPStatus: http.StatusForbidden,
		}
	}
}
