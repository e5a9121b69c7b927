package auth

import (
	"context"
	"encoding/xml"
	"net/http"

	"github.com/rs/zerolog"
)

// RequestAuth describes a verified request.
type RequestAuth struct {
	AccessKeyID  string
	Scheme       string
	SessionToken string
}

type requestAuthKey struct{}

// GetRequestAuth retrieves the RequestAuth stored by Middleware.
func GetRequestAuth(ctx context.Context) (*RequestAuth, bool) {
	ra, ok := ctx.Value(requestAuthKey{}).(*RequestAuth)
	return ra, ok
}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// SkipPaths are served without authentication.
	SkipPaths []string

	// RequireSessionToken rejects requests without X-Amz-Security-Token.
	RequireSessionToken bool
}

// Middleware verifies every request with v and answers failures with an
// S3-style XML error.
func Middleware(v *Verifier, config MiddlewareConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range config.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			sv, err := v.Verify(r)
			if err == nil && config.RequireSessionToken && r.Header.Get(XAmzSecurityTokenHeader) == "" {
				err = ErrMissingSecurityHeader
			}
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
				writeAuthError(w, err)
				return
			}

			ra := &RequestAuth{
				AccessKeyID:  sv.AccessKey,
				Scheme:       sv.Scheme,
				SessionToken: r.Header.Get(XAmzSecurityTokenHeader),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestAuthKey{}, ra)))
		})
	}
}

// ErrorResponse is the S3 XML error body.
type ErrorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// writeAuthError writes an S3-compatible error response.
func writeAuthError(w http.ResponseWriter, err error) {
	authErr := NewAuthError(err)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(authErr.HTTPStatus)

	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(authErr.Code),
		Message: authErr.Message,
	})
}
