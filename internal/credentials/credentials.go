// Package credentials holds the access keys requests are signed with and the
// providers that obtain them.
package credentials

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Credentials is anything that can sign requests.
// Implementations are treated as immutable values: holders replace them,
// they never change them in place.
type Credentials interface {
	AccessKeyID() string
	SecretAccessKey() string
	SessionToken() string

	// Expiration returns the instant after which the credentials stop being
	// valid. ok is false for credentials that never expire.
	Expiration() (t time.Time, ok bool)

	// IsValid reports whether the credentials can sign a request right now.
	IsValid() bool
}

// Static is a plain credentials value.
type Static struct {
	AccessKey string
	SecretKey string
	Token     string

	// Expires is the expiry instant. The zero value means no expiry.
	Expires time.Time
}

// AccessKeyID implements Credentials.
func (s Static) AccessKeyID() string { return s.AccessKey }

// SecretAccessKey implements Credentials.
func (s Static) SecretAccessKey() string { return s.SecretKey }

// SessionToken implements Credentials.
func (s Static) SessionToken() string { return s.Token }

// Expiration implements Credentials.
func (s Static) Expiration() (time.Time, bool) {
	return s.Expires, !s.Expires.IsZero()
}

// IsValid implements Credentials.
func (s Static) IsValid() bool {
	return s.ValidAt(time.Now())
}

// ValidAt reports whether the credentials are usable at t.
func (s Static) ValidAt(t time.Time) bool {
	if s.AccessKey == "" || s.SecretKey == "" {
		return false
	}
	return s.Expires.IsZero() || t.Before(s.Expires)
}

// String never includes the secret key or session token.
func (s Static) String() string {
	if s.Expires.IsZero() {
		return fmt.Sprintf("Credentials{AccessKeyID: %s, Secret: <redacted>}", s.AccessKey)
	}
	return fmt.Sprintf("Credentials{AccessKeyID: %s, Secret: <redacted>, Expires: %s}",
		s.AccessKey, s.Expires.UTC().Format(time.RFC3339))
}

// GoString keeps %#v from printing the secret.
func (s Static) GoString() string {
	return s.String()
}

// MarshalZerologObject logs the identity of the credentials and nothing secret.
func (s Static) MarshalZerologObject(e *zerolog.Event) {
	e.Str("access_key_id", s.AccessKey).Bool("session", s.Token != "")
	if !s.Expires.IsZero() {
		e.Time("expires", s.Expires)
	}
}

// validAt is implemented by credentials that accept an injected clock.
type validAt interface {
	ValidAt(t time.Time) bool
}

// Usable reports whether c can sign a request at now. A nil value is never
// usable. Credentials that don't expose ValidAt fall back to IsValid.
func Usable(c Credentials, now time.Time) bool {
	if c == nil {
		return false
	}
	if v, ok := c.(validAt); ok {
		return v.ValidAt(now)
	}
	return c.IsValid()
}

// LogObject returns a zerolog-marshalable view of any Credentials.
func LogObject(c Credentials) zerolog.LogObjectMarshaler {
	if c == nil {
		return Static{}
	}
	exp, _ := c.Expiration()
	return Static{AccessKey: c.AccessKeyID(), Token: c.SessionToken(), Expires: exp}
}

var (
	_ Credentials                = Static{}
	_ zerolog.LogObjectMarshaler = Static{}
)
