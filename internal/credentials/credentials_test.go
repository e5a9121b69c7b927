package credentials

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStatic_ValidAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		creds Static
		want  bool
	}{
		{name: "no expiry", creds: Static{AccessKey: "AK", SecretKey: "SK"}, want: true},
		{name: "future expiry", creds: Static{AccessKey: "AK", SecretKey: "SK", Expires: now.Add(time.Minute)}, want: true},
		{name: "expired", creds: Static{AccessKey: "AK", SecretKey: "SK", Expires: now.Add(-time.Minute)}, want: false},
		{name: "expires exactly now", creds: Static{AccessKey: "AK", SecretKey: "SK", Expires: now}, want: false},
		{name: "missing access key", creds: Static{SecretKey: "SK"}, want: false},
		{name: "missing secret", creds: Static{AccessKey: "AK"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.creds.ValidAt(now))
			require.Equal(t, tt.want, Usable(tt.creds, now))
		})
	}
}

func TestStatic_Expiration(t *testing.T) {
	_, ok := Static{AccessKey: "AK", SecretKey: "SK"}.Expiration()
	require.False(t, ok)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Static{AccessKey: "AK", SecretKey: "SK", Expires: exp}.Expiration()
	require.True(t, ok)
	require.Equal(t, exp, got)
}

func TestStatic_NeverPrintsSecret(t *testing.T) {
	creds := Static{AccessKey: "AKIDEXAMPLE", SecretKey: "super-secret", Token: "session-token", Expires: time.Now().Add(time.Hour)}

	for _, format := range []string{"%v", "%+v", "%#v", "%s"} {
		out := fmt.Sprintf(format, creds)
		require.Contains(t, out, "AKIDEXAMPLE", format)
		require.NotContains(t, out, "super-secret", format)
		require.NotContains(t, out, "session-token", format)
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Object("credentials", creds).Msg("x")
	require.Contains(t, buf.String(), "AKIDEXAMPLE")
	require.NotContains(t, buf.String(), "super-secret")
	require.NotContains(t, buf.String(), "session-token")
}

type clocklessCreds struct {
	valid bool
}

func (c clocklessCreds) AccessKeyID() string { return "AK" }
func (c clocklessCreds) SecretAccessKey() string { return "SK" }
func (c clocklessCreds) SessionToken() string { return "" }
func (c clocklessCreds) Expiration() (time.Time, bool) { return time.Time{}, false }
func (c clocklessCreds) IsValid() bool { return c.valid }

func TestUsable(t *testing.T) {
	require.False(t, Usable(nil, time.Now()))
	require.True(t, Usable(clocklessCreds{valid: true}, time.Now()))
	require.False(t, Usable(clocklessCreds{valid: false}, time.Now()))
}
