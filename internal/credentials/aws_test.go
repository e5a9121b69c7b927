package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/require"
)

func TestAWSProvider_Static(t *testing.T) {
	p := NewAWSProvider(awscreds.NewStaticCredentialsProvider("AK", "SK", "TOK"))

	creds, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AK", creds.AccessKeyID())
	require.Equal(t, "SK", creds.SecretAccessKey())
	require.Equal(t, "TOK", creds.SessionToken())

	_, ok := creds.Expiration()
	require.False(t, ok)
}

func TestAWSProvider_Expiring(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC()
	p := NewAWSProvider(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AK", SecretAccessKey: "SK", CanExpire: true, Expires: exp}, nil
	}))

	creds, err := p.Fetch(context.Background())
	require.NoError(t, err)
	got, ok := creds.Expiration()
	require.True(t, ok)
	require.Equal(t, exp, got)
	require.True(t, creds.IsValid())
}

func TestAWSProvider_Error(t *testing.T) {
	sentinel := errors.New("no chain")
	p := NewAWSProvider(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, sentinel
	}))

	_, err := p.Fetch(context.Background())
	require.ErrorIs(t, err, sentinel)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}
