package testserver

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-client/internal/auth"
	"github.com/prn-tf/alexander-client/internal/credentials"
	"github.com/prn-tf/alexander-client/internal/resource"
)

func TestServer_Health(t *testing.T) {
	srv := New(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RejectsUnsigned(t *testing.T) {
	srv := New(t)
	srv.Put("bucket", "key", Object{Body: []byte("data")})

	resp, err := http.Get(srv.ObjectURL("bucket", "key"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, srv.ObjectRequests())
}

func TestServer_IssuedCredentials(t *testing.T) {
	srv := New(t, WithBearerToken("t0ken"))
	srv.Put("bucket", "dir/file.txt", Object{Body: []byte("hello world"), Filename: "file.txt"})

	res, err := resource.New(srv.URL, resource.WithBearerToken("t0ken"))
	require.NoError(t, err)
	fetcher := credentials.NewResourceProvider(res, CredentialsPath, credentials.JSONTransform)

	p := auth.NewProvider(auth.WithCredentialsProvider(fetcher))
	client := &http.Client{Transport: auth.NewTransport(p, nil)}

	resp, err := client.Get(srv.ObjectURL("bucket", "dir/file.txt"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello world", string(body))
	require.Contains(t, resp.Header.Get("Content-Disposition"), "file.txt")
	require.Equal(t, 1, srv.CredentialCalls())

	creds := p.Credentials()
	require.NotNil(t, creds)
	require.Equal(t, "session-"+creds.AccessKeyID(), creds.SessionToken())
}

func TestServer_CredentialsRequireBearer(t *testing.T) {
	srv := New(t, WithBearerToken("t0ken"))

	res, err := resource.New(srv.URL)
	require.NoError(t, err)
	_, err = credentials.NewResourceProvider(res, CredentialsPath, credentials.JSONTransform).Fetch(context.Background())

	var fetchErr *credentials.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, resource.ErrUnexpectedStatusCode)
}

func TestServer_RangeAndInterrupt(t *testing.T) {
	srv := New(t, WithAccessKey("AK", "SK"))
	srv.Put("bucket", "key", Object{Body: []byte("0123456789")})

	p := auth.NewProvider(auth.WithCredentials(srv.Credentials("AK")))
	client := &http.Client{Transport: auth.NewTransport(p, nil)}

	req, err := http.NewRequest(http.MethodGet, srv.ObjectURL("bucket", "key"), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=4-")

	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "456789", string(body))

	srv.InterruptNext("bucket", "key", 3)
	resp, err = client.Get(srv.ObjectURL("bucket", "key"))
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Error(t, err)
	require.Equal(t, "012", string(body))

	require.Equal(t, []string{"bytes=4-", ""}, srv.Ranges())
}

func TestServer_RevokedKey(t *testing.T) {
	srv := New(t, WithAccessKey("AK", "SK"))
	srv.Put("bucket", "key", Object{Body: []byte("x")})
	srv.Revoke("AK")

	p := auth.NewProvider(auth.WithCredentials(credentials.Static{AccessKey: "AK", SecretKey: "SK"}))
	client := &http.Client{Transport: auth.NewTransport(p, nil)}

	resp, err := client.Get(srv.ObjectURL("bucket", "key"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// The AWS SDK signs with its own v4 implementation; the server must accept it.
func TestServer_AcceptsSDKRequests(t *testing.T) {
	srv := New(t, WithAccessKey("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"))
	modified := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	srv.Put("bucket", "reports/2024.csv", Object{Body: []byte("a,b,c\n"), LastModified: modified})

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                awscreds.NewStaticCredentialsProvider("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", ""),
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	ctx := context.Background()

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String("bucket"),
		Key:    aws.String("reports/2024.csv"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(6), aws.ToInt64(head.ContentLength))
	require.True(t, modified.Equal(aws.ToTime(head.LastModified)))

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String("bucket"),
		Key:    aws.String("reports/2024.csv"),
		Range:  aws.String("bytes=2-"),
	})
	require.NoError(t, err)
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	require.Equal(t, "b,c\n", string(body))
}
