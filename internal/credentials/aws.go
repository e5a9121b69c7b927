package credentials

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// AWSProvider adapts an aws.CredentialsProvider, so the SDK's default chain
// (environment, shared config, SSO, IMDS) can feed the auth provider.
type AWSProvider struct {
	provider aws.CredentialsProvider
}

// NewAWSProvider wraps provider.
func NewAWSProvider(provider aws.CredentialsProvider) *AWSProvider {
	return &AWSProvider{provider: provider}
}

// LoadAWSProvider resolves the SDK default credential chain. Empty profile or
// region leaves the SDK's own resolution in place.
func LoadAWSProvider(ctx context.Context, profile, region string) (*AWSProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("loading aws config: no credential provider resolved")
	}

	return NewAWSProvider(cfg.Credentials), nil
}

// Fetch implements Provider.
func (p *AWSProvider) Fetch(ctx context.Context) (Credentials, error) {
	v, err := p.provider.Retrieve(ctx)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	creds := Static{
		AccessKey: v.AccessKeyID,
		SecretKey: v.SecretAccessKey,
		Token:     v.SessionToken,
	}
	if v.CanExpire {
		creds.Expires = v.Expires
	}
	return creds, nil
}

var _ Provider = (*AWSProvider)(nil)
