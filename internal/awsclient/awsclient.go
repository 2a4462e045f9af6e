// Package awsclient builds aws-sdk-go-v2 configurations and service
// clients from declarative parameters, including per service endpoint
// overrides.
package awsclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var ErrUnableToLoadBase = errors.New("unable to load base aws config")

// Settings carry the per client knobs resolved at call time.
// MaxAttempts of zero keeps the SDK default.
type Settings struct {
	Region      string
	EndpointURL string
	MaxAttempts int
}

// BaseParams declare the root identity of a session, the equivalent
// of shared config profile selection plus optional static keys.
// ServiceEndpoints never contribute to the session fingerprint, they
// are applied per client instead.
type BaseParams struct {
	Profile          string
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	ServiceEndpoints Endpoints
}

// KeyValues renders the identity bearing fields for fingerprinting.
// Only populated fields participate so that equivalent declarations
// fingerprint alike.
func (p BaseParams) KeyValues() map[string]string {
	kv := map[string]string{}
	if p.Profile != "" {
		kv["profile_name"] = p.Profile
	}
	if p.Region != "" {
		kv["region_name"] = p.Region
	}
	if p.AccessKeyID != "" {
		kv["aws_access_key_id"] = p.AccessKeyID
	}
	if p.SecretAccessKey != "" {
		kv["aws_secret_access_key"] = p.SecretAccessKey
	}
	if p.SessionToken != "" {
		kv["aws_session_token"] = p.SessionToken
	}
	return kv
}

// LoadBase resolves the root aws.Config honouring profile, region and
// static key parameters. Anything unset falls through to the default
// credential and region chain.
func LoadBase(ctx context.Context, p BaseParams) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{}

	if p.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(p.Profile))
	}
	if p.Region != "" {
		opts = append(opts, config.WithRegion(p.Region))
	}
	if p.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, p.SessionToken)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%s, %w", err, ErrUnableToLoadBase)
	}
	return cfg, nil
}

// WithCredentials returns a copy of parent bound to the given
// credential provider. Region and the rest of the configuration are
// inherited.
func WithCredentials(parent aws.Config, provider aws.CredentialsProvider) aws.Config {
	cfg := parent.Copy()
	cfg.Credentials = provider
	return cfg
}

// ApplySettings returns a copy of cfg with the call time settings
// bound, so every client built from it inherits them.
func ApplySettings(cfg aws.Config, st Settings) aws.Config {
	out := cfg.Copy()
	if st.Region != "" {
		out.Region = st.Region
	}
	if st.EndpointURL != "" {
		out.BaseEndpoint = aws.String(st.EndpointURL)
	}
	if st.MaxAttempts > 0 {
		out.RetryMaxAttempts = st.MaxAttempts
	}
	return out
}

// STSAssumeAPI captures the STS operations that mint role scoped
// credentials.
type STSAssumeAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	AssumeRoleWithSAML(ctx context.Context, params *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
	AssumeRoleWithWebIdentity(ctx context.Context, params *sts.AssumeRoleWithWebIdentityInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error)
	GetSessionToken(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error)
}

// STSIdentityAPI answers caller identity lookups.
type STSIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IAMAPI is the slice of IAM used for account alias lookups.
type IAMAPI interface {
	ListAccountAliases(ctx context.Context, params *iam.ListAccountAliasesInput, optFns ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error)
}

// NewSTS builds an STS client honouring st.
func NewSTS(cfg aws.Config, st Settings) *sts.Client {
	return sts.NewFromConfig(cfg, func(o *sts.Options) {
		if st.Region != "" {
			o.Region = st.Region
		}
		if st.EndpointURL != "" {
			o.BaseEndpoint = aws.String(st.EndpointURL)
		}
		if st.MaxAttempts > 0 {
			o.RetryMaxAttempts = st.MaxAttempts
		}
	})
}

// NewIAM builds an IAM client honouring st.
func NewIAM(cfg aws.Config, st Settings) *iam.Client {
	return iam.NewFromConfig(cfg, func(o *iam.Options) {
		if st.Region != "" {
			o.Region = st.Region
		}
		if st.EndpointURL != "" {
			o.BaseEndpoint = aws.String(st.EndpointURL)
		}
		if st.MaxAttempts > 0 {
			o.RetryMaxAttempts = st.MaxAttempts
		}
	})
}
