package credentialexport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/dnitsch/aws-account/internal/awsclient"
)

var ErrUnableValidate = errors.New("unable to validate stored credential")

// AWSCredentials is the credential_process contract. The JSON field
// names are fixed by the AWS CLI, Version is set on emit.
type AWSCredentials struct {
	Version         int
	AWSAccessKey    string    `json:"AccessKeyId"`
	AWSSecretKey    string    `json:"SecretAccessKey"`
	AWSSessionToken string    `json:"SessionToken"`
	PrincipalARN    string    `json:"-"`
	Expires         time.Time `json:"Expiration"`
}

// FromAWS converts sdk credentials into the exportable shape.
func FromAWS(creds aws.Credentials) *AWSCredentials {
	return &AWSCredentials{
		AWSAccessKey:    creds.AccessKeyID,
		AWSSecretKey:    creds.SecretAccessKey,
		AWSSessionToken: creds.SessionToken,
		Expires:         creds.Expires.Local(),
	}
}

// ToAWS converts back for seeding a static provider from a stored
// credential.
func (c *AWSCredentials) ToAWS() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.AWSAccessKey,
		SecretAccessKey: c.AWSSecretKey,
		SessionToken:    c.AWSSessionToken,
		CanExpire:       !c.Expires.IsZero(),
		Expires:         c.Expires,
	}
}

// IsValid reports whether a stored credential can still be used. A nil
// credential, an ExpiredToken response or an expiry inside the reload
// window all mean no without an error, anything else from the identity
// call surfaces wrapped.
func IsValid(ctx context.Context, cred *AWSCredentials, reloadBeforeSeconds int, svc awsclient.STSIdentityAPI) (bool, error) {
	if cred == nil {
		return false, nil
	}

	if _, err := svc.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ExpiredToken" {
			return false, nil
		}
		return false, fmt.Errorf("%s, %w", err, ErrUnableValidate)
	}

	if ReloadBeforeExpiry(cred.Expires, reloadBeforeSeconds) {
		return false, nil
	}
	return true, nil
}
