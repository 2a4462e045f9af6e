package awssession

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"go.uber.org/zap"

	"github.com/dnitsch/aws-account/internal/awsclient"
)

// credKey identifies a credential record by the parent identity that
// signs the refresh call, the STS operation and the rendered role
// parameters.
type credKey struct {
	parent uint64
	method string
	roleID string
}

// broker hands out shared credential records so that every distinct
// (parent, method, parameters) triple is refreshed by exactly one
// record no matter how many handles reference it.
type broker struct {
	session *Session

	mu      sync.Mutex
	records map[credKey]*aws.CredentialsCache
}

func newBroker(s *Session) *broker {
	return &broker{session: s, records: map[credKey]*aws.CredentialsCache{}}
}

func (b *broker) getOrCreate(ctx context.Context, parent *Handle, spec RoleSpec) (*aws.CredentialsCache, error) {
	key := credKey{parent: parent.key, method: spec.Method, roleID: roleID(spec.Params)}

	b.mu.Lock()
	if rec, ok := b.records[key]; ok {
		b.mu.Unlock()
		return rec, nil
	}
	b.mu.Unlock()

	// Prime the record with a synchronous refresh outside the lock so
	// parameter and permission failures surface to the caller that
	// introduced the step. Concurrent callers may race a build for
	// the same key, the first insert wins and the losers adopt it.
	record := aws.NewCredentialsCache(
		refreshProvider{session: b.session, parent: parent, spec: spec},
		func(o *aws.CredentialsCacheOptions) {
			o.ExpiryWindow = 10 * time.Minute
		})
	if _, err := record.Retrieve(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.records[key]; ok {
		return rec, nil
	}
	b.records[key] = record
	return record, nil
}

// refreshProvider re-issues the originating STS call with the
// original parameters every time the cached snapshot expires. The
// parent handle signing the call is fixed for the record's lifetime.
type refreshProvider struct {
	session *Session
	parent  *Handle
	spec    RoleSpec
}

func (p refreshProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	s := p.session
	api := s.newAssumeAPI(p.parent.cfg, s.ClientSettings("sts"))

	s.log.Debug("refreshing role credentials",
		zap.String("method", p.spec.Method),
		zap.String("role_arn", p.spec.Params["RoleArn"]))

	creds, err := assume(ctx, api, p.spec)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("refresh via %s: %s, %w", p.spec.Method, err, ErrUnableAssume)
	}

	s.log.Info("assumed role",
		zap.String("method", p.spec.Method),
		zap.String("role_arn", p.spec.Params["RoleArn"]))
	return creds, nil
}

func assume(ctx context.Context, api awsclient.STSAssumeAPI, spec RoleSpec) (aws.Credentials, error) {
	switch spec.Method {
	case MethodAssumeRole:
		in := &sts.AssumeRoleInput{
			RoleArn:         aws.String(spec.Params["RoleArn"]),
			RoleSessionName: aws.String(spec.Params["RoleSessionName"]),
			DurationSeconds: durationSeconds(spec.Params),
		}
		if v, ok := spec.Params["ExternalId"]; ok {
			in.ExternalId = aws.String(v)
		}
		if v, ok := spec.Params["Policy"]; ok {
			in.Policy = aws.String(v)
		}
		if v, ok := spec.Params["SerialNumber"]; ok {
			in.SerialNumber = aws.String(v)
		}
		if v, ok := spec.Params["TokenCode"]; ok {
			in.TokenCode = aws.String(v)
		}
		out, err := api.AssumeRole(ctx, in)
		if err != nil {
			return aws.Credentials{}, err
		}
		return fromSTS(out.Credentials, spec.Method), nil

	case MethodAssumeRoleWithSAML:
		out, err := api.AssumeRoleWithSAML(ctx, &sts.AssumeRoleWithSAMLInput{
			RoleArn:         aws.String(spec.Params["RoleArn"]),
			PrincipalArn:    aws.String(spec.Params["PrincipalArn"]),
			SAMLAssertion:   aws.String(spec.Params["SAMLAssertion"]),
			DurationSeconds: durationSeconds(spec.Params),
		})
		if err != nil {
			return aws.Credentials{}, err
		}
		return fromSTS(out.Credentials, spec.Method), nil

	case MethodAssumeRoleWithWebIdentity:
		out, err := api.AssumeRoleWithWebIdentity(ctx, &sts.AssumeRoleWithWebIdentityInput{
			RoleArn:          aws.String(spec.Params["RoleArn"]),
			RoleSessionName:  aws.String(spec.Params["RoleSessionName"]),
			WebIdentityToken: aws.String(spec.Params["WebIdentityToken"]),
			DurationSeconds:  durationSeconds(spec.Params),
		})
		if err != nil {
			return aws.Credentials{}, err
		}
		return fromSTS(out.Credentials, spec.Method), nil

	case MethodGetSessionToken:
		in := &sts.GetSessionTokenInput{
			DurationSeconds: durationSeconds(spec.Params),
		}
		if v, ok := spec.Params["SerialNumber"]; ok {
			in.SerialNumber = aws.String(v)
		}
		if v, ok := spec.Params["TokenCode"]; ok {
			in.TokenCode = aws.String(v)
		}
		out, err := api.GetSessionToken(ctx, in)
		if err != nil {
			return aws.Credentials{}, err
		}
		return fromSTS(out.Credentials, spec.Method), nil
	}

	return aws.Credentials{}, fmt.Errorf("sts method %q: %w", spec.Method, ErrInvalidRoleSpec)
}

func durationSeconds(params map[string]string) *int32 {
	v, ok := params["DurationSeconds"]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return aws.Int32(int32(n))
}

func fromSTS(c *types.Credentials, method string) aws.Credentials {
	out := aws.Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Source:          "sts-" + method,
	}
	if c.Expiration != nil {
		out.CanExpire = true
		out.Expires = *c.Expiration
	}
	return out
}
