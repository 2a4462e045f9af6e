package awssession

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/dnitsch/aws-account/internal/awsclient"
)

// Identity facts are resolved remotely once per stack state. Stack
// mutations invalidate the slots, a lookup that raced a mutation is
// discarded instead of stored.

func (s *Session) cachedFact(slot **string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *slot != nil {
		return **slot, true
	}
	return "", false
}

func (s *Session) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) storeFact(slot **string, gen uint64, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		*slot = &v
	}
}

// AccessKey returns the access key id of the active credentials, the
// empty string when the configuration carries no credentials at all.
func (s *Session) AccessKey(ctx context.Context) (string, error) {
	if v, ok := s.cachedFact(&s.factAccessKey); ok {
		return v, nil
	}
	gen := s.currentGen()

	h, err := s.ActiveHandle(ctx)
	if err != nil {
		return "", err
	}
	creds, err := h.Credentials(ctx)
	if err != nil {
		return "", err
	}

	s.storeFact(&s.factAccessKey, gen, creds.AccessKeyID)
	return creds.AccessKeyID, nil
}

// AccountID returns the twelve digit account identifier of the active
// identity.
func (s *Session) AccountID(ctx context.Context) (string, error) {
	if v, ok := s.cachedFact(&s.factAccountID); ok {
		return v, nil
	}
	gen := s.currentGen()

	out, err := s.callerIdentity(ctx)
	if err != nil {
		return "", err
	}

	v := aws.ToString(out.Account)
	s.storeFact(&s.factAccountID, gen, v)
	return v, nil
}

// UserID returns the unique identifier of the active identity.
func (s *Session) UserID(ctx context.Context) (string, error) {
	if v, ok := s.cachedFact(&s.factUserID); ok {
		return v, nil
	}
	gen := s.currentGen()

	out, err := s.callerIdentity(ctx)
	if err != nil {
		return "", err
	}

	v := aws.ToString(out.UserId)
	s.storeFact(&s.factUserID, gen, v)
	return v, nil
}

// ARN returns the caller ARN of the active identity. The lookup is
// pinned to the active handle's region.
func (s *Session) ARN(ctx context.Context) (string, error) {
	if v, ok := s.cachedFact(&s.factARN); ok {
		return v, nil
	}
	gen := s.currentGen()

	h, err := s.ActiveHandle(ctx)
	if err != nil {
		return "", err
	}
	api := s.newIdentityAPI(h.Config(), awsclient.Settings{Region: h.Region()})
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}

	v := aws.ToString(out.Arn)
	s.storeFact(&s.factARN, gen, v)
	return v, nil
}

func (s *Session) callerIdentity(ctx context.Context) (*sts.GetCallerIdentityOutput, error) {
	h, err := s.ActiveHandle(ctx)
	if err != nil {
		return nil, err
	}
	api := s.newIdentityAPI(h.Config(), s.ClientSettings("sts"))

	var out *sts.GetCallerIdentityOutput
	err = s.retry.Do(ctx, func() error {
		var callErr error
		out, callErr = api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
