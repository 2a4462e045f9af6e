// Package regionalaccount dispatches AWS calls for one account across
// regions. Every call flows permit first through a rate limit gate,
// then through a throttling retry policy, and failures come back
// wrapped with account and region context.
package regionalaccount

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"go.uber.org/zap"

	"github.com/dnitsch/aws-account/internal/awsclient"
	"github.com/dnitsch/aws-account/internal/awsretry"
	"github.com/dnitsch/aws-account/internal/awssession"
	"github.com/dnitsch/aws-account/internal/logging"
)

// SDK level retry budget bound to every client built by this package.
const defaultMaxAttempts = 10

// accountSeq hands out stable identities for shared cache keying.
var accountSeq atomic.Uint64

// Account exposes account level facts for a session, most notably the
// display alias used in log and error context.
type Account struct {
	id      uint64
	session *awssession.Session
	log     *zap.Logger
	retry   *awsretry.Retryer

	mu         sync.Mutex
	aliases    []string
	aliasesSet bool

	newIAM func(cfg aws.Config, st awsclient.Settings) awsclient.IAMAPI
}

// NewAccount wraps a session with account fact lookups.
func NewAccount(session *awssession.Session) *Account {
	return &Account{
		id:      accountSeq.Add(1),
		session: session,
		log:     logging.Get(),
		retry:   awsretry.New(awsretry.DefaultPolicy()),
		newIAM: func(cfg aws.Config, st awsclient.Settings) awsclient.IAMAPI {
			return awsclient.NewIAM(cfg, st)
		},
	}
}

func (a *Account) WithLogger(log *zap.Logger) *Account {
	a.log = log
	return a
}

func (a *Account) WithRetryer(r *awsretry.Retryer) *Account {
	a.retry = r
	return a
}

// WithIAMAPI swaps the IAM factory used for alias lookups.
func (a *Account) WithIAMAPI(fn func(cfg aws.Config, st awsclient.Settings) awsclient.IAMAPI) *Account {
	a.newIAM = fn
	return a
}

// Session returns the wrapped identity session.
func (a *Account) Session() *awssession.Session {
	return a.session
}

// AccountID returns the account identifier of the active identity.
func (a *Account) AccountID(ctx context.Context) (string, error) {
	return a.session.AccountID(ctx)
}

// Alias returns the first account alias, falling back to the account
// id for accounts without aliases.
func (a *Account) Alias(ctx context.Context) (string, error) {
	aliases, err := a.Aliases(ctx)
	if err != nil {
		return "", err
	}
	if len(aliases) > 0 {
		return aliases[0], nil
	}
	return a.AccountID(ctx)
}

// Aliases lists the account aliases. The result is resolved once and
// held for the account lifetime, role switches on the session do not
// invalidate it.
func (a *Account) Aliases(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	if a.aliasesSet {
		aliases := a.aliases
		a.mu.Unlock()
		return aliases, nil
	}
	a.mu.Unlock()

	h, err := a.session.ActiveHandle(ctx)
	if err != nil {
		return nil, err
	}

	st := a.session.ClientSettings("iam")
	st.MaxAttempts = defaultMaxAttempts
	api := a.newIAM(h.Config(), st)

	var out *iam.ListAccountAliasesOutput
	err = a.retry.Do(ctx, func() error {
		var callErr error
		out, callErr = api.ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if !a.aliasesSet {
		a.aliases = out.AccountAliases
		a.aliasesSet = true
	}
	aliases := a.aliases
	a.mu.Unlock()
	return aliases, nil
}
