package regionalaccount

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/dnitsch/aws-account/internal/awsclient"
	"github.com/dnitsch/aws-account/internal/awsretry"
	"github.com/dnitsch/aws-account/internal/logging"
	"github.com/dnitsch/aws-account/internal/ratelimit"
)

// Op names the remote operation being dispatched. Settings override
// the resolved client settings for this call only, zero values keep
// the resolved defaults.
type Op struct {
	Service  string
	Method   string
	Settings awsclient.Settings
}

// CallFunc performs one remote invocation against a config already
// bound to the right identity, region and endpoint.
type CallFunc func(ctx context.Context, cfg aws.Config) error

// PageFunc advances a paginated listing by one page and reports
// whether more pages remain.
type PageFunc func(ctx context.Context) (more bool, err error)

// RegionalAccount dispatches calls for one account pinned to one
// region. Limiter is shared by Call and Pages and may be retuned at
// runtime through its setters.
type RegionalAccount struct {
	limiter *ratelimit.Limiter
	account *Account
	region  string
	retry   *awsretry.Retryer
	log     *zap.Logger
}

// NewRegional binds an account to a region behind the given rate
// limit gate.
func NewRegional(limiter *ratelimit.Limiter, account *Account, region string) *RegionalAccount {
	return &RegionalAccount{
		limiter: limiter,
		account: account,
		region:  region,
		retry:   awsretry.New(awsretry.DefaultPolicy()),
		log:     logging.Get(),
	}
}

func (r *RegionalAccount) WithLogger(log *zap.Logger) *RegionalAccount {
	r.log = log
	return r
}

func (r *RegionalAccount) WithRetryer(retry *awsretry.Retryer) *RegionalAccount {
	r.retry = retry
	return r
}

// Region returns the pinned region.
func (r *RegionalAccount) Region() string {
	return r.region
}

// Account returns the dispatching account.
func (r *RegionalAccount) Account() *Account {
	return r.account
}

// Limiter exposes the permit gate so callers can retune max count or
// interval while calls are in flight.
func (r *RegionalAccount) Limiter() *ratelimit.Limiter {
	return r.limiter
}

// ClientConfig resolves the aws.Config for op, bound to the active
// identity, this region and the session's endpoint overrides. The
// pinned region always wins over the session region, op settings win
// over everything.
func (r *RegionalAccount) ClientConfig(ctx context.Context, op Op) (aws.Config, error) {
	h, err := r.account.Session().ActiveHandle(ctx)
	if err != nil {
		return aws.Config{}, err
	}

	st := r.account.Session().ClientSettingsAt(op.Service, r.region)
	st.Region = r.region
	if st.MaxAttempts == 0 {
		st.MaxAttempts = defaultMaxAttempts
	}
	if op.Settings.Region != "" {
		st.Region = op.Settings.Region
	}
	if op.Settings.EndpointURL != "" {
		st.EndpointURL = op.Settings.EndpointURL
	}
	if op.Settings.MaxAttempts > 0 {
		st.MaxAttempts = op.Settings.MaxAttempts
	}
	return awsclient.ApplySettings(h.Config(), st), nil
}

// Call dispatches one remote invocation. The permit is taken once,
// before the retry loop, so throttled retries never consume extra
// permits. Permit rejections surface unwrapped, remote failures come
// back as *ClientError.
func (r *RegionalAccount) Call(ctx context.Context, op Op, fn CallFunc) error {
	cfg, err := r.ClientConfig(ctx, op)
	if err != nil {
		return err
	}

	if err := r.limiter.Acquire(ctx); err != nil {
		return err
	}

	if err := r.retry.Do(ctx, func() error {
		r.logAttempt(ctx, op)
		return fn(ctx, cfg)
	}); err != nil {
		return r.wrap(ctx, err)
	}
	return nil
}

// Pages drives a paginated listing. Every page fetch takes its own
// permit and runs under the retry policy, so a long listing cannot
// starve other callers of the shared gate.
func (r *RegionalAccount) Pages(ctx context.Context, op Op, start func(cfg aws.Config) PageFunc) error {
	cfg, err := r.ClientConfig(ctx, op)
	if err != nil {
		return err
	}

	next := start(cfg)
	for {
		if err := r.limiter.Acquire(ctx); err != nil {
			return err
		}

		more := false
		if err := r.retry.Do(ctx, func() error {
			r.logAttempt(ctx, op)
			m, err := next(ctx)
			if err != nil {
				return err
			}
			more = m
			return nil
		}); err != nil {
			return r.wrap(ctx, err)
		}
		if !more {
			return nil
		}
	}
}

// logAttempt records the dispatch at debug level. The identity facts
// are fetched only when debug is enabled and their errors are
// swallowed, diagnostics never affect the call.
func (r *RegionalAccount) logAttempt(ctx context.Context, op Op) {
	ce := r.log.Check(zap.DebugLevel, "dispatching aws call")
	if ce == nil {
		return
	}
	accountID, _ := r.account.AccountID(ctx)
	alias, _ := r.account.Alias(ctx)
	arn, _ := r.account.Session().ARN(ctx)
	ce.Write(
		zap.String("service", op.Service),
		zap.String("method", op.Method),
		zap.String("account_id", accountID),
		zap.String("account_alias", alias),
		zap.String("region", r.region),
		zap.String("arn", arn),
	)
}

// wrap decorates err with account and region context. The alias and
// account id lookups are best effort.
func (r *RegionalAccount) wrap(ctx context.Context, err error) error {
	alias, _ := r.account.Alias(ctx)
	accountID, _ := r.account.AccountID(ctx)
	return &ClientError{
		Err:          err,
		AccountAlias: alias,
		AccountID:    accountID,
		Region:       r.region,
	}
}
