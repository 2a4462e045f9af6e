// Package awssession models an AWS identity as an ordered stack of
// role assumptions on top of a base configuration. The stack is the
// single source of truth shared by all goroutines, materialized
// client handles are cached per goroutine and validated against it
// position by position.
package awssession

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/dnitsch/aws-account/internal/awsclient"
	"github.com/dnitsch/aws-account/internal/awsretry"
	"github.com/dnitsch/aws-account/internal/cachekey"
	"github.com/dnitsch/aws-account/internal/logging"
)

var (
	ErrInvalidRoleSpec = errors.New("invalid role spec")
	ErrUnableAssume    = errors.New("unable to assume role")
)

// STS operations supported for role assumption steps.
const (
	MethodAssumeRole                = "AssumeRole"
	MethodAssumeRoleWithSAML        = "AssumeRoleWithSAML"
	MethodAssumeRoleWithWebIdentity = "AssumeRoleWithWebIdentity"
	MethodGetSessionToken           = "GetSessionToken"
)

var roleRequiredParams = map[string][]string{
	MethodAssumeRole:                {"RoleArn", "RoleSessionName"},
	MethodAssumeRoleWithSAML:        {"RoleArn", "PrincipalArn", "SAMLAssertion"},
	MethodAssumeRoleWithWebIdentity: {"RoleArn", "RoleSessionName", "WebIdentityToken"},
	MethodGetSessionToken:           {},
}

// RoleSpec declares one role assumption step. Params hold the raw STS
// operation parameters, e.g. RoleArn, RoleSessionName, ExternalId,
// DurationSeconds. Deferred postpones materialization, and therefore
// any error, until the first handle is requested.
type RoleSpec struct {
	Method   string
	Params   map[string]string
	Deferred bool
}

// normalize defaults the method, validates the parameter set and
// detaches the spec from the caller's map.
func (r RoleSpec) normalize() (RoleSpec, error) {
	if r.Method == "" {
		r.Method = MethodAssumeRole
	}

	required, ok := roleRequiredParams[r.Method]
	if !ok {
		return r, fmt.Errorf("unsupported sts method %q: %w", r.Method, ErrInvalidRoleSpec)
	}
	for _, p := range required {
		if r.Params[p] == "" {
			return r, fmt.Errorf("missing %s for %s: %w", p, r.Method, ErrInvalidRoleSpec)
		}
	}
	if v, ok := r.Params["DurationSeconds"]; ok {
		if _, err := strconv.Atoi(v); err != nil {
			return r, fmt.Errorf("DurationSeconds %q is not a number: %w", v, ErrInvalidRoleSpec)
		}
	}

	params := make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	r.Params = params
	return r, nil
}

// fingerprint identifies the step by method and parameters. Deferred
// is a materialization hint, not identity, and stays out.
func (r RoleSpec) fingerprint() uint64 {
	kv := make(map[string]string, len(r.Params)+1)
	for k, v := range r.Params {
		kv[k] = v
	}
	kv["sts_method"] = r.Method
	return cachekey.Sum(nil, kv)
}

// roleID renders the parameter values in sorted key order, the
// broker's third deduplication component.
func roleID(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	id := ""
	for _, k := range keys {
		id += params[k]
	}
	return id
}

type stackEntry struct {
	key  uint64
	spec RoleSpec
}

// Session is the goroutine safe owner of the identity stack. All
// mutations run under the session lock, which is never held across a
// network call.
type Session struct {
	base    awsclient.BaseParams
	baseKey uint64
	log     *zap.Logger

	mu    sync.Mutex
	stack []stackEntry
	gen   uint64

	factAccessKey *string
	factAccountID *string
	factUserID    *string
	factARN       *string

	broker *broker
	locals sync.Pool
	retry  *awsretry.Retryer

	loadBase       func(ctx context.Context, p awsclient.BaseParams) (aws.Config, error)
	newAssumeAPI   func(cfg aws.Config, st awsclient.Settings) awsclient.STSAssumeAPI
	newIdentityAPI func(cfg aws.Config, st awsclient.Settings) awsclient.STSIdentityAPI
}

// New builds a session rooted at the given base parameters. Nothing
// is materialized until a handle is requested.
func New(base awsclient.BaseParams) *Session {
	s := &Session{
		base:    base,
		baseKey: cachekey.Sum(nil, base.KeyValues()),
		log:     logging.Get(),
		retry:   awsretry.New(awsretry.DefaultPolicy()),
		loadBase: func(ctx context.Context, p awsclient.BaseParams) (aws.Config, error) {
			return awsclient.LoadBase(ctx, p)
		},
		newAssumeAPI: func(cfg aws.Config, st awsclient.Settings) awsclient.STSAssumeAPI {
			return awsclient.NewSTS(cfg, st)
		},
		newIdentityAPI: func(cfg aws.Config, st awsclient.Settings) awsclient.STSIdentityAPI {
			return awsclient.NewSTS(cfg, st)
		},
	}
	s.stack = []stackEntry{{key: s.baseKey}}
	s.broker = newBroker(s)
	s.locals.New = func() any { return &Local{session: s} }
	return s
}

func (s *Session) WithLogger(log *zap.Logger) *Session {
	s.log = log
	return s
}

// WithBaseLoader swaps the base config loader, e.g. for tests.
func (s *Session) WithBaseLoader(fn func(ctx context.Context, p awsclient.BaseParams) (aws.Config, error)) *Session {
	s.loadBase = fn
	return s
}

// WithAssumeAPI swaps the STS factory used for credential refreshes.
func (s *Session) WithAssumeAPI(fn func(cfg aws.Config, st awsclient.Settings) awsclient.STSAssumeAPI) *Session {
	s.newAssumeAPI = fn
	return s
}

// WithIdentityAPI swaps the STS factory used for caller identity
// lookups.
func (s *Session) WithIdentityAPI(fn func(cfg aws.Config, st awsclient.Settings) awsclient.STSIdentityAPI) *Session {
	s.newIdentityAPI = fn
	return s
}

func (s *Session) WithRetryer(r *awsretry.Retryer) *Session {
	s.retry = r
	return s
}

// AssumeRole pushes a role assumption step. Unless the spec is
// deferred the step is materialized immediately and a failure is
// returned to the caller, the step stays on the stack either way so
// Revert still unwinds it.
func (s *Session) AssumeRole(ctx context.Context, role RoleSpec) error {
	spec, err := role.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stack = append(s.stack, stackEntry{key: spec.fingerprint(), spec: spec})
	s.resetFactsLocked()
	s.mu.Unlock()

	if spec.Deferred {
		s.log.Info("deferred role assumption",
			zap.String("method", spec.Method),
			zap.String("role_arn", spec.Params["RoleArn"]))
		return nil
	}

	if _, err := s.ActiveHandle(ctx); err != nil {
		return err
	}
	return nil
}

// Revert drops the most recent role assumption and returns the handle
// that was active before the pop, so callers holding it can finish in
// flight work. At the base identity Revert is a no-op returning nil.
// When the outgoing step cannot be materialized the stack is left
// untouched and the error surfaces.
func (s *Session) Revert(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	if len(s.stack) <= 1 {
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	h, err := s.ActiveHandle(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(s.stack) > 1 {
		s.stack = s.stack[:len(s.stack)-1]
		s.resetFactsLocked()
	}
	tail := s.stack[len(s.stack)-1].key
	s.mu.Unlock()

	s.log.Debug("reverted role", zap.Uint64("active", tail))
	return h, nil
}

// ActiveHandle materializes the current stack and returns the tail
// handle. Materializer caches are pooled per goroutine, concurrent
// callers build independently while sharing credential records.
func (s *Session) ActiveHandle(ctx context.Context) (*Handle, error) {
	l := s.locals.Get().(*Local)
	h, err := l.Handle(ctx)
	s.locals.Put(l)
	return h, err
}

// NewLocal returns a dedicated materializer for a long lived worker.
// A Local must not be shared between goroutines.
func (s *Session) NewLocal() *Local {
	return &Local{session: s}
}

// Depth reports the current stack length including the base level.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// ChainKey fingerprints the whole current role chain.
func (s *Session) ChainKey() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]any, 0, len(s.stack))
	for _, e := range s.stack {
		keys = append(keys, e.key)
	}
	return cachekey.Sum(keys, nil)
}

// ChainKeyFor computes the chain fingerprint that assuming steps on
// top of base would produce, without materializing anything. Lets
// callers look up cached credentials before the first STS call.
func ChainKeyFor(base awsclient.BaseParams, steps []RoleSpec) (uint64, error) {
	keys := []any{cachekey.Sum(nil, base.KeyValues())}
	for _, step := range steps {
		spec, err := step.normalize()
		if err != nil {
			return 0, err
		}
		keys = append(keys, spec.fingerprint())
	}
	return cachekey.Sum(keys, nil), nil
}

// ClientSettings resolves call time settings for a service under the
// session's base region and endpoint overrides.
func (s *Session) ClientSettings(service string) awsclient.Settings {
	return awsclient.ResolveSettings(s.base.ServiceEndpoints, service, s.base.Region)
}

// ClientSettingsAt resolves call time settings for a service pinned to
// an explicit region, used by regional dispatchers instead of the
// session region.
func (s *Session) ClientSettingsAt(service, region string) awsclient.Settings {
	return awsclient.ResolveSettings(s.base.ServiceEndpoints, service, region)
}

// Region returns the base region, empty when deferred to the default
// chain.
func (s *Session) Region() string {
	return s.base.Region
}

func (s *Session) resetFactsLocked() {
	s.gen++
	s.factAccessKey = nil
	s.factAccountID = nil
	s.factUserID = nil
	s.factARN = nil
}

func (s *Session) stackSnapshot(from int) []stackEntry {
	out := make([]stackEntry, len(s.stack)-from)
	copy(out, s.stack[from:])
	return out
}

func (s *Session) buildBase(ctx context.Context, entry stackEntry) (*Handle, error) {
	cfg, err := s.loadBase(ctx, s.base)
	if err != nil {
		return nil, err
	}
	s.log.Debug("materialized base identity", zap.Uint64("key", entry.key))
	return &Handle{key: entry.key, cfg: cfg, session: s}, nil
}

func (s *Session) buildAssumed(ctx context.Context, parent *Handle, entry stackEntry) (*Handle, error) {
	record, err := s.broker.getOrCreate(ctx, parent, entry.spec)
	if err != nil {
		return nil, err
	}
	cfg := awsclient.WithCredentials(parent.cfg, record)
	s.log.Debug("materialized assumed identity",
		zap.Uint64("key", entry.key),
		zap.String("method", entry.spec.Method))
	return &Handle{key: entry.key, cfg: cfg, session: s}, nil
}
