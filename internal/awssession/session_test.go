package awssession_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"go.uber.org/zap/zaptest"

	"github.com/dnitsch/aws-account/internal/awsclient"
	"github.com/dnitsch/aws-account/internal/awsretry"
	"github.com/dnitsch/aws-account/internal/awssession"
)

type mockAssumeApi struct {
	assumeRole  func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	assumeSaml  func(ctx context.Context, params *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
	assumeWebId func(ctx context.Context, params *sts.AssumeRoleWithWebIdentityInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error)
	sessionTok  func(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error)
}

func (m *mockAssumeApi) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	return m.assumeRole(ctx, params, optFns...)
}
func (m *mockAssumeApi) AssumeRoleWithSAML(ctx context.Context, params *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error) {
	return m.assumeSaml(ctx, params, optFns...)
}
func (m *mockAssumeApi) AssumeRoleWithWebIdentity(ctx context.Context, params *sts.AssumeRoleWithWebIdentityInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error) {
	return m.assumeWebId(ctx, params, optFns...)
}
func (m *mockAssumeApi) GetSessionToken(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error) {
	return m.sessionTok(ctx, params, optFns...)
}

type mockIdentityApi struct {
	getCallId func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

func (m *mockIdentityApi) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return m.getCallId(ctx, params, optFns...)
}

func stsCredentials(accessKey string) *types.Credentials {
	return &types.Credentials{
		AccessKeyId:     aws.String(accessKey),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("token"),
		Expiration:      aws.Time(time.Now().Add(time.Hour)),
	}
}

func testSession(t *testing.T, assume awsclient.STSAssumeAPI, identity awsclient.STSIdentityAPI) *awssession.Session {
	t.Helper()

	base := awsclient.BaseParams{
		Region:          "us-west-1",
		AccessKeyID:     "AKIAbase",
		SecretAccessKey: "base-secret",
	}
	s := awssession.New(base).
		WithLogger(zaptest.NewLogger(t)).
		WithBaseLoader(func(ctx context.Context, p awsclient.BaseParams) (aws.Config, error) {
			return aws.Config{
				Region:      p.Region,
				Credentials: credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, p.SessionToken),
			}, nil
		}).
		WithRetryer(awsretry.New(awsretry.Policy{MaxRetries: 3, Base: time.Millisecond, Growth: time.Millisecond}))

	if assume != nil {
		s.WithAssumeAPI(func(cfg aws.Config, st awsclient.Settings) awsclient.STSAssumeAPI { return assume })
	}
	if identity != nil {
		s.WithIdentityAPI(func(cfg aws.Config, st awsclient.Settings) awsclient.STSIdentityAPI { return identity })
	}
	return s
}

func roleSpec(arn string) awssession.RoleSpec {
	return awssession.RoleSpec{
		Params: map[string]string{
			"RoleArn":         arn,
			"RoleSessionName": "tester",
		},
	}
}

func Test_ActiveHandle_materializes_base_identity(t *testing.T) {
	s := testSession(t, nil, nil)

	h, err := s.ActiveHandle(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if h.Region() != "us-west-1" {
		t.Errorf("got region %q, wanted us-west-1", h.Region())
	}
	creds, err := h.Credentials(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if creds.AccessKeyID != "AKIAbase" {
		t.Errorf("got %q, wanted AKIAbase", creds.AccessKeyID)
	}
}

func Test_AssumeRole_rejects_malformed_specs(t *testing.T) {
	ttests := map[string]struct {
		spec awssession.RoleSpec
	}{
		"missing role arn": {
			awssession.RoleSpec{Params: map[string]string{"RoleSessionName": "x"}},
		},
		"missing session name": {
			awssession.RoleSpec{Params: map[string]string{"RoleArn": "arn:aws:iam::111111111111:role/a"}},
		},
		"unsupported method": {
			awssession.RoleSpec{Method: "GetFederationToken", Params: map[string]string{"Name": "x"}},
		},
		"duration not a number": {
			awssession.RoleSpec{Params: map[string]string{
				"RoleArn": "arn:aws:iam::111111111111:role/a", "RoleSessionName": "x", "DurationSeconds": "soon",
			}},
		},
		"saml without assertion": {
			awssession.RoleSpec{Method: awssession.MethodAssumeRoleWithSAML, Params: map[string]string{
				"RoleArn": "arn:aws:iam::111111111111:role/a", "PrincipalArn": "arn:aws:iam::111111111111:saml-provider/idp",
			}},
		},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			s := testSession(t, nil, nil)

			err := s.AssumeRole(context.TODO(), tt.spec)
			if err == nil {
				t.Fatal("got <nil>, wanted validation error")
			}
			if !errors.Is(err, awssession.ErrInvalidRoleSpec) {
				t.Errorf("got %s, wanted %s", err, awssession.ErrInvalidRoleSpec)
			}
			if s.Depth() != 1 {
				t.Errorf("got depth %d, wanted 1, malformed specs must not land on the stack", s.Depth())
			}
		})
	}
}

func Test_AssumeRole_shares_one_credential_record(t *testing.T) {
	var calls int32
	assume := &mockAssumeApi{
		assumeRole: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			atomic.AddInt32(&calls, 1)
			return &sts.AssumeRoleOutput{Credentials: stsCredentials("AKIAassumed")}, nil
		},
	}
	s := testSession(t, assume, nil)

	if err := s.AssumeRole(context.TODO(), roleSpec("arn:aws:iam::111111111111:role/reader")); err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("got %d refresh calls, wanted 1", got)
	}

	// separate materializer caches share the broker's record
	first := s.NewLocal()
	second := s.NewLocal()

	h1, err := first.Handle(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	h2, err := second.Handle(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}

	if h1 == h2 {
		t.Error("got one handle for two locals, wanted independent handles")
	}
	if h1.Key() != h2.Key() {
		t.Errorf("got diverging keys %d and %d, wanted equal", h1.Key(), h2.Key())
	}

	c1, _ := h1.Credentials(context.TODO())
	c2, _ := h2.Credentials(context.TODO())
	if c1.AccessKeyID != "AKIAassumed" || c2.AccessKeyID != "AKIAassumed" {
		t.Errorf("got %q and %q, wanted the assumed key on both", c1.AccessKeyID, c2.AccessKeyID)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("got %d refresh calls, wanted 1, handles must share the record", got)
	}
}

func Test_AssumeRole_deferred_postpones_materialization_errors(t *testing.T) {
	assume := &mockAssumeApi{
		assumeRole: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			return nil, errors.New("AccessDenied: not allowed")
		},
	}
	s := testSession(t, assume, nil)

	spec := roleSpec("arn:aws:iam::111111111111:role/forbidden")
	spec.Deferred = true

	if err := s.AssumeRole(context.TODO(), spec); err != nil {
		t.Fatalf("got %s, wanted <nil>, deferred steps must not materialize", err)
	}
	if s.Depth() != 2 {
		t.Fatalf("got depth %d, wanted 2", s.Depth())
	}

	_, err := s.ActiveHandle(context.TODO())
	if err == nil {
		t.Fatal("got <nil>, wanted the postponed refresh failure")
	}
	if !errors.Is(err, awssession.ErrUnableAssume) {
		t.Errorf("got %s, wanted %s", err, awssession.ErrUnableAssume)
	}
}

func Test_AssumeRole_failure_leaves_step_for_revert(t *testing.T) {
	assume := &mockAssumeApi{
		assumeRole: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			return nil, errors.New("AccessDenied: not allowed")
		},
	}
	s := testSession(t, assume, nil)

	err := s.AssumeRole(context.TODO(), roleSpec("arn:aws:iam::111111111111:role/forbidden"))
	if !errors.Is(err, awssession.ErrUnableAssume) {
		t.Fatalf("got %v, wanted %s", err, awssession.ErrUnableAssume)
	}
	if s.Depth() != 2 {
		t.Errorf("got depth %d, wanted 2, failed steps stay on the stack", s.Depth())
	}
}

func Test_Revert_returns_outgoing_handle_and_pops(t *testing.T) {
	assume := &mockAssumeApi{
		assumeRole: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			return &sts.AssumeRoleOutput{Credentials: stsCredentials("AKIAassumed")}, nil
		},
	}
	s := testSession(t, assume, nil)

	if err := s.AssumeRole(context.TODO(), roleSpec("arn:aws:iam::111111111111:role/reader")); err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	assumed, err := s.ActiveHandle(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}

	prev, err := s.Revert(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if prev == nil || prev.Key() != assumed.Key() {
		t.Error("wanted the outgoing assumed handle back from Revert")
	}
	if s.Depth() != 1 {
		t.Errorf("got depth %d, wanted 1", s.Depth())
	}

	// outgoing handle keeps addressing the assumed identity
	creds, err := prev.Credentials(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if creds.AccessKeyID != "AKIAassumed" {
		t.Errorf("got %q, wanted AKIAassumed", creds.AccessKeyID)
	}

	// the session itself is back on the base identity
	h, err := s.ActiveHandle(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	baseCreds, _ := h.Credentials(context.TODO())
	if baseCreds.AccessKeyID != "AKIAbase" {
		t.Errorf("got %q, wanted AKIAbase", baseCreds.AccessKeyID)
	}

	// reverting the base identity is a no-op
	prev, err = s.Revert(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if prev != nil {
		t.Error("got a handle, wanted nil at the base identity")
	}
}

func Test_Local_validates_position_wise_and_reuses_records(t *testing.T) {
	var calls int32
	assume := &mockAssumeApi{
		assumeRole: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			atomic.AddInt32(&calls, 1)
			return &sts.AssumeRoleOutput{Credentials: stsCredentials("AKIA" + aws.ToString(params.RoleArn))}, nil
		},
	}
	s := testSession(t, assume, nil)
	local := s.NewLocal()

	roleA := roleSpec("arn:aws:iam::111111111111:role/a")
	roleA.Deferred = true
	roleB := roleSpec("arn:aws:iam::111111111111:role/b")
	roleB.Deferred = true

	if err := s.AssumeRole(context.TODO(), roleA); err != nil {
		t.Fatal(err)
	}
	if _, err := local.Handle(context.TODO()); err != nil {
		t.Fatal(err)
	}
	if local.Depth() != 2 || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("got depth %d with %d calls, wanted 2 and 1", local.Depth(), atomic.LoadInt32(&calls))
	}

	if _, err := s.Revert(context.TODO()); err != nil {
		t.Fatal(err)
	}
	if _, err := local.Handle(context.TODO()); err != nil {
		t.Fatal(err)
	}
	if local.Depth() != 1 {
		t.Errorf("got depth %d, wanted 1 after revert", local.Depth())
	}

	if err := s.AssumeRole(context.TODO(), roleB); err != nil {
		t.Fatal(err)
	}
	if _, err := local.Handle(context.TODO()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("got %d calls, wanted 2 after a second distinct role", got)
	}

	// re-assuming role a reuses the live record, no third refresh
	if _, err := s.Revert(context.TODO()); err != nil {
		t.Fatal(err)
	}
	if err := s.AssumeRole(context.TODO(), roleA); err != nil {
		t.Fatal(err)
	}
	h, err := local.Handle(context.TODO())
	if err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("got %d calls, wanted 2, the record for role a is still live", got)
	}
	creds, _ := h.Credentials(context.TODO())
	if creds.AccessKeyID != "AKIAarn:aws:iam::111111111111:role/a" {
		t.Errorf("got %q, wanted the role a credentials", creds.AccessKeyID)
	}
}

func Test_concurrent_locals_converge_on_one_record(t *testing.T) {
	var calls int32
	assume := &mockAssumeApi{
		assumeRole: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(5 * time.Millisecond)
			return &sts.AssumeRoleOutput{Credentials: stsCredentials("AKIAshared")}, nil
		},
	}
	s := testSession(t, assume, nil)

	spec := roleSpec("arn:aws:iam::111111111111:role/shared")
	spec.Deferred = true
	if err := s.AssumeRole(context.TODO(), spec); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := s.NewLocal().Handle(context.TODO())
			if err != nil {
				errCh <- err
				return
			}
			creds, err := h.Credentials(context.TODO())
			if err != nil {
				errCh <- err
				return
			}
			if creds.AccessKeyID != "AKIAshared" {
				errCh <- errors.New("unexpected access key " + creds.AccessKeyID)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	// racing builders may each have refreshed once, but the retained
	// record serves every later materialization
	warm := atomic.LoadInt32(&calls)
	if warm < 1 || warm > 8 {
		t.Fatalf("got %d refresh calls during the race, wanted between 1 and 8", warm)
	}
	if _, err := s.NewLocal().Handle(context.TODO()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != warm {
		t.Errorf("got %d calls after warm up, wanted %d", got, warm)
	}
}

func Test_ChainKey_tracks_stack_state(t *testing.T) {
	assume := &mockAssumeApi{
		assumeRole: func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
			return &sts.AssumeRoleOutput{Credentials: stsCredentials("AKIAx")}, nil
		},
	}
	s := testSession(t, assume, nil)

	atBase := s.ChainKey()

	if err := s.AssumeRole(context.TODO(), roleSpec("arn:aws:iam::111111111111:role/reader")); err != nil {
		t.Fatal(err)
	}
	assumed := s.ChainKey()
	if assumed == atBase {
		t.Error("got identical chain keys before and after assume")
	}

	if _, err := s.Revert(context.TODO()); err != nil {
		t.Fatal(err)
	}
	if got := s.ChainKey(); got != atBase {
		t.Errorf("got %d, wanted the original base chain key %d", got, atBase)
	}
}
