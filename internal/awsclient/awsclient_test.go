package awsclient_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/dnitsch/aws-account/internal/awsclient"
)

func Test_KeyValues_only_renders_populated_fields(t *testing.T) {
	ttests := map[string]struct {
		params awsclient.BaseParams
		want   map[string]string
	}{
		"profile and region": {
			awsclient.BaseParams{Profile: "dev", Region: "eu-west-1"},
			map[string]string{"profile_name": "dev", "region_name": "eu-west-1"},
		},
		"static keys": {
			awsclient.BaseParams{AccessKeyID: "AKIA123", SecretAccessKey: "secret"},
			map[string]string{"aws_access_key_id": "AKIA123", "aws_secret_access_key": "secret"},
		},
		"endpoints never contribute to identity": {
			awsclient.BaseParams{
				Region:           "us-east-1",
				ServiceEndpoints: awsclient.Endpoints{"sts": "https://sts.us-east-1.local"},
			},
			map[string]string{"region_name": "us-east-1"},
		},
		"empty params": {
			awsclient.BaseParams{},
			map[string]string{},
		},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			got := tt.params.KeyValues()
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries (%v), wanted %d", len(got), got, len(tt.want))
			}
			for k, w := range tt.want {
				if got[k] != w {
					t.Errorf("key %s: got %q, wanted %q", k, got[k], w)
				}
			}
		})
	}
}

func Test_WithCredentials_swaps_provider_only(t *testing.T) {
	parent := aws.Config{Region: "us-west-2"}
	static := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIAchild"}, nil
	})

	child := awsclient.WithCredentials(parent, static)

	if child.Region != "us-west-2" {
		t.Errorf("got region %q, wanted inherited us-west-2", child.Region)
	}
	creds, err := child.Credentials.Retrieve(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if creds.AccessKeyID != "AKIAchild" {
		t.Errorf("got access key %q, wanted AKIAchild", creds.AccessKeyID)
	}
	if parent.Credentials != nil {
		t.Error("parent config was mutated, wanted copy semantics")
	}
}

func Test_ApplySettings_binds_call_time_overrides(t *testing.T) {
	cfg := aws.Config{Region: "us-east-1"}

	st := awsclient.Settings{Region: "eu-west-2", EndpointURL: "https://sts.eu-west-2.local", MaxAttempts: 10}
	out := awsclient.ApplySettings(cfg, st)

	if out.Region != "eu-west-2" {
		t.Errorf("got %q, wanted eu-west-2", out.Region)
	}
	if out.BaseEndpoint == nil || *out.BaseEndpoint != "https://sts.eu-west-2.local" {
		t.Errorf("got %v, wanted the endpoint override bound", out.BaseEndpoint)
	}
	if out.RetryMaxAttempts != 10 {
		t.Errorf("got %d, wanted 10", out.RetryMaxAttempts)
	}
	if cfg.Region != "us-east-1" || cfg.BaseEndpoint != nil {
		t.Error("source config was mutated, wanted copy semantics")
	}

	unchanged := awsclient.ApplySettings(cfg, awsclient.Settings{})
	if unchanged.Region != "us-east-1" || unchanged.BaseEndpoint != nil || unchanged.RetryMaxAttempts != 0 {
		t.Errorf("got %+v, wanted cfg carried through untouched", unchanged)
	}
}
