package awsclient_test

import (
	"testing"

	"github.com/dnitsch/aws-account/internal/awsclient"
)

func fixtureEndpoints() awsclient.Endpoints {
	return awsclient.Endpoints{
		"sts": "https://test.sts.us-west-1.com/test",
		"sqs": map[string]string{
			"us-west-1":    "https://test.sqs.us-west-1.com/test",
			"eu-central-1": "https://test.sqs.eu-central-1.com/test",
		},
	}
}

func Test_Resolve_endpoint_overrides(t *testing.T) {
	ttests := map[string]struct {
		endpoints awsclient.Endpoints
		service   string
		region    string
		want      string
	}{
		"service with matching region in url": {
			fixtureEndpoints(), "sts", "us-west-1", "https://test.sts.us-west-1.com/test",
		},
		"cross region map picks regional url": {
			fixtureEndpoints(), "sqs", "eu-central-1", "https://test.sqs.eu-central-1.com/test",
		},
		"no service given": {
			fixtureEndpoints(), "", "us-west-1", "",
		},
		"service not in endpoints map": {
			fixtureEndpoints(), "invalid", "us-west-1", "",
		},
		"region not in cross region map": {
			fixtureEndpoints(), "sqs", "us-west-2", "",
		},
		"url region differs from session region": {
			awsclient.Endpoints{"sts": "https://sts.ap-east-1.com"}, "sts", "us-west-1", "",
		},
		"no session region": {
			fixtureEndpoints(), "sts", "", "",
		},
		"url without region token": {
			awsclient.Endpoints{"sts": "https://sts.example.com"}, "sts", "us-west-1", "",
		},
		"last region token in url wins": {
			awsclient.Endpoints{"s3": "https://us-west-2.mirror.us-east-1.example.com"}, "s3", "us-east-1",
			"https://us-west-2.mirror.us-east-1.example.com",
		},
		"cross region map decoded as any": {
			awsclient.Endpoints{"sqs": map[string]any{
				"us-west-1": "https://test.sqs.us-west-1.com/test",
			}}, "sqs", "us-west-1", "https://test.sqs.us-west-1.com/test",
		},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			if got := tt.endpoints.Resolve(tt.service, tt.region); got != tt.want {
				t.Errorf("got %q, wanted %q", got, tt.want)
			}
		})
	}
}

func Test_ResolveSettings_carries_region_and_endpoint(t *testing.T) {
	st := awsclient.ResolveSettings(fixtureEndpoints(), "sts", "us-west-1")
	if st.Region != "us-west-1" {
		t.Errorf("got region %q, wanted us-west-1", st.Region)
	}
	if st.EndpointURL != "https://test.sts.us-west-1.com/test" {
		t.Errorf("got endpoint %q, wanted the configured override", st.EndpointURL)
	}

	none := awsclient.ResolveSettings(fixtureEndpoints(), "sts", "")
	if none.Region != "" || none.EndpointURL != "" {
		t.Errorf("got %+v, wanted zero settings without a session region", none)
	}
}
