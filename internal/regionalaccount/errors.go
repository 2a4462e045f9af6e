package regionalaccount

import (
	"fmt"
	"strings"
)

// remediation hints keyed by substrings of the underlying AWS error
// code. First match wins, checked in listed order.
var errorHints = []struct {
	marker string
	hint   string
}{
	{"NoSuch", "queried item does not exist, check in the AWS web console"},
	{"AccessDenied", "verify the IAM role carries permission to access the resource"},
	{"AuthFailure", "the account or region is not reachable with these credentials, exclude it from the region filter"},
	{"InvalidClientTokenId", "the account or region is not reachable with these credentials, exclude it from the region filter"},
	{"UnrecognizedClientException", "the account or region is not reachable with these credentials, exclude it from the region filter"},
}

// ClientError decorates a failed remote call with the account and
// region context of the dispatching RegionalAccount. Alias and account
// id are best effort and may be empty when the diagnostic lookups
// themselves fail.
type ClientError struct {
	Err          error
	AccountAlias string
	AccountID    string
	Region       string
}

func (e *ClientError) Error() string {
	msg := fmt.Sprintf("error message: %s. account alias: %s. account id: %s. region: %s",
		e.Err, e.AccountAlias, e.AccountID, e.Region)
	if hint := e.Hint(); hint != "" {
		msg += ". hint: " + hint
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Hint maps well known AWS error codes to a remediation note, empty
// when the failure is not one of the recognized shapes.
func (e *ClientError) Hint() string {
	if e.Err == nil {
		return ""
	}
	text := e.Err.Error()
	for _, h := range errorHints {
		if strings.Contains(text, h.marker) {
			return h.hint
		}
	}
	return ""
}
