package awsclient

import "strings"

// Endpoints maps a service name to an endpoint override. The value is
// either a plain URL string applied to every region, or a nested
// map keyed by region name for cross region deployments. Nested maps
// may arrive as map[string]string or map[string]any depending on how
// the configuration was decoded.
type Endpoints map[string]any

// Resolve returns the endpoint URL override for a service in a region
// or the empty string when the default endpoint should be used.
//
// A URL is only honoured when it embeds a region token equal to the
// requested region. Clients require a region alongside a custom
// endpoint, so a mismatched URL would silently pin traffic to the
// wrong region. When several URL parts look like regions the last one
// wins.
func (e Endpoints) Resolve(service, region string) string {
	if service == "" || region == "" {
		return ""
	}

	var url string
	switch v := e[service].(type) {
	case string:
		url = v
	case map[string]string:
		url = v[region]
	case map[string]any:
		if s, ok := v[region].(string); ok {
			url = s
		}
	}
	if url == "" {
		return ""
	}

	endpointRegion := ""
	for _, part := range strings.Split(url, ".") {
		if IsRegion(part) {
			endpointRegion = part
		}
	}
	if endpointRegion == region {
		return url
	}
	return ""
}

// ResolveSettings binds the region and any endpoint override for a
// service into call time settings. An empty region yields settings
// that defer entirely to the client defaults.
func ResolveSettings(e Endpoints, service, region string) Settings {
	st := Settings{Region: region}
	if svc := e.Resolve(service, region); svc != "" {
		st.EndpointURL = svc
	}
	return st
}
