package forwarder

import (
	"net/http"
	"net/url"

	"github.com/relaymesh/paf/internal/profile"
)

// rewriteHeaders builds the outbound header set for one forwarded request,
// per §4.5 step 5. inbound is the client's original headers; upstream is
// the parsed base URL; endpoint carries whichever credential is
// configured.
func rewriteHeaders(inbound http.Header, upstream *url.URL, endpoint profile.Endpoint, family profile.Family) http.Header {
	out := inbound.Clone()
	out.Del("Host")
	out.Del("Content-Length")
	out.Del("Authorization")
	out.Del("X-Api-Key")

	out.Set("Host", upstream.Host)
	out.Set("Connection", "keep-alive")

	switch {
	case endpoint.APIKey != "":
		out.Set("Authorization", "Bearer "+endpoint.APIKey)
		if out.Get("X-Api-Key") == "" {
			out.Set("X-Api-Key", endpoint.APIKey)
		}
	case endpoint.AuthToken != "":
		out.Set("Authorization", "Bearer "+endpoint.AuthToken)
	default:
		if v := inbound.Get("Authorization"); v != "" {
			out.Set("Authorization", v)
		}
		if v := inbound.Get("X-Api-Key"); v != "" {
			out.Set("X-Api-Key", v)
		}
	}

	// Propagate client credentials/organization that credential injection
	// above did not already decide, rather than let a client-supplied
	// header clobber what was just injected from the endpoint's own
	// configured credential.
	if out.Get("X-Api-Key") == "" {
		if v := inbound.Get("X-Api-Key"); v != "" {
			out.Set("X-Api-Key", v)
		}
	}
	if v := inbound.Get("Openai-Organization"); v != "" {
		out.Set("Openai-Organization", v)
	}

	if family == profile.Anthropic {
		if out.Get("X-Api-Key") == "" {
			if auth := out.Get("Authorization"); len(auth) > len("Bearer ") && auth[:7] == "Bearer " {
				out.Set("X-Api-Key", auth[7:])
			}
		}
		if out.Get("Anthropic-Version") == "" {
			out.Set("Anthropic-Version", "2023-06-01")
		}
	}

	out.Del("Accept-Encoding")
	return out
}
