package forwarder

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/relaymesh/paf/internal/profile"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return u
}

func TestRewriteHeaders_AuthTokenInjection(t *testing.T) {
	t.Parallel()

	inbound := http.Header{}
	upstream := mustParseURL(t, "https://api.upstream.test")
	endpoint := profile.Endpoint{Name: "x", BaseURL: upstream.String(), AuthToken: "abc"}

	out := rewriteHeaders(inbound, upstream, endpoint, profile.Anthropic)

	if got := out.Get("Authorization"); got != "Bearer abc" {
		t.Fatalf("Authorization = %q, want Bearer abc", got)
	}
	if got := out.Get("X-Api-Key"); got != "abc" {
		t.Fatalf("X-Api-Key = %q, want abc (anthropic copies bearer token)", got)
	}
	if got := out.Get("Anthropic-Version"); got != "2023-06-01" {
		t.Fatalf("Anthropic-Version = %q, want 2023-06-01", got)
	}
	if got := out.Get("Host"); got != upstream.Host {
		t.Fatalf("Host = %q, want %q", got, upstream.Host)
	}
	if got := out.Get("Connection"); got != "keep-alive" {
		t.Fatalf("Connection = %q, want keep-alive", got)
	}
	if out.Get("Accept-Encoding") != "" {
		t.Fatalf("Accept-Encoding should be stripped")
	}
}

func TestRewriteHeaders_APIKeyEndpointSetsBothHeaders(t *testing.T) {
	t.Parallel()

	inbound := http.Header{}
	upstream := mustParseURL(t, "https://api.upstream.test")
	endpoint := profile.Endpoint{Name: "x", BaseURL: upstream.String(), APIKey: "key123"}

	out := rewriteHeaders(inbound, upstream, endpoint, profile.OpenAI)

	if got := out.Get("Authorization"); got != "Bearer key123" {
		t.Fatalf("Authorization = %q, want Bearer key123", got)
	}
	if got := out.Get("X-Api-Key"); got != "key123" {
		t.Fatalf("X-Api-Key = %q, want key123", got)
	}
}

func TestRewriteHeaders_StripsInboundCredentialsAndHopHeaders(t *testing.T) {
	t.Parallel()

	inbound := http.Header{}
	inbound.Set("Host", "client.example")
	inbound.Set("Content-Length", "42")
	inbound.Set("Authorization", "Bearer client-token")
	inbound.Set("X-Api-Key", "client-key")
	inbound.Set("Accept-Encoding", "br")
	inbound.Set("Openai-Organization", "org-1")

	upstream := mustParseURL(t, "https://api.upstream.test")
	endpoint := profile.Endpoint{Name: "x", BaseURL: upstream.String(), AuthToken: "server-token"}

	out := rewriteHeaders(inbound, upstream, endpoint, profile.OpenAI)

	if got := out.Get("Authorization"); got != "Bearer server-token" {
		t.Fatalf("Authorization = %q, want server credential to win", got)
	}
	if out.Get("Accept-Encoding") != "" {
		t.Fatalf("Accept-Encoding must be stripped")
	}
	if got := out.Get("Openai-Organization"); got != "org-1" {
		t.Fatalf("Openai-Organization = %q, want propagated", got)
	}
}

func TestRewriteHeaders_NoCredentialPassesClientThrough(t *testing.T) {
	t.Parallel()

	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer client-token")
	inbound.Set("X-Api-Key", "client-key")

	upstream := mustParseURL(t, "https://api.upstream.test")
	endpoint := profile.Endpoint{Name: "x", BaseURL: upstream.String()}

	out := rewriteHeaders(inbound, upstream, endpoint, profile.OpenAI)

	if got := out.Get("Authorization"); got != "Bearer client-token" {
		t.Fatalf("Authorization = %q, want client credential passed through", got)
	}
	if got := out.Get("X-Api-Key"); got != "client-key" {
		t.Fatalf("X-Api-Key = %q, want client credential passed through", got)
	}
}
