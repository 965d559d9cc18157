// Package oauthhttp builds the HTTP client used by the HTTP transport
// variants (C2) when client-credentials OAuth2 is configured. Token
// acquisition itself is delegated to golang.org/x/oauth2/clientcredentials
// (the spec's "HTTP auth helper", assumed available and out of scope) —
// this package only wires a single-retry-on-401 RoundTripper around it,
// the way viant/mcp/client.go wraps an auth RoundTripper around the
// transports it builds.
package oauthhttp

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config configures OAuth2 client-credentials acquisition for an HTTP
// transport. StaticHeaders are applied last and win on key conflict,
// resolving spec §6/§9's ambiguity between API_ACCESS_TOKEN and an
// explicit --headers Authorization in favor of the explicit header.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	StaticHeaders http.Header
}

// NewClient builds an *http.Client applying OAuth2 client-credentials auth
// (when configured) and any static headers to every outbound request. A
// token acquisition failure is returned to the caller as an error; a 401
// that is still returned after the single retry (spec §4.2) is handed back
// as that 401 response. Neither is classified as AuthFailure, here or in
// the transports.
func NewClient(ctx context.Context, cfg Config) *http.Client {
	if cfg.ClientID == "" && cfg.ClientSecret == "" && cfg.TokenURL == "" {
		return &http.Client{Transport: &headerRoundTripper{base: http.DefaultTransport, headers: cfg.StaticHeaders}}
	}
	ccCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &http.Client{Transport: &oauthRoundTripper{
		base:    http.DefaultTransport,
		source:  ccCfg.TokenSource(ctx),
		headers: cfg.StaticHeaders,
	}}
}

// oauthRoundTripper injects a bearer token sourced from
// clientcredentials.Config.TokenSource and retries exactly once on a 401.
// The retry asks the same token source again, which returns its cached
// token until that token expires; a new token is not forced.
type oauthRoundTripper struct {
	base    http.RoundTripper
	source  oauth2.TokenSource
	headers http.Header
}

func (rt *oauthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := func() (*http.Response, error) {
		cloned := req.Clone(req.Context())
		tok, err := rt.source.Token()
		if err != nil {
			return nil, fmt.Errorf("oauthhttp: token acquisition failed: %w", err)
		}
		if cloned.Header.Get("Authorization") == "" {
			cloned.Header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
		}
		applyHeaders(cloned, rt.headers)
		return rt.base.RoundTrip(cloned)
	}
	resp, err := attempt()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		return attempt()
	}
	return resp, nil
}

// headerRoundTripper applies only static headers — used when no OAuth2
// client-credentials source is configured.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	applyHeaders(cloned, rt.headers)
	return rt.base.RoundTrip(cloned)
}

// applyHeaders sets each static header, overriding whatever the request
// already carries — explicit headers win, per spec §9's precedence
// resolution.
func applyHeaders(req *http.Request, headers http.Header) {
	for k, vals := range headers {
		req.Header.Del(k)
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
}
