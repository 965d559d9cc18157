package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/kestrelnet/mcp-proxy/internal/bridge"
	"github.com/kestrelnet/mcp-proxy/internal/oauthhttp"
	"github.com/kestrelnet/mcp-proxy/internal/session"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// runRemote implements mode 1 (spec §1): the proxy's own stdin/stdout is
// the local MCP peer, bridged to a remote SSE or Streamable HTTP server
// reached at remoteURL.
func runRemote(ctx context.Context, opts *Options, remoteURL string, log zerolog.Logger) error {
	headers, err := headersFromKV(opts.Headers)
	if err != nil {
		return fmt.Errorf("mcp-proxy: %w", err)
	}
	if tok := os.Getenv("API_ACCESS_TOKEN"); tok != "" && headers.Get("Authorization") == "" {
		headers.Set("Authorization", "Bearer "+tok)
	}

	httpClient := oauthhttp.NewClient(ctx, oauthhttp.Config{
		ClientID:      opts.ClientID,
		ClientSecret:  opts.ClientSecret,
		TokenURL:      opts.TokenURL,
		StaticHeaders: headers,
	})

	var remote transport.Transport
	switch opts.Transport {
	case "streamablehttp":
		remote = transport.NewStreamableClient(remoteURL, httpClient)
	default:
		sseClient, err := transport.NewSSEClient(ctx, remoteURL, httpClient)
		if err != nil {
			return fmt.Errorf("mcp-proxy: connect to %s: %w", remoteURL, err)
		}
		remote = sseClient
	}

	local := transport.NewStdio(os.Stdin, os.Stdout, nil, nil, func(err error) {
		log.Warn().Err(err).Msg("malformed message on local stdio")
	})

	// The proxy's own stdio answers whatever parent process spawned it
	// (e.g. an editor's MCP client), so it plays Responder there; it
	// initiates the handshake against the remote server it bridges to.
	a := session.NewEndpoint(local, session.Responder)
	b := session.NewEndpoint(remote, session.Initiator)
	br := bridge.New(a, b, log)

	if err := br.Handshake(ctx); err != nil {
		return fmt.Errorf("mcp-proxy: handshake failed: %w", err)
	}
	return br.Run(ctx)
}
