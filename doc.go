// Package mcp bridges two Model Context Protocol peers across
// transports: it mirrors the handshake between them and relays every
// subsequent message, in order, without interpreting the MCP payload
// beyond the initialize exchange.
//
// Concrete pieces live under internal/: message envelopes and the
// stdio/SSE/Streamable HTTP transports in internal/transport, the
// handshake in internal/session, the relay engine in internal/bridge,
// and the Named Server Registry and child process supervisor behind the
// HTTP front-end in internal/registry and internal/child.
//
// cmd/mcp-proxy is the CLI entry point; server is the HTTP front-end
// that spawns named stdio servers on demand.
package mcp
