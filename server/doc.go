// Package server implements the HTTP Server Front-End (C6): it exposes
// SSE and Streamable HTTP endpoints for a default (unnamed) server and
// for any number of Named Server Registry entries, extracts headers into
// spawn-time environment, spawns a stdio child per ingress session via
// internal/child, and hands the resulting pair of Session Endpoints to
// the Bridge Engine.
//
// Ambient HTTP plumbing (CORS headers, Origin allowlisting, middleware
// chaining) is carried over from the original viant/mcp server package
// largely unchanged — it never touched MCP payload semantics and applies
// just as well here.
package server
