package server

import (
	"net/http"

	"github.com/kestrelnet/mcp-proxy/internal/session"
)

// protocolVersionMiddleware validates the MCP-Protocol-Version request
// header, when present, against the version this proxy advertises, and
// always sets it on the response, the way the teacher's own server
// package validated it against mcp-protocol/schema.LatestProtocolVersion.
func protocolVersionMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			version := r.Header.Get("MCP-Protocol-Version")
			if version != "" && version != session.LatestProtocolVersion {
				http.Error(w, "invalid MCP-Protocol-Version", http.StatusBadRequest)
				return
			}
			w.Header().Set("MCP-Protocol-Version", session.LatestProtocolVersion)
			next.ServeHTTP(w, r)
		})
	}
}
