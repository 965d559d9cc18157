package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/kestrelnet/mcp-proxy/internal/session"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// handleSSEGet opens the long-lived SSE GET leg for name ("" = default
// server): spawn a child, wrap it and the SSE stream as a Bridge, and
// block until the session ends (spec §4.6).
func (f *FrontEnd) handleSSEGet(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, statusName, ok := f.resolveEntry(name)
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sseSrv, err := transport.NewSSESession(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		proc, err := f.spawnChild(r.Context(), statusName, entry, r.Header)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		messageURL := messagesPath(name) + "?sessionId=" + string(sseSrv.ID())
		if err := sseSrv.WriteEndpointEvent(messageURL); err != nil {
			f.Log.Warn().Str("server", statusName).Err(err).Msg("failed to write SSE endpoint event")
			_ = proc.Stop(r.Context())
			return
		}

		f.sseSessions.Put(string(sseSrv.ID()), sseSrv)
		defer f.sseSessions.Delete(string(sseSrv.ID()))
		defer func() { _ = sseSrv.Close() }()

		ingress := session.NewEndpoint(sseSrv, session.Responder)
		f.runBridge(r.Context(), statusName, proc, ingress)
	}
}

func messagesPath(name string) string {
	if name == "" {
		return "/messages/"
	}
	return fmt.Sprintf("/servers/%s/messages/", name)
}

// handleSSEPost delivers one POSTed MCP message to the SSE session named
// by the sessionId query parameter, set on the initial endpoint event.
func (f *FrontEnd) handleSSEPost(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			http.Error(w, "missing sessionId", http.StatusBadRequest)
			return
		}
		sess, ok := f.sseSessions.Get(sessionID)
		if !ok {
			http.NotFound(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := sess.Deliver(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
