package server

import (
	"context"
	"net/http"
	"time"

	"github.com/kestrelnet/mcp-proxy/internal/bridge"
	"github.com/kestrelnet/mcp-proxy/internal/bridgeerr"
	"github.com/kestrelnet/mcp-proxy/internal/child"
	"github.com/kestrelnet/mcp-proxy/internal/message"
	"github.com/kestrelnet/mcp-proxy/internal/registry"
	"github.com/kestrelnet/mcp-proxy/internal/session"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// handleStreamable serves the Streamable HTTP endpoint for name ("" =
// default server), dispatching to stateful or stateless handling per
// f.Stateless (spec §4.2, §9).
func (f *FrontEnd) handleStreamable(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, statusName, ok := f.resolveEntry(name)
		if !ok {
			http.NotFound(w, r)
			return
		}
		body, err := readAllBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.Stateless {
			f.handleStatelessStreamable(w, r, statusName, entry, body)
			return
		}
		f.handleStatefulStreamable(w, r, statusName, entry, body)
	}
}

// handleStatelessStreamable spins up a whole Bridge (child spawn
// included) per request and tears it down once the response is
// written, per the spec §9 design note on --stateless's cost: the
// delivered body must itself carry the session's initialize request,
// since there is no session to resume across requests.
func (f *FrontEnd) handleStatelessStreamable(w http.ResponseWriter, r *http.Request, statusName string, entry registry.Entry, body []byte) {
	proc, err := f.spawnChild(r.Context(), statusName, entry, r.Header)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), child.GracePeriod+time.Second)
		defer cancel()
		_ = proc.Stop(stopCtx)
	}()

	streamSrv := transport.NewStreamableSession(true)
	if err := streamSrv.Deliver(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ingress := session.NewEndpoint(streamSrv, session.Responder)
	egress := session.NewEndpoint(proc.Transport(), session.Initiator)
	br := bridge.New(ingress, egress, f.Log)

	dec := f.Tracker.Server(statusName).Inc()
	defer dec()

	if err := br.Handshake(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	go func() {
		if err := br.Run(r.Context()); err != nil && !bridgeerr.As(err, bridgeerr.TransportClosed) {
			f.Log.Warn().Str("server", statusName).Err(err).Msg("stateless streamable bridge terminated")
		}
	}()

	want := countRequests(body)
	if want == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := streamSrv.WriteResponseFor(w, r.Context().Done(), want); err != nil {
		f.Log.Warn().Str("server", statusName).Err(err).Msg("failed writing stateless streamable response")
	}
}

// handleStatefulStreamable keeps one StreamableServer (and its Bridge)
// alive across requests, identified by Mcp-Session-Id: the first POST
// (no header) spawns the child and negotiates the handshake; subsequent
// POSTs deliver into the same live session (spec §4.2 stateful mode).
func (f *FrontEnd) handleStatefulStreamable(w http.ResponseWriter, r *http.Request, statusName string, entry registry.Entry, body []byte) {
	if sessionID := r.Header.Get("Mcp-Session-Id"); sessionID != "" {
		streamSrv, ok := f.streamSessions.Get(sessionID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.deliverAndRespond(w, r, statusName, streamSrv, body)
		return
	}

	proc, err := f.spawnChild(r.Context(), statusName, entry, r.Header)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	streamSrv := transport.NewStreamableSession(false)
	if err := streamSrv.Deliver(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		_ = proc.Stop(r.Context())
		return
	}

	ingress := session.NewEndpoint(streamSrv, session.Responder)
	egress := session.NewEndpoint(proc.Transport(), session.Initiator)
	br := bridge.New(ingress, egress, f.Log)

	sessionCtx, cancel := context.WithCancel(context.Background())
	f.streamSessions.Put(string(streamSrv.ID()), streamSrv)
	dec := f.Tracker.Server(statusName).Inc()
	go func() {
		defer dec()
		defer cancel()
		defer f.streamSessions.Delete(string(streamSrv.ID()))
		defer func() {
			stopCtx, c := context.WithTimeout(context.Background(), child.GracePeriod+time.Second)
			defer c()
			_ = proc.Stop(stopCtx)
		}()
		if err := br.Handshake(sessionCtx); err != nil {
			f.Log.Warn().Str("server", statusName).Err(err).Msg("stateful streamable handshake failed")
			_ = streamSrv.Close()
			return
		}
		if err := br.Run(sessionCtx); err != nil && !bridgeerr.As(err, bridgeerr.TransportClosed) {
			f.Log.Warn().Str("server", statusName).Err(err).Msg("stateful streamable bridge terminated")
		}
	}()

	want := countRequests(body)
	if want == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := streamSrv.WriteResponseFor(w, r.Context().Done(), want); err != nil {
		f.Log.Warn().Str("server", statusName).Err(err).Msg("failed writing stateful streamable response")
	}
}

func (f *FrontEnd) deliverAndRespond(w http.ResponseWriter, r *http.Request, statusName string, streamSrv *transport.StreamableServer, body []byte) {
	if err := streamSrv.Deliver(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	want := countRequests(body)
	if want == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := streamSrv.WriteResponseFor(w, r.Context().Done(), want); err != nil {
		f.Log.Warn().Str("server", statusName).Err(err).Msg("failed writing streamable response")
	}
}

// countRequests reports how many Request envelopes body carries, which is
// how many correlated replies WriteResponseFor should wait for before
// closing this POST's response (notifications and bare responses expect
// none, so the handler answers 202 immediately instead).
func countRequests(body []byte) int {
	envs, err := message.DecodeBatch(body)
	if err != nil {
		return 1
	}
	n := 0
	for _, e := range envs {
		if e.Kind == message.KindRequest {
			n++
		}
	}
	return n
}
