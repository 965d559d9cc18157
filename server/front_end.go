package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelnet/mcp-proxy/internal/bridge"
	"github.com/kestrelnet/mcp-proxy/internal/bridgeerr"
	"github.com/kestrelnet/mcp-proxy/internal/child"
	"github.com/kestrelnet/mcp-proxy/internal/collection"
	"github.com/kestrelnet/mcp-proxy/internal/registry"
	"github.com/kestrelnet/mcp-proxy/internal/session"
	"github.com/kestrelnet/mcp-proxy/internal/status"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// defaultServerName is the status/log key used for the unnamed server
// that "" (no /servers/<name> segment) resolves to.
const defaultServerName = "default"

// FrontEnd implements the HTTP Server Front-End (C6): it serves the
// default (unnamed) server plus every Named Server Registry entry,
// spawning one stdio child per ingress session and bridging it to an SSE
// or Streamable HTTP transport.
type FrontEnd struct {
	Registry *registry.Registry
	Default  *registry.Entry

	Tracker      *status.Tracker
	Stateless    bool
	AllowOrigins []string

	Log zerolog.Logger

	sseSessions    *collection.SyncMap[string, *transport.SSEServer]
	streamSessions *collection.SyncMap[string, *transport.StreamableServer]
}

// New builds a FrontEnd. def may be nil when only named servers are
// configured (spec §6: "if only --named-server* are provided, there is
// no default server").
func New(reg *registry.Registry, def *registry.Entry, stateless bool, allowOrigins []string, log zerolog.Logger) *FrontEnd {
	names := reg.Names()
	if def != nil {
		names = append(names, defaultServerName)
	}
	return &FrontEnd{
		Registry:       reg,
		Default:        def,
		Tracker:        status.NewTracker(names),
		Stateless:      stateless,
		AllowOrigins:   allowOrigins,
		Log:            log.With().Str("component", "front_end").Logger(),
		sseSessions:    collection.NewSyncMap[string, *transport.SSEServer](),
		streamSessions: collection.NewSyncMap[string, *transport.StreamableServer](),
	}
}

// Middleware wraps an http.Handler with behavior that runs before and/or
// after it.
type Middleware func(next http.Handler) http.Handler

// Handler builds the full mux with CORS, Origin, and MCP-Protocol-Version
// middleware applied to every route (spec §4.6). Origin validation is
// always installed, regardless of AllowOrigins: an empty list is the
// secure default, denying every cross-origin request, not an opt-out of
// the check itself.
func (f *FrontEnd) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", f.handleSSEGet(""))
	mux.HandleFunc("POST /messages/", f.handleSSEPost(""))
	mux.HandleFunc("POST /mcp", f.handleStreamable(""))
	mux.HandleFunc("GET /servers/{name}/sse", f.handleSSENamed())
	mux.HandleFunc("POST /servers/{name}/messages/", f.handleSSEPostNamed())
	mux.HandleFunc("POST /servers/{name}/mcp", f.handleStreamableNamed())
	mux.HandleFunc("GET /status", f.handleStatus)

	cors := &corsHandler{Cors: newCors(f.AllowOrigins)}
	var handler http.Handler = mux
	for _, mw := range []Middleware{
		originValidationMiddleware(f.AllowOrigins),
		protocolVersionMiddleware(),
		cors.Middleware,
	} {
		handler = mw(handler)
	}
	return handler
}

func (f *FrontEnd) handleSSENamed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.handleSSEGet(r.PathValue("name"))(w, r)
	}
}

func (f *FrontEnd) handleSSEPostNamed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.handleSSEPost(r.PathValue("name"))(w, r)
	}
}

func (f *FrontEnd) handleStreamableNamed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.handleStreamable(r.PathValue("name"))(w, r)
	}
}

// resolveEntry maps a path name ("" for the default server) to a Named
// Server Entry, reporting ok=false for an unknown or disabled entry
// (spec §4.6 step 1: respond 404, never spawn).
func (f *FrontEnd) resolveEntry(name string) (registry.Entry, string, bool) {
	if name == "" {
		if f.Default == nil {
			return registry.Entry{}, "", false
		}
		return *f.Default, defaultServerName, true
	}
	e, ok := f.Registry.Lookup(name)
	return e, name, ok
}

func (f *FrontEnd) spawnChild(ctx context.Context, statusName string, e registry.Entry, header http.Header) (*child.Process, error) {
	spawn := e.Spawn(header, os.Environ())
	onMalformed := func(err error) {
		f.Log.Warn().Str("server", statusName).Err(err).Msg("malformed message from child")
	}
	return child.Start(ctx, statusName, spawn, f.Log, onMalformed)
}

// runBridge performs the handshake and relay loop for one ingress
// session and reaps the child on completion, regardless of outcome.
func (f *FrontEnd) runBridge(ctx context.Context, statusName string, proc *child.Process, ingress *session.Endpoint) {
	dec := f.Tracker.Server(statusName).Inc()
	defer dec()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), child.GracePeriod+time.Second)
		defer cancel()
		_ = proc.Stop(stopCtx)
	}()

	egress := session.NewEndpoint(proc.Transport(), session.Initiator)
	br := bridge.New(ingress, egress, f.Log)

	if err := br.Handshake(ctx); err != nil {
		f.Log.Warn().Str("server", statusName).Err(err).Msg("handshake failed")
		return
	}
	if err := br.Run(ctx); err != nil && !bridgeerr.As(err, bridgeerr.TransportClosed) {
		f.Log.Warn().Str("server", statusName).Err(err).Msg("bridge terminated")
	}
}

func readAllBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(r.Body)
}

func (f *FrontEnd) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := f.Tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
