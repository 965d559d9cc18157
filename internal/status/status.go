// Package status implements the Status Endpoint (C8): a live view of
// each named server's running state and session count, plus process
// uptime, reported as JSON by the HTTP front-end's /status route.
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Server tracks one named server's live session count and its static
// enabled state — "running" per spec §4.8 means enabled, not "has a live
// session right now"; an idle enabled server is still running.
type Server struct {
	enabled      bool
	liveSessions atomic.Int64
}

func newServer(enabled bool) *Server {
	return &Server{enabled: enabled}
}

// Inc records one more live session for this server, returning a func
// that decrements it again when the session ends.
func (s *Server) Inc() (dec func()) {
	s.liveSessions.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { s.liveSessions.Add(-1) })
	}
}

// LiveSessions returns the current live session count.
func (s *Server) LiveSessions() int64 { return s.liveSessions.Load() }

// Tracker aggregates Server counters across every named server, keyed by
// name, plus process uptime.
type Tracker struct {
	startedAt time.Time

	mu      sync.RWMutex
	servers map[string]*Server
}

// NewTracker starts the uptime clock and prepares tracking for names,
// the enabled named servers and default server (disabled entries are
// already dropped before reaching this constructor: the Named Server
// Registry keeps them, but its Names lists only enabled ones).
func NewTracker(names []string) *Tracker {
	t := &Tracker{
		startedAt: timeNow(),
		servers:   make(map[string]*Server, len(names)),
	}
	for _, name := range names {
		t.servers[name] = newServer(true)
	}
	return t
}

// timeNow is indirected so tests can substitute a deterministic clock.
var timeNow = time.Now

// Server returns the counter for name, registering it on first use when
// it was not among NewTracker's names. name
// reaches here only via FrontEnd.resolveEntry, which already rejected a
// disabled or unknown entry, so the registration is always enabled.
func (t *Tracker) Server(name string) *Server {
	t.mu.RLock()
	s, ok := t.servers[name]
	t.mu.RUnlock()
	if ok {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.servers[name]; ok {
		return s
	}
	s = newServer(true)
	t.servers[name] = s
	return s
}

// ServerStatus is one named server's reported state.
type ServerStatus struct {
	Running      bool  `json:"running"`
	LiveSessions int64 `json:"live_sessions"`
}

// Report is the /status JSON body shape (spec §4.7).
type Report struct {
	Servers map[string]ServerStatus `json:"servers"`
	UptimeS int64                   `json:"uptime_s"`
}

// Snapshot builds the current Report. Running reflects whether the
// entry is enabled, not whether it currently has a live session — an
// idle enabled server is still running (spec §4.8).
func (t *Tracker) Snapshot() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	servers := make(map[string]ServerStatus, len(t.servers))
	for name, s := range t.servers {
		servers[name] = ServerStatus{Running: s.enabled, LiveSessions: s.LiveSessions()}
	}
	return Report{
		Servers: servers,
		UptimeS: int64(timeNow().Sub(t.startedAt).Seconds()),
	}
}
