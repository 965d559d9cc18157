// Package transport implements the Transport Abstraction (C2): a
// full-duplex, message-oriented pipe with three concrete carriers —
// stdio, SSE, and Streamable HTTP — behind one interface, the way
// viant/mcp's client and server packages dispatch on a transport.Transport
// but, per spec §4.2, exposing an explicit blocking Recv rather than the
// push-callback model viant/jsonrpc's own transport uses internally.
package transport

import (
	"errors"
	"sync"

	"github.com/kestrelnet/mcp-proxy/internal/message"
)

// ErrEndOfStream is returned by Recv once the peer is gone and no more
// messages will arrive. Per spec §4.2, once a Transport is closed both
// directions become permanently unusable.
var ErrEndOfStream = errors.New("transport: end of stream")

// ErrClosed is returned by Send once Close has been called locally, and by
// Recv on the Stdio, SSEClient and StreamableClient transports; the
// server-role SSEServer and StreamableServer report ErrEndOfStream from
// Recv after a local Close.
var ErrClosed = errors.New("transport: closed")

// Transport is the uniform bidirectional message stream contract. All
// operations are safe to call concurrently from at most one sender and
// one receiver (SPSC per direction, per spec §4.2).
type Transport interface {
	Send(env *message.Envelope) error
	Recv() (*message.Envelope, error)
	Close() error
}

// state tracks the opened -> live -> closed lifecycle shared by every
// concrete Transport, guarding idempotent Close.
type state struct {
	mu     sync.Mutex
	closed bool
}

func (s *state) markClosed() (already bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	already = s.closed
	s.closed = true
	return already
}

func (s *state) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
