package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelnet/mcp-proxy/internal/message"
)

// SSEServer is the server-role half of the SSE carrier (spec §4.2): it owns
// one peer's long-lived GET stream and the companion POST endpoint that
// delivers that peer's outbound messages, the way a viant/mcp server
// session owns one transport.Transport per accepted client.
//
// The HTTP front-end (server/sse.go) constructs one SSEServer per accepted
// GET /sse connection, advertises its message endpoint via the initial
// "endpoint" SSE event, and routes the matching POST body into Deliver.
type SSEServer struct {
	state
	id ServerSessionID

	w       http.ResponseWriter
	flusher http.Flusher
	writeMu sync.Mutex

	msgs   chan *message.Envelope
	closed chan struct{}
}

// ServerSessionID identifies one SSE peer across its GET and POST legs.
type ServerSessionID string

// NewSSESession allocates a session id and wires w as the SSE response
// writer. The caller (server/sse.go) has already set the SSE response
// headers and must keep the underlying connection open until Close.
func NewSSESession(w http.ResponseWriter) (*SSEServer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support flushing")
	}
	return &SSEServer{
		id:      ServerSessionID(uuid.NewString()),
		w:       w,
		flusher: flusher,
		msgs:    make(chan *message.Envelope, 16),
		closed:  make(chan struct{}),
	}, nil
}

func (s *SSEServer) ID() ServerSessionID { return s.id }

// WriteEndpointEvent emits the initial "endpoint" SSE event advertising
// messageURL as the POST target for this session, per the SSE transport's
// discovery handshake.
func (s *SSEServer) WriteEndpointEvent(messageURL string) error {
	return s.writeFrame("endpoint", []byte(messageURL))
}

func (s *SSEServer) writeFrame(event string, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("transport: write SSE frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Send pushes env to the peer as a "message" SSE frame over the GET leg.
func (s *SSEServer) Send(env *message.Envelope) error {
	if s.isClosed() {
		return ErrClosed
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	return s.writeFrame("message", raw)
}

// Deliver is called by the POST /messages/ handler with the body of an
// inbound request, making it visible to Recv.
func (s *SSEServer) Deliver(raw []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	env, err := message.Decode(raw)
	if err != nil {
		return err
	}
	select {
	case s.msgs <- env:
		return nil
	case <-s.closed:
		return ErrClosed
	}
}

func (s *SSEServer) Recv() (*message.Envelope, error) {
	select {
	case env := <-s.msgs:
		return env, nil
	case <-s.closed:
		return nil, ErrEndOfStream
	}
}

func (s *SSEServer) Close() error {
	if s.markClosed() {
		return nil
	}
	close(s.closed)
	return nil
}
