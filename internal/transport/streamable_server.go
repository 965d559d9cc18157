package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelnet/mcp-proxy/internal/message"
)

// StreamableServer is the server-role half of the Streamable HTTP carrier
// (spec §4.2): each inbound POST is decoded and handed to the bridge via
// Deliver; whatever the bridge sends back before the request's response
// deadline is written as that POST's response body, either as one JSON
// document (single reply) or a "text/event-stream" body when more than
// one envelope (e.g. a notification followed by its response) needs to
// ride the same exchange.
//
// In stateless mode (spec §6 --stateless) the front-end constructs a new
// StreamableServer per request with no session id; in stateful mode one
// instance is kept alive across requests, identified by Mcp-Session-Id.
type StreamableServer struct {
	state
	id ServerSessionID

	stateless bool

	msgs chan *message.Envelope

	pending   chan *message.Envelope
	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamableSession allocates a session id for the stateful carrier.
// Stateless sessions get no id: per spec §4.2, stateless mode retains no
// session identifier across requests, so WriteResponseFor's
// Mcp-Session-Id echo (gated on a non-empty id) stays silent.
func NewStreamableSession(stateless bool) *StreamableServer {
	var id ServerSessionID
	if !stateless {
		id = ServerSessionID(uuid.NewString())
	}
	return &StreamableServer{
		id:        id,
		stateless: stateless,
		msgs:      make(chan *message.Envelope, 16),
		pending:   make(chan *message.Envelope, 16),
		closed:    make(chan struct{}),
	}
}

func (s *StreamableServer) ID() ServerSessionID { return s.id }
func (s *StreamableServer) Stateless() bool      { return s.stateless }

// Deliver decodes an inbound POST body and makes it visible to Recv.
func (s *StreamableServer) Deliver(raw []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	envs, err := message.DecodeBatch(raw)
	if err != nil {
		return err
	}
	for _, env := range envs {
		select {
		case s.msgs <- env:
		case <-s.closed:
			return ErrClosed
		}
	}
	return nil
}

func (s *StreamableServer) Recv() (*message.Envelope, error) {
	select {
	case env := <-s.msgs:
		return env, nil
	case <-s.closed:
		return nil, ErrEndOfStream
	}
}

// Send queues env for delivery on the response body of whichever POST
// request is currently being drained by WriteResponseFor.
func (s *StreamableServer) Send(env *message.Envelope) error {
	if s.isClosed() {
		return ErrClosed
	}
	select {
	case s.pending <- env:
		return nil
	case <-s.closed:
		return ErrClosed
	}
}

// WriteResponseFor drains whatever the bridge has queued via Send for up
// to the lifetime of the request context. want reports how many Response
// envelopes the caller expects before it is willing to close the response
// (normally 1, matching one request in to one reply out). When want is at
// most 1 and the first queued envelope is that Response, it is written as
// a single JSON document; otherwise the body is a "text/event-stream"
// carrying every queued envelope, in order, until want Responses have
// been written.
func (s *StreamableServer) WriteResponseFor(w http.ResponseWriter, done <-chan struct{}, want int) error {
	first, err := s.nextPending(done)
	if err != nil {
		return err
	}
	if first == nil {
		w.WriteHeader(http.StatusAccepted)
		return nil
	}
	responses := 0
	if first.Kind == message.KindResponse {
		responses++
	}
	if want <= 1 && responses == 1 {
		raw, err := first.Encode()
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		if s.id != "" {
			w.Header().Set("Mcp-Session-Id", string(s.id))
		}
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(raw)
		return err
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("transport: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	if s.id != "" {
		w.Header().Set("Mcp-Session-Id", string(s.id))
	}
	w.WriteHeader(http.StatusOK)

	writeFrame := func(env *message.Envelope) error {
		raw, err := env.Encode()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := writeFrame(first); err != nil {
		return err
	}
	for responses < want {
		env, err := s.nextPending(done)
		if err != nil || env == nil {
			return err
		}
		if env.Kind == message.KindResponse {
			responses++
		}
		if err := writeFrame(env); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamableServer) nextPending(done <-chan struct{}) (*message.Envelope, error) {
	select {
	case env := <-s.pending:
		return env, nil
	case <-done:
		return nil, nil
	case <-s.closed:
		return nil, ErrClosed
	}
}

func (s *StreamableServer) Close() error {
	if s.markClosed() {
		return nil
	}
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
