package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/mcp-proxy/internal/message"
	"github.com/kestrelnet/mcp-proxy/internal/session"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// pipeTransport is an in-memory Transport used to exercise both Endpoint
// roles against each other without a real process or socket.
type pipeTransport struct {
	out    chan *message.Envelope
	in     chan *message.Envelope
	closed chan struct{}
}

func newPipe() (a, b *pipeTransport) {
	ab := make(chan *message.Envelope, 16)
	ba := make(chan *message.Envelope, 16)
	a = &pipeTransport{out: ab, in: ba, closed: make(chan struct{})}
	b = &pipeTransport{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (p *pipeTransport) Send(env *message.Envelope) error {
	select {
	case p.out <- env:
		return nil
	case <-p.closed:
		return transport.ErrClosed
	}
}

func (p *pipeTransport) Recv() (*message.Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.closed:
		return nil, transport.ErrEndOfStream
	}
}

func (p *pipeTransport) Close() error {
	close(p.closed)
	return nil
}

func TestHandshakeCompletes(t *testing.T) {
	clientTr, serverTr := newPipe()
	client := session.NewEndpoint(clientTr, session.Initiator)
	server := session.NewEndpoint(serverTr, session.Responder)

	var serverResult session.Handshake
	var serverErr error
	serverDone := make(chan struct{})
	go func() {
		serverResult, serverErr = server.Ready(context.Background(), session.Local{
			ProtocolVersion: "2025-06-18",
			Info:            session.Info{Name: "mcp-proxy", Version: "1.0.0"},
		})
		close(serverDone)
	}()

	clientResult, err := client.Ready(context.Background(), session.Local{
		ProtocolVersion: "2025-06-18",
		Info:            session.Info{Name: "test-client", Version: "0.1.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mcp-proxy", clientResult.Info.Name)

	select {
	case <-serverDone:
	case <-time.After(time.Second):
		t.Fatal("server handshake did not complete")
	}
	require.NoError(t, serverErr)
	assert.Equal(t, "test-client", serverResult.Info.Name)
}

// TestHandshakePreservesUnknownParamsFields checks that a field this
// package does not model (here, a vendor "_meta" entry on initialize
// params) survives into the responder's recorded peer Handshake, via
// Raw, rather than being dropped by decoding into initializeParams.
func TestHandshakePreservesUnknownParamsFields(t *testing.T) {
	clientTr, serverTr := newPipe()
	server := session.NewEndpoint(serverTr, session.Responder)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test-client","version":"0.1.0"},"_meta":{"vendor":"x"}}}`)
	env, err := message.Decode(raw)
	require.NoError(t, err)
	require.NoError(t, clientTr.Send(env))

	go func() {
		_, _ = clientTr.Recv()
		_ = clientTr.Send(&message.Envelope{
			Kind: message.KindNotification,
			Notification: &message.Notification{Jsonrpc: message.Version, Method: "notifications/initialized"},
		})
	}()

	result, err := server.Ready(context.Background(), session.Local{
		ProtocolVersion: "2025-06-18",
		Info:            session.Info{Name: "mcp-proxy", Version: "1.0.0"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocolVersion":"2025-06-18","clientInfo":{"name":"test-client","version":"0.1.0"},"_meta":{"vendor":"x"}}`, string(result.Raw))
}

func TestHandshakeTimeout(t *testing.T) {
	clientTr, _ := newPipe()
	client := session.NewEndpoint(clientTr, session.Initiator)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Ready(ctx, session.Local{ProtocolVersion: "2025-06-18"})
	assert.Error(t, err)
}
