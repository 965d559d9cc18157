package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/mcp-proxy/internal/bridge"
	"github.com/kestrelnet/mcp-proxy/internal/message"
	"github.com/kestrelnet/mcp-proxy/internal/session"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// pipeTransport mirrors internal/session's test helper: an in-memory
// Transport pair for exercising the bridge without real processes.
// Closing one end also ends the other end's Recv, the way a real peer
// going away ends the stream on the far side.
type pipeTransport struct {
	out        chan *message.Envelope
	in         chan *message.Envelope
	closed     chan struct{}
	peerClosed chan struct{}
}

func newPipe() (a, b *pipeTransport) {
	ab := make(chan *message.Envelope, 16)
	ba := make(chan *message.Envelope, 16)
	a = &pipeTransport{out: ab, in: ba, closed: make(chan struct{})}
	b = &pipeTransport{out: ba, in: ab, closed: make(chan struct{})}
	a.peerClosed, b.peerClosed = b.closed, a.closed
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
	case <-p.peerClosed:
		return nil, transport.ErrEndOfStream
	}
}

func (p *pipeTransport) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func decode(t *testing.T, raw string) *message.Envelope {
	t.Helper()
	env, err := message.Decode([]byte(raw))
	require.NoError(t, err)
	return env
}

// TestBridgeRelaysAfterHandshake wires an ingress client (A, Responder)
// to an upstream server (B, Initiator) through a Bridge and checks that a
// tools/call request issued by the client reaches the upstream verbatim,
// and its response returns to the client verbatim, with no id rewriting.
func TestBridgeRelaysAfterHandshake(t *testing.T) {
	clientSideTr, aTr := newPipe() // client <-> A (ingress)
	bTr, upstreamSideTr := newPipe() // B (egress) <-> upstream

	a := session.NewEndpoint(aTr, session.Responder)
	b := session.NewEndpoint(bTr, session.Initiator)
	br := bridge.New(a, b, zerolog.Nop())

	// Drive the upstream side of the handshake as a fake server.
	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		req, err := upstreamSideTr.Recv()
		if err != nil || req.Method() != "initialize" {
			return
		}
		_ = upstreamSideTr.Send(decode(t, `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-06-18","serverInfo":{"name":"upstream","version":"9.9"},"capabilities":{"tools":{}}}}`))
		ack, err := upstreamSideTr.Recv()
		if err != nil || ack.Method() != "notifications/initialized" {
			return
		}
	}()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		_ = clientSideTr.Send(decode(t, `{"jsonrpc":"2.0","id":7,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"client","version":"1.0"}}}`))
		resp, err := clientSideTr.Recv()
		if err != nil {
			return
		}
		_ = resp
		_ = clientSideTr.Send(decode(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	}()

	require.NoError(t, br.Handshake(context.Background()))

	select {
	case <-upstreamDone:
	case <-time.After(time.Second):
		t.Fatal("upstream handshake goroutine did not finish")
	}
	select {
	case <-clientDone:
	case <-time.After(time.Second):
		t.Fatal("client handshake goroutine did not finish")
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- br.Run(ctx) }()

	require.NoError(t, clientSideTr.Send(decode(t, `{"jsonrpc":"2.0","id":42,"method":"tools/call","params":{"name":"echo"}}`)))

	relayed, err := upstreamSideTr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "tools/call", relayed.Method())
	assert.EqualValues(t, 42, relayed.Id())

	require.NoError(t, upstreamSideTr.Send(decode(t, `{"jsonrpc":"2.0","id":42,"result":{"ok":true}}`)))

	back, err := clientSideTr.Recv()
	require.NoError(t, err)
	assert.EqualValues(t, 42, back.Id())

	cancel()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("bridge Run did not return after cancel")
	}
}

// TestBridgeClosesOtherSideImmediatelyOnEndOfStream checks that Run does
// not wait out the full DrainDeadline once one side ends: it must close
// the other side's Transport as soon as it notices, so a forwarder
// parked in a blocking Recv unblocks promptly instead of after 2s.
func TestBridgeClosesOtherSideImmediatelyOnEndOfStream(t *testing.T) {
	clientSideTr, aTr := newPipe()
	bTr, upstreamSideTr := newPipe()

	a := session.NewEndpoint(aTr, session.Responder)
	b := session.NewEndpoint(bTr, session.Initiator)
	br := bridge.New(a, b, zerolog.Nop())

	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		req, err := upstreamSideTr.Recv()
		if err != nil || req.Method() != "initialize" {
			return
		}
		_ = upstreamSideTr.Send(decode(t, `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-06-18","serverInfo":{"name":"upstream","version":"9.9"},"capabilities":{"tools":{}}}}`))
		_, _ = upstreamSideTr.Recv()
	}()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		_ = clientSideTr.Send(decode(t, `{"jsonrpc":"2.0","id":7,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"client","version":"1.0"}}}`))
		_, _ = clientSideTr.Recv()
		_ = clientSideTr.Send(decode(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	}()

	require.NoError(t, br.Handshake(context.Background()))
	<-upstreamDone
	<-clientDone

	runDone := make(chan error, 1)
	go func() { runDone <- br.Run(context.Background()) }()

	// End the upstream side; Run must close the client side's transport
	// immediately rather than waiting for DrainDeadline to elapse.
	require.NoError(t, upstreamSideTr.Close())

	started := time.Now()
	select {
	case <-runDone:
	case <-time.After(bridge.DrainDeadline - 500*time.Millisecond):
		t.Fatal("bridge Run waited for the full drain deadline instead of closing immediately")
	}
	assert.Less(t, time.Since(started), bridge.DrainDeadline)
}
