// Package bridge implements the Bridge Engine (C5): the relay core that
// pairs two Session Endpoints, mirrors their handshakes into each other,
// and then forwards every further message between them verbatim, with no
// per-message id rewriting, in each direction independently.
//
// Concurrency shape is grounded on the same fan-in/fan-out coordination
// inngest's pkg/connect/gateway.go uses an errgroup.Group for: two
// goroutines that must both run to completion (or both stop once either
// fails), reported through one error.
package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelnet/mcp-proxy/internal/bridgeerr"
	"github.com/kestrelnet/mcp-proxy/internal/session"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// DrainDeadline bounds how long Run waits for both forwarders to return
// once it has closed both Transports (spec §5: 2s).
const DrainDeadline = 2 * time.Second

// ProxyName is substituted into the mirrored serverInfo.name so a client
// always sees that it is talking through this proxy (spec §6.1).
const ProxyName = "mcp-proxy"

// ProxyVersion is appended to the mirrored serverInfo, identifying this
// build of the proxy.
var ProxyVersion = "dev"

// Bridge is one live pairing of two peers, A and B. Which side initiates
// the MCP handshake and which side answers it is determined by each
// Endpoint's own session.Role; the Bridge only mirrors what it learns.
type Bridge struct {
	ID string

	A *session.Endpoint
	B *session.Endpoint

	log zerolog.Logger
}

// New allocates a Bridge pairing a and b, identified for logging by a
// fresh id.
func New(a, b *session.Endpoint, log zerolog.Logger) *Bridge {
	id := uuid.NewString()
	return &Bridge{
		ID:  id,
		A:   a,
		B:   b,
		log: log.With().Str("bridge_id", id).Logger(),
	}
}

// Handshake performs both Endpoints' handshakes and mirrors B's negotiated
// protocol version, capabilities, instructions and raw result into A's
// Local: unknown capability fields are carried through unchanged
// (session.Handshake keeps Capabilities as raw JSON), and the serverInfo
// A sees identifies this proxy rather than the upstream peer. B is offered
// only the protocol version; A's clientInfo and capabilities are not
// passed on to B.
func (br *Bridge) Handshake(ctx context.Context) error {
	// B is negotiated first: A is answered only once B's handshake has
	// told us what capabilities and implementation info to mirror.
	bHandshake, err := br.B.Ready(ctx, session.Local{
		ProtocolVersion: session.LatestProtocolVersion,
	})
	if err != nil {
		return err
	}

	serverInfo := session.Info{
		Name:    ProxyName,
		Version: bHandshake.Info.Version + "+" + ProxyVersion,
	}
	aHandshake, err := br.A.Ready(ctx, session.Local{
		ProtocolVersion: pickProtocolVersion(bHandshake.ProtocolVersion),
		Info:            serverInfo,
		Capabilities:    bHandshake.Capabilities,
		Instructions:    bHandshake.Instructions,
		Raw:             bHandshake.Raw,
	})
	if err != nil {
		return err
	}

	br.log.Info().
		Str("a_peer", aHandshake.Info.Name).
		Str("b_peer", bHandshake.Info.Name).
		Msg("bridge handshake complete")
	return nil
}

func pickProtocolVersion(upstream string) string {
	if upstream == "" {
		return session.LatestProtocolVersion
	}
	return upstream
}

// Run starts the two FIFO forwarders (A.recv->B.send, B.recv->A.send).
// errgroup.WithContext cancels the shared context the moment either
// forwarder returns — including a normal end-of-stream — but a forwarder
// parked in a blocking Recv never observes that cancellation on its own,
// so Run closes both Transports itself as soon as gctx is done, then
// waits up to DrainDeadline for the two goroutines to actually unwind.
func (br *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return br.forward(gctx, "a->b", br.A, br.B) })
	g.Go(func() error { return br.forward(gctx, "b->a", br.B, br.A) })

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
	}

	_ = br.A.Transport().Close()
	_ = br.B.Transport().Close()

	select {
	case err := <-done:
		return err
	case <-time.After(DrainDeadline):
		br.log.Warn().Msg("drain deadline exceeded, forcing shutdown")
		return gctx.Err()
	}
}

// forward pumps envelopes from src to dst until ctx is cancelled or src
// ends, with no id rewriting: the message crossing the bridge is the
// exact bytes decoded on the receiving side, re-encoded unchanged.
func (br *Bridge) forward(ctx context.Context, label string, src, dst *session.Endpoint) error {
	for _, env := range src.Drain() {
		if err := dst.Transport().Send(env); err != nil {
			return bridgeerr.New(bridgeerr.IOError, "bridge", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return bridgeerr.New(bridgeerr.TransportClosed, "bridge", ctx.Err())
		default:
		}
		env, err := src.Transport().Recv()
		if err != nil {
			return classifyRecvErr(label, err)
		}
		if err := dst.Transport().Send(env); err != nil {
			return bridgeerr.New(bridgeerr.IOError, "bridge:"+label, err)
		}
	}
}

// classifyRecvErr distinguishes a normal end-of-stream from an I/O
// failure. A MalformedMessage never reaches here: every Transport drops
// malformed frames internally and keeps the stream alive (spec §7), so a
// Recv error always means the stream itself ended or broke.
func classifyRecvErr(label string, err error) error {
	if err == transport.ErrEndOfStream || err == transport.ErrClosed {
		return bridgeerr.New(bridgeerr.TransportClosed, "bridge:"+label, err)
	}
	return bridgeerr.New(bridgeerr.IOError, "bridge:"+label, err)
}
