// Package session implements the Session Endpoint (C4): the handshake
// half of one peer connection, either Initiator (proxy speaks first, as
// the client of a remote or spawned server) or Responder (proxy answers
// an inbound client's initialize request). Once Ready, every further
// message is handed to the Bridge Engine verbatim.
//
// Capabilities are deliberately carried as json.RawMessage rather than
// github.com/viant/mcp-protocol/schema's typed ServerCapabilities /
// ClientCapabilities: a decode into those structs and re-encode on mirror
// would silently drop any capability field the schema package does not
// know about, which violates the proxy's forward-unknown-capabilities-
// unchanged contract. Only the envelope shape (protocolVersion, the
// implementation name/version pair, instructions) needs typed fields, the
// way internal/message keeps Params/Result as raw passthrough.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrelnet/mcp-proxy/internal/bridgeerr"
	"github.com/kestrelnet/mcp-proxy/internal/message"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

// HandshakeTimeout is how long Ready waits for the peer's half of the
// handshake before failing (spec §5: 30s).
const HandshakeTimeout = 30 * time.Second

// LatestProtocolVersion is the MCP protocol version this proxy advertises
// when it has no upstream version to mirror yet (e.g. the HTTP front-end's
// MCP-Protocol-Version response header, or a Bridge's default before B's
// handshake completes).
const LatestProtocolVersion = "2025-06-18"

// QueueBound is the maximum number of messages accepted before the
// handshake completes; the next one past this bound raises
// HandshakeOverflow (spec §5/§7).
const QueueBound = 64

const (
	methodInitialize               = "initialize"
	methodNotificationInitialized = "notifications/initialized"
)

// Info is an implementation descriptor (serverInfo / clientInfo).
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Handshake is the negotiated state of one peer connection once Ready.
type Handshake struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Info            Info            `json:"-"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	Instructions    *string         `json:"instructions,omitempty"`

	// Raw is the peer's initializeParams/initializeResult object exactly
	// as received, including any field this package does not model. A
	// caller mirroring this handshake onward into another Local should
	// set Local.Raw to this so unrecognized fields survive the mirror.
	Raw json.RawMessage `json:"-"`
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      Info            `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      Info            `json:"serverInfo"`
	Instructions    *string         `json:"instructions,omitempty"`
}

// Role is which side of the handshake an Endpoint plays.
type Role int

const (
	// Initiator sends "initialize" and waits for the result, the way a
	// client session behaves towards the upstream server.
	Initiator Role = iota
	// Responder waits for an inbound "initialize" request and answers it,
	// the way a server session behaves towards an ingress client.
	Responder
)

// Local is what this Endpoint presents as its own half of the handshake.
type Local struct {
	ProtocolVersion string
	Info            Info
	Capabilities    json.RawMessage
	Instructions    *string

	// Raw, when mirroring another peer's handshake, is that peer's
	// Handshake.Raw: the base object the outgoing message is patched
	// onto, so fields neither this package nor the bridge rewrites
	// (ProtocolVersion/Info/Capabilities/Instructions) still reach the
	// far side unchanged. Nil for a handshake authored from scratch.
	Raw json.RawMessage
}

// paramsPatch builds the outgoing initializeParams fields for local,
// omitting Capabilities when unset so message.Patch leaves whatever
// local.Raw already carries under that key untouched.
func paramsPatch(local Local) (map[string]json.RawMessage, error) {
	protocolVersion, err := json.Marshal(local.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	clientInfo, err := json.Marshal(local.Info)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{
		"protocolVersion": protocolVersion,
		"clientInfo":      clientInfo,
	}
	if local.Capabilities != nil {
		fields["capabilities"] = local.Capabilities
	}
	return fields, nil
}

// resultPatch builds the outgoing initializeResult fields for local, the
// same way paramsPatch does for the request direction.
func resultPatch(local Local) (map[string]json.RawMessage, error) {
	protocolVersion, err := json.Marshal(local.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	serverInfo, err := json.Marshal(local.Info)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{
		"protocolVersion": protocolVersion,
		"serverInfo":      serverInfo,
	}
	if local.Capabilities != nil {
		fields["capabilities"] = local.Capabilities
	}
	if local.Instructions != nil {
		instructions, err := json.Marshal(local.Instructions)
		if err != nil {
			return nil, err
		}
		fields["instructions"] = instructions
	}
	return fields, nil
}

// Endpoint owns one Transport through its handshake and into steady-state
// relay. Before Ready returns, any message the peer sends ahead of the
// handshake completing is queued (bounded by QueueBound) and handed back,
// in order, by Drain once Ready has returned.
type Endpoint struct {
	tr   transport.Transport
	role Role

	queue []*message.Envelope
	peer  Handshake
}

// NewEndpoint wraps tr for the given Role.
func NewEndpoint(tr transport.Transport, role Role) *Endpoint {
	return &Endpoint{tr: tr, role: role}
}

// Transport returns the underlying Transport for steady-state relay once
// Ready has returned.
func (e *Endpoint) Transport() transport.Transport { return e.tr }

// Peer returns the peer's recorded handshake state. Valid only after Ready.
func (e *Endpoint) Peer() Handshake { return e.peer }

// Ready drives this Endpoint's half of the handshake to completion,
// enforcing HandshakeTimeout, and returns the peer's negotiated state.
func (e *Endpoint) Ready(ctx context.Context, local Local) (Handshake, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if e.role == Initiator {
			done <- e.runInitiator(local)
		} else {
			done <- e.runResponder(local)
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			return Handshake{}, err
		}
		return e.peer, nil
	case <-ctx.Done():
		return Handshake{}, bridgeerr.New(bridgeerr.HandshakeTimeout, "session", ctx.Err())
	}
}

func (e *Endpoint) runInitiator(local Local) error {
	fields, err := paramsPatch(local)
	if err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}
	raw, err := message.Patch(local.Raw, fields)
	if err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}
	req := &message.Envelope{
		Kind: message.KindRequest,
		Request: &message.Request{
			Jsonrpc: message.Version,
			Id:      1,
			Method:  methodInitialize,
			Params:  raw,
		},
	}
	if err := e.tr.Send(req); err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}

	env, err := e.waitFor(func(env *message.Envelope) bool {
		return env.Kind == message.KindResponse
	})
	if err != nil {
		return err
	}
	if env.Response.Error != nil {
		return bridgeerr.New(bridgeerr.HandshakeTimeout, "session", env.Response.Error)
	}
	var result initializeResult
	if err := json.Unmarshal(env.Response.Result, &result); err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}
	e.peer = Handshake{
		ProtocolVersion: result.ProtocolVersion,
		Info:            result.ServerInfo,
		Capabilities:    result.Capabilities,
		Instructions:    result.Instructions,
		Raw:             env.Response.Result,
	}

	notif := &message.Envelope{
		Kind: message.KindNotification,
		Notification: &message.Notification{
			Jsonrpc: message.Version,
			Method:  methodNotificationInitialized,
		},
	}
	if err := e.tr.Send(notif); err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}
	return nil
}

func (e *Endpoint) runResponder(local Local) error {
	env, err := e.waitFor(func(env *message.Envelope) bool {
		return env.Kind == message.KindRequest && env.Request.Method == methodInitialize
	})
	if err != nil {
		return err
	}
	var params initializeParams
	if err := json.Unmarshal(env.Request.Params, &params); err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}
	e.peer = Handshake{
		ProtocolVersion: params.ProtocolVersion,
		Info:            params.ClientInfo,
		Capabilities:    params.Capabilities,
		Raw:             env.Request.Params,
	}

	fields, err := resultPatch(local)
	if err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}
	raw, err := message.Patch(local.Raw, fields)
	if err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}
	resp := &message.Envelope{
		Kind: message.KindResponse,
		Response: &message.Response{
			Jsonrpc: message.Version,
			Id:      env.Request.Id,
			Result:  raw,
		},
	}
	if err := e.tr.Send(resp); err != nil {
		return bridgeerr.New(bridgeerr.IOError, "session", err)
	}

	_, err = e.waitFor(func(ack *message.Envelope) bool {
		return ack.Kind == message.KindNotification && ack.Notification.Method == methodNotificationInitialized
	})
	return err
}

// waitFor receives envelopes until one satisfies match, queueing every
// other one so it replays once Ready returns. A peer is not expected to
// send steady-state traffic before the handshake completes, but one that
// does is bounded by QueueBound rather than buffered without limit.
func (e *Endpoint) waitFor(match func(*message.Envelope) bool) (*message.Envelope, error) {
	for {
		env, err := e.tr.Recv()
		if err != nil {
			return nil, bridgeerr.New(bridgeerr.IOError, "session", err)
		}
		if match(env) {
			return env, nil
		}
		if err := e.enqueue(env); err != nil {
			return nil, err
		}
	}
}

// Drain returns, and clears, any messages queued ahead of handshake
// completion, in arrival order, to be replayed before live Recv calls.
func (e *Endpoint) Drain() []*message.Envelope {
	q := e.queue
	e.queue = nil
	return q
}

// enqueue appends env to the pre-ready queue, failing with
// HandshakeOverflow once QueueBound is exceeded.
func (e *Endpoint) enqueue(env *message.Envelope) error {
	if len(e.queue) >= QueueBound {
		return bridgeerr.New(bridgeerr.HandshakeOverflow, "session", fmt.Errorf("handshake queue exceeded %d messages", QueueBound))
	}
	e.queue = append(e.queue, env)
	return nil
}
