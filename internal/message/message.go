// Package message implements the structural side of the MCP message codec
// (C1): classifying a raw JSON-RPC 2.0 envelope into a Request, Response,
// Notification, or BatchFrame without interpreting its payload. Field
// shapes follow github.com/viant/mcp-protocol/schema method names and the
// JSON-RPC 2.0 envelope used throughout viant/mcp, generalized to allow a
// string or numeric id (github.com/viant/jsonrpc's own Request.Id is a
// narrower numeric type, unsuited to the spec's id model) the way
// naukograd-software/mcp-catalog's rpcReq/rpcResp and nfrx's
// common.ValidateEnvelope both treat id as `any`.
package message

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// ID is either a finite integer or a string, per the JSON-RPC 2.0 envelope.
type ID = any

// Request is a JSON-RPC request: a method call expecting exactly one Response.
type Request struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request by the same Id, carrying either Result or Error.
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a one-way message; it carries no Id and expects no Response.
type Notification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is the JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes, mirrored from the codec's conventions.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

func NewParseError(msg string, data []byte) *Error {
	return &Error{Code: CodeParseError, Message: msg, Data: data}
}

func NewInvalidRequest(msg string, data []byte) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg, Data: data}
}

func NewMethodNotFound(msg string, data []byte) *Error {
	return &Error{Code: CodeMethodNotFound, Message: msg, Data: data}
}

func NewInvalidParams(msg string, data []byte) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg, Data: data}
}

func NewInternalError(msg string, data []byte) *Error {
	return &Error{Code: CodeInternalError, Message: msg, Data: data}
}

// Kind discriminates the structural shape of a decoded Envelope.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

// Envelope is one structurally-classified message, preserving unknown
// fields verbatim by keeping the raw bytes it was decoded from alongside
// the typed view used for handshake and correlation.
type Envelope struct {
	Kind         Kind
	Raw          json.RawMessage
	Request      *Request
	Response     *Response
	Notification *Notification
}

// MalformedMessage is returned when raw bytes parse as JSON but match
// none of Request, Response, or Notification's shape, or fail to parse
// as JSON at all.
type MalformedMessage struct {
	Raw   json.RawMessage
	Cause error
}

func (m *MalformedMessage) Error() string {
	if m.Cause != nil {
		return fmt.Sprintf("malformed mcp message: %v", m.Cause)
	}
	return "malformed mcp message: unrecognized envelope shape"
}

func (m *MalformedMessage) Unwrap() error { return m.Cause }

// Decode parses one JSON-RPC envelope (not a batch) into an Envelope.
// Classification is structural per spec: method+id => Request, method
// alone => Notification, id with result-or-error => Response.
func Decode(raw []byte) (*Envelope, error) {
	var probe struct {
		Id      *ID             `json:"id"`
		Method  *string         `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &MalformedMessage{Raw: raw, Cause: err}
	}
	switch {
	case probe.Method != nil && probe.Id != nil:
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, &MalformedMessage{Raw: raw, Cause: err}
		}
		return &Envelope{Kind: KindRequest, Raw: raw, Request: &req}, nil
	case probe.Method != nil:
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, &MalformedMessage{Raw: raw, Cause: err}
		}
		return &Envelope{Kind: KindNotification, Raw: raw, Notification: &n}, nil
	case probe.Id != nil && (len(probe.Result) > 0 || len(probe.Error) > 0):
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, &MalformedMessage{Raw: raw, Cause: err}
		}
		return &Envelope{Kind: KindResponse, Raw: raw, Response: &resp}, nil
	default:
		return nil, &MalformedMessage{Raw: raw}
	}
}

// DecodeBatch parses a raw frame that may be a single envelope or a JSON
// array of envelopes (BatchFrame), preserving input order.
func DecodeBatch(raw []byte) ([]*Envelope, error) {
	trimmed := raw
	i := 0
	for i < len(trimmed) && isSpace(trimmed[i]) {
		i++
	}
	if i < len(trimmed) && trimmed[i] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &MalformedMessage{Raw: raw, Cause: err}
		}
		envs := make([]*Envelope, 0, len(items))
		for _, item := range items {
			env, err := Decode(item)
			if err != nil {
				return nil, err
			}
			envs = append(envs, env)
		}
		return envs, nil
	}
	env, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return []*Envelope{env}, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Encode serializes the Envelope back to bytes. A decoded Envelope keeps
// the exact bytes it was parsed from in Raw, so Encode returns those
// unchanged — including any top-level field this package does not model
// (a "_meta" entry, a vendor extension) — rather than rebuilding the
// message from the narrower Request/Response/Notification structs, which
// only carry the fields this package actually inspects. An Envelope built
// in-process rather than decoded (Raw unset, e.g. a freshly authored
// initialize request) falls back to marshaling its typed struct.
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	switch e.Kind {
	case KindRequest:
		return json.Marshal(e.Request)
	case KindResponse:
		return json.Marshal(e.Response)
	case KindNotification:
		return json.Marshal(e.Notification)
	default:
		return nil, fmt.Errorf("message: unknown envelope kind %d", e.Kind)
	}
}

// Patch overlays fields onto a copy of base, a raw JSON object, leaving
// every other top-level key — including ones this package does not
// model — untouched. A nil or empty base is treated as an empty object.
// Used to mirror a handshake message while only rewriting the specific
// fields the bridge actually changes (serverInfo, protocolVersion,
// capabilities), instead of reconstructing the object from scratch and
// losing whatever the peer's original message carried beyond those.
func Patch(base json.RawMessage, fields map[string]json.RawMessage) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &obj); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	return json.Marshal(obj)
}

// Id returns the correlation id carried by a Request or Response envelope,
// or nil for a Notification.
func (e *Envelope) Id() ID {
	switch e.Kind {
	case KindRequest:
		return e.Request.Id
	case KindResponse:
		return e.Response.Id
	default:
		return nil
	}
}

// Method returns the method name carried by a Request or Notification, or
// "" for a Response (which has none).
func (e *Envelope) Method() string {
	switch e.Kind {
	case KindRequest:
		return e.Request.Method
	case KindNotification:
		return e.Notification.Method
	default:
		return ""
	}
}
