package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/kestrelnet/mcp-proxy/internal/message"
)

// StreamableClient is the client-role Streamable HTTP Transport (spec
// §4.2): every outbound message is POSTed to a single endpoint; the
// response body is either one JSON document (request/response) or a
// "text/event-stream" body carrying zero or more frames followed by the
// matching response, mirrored the way an SSEClient parses its GET stream.
//
// The server may assign a session id via the Mcp-Session-Id response
// header on the first exchange; once present it is echoed on every
// subsequent request, matching the streamable-http stateful mode.
type StreamableClient struct {
	state
	httpClient *http.Client
	endpoint   string

	sessionMu sync.Mutex
	sessionID string

	msgs chan *message.Envelope
	errs chan error

	closed chan struct{}
}

// NewStreamableClient returns a StreamableClient posting to endpoint. No
// network call is made until the first Send.
func NewStreamableClient(endpoint string, httpClient *http.Client) *StreamableClient {
	return &StreamableClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		msgs:       make(chan *message.Envelope, 1),
		errs:       make(chan error, 1),
		closed:     make(chan struct{}),
	}
}

func (t *StreamableClient) Send(env *message.Envelope) error {
	if t.isClosed() {
		return ErrClosed
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, t.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("transport: build streamable POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sid := t.currentSessionID(); sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: streamable POST failed: %w", err)
	}
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.setSessionID(sid)
	}
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return fmt.Errorf("transport: streamable POST returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	go t.consumeResponse(resp.Body, contentType)
	return nil
}

func (t *StreamableClient) currentSessionID() string {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	return t.sessionID
}

func (t *StreamableClient) setSessionID(sid string) {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	t.sessionID = sid
}

// consumeResponse decodes one POST response body, which is either a bare
// JSON document or a "text/event-stream" carrying one or more frames, and
// publishes every decoded envelope to Recv.
func (t *StreamableClient) consumeResponse(body readCloser, contentType string) {
	defer func() { _ = body.Close() }()
	if strings.HasPrefix(contentType, "text/event-stream") {
		t.consumeEventStream(body)
		return
	}
	buf, err := io.ReadAll(body)
	if err != nil {
		t.publishErr(err)
		return
	}
	if len(buf) == 0 {
		return // 202 Accepted with empty body, e.g. for a bare notification.
	}
	envs, err := message.DecodeBatch(buf)
	if err != nil {
		return // malformed body dropped, stream continues (spec §7).
	}
	for _, env := range envs {
		t.publish(env)
	}
}

func (t *StreamableClient) consumeEventStream(body readCloser) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var dataBuf bytes.Buffer
	flush := func() {
		if dataBuf.Len() == 0 {
			return
		}
		data := append([]byte(nil), dataBuf.Bytes()...)
		dataBuf.Reset()
		env, err := message.Decode(data)
		if err != nil {
			return // malformed frame dropped, stream continues (spec §7).
		}
		t.publish(env)
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
}

func (t *StreamableClient) publish(env *message.Envelope) {
	select {
	case t.msgs <- env:
	case <-t.closed:
	}
}

func (t *StreamableClient) publishErr(err error) {
	select {
	case t.errs <- err:
	case <-t.closed:
	}
}

func (t *StreamableClient) Recv() (*message.Envelope, error) {
	select {
	case env := <-t.msgs:
		return env, nil
	case err := <-t.errs:
		return nil, err
	case <-t.closed:
		return nil, ErrClosed
	}
}

func (t *StreamableClient) Close() error {
	if t.markClosed() {
		return nil
	}
	close(t.closed)
	return nil
}
