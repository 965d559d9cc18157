package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/kestrelnet/mcp-proxy/internal/message"
)

// SSEClient is the client-role SSE Transport (spec §4.2): it GETs the SSE
// URL, parses "event: message\ndata: <json>" frames, and POSTs outbound
// messages to the companion endpoint discovered from the "endpoint" SSE
// event. Send blocks until that event has arrived; no endpoint is derived
// when the peer never sends one.
type SSEClient struct {
	state
	httpClient *http.Client
	sseURL     string

	msgs chan *message.Envelope
	errs chan error

	endpointReady chan struct{}
	messageURL    string
	endpointOnce  sync.Once

	cancel context.CancelFunc
	closed chan struct{}
}

// NewSSEClient opens the SSE GET stream and begins parsing frames in the
// background. httpClient should already carry OAuth2/static headers via
// oauthhttp.NewClient.
func NewSSEClient(ctx context.Context, sseURL string, httpClient *http.Client) (*SSEClient, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: build SSE GET request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: SSE GET failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("transport: SSE GET returned status %d", resp.StatusCode)
	}
	t := &SSEClient{
		httpClient:    httpClient,
		sseURL:        sseURL,
		msgs:          make(chan *message.Envelope, 1),
		errs:          make(chan error, 1),
		endpointReady: make(chan struct{}),
		cancel:        cancel,
		closed:        make(chan struct{}),
	}
	go t.readLoop(resp.Body)
	return t, nil
}

func (t *SSEClient) readLoop(body readCloser) {
	defer func() { _ = body.Close() }()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var eventName string
	var dataBuf bytes.Buffer
	flush := func() {
		if dataBuf.Len() == 0 {
			eventName = ""
			return
		}
		data := dataBuf.Bytes()
		dataBuf.Reset()
		switch eventName {
		case "endpoint":
			t.setMessageURL(strings.TrimSpace(string(data)))
		case "message", "":
			env, err := message.Decode(append([]byte(nil), data...))
			if err != nil {
				// malformed frame: dropped, stream continues (spec §7).
				eventName = ""
				return
			}
			select {
			case t.msgs <- env:
			case <-t.closed:
			}
		}
		eventName = ""
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	select {
	case t.errs <- ErrEndOfStream:
	case <-t.closed:
	}
}

type readCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

func (t *SSEClient) setMessageURL(endpoint string) {
	resolved := endpoint
	if base, err := url.Parse(t.sseURL); err == nil {
		if rel, err := url.Parse(endpoint); err == nil {
			resolved = base.ResolveReference(rel).String()
		}
	}
	t.messageURL = resolved
	t.endpointOnce.Do(func() { close(t.endpointReady) })
}

func (t *SSEClient) Send(env *message.Envelope) error {
	if t.isClosed() {
		return ErrClosed
	}
	select {
	case <-t.endpointReady:
	case <-t.closed:
		return ErrClosed
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, t.messageURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("transport: build SSE POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: SSE POST failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: SSE POST returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *SSEClient) Recv() (*message.Envelope, error) {
	select {
	case env := <-t.msgs:
		return env, nil
	case err := <-t.errs:
		return nil, err
	case <-t.closed:
		return nil, ErrClosed
	}
}

func (t *SSEClient) Close() error {
	if t.markClosed() {
		return nil
	}
	close(t.closed)
	t.cancel()
	return nil
}
