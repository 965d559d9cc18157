package transport

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/kestrelnet/mcp-proxy/internal/message"
)

// Stdio is a Transport over newline-delimited JSON messages on an
// io.Reader/io.WriteCloser pair. It is used both for the proxy's own
// stdin/stdout (mode 1 ingress) and for a spawned child's stdout/stdin
// (mode 2), matching the one-line-per-message, flush-per-write contract
// the original mcp_server.py stdio transport relies on (see SPEC_FULL.md
// §6.2).
type Stdio struct {
	state
	w       io.WriteCloser
	writeMu sync.Mutex

	msgs   chan *message.Envelope
	errs   chan error
	onErr  func(error) // called for MalformedMessage without ending the stream
	closed chan struct{}
}

// StderrSink receives each line of a child's stderr, line-buffered and
// never parsed as MCP, per spec §4.2.
type StderrSink func(line string)

// NewStdio starts a background reader over r, delivering decoded
// envelopes to Recv and forwarding malformed lines to onMalformed
// without ending the stream (spec §7: MalformedMessage is per-message).
// If stderr and sink are non-nil, stderr is drained line-by-line into
// sink concurrently.
func NewStdio(r io.Reader, w io.WriteCloser, stderr io.Reader, sink StderrSink, onMalformed func(error)) *Stdio {
	t := &Stdio{
		w:      w,
		msgs:   make(chan *message.Envelope, 1),
		errs:   make(chan error, 1),
		onErr:  onMalformed,
		closed: make(chan struct{}),
	}
	go t.readLoop(r)
	if stderr != nil && sink != nil {
		go t.drainStderr(stderr, sink)
	}
	return t
}

func (t *Stdio) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := message.Decode(append([]byte(nil), line...))
		if err != nil {
			if t.onErr != nil {
				t.onErr(err)
			}
			continue
		}
		select {
		case t.msgs <- env:
		case <-t.closed:
			return
		}
	}
	select {
	case t.errs <- ErrEndOfStream:
	case <-t.closed:
	}
}

func (t *Stdio) drainStderr(stderr io.Reader, sink StderrSink) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		sink(scanner.Text())
	}
}

func (t *Stdio) Send(env *message.Envelope) error {
	if t.isClosed() {
		return ErrClosed
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(raw); err != nil {
		return err
	}
	_, err = t.w.Write([]byte("\n"))
	return err
}

func (t *Stdio) Recv() (*message.Envelope, error) {
	select {
	case env := <-t.msgs:
		return env, nil
	case err := <-t.errs:
		return nil, err
	case <-t.closed:
		return nil, ErrClosed
	}
}

func (t *Stdio) Close() error {
	if t.markClosed() {
		return nil
	}
	close(t.closed)
	if err := t.w.Close(); err != nil {
		return fmt.Errorf("transport: close stdio writer: %w", err)
	}
	return nil
}
