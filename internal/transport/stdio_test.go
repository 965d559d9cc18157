package transport_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/mcp-proxy/internal/message"
	"github.com/kestrelnet/mcp-proxy/internal/transport"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func TestStdioSendEncodesNewlineDelimited(t *testing.T) {
	var out bytes.Buffer
	tr := transport.NewStdio(bytes.NewReader(nil), nopWriteCloser{&out}, nil, nil, nil)
	defer tr.Close()

	env, err := message.Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	require.NoError(t, tr.Send(env))

	assert.Equal(t, byte('\n'), out.Bytes()[out.Len()-1])
}

func TestStdioRecvDecodesLines(t *testing.T) {
	in := bytes.NewBufferString("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n")
	tr := transport.NewStdio(in, nopWriteCloser{io.Discard}, nil, nil, nil)
	defer tr.Close()

	env, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Method())
}

func TestStdioRecvEndOfStream(t *testing.T) {
	in := bytes.NewBufferString("")
	tr := transport.NewStdio(in, nopWriteCloser{io.Discard}, nil, nil, nil)
	defer tr.Close()

	_, err := tr.Recv()
	assert.ErrorIs(t, err, transport.ErrEndOfStream)
}

func TestStdioMalformedLineDoesNotEndStream(t *testing.T) {
	in := bytes.NewBufferString("not json\n{\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\n")
	var malformed []error
	tr := transport.NewStdio(in, nopWriteCloser{io.Discard}, nil, nil, func(err error) {
		malformed = append(malformed, err)
	})
	defer tr.Close()

	env, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Method())
	assert.Len(t, malformed, 1)
}

func TestStdioCloseIsIdempotent(t *testing.T) {
	tr := transport.NewStdio(bytes.NewReader(nil), nopWriteCloser{io.Discard}, nil, nil, nil)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	err := tr.Send(&message.Envelope{})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestStdioStderrSink(t *testing.T) {
	stderr := bytes.NewBufferString("boot line 1\nboot line 2\n")
	var lines []string
	done := make(chan struct{})
	tr := transport.NewStdio(bytes.NewReader(nil), nopWriteCloser{io.Discard}, stderr, func(line string) {
		lines = append(lines, line)
		if len(lines) == 2 {
			close(done)
		}
	}, nil)
	defer tr.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stderr lines")
	}
	assert.Equal(t, []string{"boot line 1", "boot line 2"}, lines)
}
