package child_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/mcp-proxy/internal/child"
	"github.com/kestrelnet/mcp-proxy/internal/message"
)

func mustEnvelope(t *testing.T, raw string) *message.Envelope {
	t.Helper()
	env, err := message.Decode([]byte(raw))
	require.NoError(t, err)
	return env
}

func TestStartAndStopEchoChild(t *testing.T) {
	p, err := child.Start(context.Background(), "echo", child.Spawn{
		Command: "cat",
	}, zerolog.Nop(), nil)
	require.NoError(t, err)

	env := mustEnvelope(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.NoError(t, p.Transport().Send(env))

	recv, err := p.Transport().Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", recv.Method())

	require.NoError(t, p.Stop(context.Background()))
	select {
	case <-p.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit after Stop")
	}
}

func TestStartInvalidCommand(t *testing.T) {
	_, err := child.Start(context.Background(), "missing", child.Spawn{
		Command: "/no/such/binary-xyz",
	}, zerolog.Nop(), nil)
	assert.Error(t, err)
}
