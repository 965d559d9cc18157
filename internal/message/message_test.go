package message_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/mcp-proxy/internal/message"
)

func TestDecodeRequest(t *testing.T) {
	env, err := message.Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, message.KindRequest, env.Kind)
	assert.Equal(t, "ping", env.Method())
	assert.EqualValues(t, 1, env.Id())
}

func TestDecodeStringId(t *testing.T) {
	env, err := message.Decode([]byte(`{"jsonrpc":"2.0","id":"abc","method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", env.Id())
}

func TestDecodeNotification(t *testing.T) {
	env, err := message.Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Equal(t, message.KindNotification, env.Kind)
	assert.Nil(t, env.Id())
}

func TestDecodeResponse(t *testing.T) {
	env, err := message.Decode([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	require.NoError(t, err)
	assert.Equal(t, message.KindResponse, env.Kind)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := message.Decode([]byte(`not json`))
	require.Error(t, err)
	var mm *message.MalformedMessage
	assert.ErrorAs(t, err, &mm)
}

func TestDecodeUnrecognizedShape(t *testing.T) {
	_, err := message.Decode([]byte(`{"jsonrpc":"2.0"}`))
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"a":1}}`)
	env, err := message.Decode(raw)
	require.NoError(t, err)
	out, err := env.Encode()
	require.NoError(t, err)

	reEnv, err := message.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, env.Method(), reEnv.Method())
	assert.EqualValues(t, env.Id(), reEnv.Id())
}

func TestEncodePreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"a":1},"_meta":{"vendor":"x"}}`)
	env, err := message.Decode(raw)
	require.NoError(t, err)

	out, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestEncodeWithoutRawMarshalsTypedFields(t *testing.T) {
	env := &message.Envelope{
		Kind: message.KindNotification,
		Notification: &message.Notification{
			Jsonrpc: message.Version,
			Method:  "notifications/initialized",
		},
	}
	out, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(out))
}

func TestPatchOverlaysWithoutDroppingUnknownFields(t *testing.T) {
	base := json.RawMessage(`{"protocolVersion":"2024-11-05","clientInfo":{"name":"old","version":"0"},"_meta":{"vendor":"x"}}`)
	out, err := message.Patch(base, map[string]json.RawMessage{
		"protocolVersion": json.RawMessage(`"2025-06-18"`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocolVersion":"2025-06-18","clientInfo":{"name":"old","version":"0"},"_meta":{"vendor":"x"}}`, string(out))
}

func TestPatchWithNilBaseTreatsAsEmptyObject(t *testing.T) {
	out, err := message.Patch(nil, map[string]json.RawMessage{
		"protocolVersion": json.RawMessage(`"2025-06-18"`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocolVersion":"2025-06-18"}`, string(out))
}

func TestDecodeBatch(t *testing.T) {
	raw := []byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"b"}]`)
	envs, err := message.DecodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, message.KindRequest, envs[0].Kind)
	assert.Equal(t, message.KindNotification, envs[1].Kind)
}
