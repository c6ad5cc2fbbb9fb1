package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingMsg struct{}

func (pingMsg) Tag() string { return "s.ping" }

type payloadMsg struct {
	PK int64 `json:"pk"`
}

func (payloadMsg) Tag() string { return "channel.left" }

func TestParse_Ping(t *testing.T) {
	env, err := Parse([]byte(`{"t":"s.ping","i":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, "s.ping", env.T)
	assert.Equal(t, "a", env.I)
	assert.Empty(t, env.P)
}

func TestParse_EmptyFrame(t *testing.T) {
	_, err := Parse([]byte(" "))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"__root__"}, verr.Errors[0].Loc)
}

func TestParse_MissingTag(t *testing.T) {
	_, err := Parse([]byte(`{"i":"a"}`))
	require.Error(t, err)
}

func TestParse_CorrelationIDTooLong(t *testing.T) {
	_, err := Parse([]byte(`{"t":"s.ping","i":"123456789012345678901"}`))
	require.Error(t, err)
}

func TestParse_NotJSON(t *testing.T) {
	_, err := Parse([]byte("not json"))
	require.Error(t, err)
}

func TestPack_NoPayloadOutgoing(t *testing.T) {
	env, err := Pack(pingMsg{}, Outgoing, "a", StateSuccess)
	require.NoError(t, err)
	assert.Equal(t, "s.ping", env.T)
	assert.Equal(t, StateSuccess, env.S)
	assert.Equal(t, "null", string(env.P))
}

func TestPack_IncomingHasNoState(t *testing.T) {
	env, err := Pack(pingMsg{}, Incoming, "a", StateSuccess)
	require.NoError(t, err)
	assert.Empty(t, env.S)
}

func TestPack_WithPayload(t *testing.T) {
	env, err := Pack(payloadMsg{PK: 7}, Outgoing, "sub1", StateSuccess)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pk":7}`, string(env.P))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ws_incoming", Incoming.String())
	assert.Equal(t, "ws_outgoing", Outgoing.String())
	assert.Equal(t, "internal", Internal.String())
	assert.Equal(t, "ws_error", ErrorKind.String())
}

func TestDictTransport_Wrap(t *testing.T) {
	env, err := Pack(payloadMsg{PK: 7}, Outgoing, "sub1", StateSuccess)
	require.NoError(t, err)

	m, err := DictTransport{}.Wrap(env, RouteWebsocketSend)
	require.NoError(t, err)
	assert.Equal(t, "websocket.send", m["type"])
	assert.Equal(t, "channel.left", m["t"])
	assert.Equal(t, map[string]any{"pk": float64(7)}, m["p"])
}

func TestTextTransport_Wrap(t *testing.T) {
	env, err := Pack(pingMsg{}, Outgoing, "a", StateSuccess)
	require.NoError(t, err)

	m, err := TextTransport{}.Wrap(env, RouteErrorSend)
	require.NoError(t, err)
	assert.Equal(t, "ws.error.send", m["type"])
	assert.Contains(t, m["text_data"], `"t":"s.ping"`)
}
