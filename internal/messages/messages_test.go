package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
)

type fakeSession struct {
	channelName string
	userPK      *int64
	sent        []message.Message
	errors      []message.ErrorMessage
}

func (f *fakeSession) ChannelName() string { return f.channelName }
func (f *fakeSession) UserPK() *int64      { return f.userPK }
func (f *fakeSession) Language() string    { return "en" }
func (f *fakeSession) SendMessage(ctx context.Context, msg message.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeSession) SendError(ctx context.Context, err message.ErrorMessage) error {
	f.errors = append(f.errors, err)
	return nil
}

func TestPing_RepliesWithPong(t *testing.T) {
	p := &Ping{}
	p.SetMeta(message.Meta{ID: "a"})

	s := &fakeSession{channelName: "chan-1"}
	reply, err := p.Run(context.Background(), s)
	require.NoError(t, err)

	pong, ok := reply.(*Pong)
	require.True(t, ok)
	assert.Equal(t, "s.pong", pong.Tag())
	assert.Equal(t, "a", pong.Meta().ID)
	assert.Equal(t, envelope.StateSuccess, pong.Meta().State)
}

func TestPingPongEnvelopeRoundTrip(t *testing.T) {
	env, err := envelope.Pack(&Pong{}, envelope.Outgoing, "a", envelope.StateSuccess)
	require.NoError(t, err)
	assert.Equal(t, "s.pong", env.T)
	assert.Equal(t, "null", string(env.P))
	assert.Equal(t, envelope.StateSuccess, env.S)
}

func TestMessageTypeError_MatchesScenario2(t *testing.T) {
	e := NewMessageTypeError(message.Meta{}, "jeff", envelope.Incoming)
	env, err := envelope.Pack(e, envelope.ErrorKind, "", envelope.StateFailed)
	require.NoError(t, err)

	assert.Equal(t, "error.msg_type", env.T)
	assert.JSONEq(t, `{"msg":null,"type_name":"jeff","envelope":"ws_incoming"}`, string(env.P))
}

func TestBatch_AppendRejectsMismatchedTag(t *testing.T) {
	b, err := StartBatch(message.Meta{}, NewProgress(message.Meta{}, 1))
	require.NoError(t, err)

	err = b.Append(NewStat(message.Meta{}))
	assert.Error(t, err)
}

func TestBatch_AppendAccumulatesPayloads(t *testing.T) {
	b, err := StartBatch(message.Meta{}, NewProgress(message.Meta{}, 1))
	require.NoError(t, err)

	require.NoError(t, b.Append(NewProgress(message.Meta{}, 2)))
	require.NoError(t, b.Append(NewProgress(message.Meta{}, 3)))

	assert.Len(t, b.Payloads, 3)
	assert.JSONEq(t, `{"num":1}`, string(b.Payloads[0]))
	assert.JSONEq(t, `{"num":3}`, string(b.Payloads[2]))
}

func TestSubscribeError_MatchesScenario5(t *testing.T) {
	e := NewSubscribeError(message.Meta{ID: "sub1"}, "user_8")
	env, err := envelope.Pack(e, envelope.ErrorKind, e.Meta().ID, envelope.StateFailed)
	require.NoError(t, err)

	assert.Equal(t, "error.subscribe", env.T)
	assert.Equal(t, "sub1", env.I)
	assert.JSONEq(t, `{"channel_name":"user_8"}`, string(env.P))
}
