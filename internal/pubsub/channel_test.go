package pubsub

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
)

type fakeSession struct {
	channelName string
}

func (s *fakeSession) ChannelName() string                           { return s.channelName }
func (s *fakeSession) UserPK() *int64                                { return nil }
func (s *fakeSession) Language() string                              { return "en" }
func (s *fakeSession) SendMessage(ctx context.Context, m message.Message) error { return nil }
func (s *fakeSession) SendError(ctx context.Context, m message.ErrorMessage) error { return nil }

type recorder struct {
	received []map[string]any
}

func (r *recorder) Deliver(ctx context.Context, payload map[string]any) {
	r.received = append(r.received, payload)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPubSubChannel_SubscribeAndPublish(t *testing.T) {
	l := layer.NewMemory(testLogger())
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, l.Register(ctx, "chan-1", rec))

	ch := New("room_1", l, envelope.DictTransport{})
	require.NoError(t, ch.Subscribe(ctx, &fakeSession{channelName: "chan-1"}))

	meta := message.Meta{ID: "a"}
	require.NoError(t, ch.Publish(ctx, messages.NewStat(meta), meta))

	require.Len(t, rec.received, 1)
	assert.Equal(t, "s.stat", rec.received[0]["t"])
}

func TestPubSubChannel_LeaveStopsDelivery(t *testing.T) {
	l := layer.NewMemory(testLogger())
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, l.Register(ctx, "chan-1", rec))

	ch := New("room_1", l, envelope.DictTransport{})
	sess := &fakeSession{channelName: "chan-1"}
	require.NoError(t, ch.Subscribe(ctx, sess))
	require.NoError(t, ch.Leave(ctx, sess))

	meta := message.Meta{ID: "a"}
	require.NoError(t, ch.Publish(ctx, messages.NewStat(meta), meta))
	assert.Empty(t, rec.received)
}

func TestContextChannel_DerivesChannelName(t *testing.T) {
	l := layer.NewMemory(testLogger())
	ch := NewContext("room", 42, l, envelope.DictTransport{}, nil, nil)
	assert.Equal(t, "room_42", ch.ChannelName)
}

func TestContextChannel_AllowSubscribeDefaultsToAuthenticated(t *testing.T) {
	l := layer.NewMemory(testLogger())
	ch := NewContext("room", 42, l, envelope.DictTransport{}, nil, nil)

	pk := int64(7)
	assert.True(t, ch.AllowSubscribe(&pk, nil))
	assert.False(t, ch.AllowSubscribe(nil, nil))
}

func TestContextChannel_AllowSubscribeCustomPolicy(t *testing.T) {
	l := layer.NewMemory(testLogger())
	ch := NewContext("room", 42, l, envelope.DictTransport{}, nil, func(userPK *int64, entity Context) bool {
		return userPK != nil && *userPK == 7
	})

	pk7 := int64(7)
	pk8 := int64(8)
	assert.True(t, ch.AllowSubscribe(&pk7, nil))
	assert.False(t, ch.AllowSubscribe(&pk8, nil))
}

func TestContextChannel_FromInstanceCachesContext(t *testing.T) {
	l := layer.NewMemory(testLogger())
	called := false
	loader := func(ctx context.Context, pk int64) (Context, error) {
		called = true
		return nil, nil
	}
	ch := NewContext("room", 42, l, envelope.DictTransport{}, loader, nil)
	ch.FromInstance(&testEntity{pk: 42})

	_, err := ch.Context(context.Background())
	require.NoError(t, err)
	assert.False(t, called, "loader should not be called once context is cached via FromInstance")
}

type testEntity struct{ pk int64 }

func (e *testEntity) PK() int64 { return e.pk }
