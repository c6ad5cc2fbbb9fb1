package layer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	received []map[string]any
}

func (r *recorder) Deliver(ctx context.Context, payload map[string]any) {
	r.received = append(r.received, payload)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemory_SendToRegisteredReceiver(t *testing.T) {
	m := NewMemory(newTestLogger())
	ctx := context.Background()

	r := &recorder{}
	require.NoError(t, m.Register(ctx, "chan-1", r))

	require.NoError(t, m.Send(ctx, "chan-1", map[string]any{"t": "s.pong"}))
	require.Len(t, r.received, 1)
	assert.Equal(t, "s.pong", r.received[0]["t"])
}

func TestMemory_SendToUnknownChannelIsSilentlyDropped(t *testing.T) {
	m := NewMemory(newTestLogger())
	err := m.Send(context.Background(), "ghost", map[string]any{"t": "s.pong"})
	assert.NoError(t, err)
}

func TestMemory_GroupSendFansOutToMembers(t *testing.T) {
	m := NewMemory(newTestLogger())
	ctx := context.Background()

	a, b := &recorder{}, &recorder{}
	require.NoError(t, m.Register(ctx, "chan-a", a))
	require.NoError(t, m.Register(ctx, "chan-b", b))
	require.NoError(t, m.GroupAdd(ctx, "user_7", "chan-a"))
	require.NoError(t, m.GroupAdd(ctx, "user_7", "chan-b"))

	require.NoError(t, m.GroupSend(ctx, "user_7", map[string]any{"t": "channel.left"}))

	assert.Len(t, a.received, 1)
	assert.Len(t, b.received, 1)
}

func TestMemory_GroupDiscardStopsDelivery(t *testing.T) {
	m := NewMemory(newTestLogger())
	ctx := context.Background()

	a := &recorder{}
	require.NoError(t, m.Register(ctx, "chan-a", a))
	require.NoError(t, m.GroupAdd(ctx, "user_7", "chan-a"))
	require.NoError(t, m.GroupDiscard(ctx, "user_7", "chan-a"))

	require.NoError(t, m.GroupSend(ctx, "user_7", map[string]any{"t": "channel.left"}))
	assert.Empty(t, a.received)
}

func TestMemory_UnregisterRemovesFromGroups(t *testing.T) {
	m := NewMemory(newTestLogger())
	ctx := context.Background()

	a := &recorder{}
	require.NoError(t, m.Register(ctx, "chan-a", a))
	require.NoError(t, m.GroupAdd(ctx, "user_7", "chan-a"))

	m.Unregister(ctx, "chan-a")

	require.NoError(t, m.GroupSend(ctx, "user_7", map[string]any{"t": "channel.left"}))
	assert.Empty(t, a.received)
}
