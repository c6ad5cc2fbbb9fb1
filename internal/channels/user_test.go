package channels

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/layer"
)

func TestNewUserResolver_ResolvesUserChannel(t *testing.T) {
	l := layer.NewMemory(slog.New(slog.NewTextHandler(io.Discard, nil)))
	resolve := NewUserResolver(l, envelope.DictTransport{})

	ch, err := resolve("user", 7)
	require.NoError(t, err)
	assert.Equal(t, "user_7", ch.ChannelName)
}

func TestNewUserResolver_UnknownChannelTypeErrors(t *testing.T) {
	l := layer.NewMemory(slog.New(slog.NewTextHandler(io.Discard, nil)))
	resolve := NewUserResolver(l, envelope.DictTransport{})

	_, err := resolve("project", 7)
	assert.Error(t, err)
}

func TestSelfOnly_AllowsOwnPKOnly(t *testing.T) {
	self := int64(7)
	other := int64(8)
	assert.True(t, selfOnly(&self, userContext{pk: 7}))
	assert.False(t, selfOnly(&other, userContext{pk: 7}))
	assert.False(t, selfOnly(nil, userContext{pk: 7}))
}

func TestUserResolver_AllowSubscribeWiredThroughChannel(t *testing.T) {
	l := layer.NewMemory(slog.New(slog.NewTextHandler(io.Discard, nil)))
	resolve := NewUserResolver(l, envelope.DictTransport{})

	ch, err := resolve("user", 7)
	require.NoError(t, err)

	entity, err := ch.Context(context.Background())
	require.NoError(t, err)

	self := int64(7)
	assert.True(t, ch.AllowSubscribe(&self, entity))

	other := int64(9)
	assert.False(t, ch.AllowSubscribe(&other, entity))
}
