package sender

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

func newSenderForTest() (*TransactionSender, *layer.Memory) {
	l := layer.NewMemory(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := New(l, envelope.DictTransport{}, envelope.RouteWebsocketSend, PayloadListFactory{})
	return s, l
}

func TestFlush_BelowThreshold_SendsIndividually(t *testing.T) {
	s, l := newSenderForTest()
	ctx := context.Background()

	rec := &layerRecorder{}
	require.NoError(t, l.Register(ctx, "chan-1", rec))

	meta := message.Meta{ConsumerName: "chan-1"}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Add(ctx, Destination{Kind: DestSingle, Name: "chan-1"}, messages.NewProgress(meta, i), meta, envelope.Outgoing, true))
	}

	require.NoError(t, s.Flush(ctx))
	assert.Len(t, rec.received, 2)
}

func TestFlush_ThreeConsecutiveBatchableSends_Collapse(t *testing.T) {
	s, l := newSenderForTest()
	ctx := context.Background()

	rec := &layerRecorder{}
	require.NoError(t, l.Register(ctx, "chan-1", rec))

	meta := message.Meta{ConsumerName: "chan-1"}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(ctx, Destination{Kind: DestSingle, Name: "chan-1"}, messages.NewProgress(meta, i), meta, envelope.Outgoing, true))
	}

	require.NoError(t, s.Flush(ctx))
	require.Len(t, rec.received, 1)
	assert.Equal(t, "s.batch", rec.received[0]["t"])
}

func TestFlush_NonBatchableSendsStayIndividual(t *testing.T) {
	s, l := newSenderForTest()
	ctx := context.Background()

	rec := &layerRecorder{}
	require.NoError(t, l.Register(ctx, "chan-1", rec))

	meta := message.Meta{ConsumerName: "chan-1"}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(ctx, Destination{Kind: DestSingle, Name: "chan-1"}, messages.NewProgress(meta, i), meta, envelope.Outgoing, false))
	}

	require.NoError(t, s.Flush(ctx))
	assert.Len(t, rec.received, 3)
}

func TestAdd_ErrorMessageBypassesBatchingAndSendsImmediately(t *testing.T) {
	s, l := newSenderForTest()
	ctx := context.Background()

	rec := &layerRecorder{}
	require.NoError(t, l.Register(ctx, "chan-1", rec))

	meta := message.Meta{ConsumerName: "chan-1", State: envelope.StateFailed}
	err := s.Add(ctx, Destination{Kind: DestSingle, Name: "chan-1"}, messages.NewGenericError(meta, "boom"), meta, envelope.ErrorKind, true)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Pending())
	assert.Len(t, rec.received, 1)
}

type layerRecorder struct {
	received []map[string]any
}

func (r *layerRecorder) Deliver(ctx context.Context, payload map[string]any) {
	r.received = append(r.received, payload)
}
