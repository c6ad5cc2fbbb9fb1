package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	channelName string
	userPK      *int64
	sent        []message.Message
	errs        []message.ErrorMessage
}

func (f *fakeSession) ChannelName() string { return f.channelName }
func (f *fakeSession) UserPK() *int64      { return f.userPK }
func (f *fakeSession) Language() string    { return "en" }
func (f *fakeSession) SendMessage(ctx context.Context, msg message.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeSession) SendError(ctx context.Context, err message.ErrorMessage) error {
	f.errs = append(f.errs, err)
	return nil
}

type fakeQueue struct {
	enqueued []string
	fail     bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, tag string, payload json.RawMessage, meta message.Meta, enqueuedAt time.Time) error {
	if q.fail {
		return assertErr{"enqueue failed"}
	}
	q.enqueued = append(q.enqueued, tag)
	return nil
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

type runnableOK struct {
	message.Base
}

func (*runnableOK) Tag() string { return "test.runnable" }
func (r *runnableOK) Run(ctx context.Context, s message.Session) (message.Message, error) {
	return messages.NewStat(message.Meta{ID: r.Meta().ID}), nil
}

type runnableErr struct {
	message.Base
}

func (*runnableErr) Tag() string { return "test.runnable.err" }
func (r *runnableErr) Run(ctx context.Context, s message.Session) (message.Message, error) {
	return nil, assertErr{"boom"}
}

type jobOK struct {
	message.Base
}

func (*jobOK) Tag() string                { return "test.job" }
func (*jobOK) TTL() time.Duration         { return time.Second }
func (*jobOK) JobTimeout() time.Duration  { return time.Second }
func (*jobOK) Atomic() bool               { return true }
func (*jobOK) AllowBatch() bool           { return false }
func (j *jobOK) PreQueue(ctx context.Context, s message.Session) (message.Message, error) {
	return messages.NewStat(message.Meta{ID: j.Meta().ID}), nil
}
func (*jobOK) RunJob(ctx context.Context, env message.JobEnv) (message.Message, error) {
	return nil, nil
}

func TestDispatch_RunnableSuccessSendsReply(t *testing.T) {
	b := bus.New(testLogger(), 1)
	q := &fakeQueue{}
	d := New(b, q, testLogger())
	s := &fakeSession{channelName: "chan-1"}

	msg := &runnableOK{}
	msg.SetMeta(message.Meta{ID: "m1"})
	d.Dispatch(context.Background(), s, msg)

	require.Len(t, s.sent, 1)
	assert.Equal(t, "s.stat", s.sent[0].Tag())
	assert.Empty(t, s.errs)
}

func TestDispatch_RunnableErrorSendsErrorReply(t *testing.T) {
	b := bus.New(testLogger(), 1)
	q := &fakeQueue{}
	d := New(b, q, testLogger())
	s := &fakeSession{channelName: "chan-1"}

	msg := &runnableErr{}
	msg.SetMeta(message.Meta{ID: "m2"})
	d.Dispatch(context.Background(), s, msg)

	require.Len(t, s.errs, 1)
	assert.Equal(t, "error.generic", s.errs[0].Tag())
	assert.Empty(t, s.sent)
}

func TestDispatch_JobSendsAckAndEnqueues(t *testing.T) {
	b := bus.New(testLogger(), 1)
	q := &fakeQueue{}
	d := New(b, q, testLogger())
	s := &fakeSession{channelName: "chan-1"}

	msg := &jobOK{}
	msg.SetMeta(message.Meta{ID: "m3"})
	d.Dispatch(context.Background(), s, msg)

	require.Len(t, s.sent, 1)
	assert.Equal(t, "s.stat", s.sent[0].Tag())
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "test.job", q.enqueued[0])
}

func TestDispatch_JobEnqueueFailureSendsErrorReply(t *testing.T) {
	b := bus.New(testLogger(), 1)
	q := &fakeQueue{fail: true}
	d := New(b, q, testLogger())
	s := &fakeSession{channelName: "chan-1"}

	msg := &jobOK{}
	msg.SetMeta(message.Meta{ID: "m4"})
	d.Dispatch(context.Background(), s, msg)

	require.Len(t, s.errs, 1)
	assert.Equal(t, "error.generic", s.errs[0].Tag())
}

func TestDispatch_UnrecognizedMessageKindSendsBadRequest(t *testing.T) {
	b := bus.New(testLogger(), 1)
	q := &fakeQueue{}
	d := New(b, q, testLogger())
	s := &fakeSession{channelName: "chan-1"}

	msg := &plainMessage{}
	msg.SetMeta(message.Meta{ID: "m5"})
	d.Dispatch(context.Background(), s, msg)

	require.Len(t, s.errs, 1)
	assert.Equal(t, "error.bad_request", s.errs[0].Tag())
}

type plainMessage struct {
	message.Base
}

func (*plainMessage) Tag() string { return "test.plain" }
