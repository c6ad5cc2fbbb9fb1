package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
)

type testJob struct {
	message.Base
}

func (*testJob) Tag() string              { return "test.job" }
func (*testJob) TTL() time.Duration        { return 30 * time.Second }
func (*testJob) JobTimeout() time.Duration { return 12 * time.Second }
func (*testJob) Atomic() bool              { return false }
func (*testJob) AllowBatch() bool          { return false }
func (*testJob) PreQueue(ctx context.Context, s message.Session) (message.Message, error) {
	return nil, nil
}
func (*testJob) RunJob(ctx context.Context, env message.JobEnv) (message.Message, error) {
	return nil, nil
}

type testRunnable struct {
	message.Base
}

func (*testRunnable) Tag() string { return "test.runnable" }

func catalogWithJob() *Catalog {
	b := NewBuilder()
	b.Register(Descriptor{Tag: "test.job", Kind: KindJob, New: func() message.Message { return &testJob{} }}, envelope.Incoming)
	b.Register(Descriptor{Tag: "test.runnable", Kind: KindRunnable, New: func() message.Message { return &testRunnable{} }}, envelope.Incoming)
	return b.Freeze()
}

func TestRegister_DuplicateTagPanics(t *testing.T) {
	b := NewBuilder()
	d := Descriptor{Tag: "dup", Kind: KindRunnable, New: func() message.Message { return &testRunnable{} }}
	b.Register(d, envelope.Incoming)
	assert.Panics(t, func() { b.Register(d, envelope.Incoming) })
}

func TestLookup_UnknownTagReturnsFalse(t *testing.T) {
	c := catalogWithJob()
	_, ok := c.Lookup(envelope.Incoming, "no.such.tag")
	assert.False(t, ok)
}

func TestJobTags_ListsOnlyKindJob(t *testing.T) {
	c := catalogWithJob()
	tags := c.JobTags()
	require.Len(t, tags, 1)
	assert.Equal(t, "test.job", tags[0])
}

func TestJobTimeoutFor_KnownJobTagReturnsDeclaredTimeout(t *testing.T) {
	c := catalogWithJob()
	d, ok := c.JobTimeoutFor("test.job")
	assert.True(t, ok)
	assert.Equal(t, 12*time.Second, d)
}

func TestJobTimeoutFor_NonJobTagReturnsFalse(t *testing.T) {
	c := catalogWithJob()
	_, ok := c.JobTimeoutFor("test.runnable")
	assert.False(t, ok)
}

func TestJobTimeoutFor_UnknownTagReturnsFalse(t *testing.T) {
	c := catalogWithJob()
	_, ok := c.JobTimeoutFor("no.such.tag")
	assert.False(t, ok)
}
