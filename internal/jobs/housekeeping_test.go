package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaylabs/envelope/internal/bus"
)

func TestHousekeeping_DueIsTrueOnFirstSight(t *testing.T) {
	h := NewHousekeeping(nil, time.Minute, newTestLogger())
	assert.True(t, h.due("chan-1"))
}

func TestHousekeeping_DueThrottlesWithinInterval(t *testing.T) {
	h := NewHousekeeping(nil, time.Minute, newTestLogger())
	h.bump("chan-1")
	assert.False(t, h.due("chan-1"))
}

func TestHousekeeping_SubscribeIsNoopWithoutStore(t *testing.T) {
	h := NewHousekeeping(nil, time.Minute, newTestLogger())
	b := bus.New(newTestLogger(), 1)
	h.Subscribe(b)
	b.Fire(context.Background(), bus.Event{Signal: bus.ConsumerConnected, ConsumerName: "chan-1"})
}
