package messages

import (
	"context"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
)

// Ping is legal as both an incoming and an internal message; replying with
// Pong is its entire behavior.
type Ping struct {
	message.Base
}

func (*Ping) Tag() string { return "s.ping" }

func (p *Ping) Run(ctx context.Context, s message.Session) (message.Message, error) {
	pong := &Pong{}
	pong.SetMeta(message.Meta{
		ID:           p.Meta().ID,
		ConsumerName: s.ChannelName(),
		UserPK:       s.UserPK(),
		Language:     s.Language(),
		State:        envelope.StateSuccess,
	})
	return pong, nil
}

// Pong is the outgoing reply to Ping.
type Pong struct {
	message.Base
}

func (*Pong) Tag() string { return "s.pong" }
