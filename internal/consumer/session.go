// Package consumer implements the consumer session (component D): a
// WebSocket-backed message.Session adapted from the teacher's Hub/Client
// read/write pump structure. Unlike the teacher's tenant-keyed hub,
// membership is entirely delegated to the channel layer adapter — this
// package holds no topic maps of its own, only the session's local
// subscription set.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaylabs/envelope/internal/bus"
	"github.com/relaylabs/envelope/internal/dispatch"
	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/layer"
	"github.com/relaylabs/envelope/internal/message"
	"github.com/relaylabs/envelope/internal/messages"
	"github.com/relaylabs/envelope/internal/registry"
	"github.com/relaylabs/envelope/internal/subscription"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Session is a single accepted WebSocket connection. It implements
// message.Session and subscription.SessionContext so registry-dispatched
// handlers and subscription jobs can reach it without this package being
// imported by either.
type Session struct {
	conn        *websocket.Conn
	channelName string
	userPK      *int64
	language    string

	layer      layer.ChannelLayer
	transport  envelope.Transport
	catalog    *registry.Catalog
	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	logger     *slog.Logger

	send chan map[string]any

	subsMu        sync.Mutex
	subscriptions map[string]subscription.Entry

	closeOnce sync.Once
	closed    chan struct{}
}

// New accepts conn as a session. The caller must then call Accept (which
// spawns the read/write pumps and blocks until the session ends) and is
// responsible for calling conn's upgrade beforehand.
func New(conn *websocket.Conn, userPK *int64, language string, l layer.ChannelLayer, transport envelope.Transport, catalog *registry.Catalog, dispatcher *dispatch.Dispatcher, b *bus.Bus, logger *slog.Logger) *Session {
	return &Session{
		conn:          conn,
		channelName:   "consumer_" + uuid.NewString(),
		userPK:        userPK,
		language:      language,
		layer:         l,
		transport:     transport,
		catalog:       catalog,
		dispatcher:    dispatcher,
		bus:           b,
		logger:        logger,
		send:          make(chan map[string]any, sendBufferSize),
		subscriptions: make(map[string]subscription.Entry),
		closed:        make(chan struct{}),
	}
}

// message.Session / subscription.SessionContext implementation.

func (s *Session) ChannelName() string            { return s.channelName }
func (s *Session) UserPK() *int64                 { return s.userPK }
func (s *Session) Language() string                { return s.language }
func (s *Session) Layer() layer.ChannelLayer       { return s.layer }

func (s *Session) SendMessage(ctx context.Context, msg message.Message) error {
	return s.deliverOut(ctx, msg, envelope.Outgoing, envelope.RouteWebsocketSend)
}

func (s *Session) SendError(ctx context.Context, err message.ErrorMessage) error {
	return s.deliverOut(ctx, err, envelope.ErrorKind, envelope.RouteErrorSend)
}

func (s *Session) deliverOut(ctx context.Context, msg message.Message, k envelope.Kind, route envelope.RoutingTag) error {
	env, perr := envelope.Pack(msg, k, msg.Meta().ID, msg.Meta().State)
	if perr != nil {
		return perr
	}
	payload, perr := s.transport.Wrap(env, route)
	if perr != nil {
		return perr
	}
	s.enqueue(payload)
	s.mutateSubscriptionOnDeliver(msg)
	return nil
}

// mutateSubscriptionOnDeliver implements §4.7: delivering a Subscribed or
// Left message outbound also mutates the session's local subscription set,
// whether it originated from this session's own job or a recheck job
// running on a worker.
func (s *Session) mutateSubscriptionOnDeliver(msg message.Message) {
	switch m := msg.(type) {
	case *subscription.Subscribed:
		s.AddSubscription(subscription.Entry{ChannelType: m.ChannelType, PK: m.PK})
	case *subscription.Left:
		s.RemoveSubscription(subscription.Entry{ChannelType: m.ChannelType, PK: m.PK})
	}
}

func (s *Session) Subscriptions() []subscription.Entry {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	out := make([]subscription.Entry, 0, len(s.subscriptions))
	for _, e := range s.subscriptions {
		out = append(out, e)
	}
	return out
}

func (s *Session) AddSubscription(e subscription.Entry) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subscriptions[e.ChannelName()] = e
}

func (s *Session) RemoveSubscription(e subscription.Entry) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subscriptions, e.ChannelName())
}

// Deliver satisfies layer.Receiver: payloads addressed to this session's
// channel_name (direct sends or group fan-out) arrive here.
func (s *Session) Deliver(ctx context.Context, payload map[string]any) {
	select {
	case s.send <- payload:
	default:
		s.logger.Warn("consumer: send buffer full, dropping message", "channel_name", s.channelName)
	}
}

var (
	_ message.Session           = (*Session)(nil)
	_ subscription.SessionContext = (*Session)(nil)
	_ layer.Receiver             = (*Session)(nil)
)

// Accept registers the session on the layer, fires consumer_connected,
// and runs the read/write pumps until the connection closes. It blocks
// until both pumps exit.
func (s *Session) Accept(ctx context.Context) error {
	if err := s.layer.Register(ctx, s.channelName, s); err != nil {
		return fmt.Errorf("consumer: register on layer: %w", err)
	}
	s.bus.Fire(ctx, bus.Event{Signal: bus.ConsumerConnected, ConsumerName: s.channelName, UserPK: s.userPK})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump()
	}()
	go func() {
		defer wg.Done()
		s.readPump(ctx)
	}()
	wg.Wait()

	s.layer.Unregister(ctx, s.channelName)
	s.bus.Fire(ctx, bus.Event{Signal: bus.ConsumerClosed, ConsumerName: s.channelName, UserPK: s.userPK})
	return nil
}

func (s *Session) readPump(ctx context.Context) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("consumer: unexpected close", "channel_name", s.channelName, "error", err)
			}
			return
		}
		s.handleFrame(ctx, raw)

		select {
		case <-s.closed:
			return
		default:
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	baseMeta := message.Meta{ConsumerName: s.channelName, UserPK: s.userPK}

	env, err := envelope.Parse(raw)
	if err != nil {
		verr, _ := err.(*envelope.ValidationError)
		if verr == nil {
			verr = &envelope.ValidationError{Errors: []envelope.FieldError{{Loc: []string{"__root__"}, Msg: err.Error()}}}
		}
		_ = s.SendError(ctx, messages.NewValidationError(baseMeta, verr))
		return
	}

	msg, ok := s.catalog.New(envelope.Incoming, env.T)
	if !ok {
		_ = s.SendError(ctx, messages.NewMessageTypeError(baseMeta, env.T, envelope.Incoming))
		return
	}
	if len(env.P) > 0 {
		if jerr := json.Unmarshal(env.P, msg); jerr != nil {
			verr := &envelope.ValidationError{Errors: []envelope.FieldError{{Loc: []string{"p"}, Msg: jerr.Error()}}}
			_ = s.SendError(ctx, messages.NewValidationError(baseMeta, verr))
			return
		}
	}
	msg.SetMeta(message.Meta{ID: env.I, UserPK: s.userPK, ConsumerName: s.channelName, Language: s.language, Kind: envelope.Incoming})

	// Dispatch itself fires bus.IncomingWebsocketMessage; firing it here
	// too would double-count every message for Blocking listeners.
	s.dispatcher.Dispatch(ctx, s, msg)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.writePayload(payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.closed:
			return
		}
	}
}

func (s *Session) writePayload(payload map[string]any) error {
	if text, ok := payload["text_data"].(string); ok {
		return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("consumer: marshal outgoing payload", "error", err)
		return nil
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) enqueue(payload map[string]any) {
	select {
	case s.send <- payload:
	default:
		s.logger.Warn("consumer: send buffer full, dropping outgoing message", "channel_name", s.channelName)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
