package layer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is the multi-node ChannelLayer backend, modeled on Django
// Channels' channels_redis: group membership lives in a Redis SET per
// group, group_send publishes to a Redis pub/sub channel named after the
// group, and every process subscribes to the groups its local receivers
// have joined.
type Redis struct {
	client *redis.Client
	logger *slog.Logger

	mu          sync.Mutex
	receivers   map[string]Receiver
	chanSubs    map[string]*redisSub // channelName -> direct-send subscription
	groupSubs   map[string]*redisSub // groupName -> pub/sub subscription
	groupLocal  map[string]map[string]struct{} // groupName -> local member channel names
}

type redisSub struct {
	sub    *redis.PubSub
	cancel context.CancelFunc
}

// NewRedis connects to Redis and returns a ready layer backend.
func NewRedis(ctx context.Context, url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("layer: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("layer: redis ping: %w", err)
	}
	return &Redis{
		client:     client,
		logger:     logger,
		receivers:  make(map[string]Receiver),
		chanSubs:   make(map[string]*redisSub),
		groupSubs:  make(map[string]*redisSub),
		groupLocal: make(map[string]map[string]struct{}),
	}, nil
}

// Ping verifies the underlying Redis connection is alive.
func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection and all subscriptions.
func (l *Redis) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.chanSubs {
		s.cancel()
		_ = s.sub.Close()
	}
	for _, s := range l.groupSubs {
		s.cancel()
		_ = s.sub.Close()
	}
	return l.client.Close()
}

func channelKey(channelName string) string { return "envelope:chan:" + channelName }
func groupKey(groupName string) string     { return "envelope:group:" + groupName }
func groupSetKey(groupName string) string  { return "envelope:group-members:" + groupName }

func (l *Redis) Register(ctx context.Context, channelName string, r Receiver) error {
	l.mu.Lock()
	l.receivers[channelName] = r
	l.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	sub := l.client.Subscribe(subCtx, channelKey(channelName))
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("layer: subscribe %s: %w", channelName, err)
	}

	l.mu.Lock()
	l.chanSubs[channelName] = &redisSub{sub: sub, cancel: cancel}
	l.mu.Unlock()

	go l.forward(subCtx, sub, func(ctx context.Context, payload map[string]any) {
		l.mu.Lock()
		recv, ok := l.receivers[channelName]
		l.mu.Unlock()
		if ok {
			recv.Deliver(ctx, payload)
		}
	})
	return nil
}

func (l *Redis) Unregister(ctx context.Context, channelName string) {
	l.mu.Lock()
	delete(l.receivers, channelName)
	s, ok := l.chanSubs[channelName]
	delete(l.chanSubs, channelName)
	for group, members := range l.groupLocal {
		delete(members, channelName)
		if len(members) == 0 {
			delete(l.groupLocal, group)
			if gs, ok := l.groupSubs[group]; ok {
				gs.cancel()
				_ = gs.sub.Close()
				delete(l.groupSubs, group)
			}
		}
	}
	l.mu.Unlock()
	if ok {
		s.cancel()
		_ = s.sub.Close()
	}
}

func (l *Redis) forward(ctx context.Context, sub *redis.PubSub, deliver func(context.Context, map[string]any)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload map[string]any
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				l.logger.Warn("layer: malformed redis payload, dropping", "error", err)
				continue
			}
			deliver(ctx, payload)
		}
	}
}

func (l *Redis) Send(ctx context.Context, channelName string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("layer: marshal payload: %w", err)
	}
	return l.client.Publish(ctx, channelKey(channelName), data).Err()
}

func (l *Redis) GroupSend(ctx context.Context, groupName string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("layer: marshal payload: %w", err)
	}
	return l.client.Publish(ctx, groupKey(groupName), data).Err()
}

func (l *Redis) GroupAdd(ctx context.Context, groupName, channelName string) error {
	if err := l.client.SAdd(ctx, groupSetKey(groupName), channelName).Err(); err != nil {
		return fmt.Errorf("layer: group add: %w", err)
	}

	l.mu.Lock()
	members, ok := l.groupLocal[groupName]
	if !ok {
		members = make(map[string]struct{})
		l.groupLocal[groupName] = members
	}
	alreadySubscribed := len(members) > 0
	members[channelName] = struct{}{}
	l.mu.Unlock()

	if alreadySubscribed {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := l.client.Subscribe(subCtx, groupKey(groupName))
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("layer: subscribe group %s: %w", groupName, err)
	}

	l.mu.Lock()
	l.groupSubs[groupName] = &redisSub{sub: sub, cancel: cancel}
	l.mu.Unlock()

	go l.forward(subCtx, sub, func(ctx context.Context, payload map[string]any) {
		l.mu.Lock()
		locals := make([]string, 0, len(l.groupLocal[groupName]))
		for ch := range l.groupLocal[groupName] {
			locals = append(locals, ch)
		}
		l.mu.Unlock()
		for _, ch := range locals {
			l.mu.Lock()
			recv, ok := l.receivers[ch]
			l.mu.Unlock()
			if ok {
				recv.Deliver(ctx, payload)
			}
		}
	})
	return nil
}

func (l *Redis) GroupDiscard(ctx context.Context, groupName, channelName string) error {
	if err := l.client.SRem(ctx, groupSetKey(groupName), channelName).Err(); err != nil {
		return fmt.Errorf("layer: group discard: %w", err)
	}

	l.mu.Lock()
	members, ok := l.groupLocal[groupName]
	if ok {
		delete(members, channelName)
	}
	empty := ok && len(members) == 0
	var gs *redisSub
	if empty {
		gs = l.groupSubs[groupName]
		delete(l.groupSubs, groupName)
		delete(l.groupLocal, groupName)
	}
	l.mu.Unlock()

	if gs != nil {
		gs.cancel()
		_ = gs.sub.Close()
	}
	return nil
}
