package layer

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is a single-process ChannelLayer. Groups are plain maps guarded
// by one mutex; the lock-ordering discipline (layer mutex always taken
// before any per-receiver state) mirrors the teacher hub's
// register/broadcast locking so the pattern stays familiar to anyone who
// has read that code.
type Memory struct {
	mu        sync.RWMutex
	receivers map[string]Receiver
	groups    map[string]map[string]struct{}
	logger    *slog.Logger
}

// NewMemory constructs an empty in-memory layer.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		receivers: make(map[string]Receiver),
		groups:    make(map[string]map[string]struct{}),
		logger:    logger,
	}
}

func (m *Memory) Register(ctx context.Context, channelName string, r Receiver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receivers[channelName] = r
	return nil
}

func (m *Memory) Unregister(ctx context.Context, channelName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.receivers, channelName)
	for _, members := range m.groups {
		delete(members, channelName)
	}
}

func (m *Memory) Send(ctx context.Context, channelName string, payload map[string]any) error {
	m.mu.RLock()
	r, ok := m.receivers[channelName]
	m.mu.RUnlock()
	if !ok {
		// The channel has gone away; the layer drops silently (§5, §7).
		return nil
	}
	r.Deliver(ctx, payload)
	return nil
}

func (m *Memory) GroupSend(ctx context.Context, groupName string, payload map[string]any) error {
	m.mu.RLock()
	members := make([]string, 0, len(m.groups[groupName]))
	for ch := range m.groups[groupName] {
		members = append(members, ch)
	}
	m.mu.RUnlock()

	for _, ch := range members {
		m.mu.RLock()
		r, ok := m.receivers[ch]
		m.mu.RUnlock()
		if ok {
			r.Deliver(ctx, payload)
		}
	}
	return nil
}

func (m *Memory) GroupAdd(ctx context.Context, groupName, channelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.groups[groupName]
	if !ok {
		members = make(map[string]struct{})
		m.groups[groupName] = members
	}
	members[channelName] = struct{}{}
	return nil
}

func (m *Memory) GroupDiscard(ctx context.Context, groupName, channelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.groups[groupName]; ok {
		delete(members, channelName)
		if len(members) == 0 {
			delete(m.groups, groupName)
		}
	}
	return nil
}
