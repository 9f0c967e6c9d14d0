package services

import (
	"sort"
	"sync"
	"time"

	"auction-sync/internal/domain"
)

// GroupRegistry is the local record of intended group memberships. It is the
// source of truth that gets replayed onto a channel after it reconnects.
type GroupRegistry struct {
	mu   sync.RWMutex
	subs map[domain.GroupKey]domain.GroupSubscription
}

func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{subs: make(map[domain.GroupKey]domain.GroupSubscription)}
}

// Add records a subscription and reports whether it was new.
func (r *GroupRegistry) Add(group string, channel domain.ChannelKind, at time.Time) bool {
	key := domain.GroupKey{GroupName: group, Channel: channel}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[key]; exists {
		return false
	}
	r.subs[key] = domain.GroupSubscription{GroupName: group, Channel: channel, SubscribedAt: at}
	return true
}

func (r *GroupRegistry) Remove(group string, channel domain.ChannelKind) bool {
	key := domain.GroupKey{GroupName: group, Channel: channel}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[key]; !exists {
		return false
	}
	delete(r.subs, key)
	return true
}

func (r *GroupRegistry) Contains(group string, channel domain.ChannelKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.subs[domain.GroupKey{GroupName: group, Channel: channel}]
	return exists
}

// ForChannel returns the group names subscribed on one channel, oldest first.
func (r *GroupRegistry) ForChannel(channel domain.ChannelKind) []string {
	var subs []domain.GroupSubscription
	for _, s := range r.Snapshot() {
		if s.Channel == channel {
			subs = append(subs, s)
		}
	}
	groups := make([]string, len(subs))
	for i, s := range subs {
		groups[i] = s.GroupName
	}
	return groups
}

// Snapshot returns a copy of every subscription ordered by subscription time.
func (r *GroupRegistry) Snapshot() []domain.GroupSubscription {
	r.mu.RLock()
	out := make([]domain.GroupSubscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].SubscribedAt.Before(out[j].SubscribedAt)
		}
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].GroupName < out[j].GroupName
	})
	return out
}

func (r *GroupRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *GroupRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[domain.GroupKey]domain.GroupSubscription)
}
