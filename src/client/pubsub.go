package client

import (
	"sort"
	"sync"
)

// PubSub fans values out to every handler subscribed to a topic. Handlers
// run synchronously on the publishing goroutine, in subscription order.
type PubSub[K comparable, T any] struct {
	mu     sync.RWMutex
	nextId uint64
	subs   map[K]map[uint64]func(T)
	closed bool
}

func NewPubSub[K comparable, T any]() *PubSub[K, T] {
	return &PubSub[K, T]{
		subs: make(map[K]map[uint64]func(T)),
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (ps *PubSub[K, T]) Subscribe(topic K, fn func(T)) func() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return func() {}
	}
	ps.nextId++
	id := ps.nextId
	if ps.subs[topic] == nil {
		ps.subs[topic] = make(map[uint64]func(T))
	}
	ps.subs[topic][id] = fn

	return func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		delete(ps.subs[topic], id)
		if len(ps.subs[topic]) == 0 {
			delete(ps.subs, topic)
		}
	}
}

// Once registers fn for the next value published on topic only.
func (ps *PubSub[K, T]) Once(topic K, fn func(T)) func() {
	var once sync.Once
	var unsubscribe func()
	var mu sync.Mutex

	mu.Lock()
	defer mu.Unlock()
	unsubscribe = ps.Subscribe(topic, func(v T) {
		once.Do(func() {
			mu.Lock()
			unsub := unsubscribe
			mu.Unlock()
			unsub()
			fn(v)
		})
	})
	return unsubscribe
}

// Publish calls every handler of topic with v and returns how many ran.
func (ps *PubSub[K, T]) Publish(topic K, v T) int {
	ps.mu.RLock()
	ids := make([]uint64, 0, len(ps.subs[topic]))
	for id := range ps.subs[topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, ps.subs[topic][id])
	}
	ps.mu.RUnlock()

	for _, fn := range handlers {
		fn(v)
	}
	return len(handlers)
}

// Subscribers reports how many handlers topic has.
func (ps *PubSub[K, T]) Subscribers(topic K) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subs[topic])
}

// Close drops every subscription. Later subscriptions are ignored.
func (ps *PubSub[K, T]) Close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.subs = make(map[K]map[uint64]func(T))
	ps.closed = true
}
