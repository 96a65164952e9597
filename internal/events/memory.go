package events

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// MemoryBus is the in-process Bus for single-node deployments. Each
// subscriber gets a buffered channel; a subscriber that falls too far
// behind has events dropped rather than blocking the publisher, which
// the at-least-once contract allows because a full refetch or
// reconcile recovers correctness.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	ch   chan Event
	once sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySub]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			log.Warn("Dropping event for slow subscriber", "kind", ev.Kind, "item", ev.ItemID)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	sub := &memorySub{ch: make(chan Event, 64)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		sub.close()
		b.mu.Unlock()
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return sub.ch, cancel, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		sub.close()
	}
	return nil
}
