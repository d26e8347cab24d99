package feed

import (
	"log/slog"
	"sync/atomic"

	"papertrade/internal/domain"
)

// Bus fans the canonical tick stream out to independent consumers. Each
// consumer drains its own bounded channel, so the aggregation and
// matching pipelines never wait on each other: a consumer that falls
// behind loses ticks instead of stalling the producers or its peers.
// Ticks from one exchange keep their arrival order because every
// adapter publishes from a single goroutine.
type Bus struct {
	buffer int
	subs   []*busSub
}

type busSub struct {
	name    string
	ch      chan domain.Tick
	dropped atomic.Uint64
}

// NewBus creates a bus whose consumer channels buffer the given number
// of ticks.
func NewBus(buffer int) *Bus {
	return &Bus{buffer: buffer}
}

// Subscribe registers a named consumer and returns its channel. All
// consumers must subscribe before the first Publish.
func (b *Bus) Subscribe(name string) <-chan domain.Tick {
	sub := &busSub{name: name, ch: make(chan domain.Tick, b.buffer)}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish delivers one tick to every consumer without blocking. A
// consumer whose channel is full drops the tick; drops are counted.
func (b *Bus) Publish(tick domain.Tick) {
	for _, sub := range b.subs {
		select {
		case sub.ch <- tick:
		default:
			if n := sub.dropped.Add(1); n == 1 || n%1000 == 0 {
				slog.Warn("tick consumer lagging, dropping",
					slog.String("consumer", sub.name),
					slog.Uint64("dropped", n),
				)
			}
		}
	}
}

// Dropped returns how many ticks the named consumer has lost to
// overflow.
func (b *Bus) Dropped(name string) uint64 {
	for _, sub := range b.subs {
		if sub.name == name {
			return sub.dropped.Load()
		}
	}
	return 0
}
