package engine

import (
	"log/slog"
	"sync"

	"github.com/alejandrodnm/mmbot/internal/ports"
)

// defaultInboxCap bounds the per-market event queue. A worker stuck behind a
// slow exchange call must not let book updates pile up without limit.
const defaultInboxCap = 64

// inbox is the bounded per-market event queue between the feed pump and the
// market worker. Book snapshots are droppable: a newer snapshot supersedes
// an older one, so under pressure the oldest book event is discarded with a
// warning. Fills and order updates are never dropped — losing one desyncs
// the position ledger — so the queue grows past its bound rather than lose
// them.
type inbox struct {
	mu     sync.Mutex
	events []ports.FeedEvent
	cap    int

	// notify wakes the worker; capacity 1 coalesces wakeups.
	notify chan struct{}
}

func newInbox(capacity int) *inbox {
	if capacity <= 0 {
		capacity = defaultInboxCap
	}
	return &inbox{
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// push enqueues an event and wakes the worker. Returns true if an older book
// event had to be dropped to make room.
func (b *inbox) push(ev ports.FeedEvent) bool {
	b.mu.Lock()
	dropped := false
	if len(b.events) >= b.cap {
		for i, old := range b.events {
			if old.Type == ports.FeedBook {
				b.events = append(b.events[:i], b.events[i+1:]...)
				dropped = true
				break
			}
		}
	}
	b.events = append(b.events, ev)
	b.mu.Unlock()

	if dropped {
		slog.Warn("engine: inbox full, dropped oldest book update",
			"condition_id", ev.ConditionID,
			"capacity", b.cap,
		)
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return dropped
}

// drain takes every queued event, preserving arrival order.
func (b *inbox) drain() []ports.FeedEvent {
	b.mu.Lock()
	evs := b.events
	b.events = nil
	b.mu.Unlock()
	return evs
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
