package service

import (
	"sync"

	"github.com/agpaii-digital/exam-portal/internal/model"
)

// SessionEventType names a session event.
type SessionEventType string

const (
	SessionEventTick      SessionEventType = "tick"
	SessionEventState     SessionEventType = "state"
	SessionEventCompleted SessionEventType = "completed"
)

// SessionEvent is pushed to session subscribers.
type SessionEvent struct {
	Type             SessionEventType
	RemainingSeconds int64
	State            model.SessionState
	Error            string
	AttemptID        string
}

const subscriberBuffer = 16

// broadcaster fans events out without ever blocking the publisher. A full
// subscriber loses ticks; for other events its oldest queued event is
// dropped to make room.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan SessionEvent
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan SessionEvent)}
}

func (b *broadcaster) subscribe() (<-chan SessionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SessionEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(ev SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if ev.Type == SessionEventTick {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
