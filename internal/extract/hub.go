package extract

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriber owns one outbound channel. Sends and the final close are
// serialized by mu; done lets a blocked send give up as soon as the
// subscriber leaves.
type subscriber struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Event, 16), done: make(chan struct{})}
}

func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !ev.Terminal() {
		select {
		case s.ch <- ev:
		default:
		}
		return
	}
	timer := time.NewTimer(terminalSendTimeout)
	defer timer.Stop()
	select {
	case s.ch <- ev:
	case <-s.done:
	case <-timer.C:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// hub fans job events out to live subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

func (h *hub) subscribe(id uuid.UUID) (<-chan Event, func()) {
	sub := newSubscriber()

	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[*subscriber]struct{})
	}
	h.subs[id][sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subs[id], sub)
		if len(h.subs[id]) == 0 {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		sub.close()
	}
}

// snapshot copies the subscribers of id so delivery happens without h.mu.
func (h *hub) snapshot(id uuid.UUID) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*subscriber, 0, len(h.subs[id]))
	for sub := range h.subs[id] {
		subs = append(subs, sub)
	}
	return subs
}

func (h *hub) publish(ev Event) {
	for _, sub := range h.snapshot(ev.ScrapID) {
		sub.deliver(ev)
	}
}

// closeJob ends every subscription of a finished job.
func (h *hub) closeJob(id uuid.UUID) {
	h.mu.Lock()
	subs := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}
