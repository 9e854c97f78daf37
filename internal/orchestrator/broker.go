package orchestrator

import (
	"sync"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/model"
)

// broker fans events out to subscribers. Publish never blocks and never
// drops: every subscriber owns an unbounded queue drained by its own
// goroutine, so a slow observer only grows its own queue.
type broker struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	queue  []model.Event
	last   bool // no more events will be queued
	notify chan struct{}
	quit   chan struct{}
	once   sync.Once
	out    chan model.Event
}

func newBroker() *broker {
	return &broker{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns the events published from now on. The channel is closed
// after the unsubscribe function was called, or once the broker was closed
// and every queued event was received.
func (b *broker) Subscribe() (<-chan model.Event, func()) {
	s := &subscriber{
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan model.Event),
	}

	b.mu.Lock()
	if b.closed {
		s.last = true
	} else {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()

	go s.pump()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.once.Do(func() { close(s.quit) })
	}
	return s.out, unsub
}

// Publish stamps e with the next sequence number and queues it for every
// subscriber.
func (b *broker) Publish(e model.Event) model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e.Seq = b.seq
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if b.closed {
		return e
	}
	for s := range b.subs {
		s.push(e)
	}
	return e
}

// Close lets subscribers drain what was queued, then closes their channels.
func (b *broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.finish()
	}
	clear(b.subs)
}

func (s *subscriber) push(e model.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) finish() {
	s.mu.Lock()
	s.last = true
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = model.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.out <- e:
			case <-s.quit:
				return
			}
			continue
		}
		last := s.last
		s.queue = nil
		s.mu.Unlock()
		if last {
			return
		}
		select {
		case <-s.notify:
		case <-s.quit:
			return
		}
	}
}
