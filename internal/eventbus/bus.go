// Package eventbus routes loop lifecycle notifications (new loops found,
// loops invalidated) from a tenant's MutationPipeline out to subscribers
// (the in-process API's discover callers, or an external push
// transport).
//
// Unlike a typical fire-and-forget channel fan-out, delivery here is
// at-least-once within a bounded replay window: a subscriber whose
// channel is momentarily full does not silently lose the event. It
// falls into that subscriber's own small ring buffer, and the
// subscriber can call Replay to catch up from the last sequence number
// it actually processed. Outside the replay window a slow subscriber
// can still fall behind permanently; the bus only promises bounded
// at-least-once, not unbounded.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outblock/swaps-core/internal/types"
)

// Kind discriminates the two notification shapes a tenant's pipeline
// emits.
type Kind string

const (
	KindNewLoop      Kind = "new_loop"
	KindInvalidation Kind = "invalidation"
)

// Event is one lifecycle notification. Seq is assigned by the Bus and
// is strictly increasing, letting a subscriber ask for everything after
// the last one it saw.
type Event struct {
	Seq       uint64
	Kind      Kind
	Timestamp time.Time

	Loop           *types.TradeLoop // set when Kind == KindNewLoop
	InvalidatedIDs []string         // set when Kind == KindInvalidation
}

// DefaultReplayDepth is how many recent events a subscription keeps
// available for Replay once its live channel is full.
const DefaultReplayDepth = 256

type subscription struct {
	id  string
	ch  chan Event
	mu  sync.Mutex
	buf []Event // ring buffer, oldest first, capped at cap
	cap int
}

func (s *subscription) record(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, evt)
	if len(s.buf) > s.cap {
		s.buf = s.buf[len(s.buf)-s.cap:]
	}
}

func (s *subscription) replaySince(seq uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.buf {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Bus is an in-process event bus. One Bus instance belongs to exactly
// one tenant, matching that tenant's MutationPipeline.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string]*subscription
	nextSeq     uint64
	replayDepth int
	closed      bool
}

// New creates a Bus ready for use. replayDepth <= 0 uses
// DefaultReplayDepth.
func New(replayDepth int) *Bus {
	if replayDepth <= 0 {
		replayDepth = DefaultReplayDepth
	}
	return &Bus{
		subs:        make(map[string]*subscription),
		replayDepth: replayDepth,
	}
}

// Subscription is a handle a caller holds to receive and replay events.
// Its ID is opaque and unique across the process, so boundary layers can
// hand it to external subscribers and route unsubscribes by it.
type Subscription struct {
	bus *Bus
	id  string
	Ch  <-chan Event
}

// ID returns the subscription's opaque handle.
func (sub *Subscription) ID() string { return sub.id }

// Subscribe registers a new subscriber with the given channel buffer
// size. The returned Subscription's Ch delivers events live; if it's
// ever full when Publish fires, the event is preserved in the
// subscription's own replay buffer instead of being dropped.
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	sub := &subscription{id: id, ch: make(chan Event, bufferSize), cap: b.replayDepth}
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, Ch: sub.ch}
}

// Unsubscribe removes a subscription. Its channel is not closed; the
// caller owns draining it.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id)
}

// Replay returns every event with Seq greater than sinceSeq still held
// in this subscription's replay buffer.
func (sub *Subscription) Replay(sinceSeq uint64) []Event {
	sub.bus.mu.RLock()
	s, ok := sub.bus.subs[sub.id]
	sub.bus.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.replaySince(sinceSeq)
}

// PublishNewLoop notifies subscribers of a newly discovered loop.
func (b *Bus) PublishNewLoop(loop *types.TradeLoop, ts time.Time) {
	b.publish(Event{Kind: KindNewLoop, Loop: loop, Timestamp: ts})
}

// PublishInvalidation notifies subscribers that the given canonical
// loop ids are no longer active.
func (b *Bus) PublishInvalidation(ids []string, ts time.Time) {
	if len(ids) == 0 {
		return
	}
	b.publish(Event{Kind: KindInvalidation, InvalidatedIDs: ids, Timestamp: ts})
}

func (b *Bus) publish(evt Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.nextSeq++
	evt.Seq = b.nextSeq
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			s.record(evt)
		}
	}
}

// Close marks the bus closed; Publish becomes a no-op. Subscriber
// channels are left open for the caller to drain and close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
