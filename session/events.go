// Package session implements the VPN session lifecycle state machine.
// This file contains the event feed that fans state changes out to
// subscribers.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/ikesession/ikesessiond/common"
)

// Callback receives session state snapshots in publish order.
type Callback func(State)

// subscription is an observer handle. The live flag lets an in-flight
// fan-out skip a subscriber that removed itself moments ago.
type subscription struct {
	fn      Callback
	joinSeq uint64
	live    atomic.Bool
}

// feedEvent pairs a published state with its position in the publish
// sequence, so subscribers only see events published after they joined.
type feedEvent struct {
	seq   uint64
	state State
}

// Feed broadcasts session state changes to any number of subscribers.
//
// Publish never blocks and never runs callbacks itself; it appends to an
// internal queue consumed by a single dispatcher goroutine. Because one
// goroutine performs all deliveries in queue order, every subscriber
// observes transitions in the exact order they were published, with
// nothing skipped or coalesced. A panicking callback is recovered and
// logged so the remaining subscribers are still notified.
//
// Subscribing or unsubscribing from within a callback is safe: the feed
// holds no locks while callbacks run.
type Feed struct {
	mu      sync.Mutex
	subs    []*subscription
	queue   []feedEvent
	seq     uint64
	last    State
	hasLast bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewFeed creates a feed and starts its dispatcher.
func NewFeed() *Feed {
	f := &Feed{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

// Publish enqueues a state snapshot for delivery to all current
// subscribers. It is safe to call while holding unrelated locks.
func (f *Feed) Publish(state State) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.seq++
	f.last = state
	f.hasLast = true
	f.queue = append(f.queue, feedEvent{seq: f.seq, state: state})
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Current returns the most recently published state. The second return
// value is false until the first publish.
func (f *Feed) Current() (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}

// Subscribe registers a callback for future publishes and returns the
// function that removes it. Events published before Subscribe returns
// are not delivered to the new subscriber.
func (f *Feed) Subscribe(fn Callback) (unsubscribe func()) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return func() {}
	}
	s := &subscription{fn: fn, joinSeq: f.seq}
	s.live.Store(true)
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	return func() { f.remove(s) }
}

// Close stops the dispatcher after all queued events have been
// delivered. Publishes after Close are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.closed = true
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	<-f.done
}

func (f *Feed) remove(s *subscription) {
	s.live.Store(false)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.subs {
		if cur == s {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// run is the dispatcher loop. It drains the queue in order, delivering
// each event to the subscriber set as of delivery time.
func (f *Feed) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		queue := f.queue
		f.queue = nil
		closed := f.closed
		f.mu.Unlock()

		for _, ev := range queue {
			f.dispatch(ev)
		}

		if closed {
			return
		}
		if len(queue) == 0 {
			<-f.wake
		}
	}
}

func (f *Feed) dispatch(ev feedEvent) {
	f.mu.Lock()
	subs := make([]*subscription, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, s := range subs {
		if !s.live.Load() || s.joinSeq >= ev.seq {
			continue
		}
		f.deliver(s, ev.state)
	}
}

func (f *Feed) deliver(s *subscription, state State) {
	defer func() {
		if r := recover(); r != nil {
			common.LogError("session: subscriber callback panicked: %v", r)
		}
	}()
	s.fn(state)
}
