// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watch fans committed events out to subscribers, replaying history
// for subscribers that join at a past revision.
package watch

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"kvreplica/internal/metrics"
	"kvreplica/internal/mvcc"
	"kvreplica/pkg/reliability"
)

// Message is one revision's worth of events delivered to a subscriber.
// Events from the same commit are always delivered together.
type Message struct {
	Revision int64
	Events   []mvcc.Event
}

// allKeys is the wire convention for "every key", reused from the index
// package's range semantics: a single 0x00 byte on both ends.
var allKeys = []byte{0}

type subscription struct {
	id         int64
	key        []byte
	rangeEnd   []byte
	ch         chan Message
	cancel     chan struct{}
	cancelOnce sync.Once
	metrics    *metrics.Metrics
}

// close closes the cancel channel exactly once. Calling it directly, rather
// than routing through the dispatcher goroutine, is what lets Cancel
// unblock a deliver the dispatcher is currently stuck inside: the
// dispatcher itself cannot service unsubCh while blocked in dispatch. It
// reports whether this call was the one that closed it.
func (s *subscription) close() bool {
	closed := false
	s.cancelOnce.Do(func() {
		close(s.cancel)
		closed = true
	})
	return closed
}

func (s *subscription) isCancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

func (s *subscription) matches(key []byte) bool {
	if len(s.rangeEnd) == 0 {
		return bytes.Equal(s.key, key)
	}
	if bytes.Equal(s.key, allKeys) && bytes.Equal(s.rangeEnd, allKeys) {
		return true
	}
	return bytes.Compare(key, s.key) >= 0 && bytes.Compare(key, s.rangeEnd) < 0
}

// deliver sends msg to the subscriber, blocking until it is received, the
// subscription is cancelled, or ctx is done. A blocked deliver here is what
// propagates a slow subscriber's backpressure all the way back to the
// dispatcher goroutine, and from there to Engine.Commit's call to Publish.
// When metrics are enabled, a non-blocking trial send first hands msg over
// if the subscriber has room; only if it does not is the delivery counted
// as backpressured and retried on the blocking select below. Either way msg
// is sent at most once.
func (s *subscription) deliver(ctx context.Context, msg Message) error {
	if s.metrics != nil {
		select {
		case s.ch <- msg:
			return nil
		default:
			s.metrics.WatchBackpressure.Inc()
		}
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.cancel:
		return errCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

type publishJob struct {
	ctx      context.Context
	revision int64
	events   []mvcc.Event
	done     chan error
}

// Fanout is the EventPublisher the commit path drives: it accepts one
// (revision, events) batch at a time through a single dispatcher goroutine,
// preserving revision order and making commit-time backpressure visible to
// every caller of Publish.
type Fanout struct {
	index   *mvcc.RevisionIndex
	store   *mvcc.VersionedStore
	log     *zap.Logger
	metrics *metrics.Metrics

	publishCh chan publishJob
	subCh     chan *subscription
	unsubCh   chan int64
	done      chan struct{}

	mu     sync.Mutex
	subs   map[int64]*subscription
	nextID int64
}

// NewFanout creates a Fanout with the given inbound publish queue capacity
// and starts its dispatcher goroutine. index and store are consulted only
// for historical replay of watches that subscribe at a past revision. m may
// be nil, in which case the fanout runs without recording metrics.
func NewFanout(index *mvcc.RevisionIndex, store *mvcc.VersionedStore, publishQueueCap int, log *zap.Logger, m *metrics.Metrics) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fanout{
		index:     index,
		store:     store,
		log:       log,
		metrics:   m,
		publishCh: make(chan publishJob, publishQueueCap),
		subCh:     make(chan *subscription),
		unsubCh:   make(chan int64),
		done:      make(chan struct{}),
		subs:      make(map[int64]*subscription),
	}
	go f.run()
	return f
}

// run is the fanout's single dispatcher goroutine. A panic here would leave
// every blocked Publish call and every subscriber waiting forever on a
// goroutine that no longer exists, so it fails stop rather than trying to
// recover into a possibly half-updated subs map.
func (f *Fanout) run() {
	defer reliability.RecoverFailStop(f.log, "watch.fanout")
	defer close(f.done)
	for {
		select {
		case job, ok := <-f.publishCh:
			if !ok {
				return
			}
			if f.metrics != nil {
				f.metrics.WatchQueueDepth.Set(float64(len(f.publishCh)))
			}
			job.done <- f.dispatch(job.ctx, job.revision, job.events)
		case sub := <-f.subCh:
			f.subs[sub.id] = sub
		case id := <-f.unsubCh:
			delete(f.subs, id)
		}
	}
}

func (f *Fanout) dispatch(ctx context.Context, revision int64, events []mvcc.Event) error {
	for id, sub := range f.subs {
		if sub.isCancelled() {
			delete(f.subs, id)
			continue
		}
		var matched []mvcc.Event
		for _, ev := range events {
			if sub.matches(ev.Kv.Key) {
				matched = append(matched, ev)
			}
		}
		if len(matched) == 0 {
			continue
		}
		err := sub.deliver(ctx, Message{Revision: revision, Events: matched})
		if err == errCancelled {
			delete(f.subs, id)
			continue
		}
		if err != nil {
			return err
		}
		if f.metrics != nil {
			for _, ev := range matched {
				f.metrics.WatchEventsTotal.WithLabelValues(eventTypeLabel(ev.Type)).Inc()
			}
		}
	}
	return nil
}

func eventTypeLabel(t mvcc.EventType) string {
	switch t {
	case mvcc.EventTypePut:
		return "put"
	case mvcc.EventTypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Publish is the EventPublisher method Engine.Commit calls. It blocks until
// every current subscriber has received its matching slice of events (or
// been cancelled), or ctx is done.
func (f *Fanout) Publish(ctx context.Context, revision int64, events []mvcc.Event) error {
	job := publishJob{ctx: ctx, revision: revision, events: events, done: make(chan error, 1)}
	select {
	case f.publishCh <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscription is the caller-facing handle returned by Watch.
type Subscription struct {
	ID  int64
	C   <-chan Message
	f   *Fanout
	sub *subscription
}

// Cancel stops delivery to this subscription and releases its resources. It
// is safe to call more than once, and safe to call while the dispatcher is
// blocked delivering to this same subscription.
func (s *Subscription) Cancel() {
	s.f.cancel(s.sub)
}

var errCancelled = &cancelledError{}

type cancelledError struct{}

func (*cancelledError) Error() string { return "watch: subscription cancelled" }

// Watch registers interest in [key, rangeEnd). If startRevision is positive,
// every recorded event at or after startRevision is replayed on the returned channel, in revision order, before
// any newly published event; replay runs synchronously on the caller's
// goroutine, ahead of registering the live subscription, so nothing is
// missed or duplicated at the boundary.
func (f *Fanout) Watch(ctx context.Context, key, rangeEnd []byte, startRevision int64, bufferSize int) *Subscription {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	sub := &subscription{
		id:       id,
		key:      append([]byte(nil), key...),
		rangeEnd: append([]byte(nil), rangeEnd...),
		ch:       make(chan Message, bufferSize),
		cancel:   make(chan struct{}),
		metrics:  f.metrics,
	}

	if startRevision > 0 {
		for _, msg := range f.replay(key, rangeEnd, startRevision) {
			select {
			case sub.ch <- msg:
			case <-ctx.Done():
				return &Subscription{ID: id, C: sub.ch, f: f, sub: sub}
			}
		}
	}

	select {
	case f.subCh <- sub:
		if f.metrics != nil {
			f.metrics.ActiveWatches.Inc()
			f.metrics.WatchCreatedTotal.Inc()
		}
	case <-f.done:
	}
	return &Subscription{ID: id, C: sub.ch, f: f, sub: sub}
}

// replay gathers every index entry in [key, rangeEnd) with main >=
// sinceRevision, sorts it into global (main, sub) order across all matching
// keys, and groups it into one Message per distinct revision, so a replayed
// watcher sees the same per-commit batching a live subscriber would have.
func (f *Fanout) replay(key, rangeEnd []byte, sinceRevision int64) []Message {
	coords := f.index.GetFromRev(key, rangeEnd, sinceRevision)
	if len(coords) == 0 {
		return nil
	}
	sort.Slice(coords, func(i, j int) bool { return coords[i].LessThan(coords[j]) })

	kvs := f.store.GetValues(coords)
	if len(kvs) != len(coords) {
		mvcc.PanicInvariant("watch fanout: versioned store missing an entry the index referenced")
	}

	var messages []Message
	for i, kv := range kvs {
		ev := eventFor(kv)
		if len(messages) > 0 && messages[len(messages)-1].Revision == coords[i].Main {
			last := &messages[len(messages)-1]
			last.Events = append(last.Events, ev)
			continue
		}
		messages = append(messages, Message{Revision: coords[i].Main, Events: []mvcc.Event{ev}})
	}
	return messages
}

func eventFor(kv *mvcc.KeyValue) mvcc.Event {
	if kv.IsTombstone() {
		return mvcc.Event{Type: mvcc.EventTypeDelete, Kv: kv}
	}
	return mvcc.Event{Type: mvcc.EventTypePut, Kv: kv}
}

// cancel closes sub's cancel channel directly so a deliver the dispatcher
// is currently blocked inside unblocks immediately, then best-effort nudges
// the dispatcher to drop the map entry without waiting for it: dispatch
// also self-cleans any cancelled subscription it encounters on its next
// publish, so a missed nudge only delays cleanup, it never leaks delivery.
func (f *Fanout) cancel(sub *subscription) {
	if sub.close() && f.metrics != nil {
		f.metrics.ActiveWatches.Dec()
		f.metrics.WatchCanceledTotal.Inc()
	}
	select {
	case f.unsubCh <- sub.id:
	default:
	}
}

// Stop closes the publish queue and waits for the dispatcher to exit. Live
// subscriber channels are left open but will never receive another message;
// callers are expected to Cancel their own subscriptions first.
func (f *Fanout) Stop() {
	close(f.publishCh)
	<-f.done
}
