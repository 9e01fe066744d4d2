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

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kvreplica/internal/mvcc"
)

func newTestFanout() (*Fanout, *mvcc.RevisionIndex, *mvcc.VersionedStore) {
	idx := mvcc.NewRevisionIndex()
	store := mvcc.NewVersionedStore()
	return NewFanout(idx, store, 4, zap.NewNop(), nil), idx, store
}

func putEvent(key, value string) mvcc.Event {
	return mvcc.Event{Type: mvcc.EventTypePut, Kv: &mvcc.KeyValue{
		Key: []byte(key), Value: []byte(value), CreateRevision: 2, ModRevision: 2, Version: 1,
	}}
}

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	f, _, _ := newTestFanout()
	ctx := context.Background()

	sub := f.Watch(ctx, []byte("a"), nil, 0, 1)
	require.NoError(t, f.Publish(ctx, 2, []mvcc.Event{putEvent("a", "1")}))

	select {
	case msg := <-sub.C:
		assert.Equal(t, int64(2), msg.Revision)
		require.Len(t, msg.Events, 1)
		assert.Equal(t, "1", string(msg.Events[0].Kv.Value))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishSkipsNonMatchingSubscriber(t *testing.T) {
	f, _, _ := newTestFanout()
	ctx := context.Background()

	sub := f.Watch(ctx, []byte("b"), nil, 0, 1)
	require.NoError(t, f.Publish(ctx, 2, []mvcc.Event{putEvent("a", "1")}))

	select {
	case msg := <-sub.C:
		t.Fatalf("unexpected delivery: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchRangeMatchesHalfOpenInterval(t *testing.T) {
	f, _, _ := newTestFanout()
	ctx := context.Background()

	sub := f.Watch(ctx, []byte("a"), []byte("c"), 0, 4)
	require.NoError(t, f.Publish(ctx, 2, []mvcc.Event{putEvent("a", "1"), putEvent("c", "x"), putEvent("b", "2")}))

	select {
	case msg := <-sub.C:
		require.Len(t, msg.Events, 2)
		assert.Equal(t, "a", string(msg.Events[0].Kv.Key))
		assert.Equal(t, "b", string(msg.Events[1].Kv.Key))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestWatchAllKeysSentinelMatchesEverything(t *testing.T) {
	f, _, _ := newTestFanout()
	ctx := context.Background()

	sub := f.Watch(ctx, []byte{0}, []byte{0}, 0, 4)
	require.NoError(t, f.Publish(ctx, 2, []mvcc.Event{putEvent("a", "1"), putEvent("zzz", "2")}))

	select {
	case msg := <-sub.C:
		assert.Len(t, msg.Events, 2)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestWatchReplaysHistoryFromPastRevision(t *testing.T) {
	f, idx, store := newTestFanout()

	entryA := idx.InsertOrUpdate([]byte("a"), 2, 0)
	store.Insert(entryA.Coord, &mvcc.KeyValue{Key: []byte("a"), Value: []byte("1"), CreateRevision: 2, ModRevision: 2, Version: 1})

	entryB := idx.InsertOrUpdate([]byte("b"), 3, 0)
	store.Insert(entryB.Coord, &mvcc.KeyValue{Key: []byte("b"), Value: []byte("2"), CreateRevision: 3, ModRevision: 3, Version: 1})

	sub := f.Watch(context.Background(), []byte{0}, []byte{0}, 2, 8)

	var got []Message
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.C:
			got = append(got, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replay message %d", i)
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Revision)
	assert.Equal(t, "a", string(got[0].Events[0].Kv.Key))
	assert.Equal(t, int64(3), got[1].Revision)
	assert.Equal(t, "b", string(got[1].Events[0].Kv.Key))
}

func TestWatchReplayGroupsEventsFromSameRevisionAcrossKeys(t *testing.T) {
	f, idx, store := newTestFanout()

	entryA := idx.InsertOrUpdate([]byte("a"), 2, 0)
	store.Insert(entryA.Coord, &mvcc.KeyValue{Key: []byte("a"), Value: []byte("1"), CreateRevision: 2, ModRevision: 2, Version: 1})
	entryB := idx.InsertOrUpdate([]byte("b"), 2, 1)
	store.Insert(entryB.Coord, &mvcc.KeyValue{Key: []byte("b"), Value: []byte("2"), CreateRevision: 2, ModRevision: 2, Version: 1})

	sub := f.Watch(context.Background(), []byte{0}, []byte{0}, 2, 8)

	select {
	case msg := <-sub.C:
		assert.Equal(t, int64(2), msg.Revision)
		require.Len(t, msg.Events, 2)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replay message")
	}
}

func TestCancelUnblocksDispatcherStuckOnSlowSubscriber(t *testing.T) {
	f, _, _ := newTestFanout()
	ctx := context.Background()

	sub := f.Watch(ctx, []byte{0}, []byte{0}, 0, 0)

	publishErr := make(chan error, 1)
	go func() {
		publishErr <- f.Publish(ctx, 2, []mvcc.Event{putEvent("a", "1")})
	}()

	time.Sleep(50 * time.Millisecond)
	sub.Cancel()

	select {
	case err := <-publishErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Publish did not return after Cancel unblocked the stuck subscriber")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f, _, _ := newTestFanout()
	sub := f.Watch(context.Background(), []byte("a"), nil, 0, 1)
	sub.Cancel()
	assert.NotPanics(t, func() { sub.Cancel() })
}
