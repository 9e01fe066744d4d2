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

package engine

import (
	"bytes"
	"context"
	"sort"

	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.uber.org/zap"

	"kvreplica/internal/mvcc"
)

// EventPublisher is the WatchFanout collaborator: it accepts a commit's
// events and is responsible for per-subscriber delivery and backpressure.
// Publish may block; the engine's commit path awaits it by design (the
// single suspension point aside from replying to the caller).
type EventPublisher interface {
	Publish(ctx context.Context, revision int64, events []mvcc.Event) error
}

// Engine is the KvEngine: it orchestrates speculative execution, compare
// evaluation, transaction composition and commit-time synchronization. It
// is not safe for concurrent use by multiple goroutines on its own; callers
// are expected to serialize Execute/Commit through a single driver, as
// Driver does.
type Engine struct {
	index  *mvcc.RevisionIndex
	store  *mvcc.VersionedStore
	header *mvcc.HeaderSource
	pool   *SpeculativePool
	watch  EventPublisher
	log    *zap.Logger
}

// New creates an Engine over the given collaborators. watch may be nil, in
// which case commits never attempt to publish events (useful for tests that
// only care about storage state).
func New(index *mvcc.RevisionIndex, store *mvcc.VersionedStore, header *mvcc.HeaderSource, watch EventPublisher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		index:  index,
		store:  store,
		header: header,
		pool:   NewSpeculativePool(),
		watch:  watch,
		log:    log,
	}
}

// Execute speculatively computes req's response without mutating the index
// or the revision counter, buffering any mutation into the speculative pool
// under id.
func (e *Engine) Execute(ctx context.Context, id ProposalID, req Request) (Response, error) {
	return e.dispatch(ctx, id, req, true)
}

func (e *Engine) dispatch(ctx context.Context, id ProposalID, req Request, topLevel bool) (Response, error) {
	switch req.Kind {
	case RequestRange:
		return e.executeRange(id, req.Range)
	case RequestPut:
		return e.executePut(id, req.Put)
	case RequestDeleteRange:
		return e.executeDeleteRange(id, req.DeleteRange)
	case RequestTxn:
		if !topLevel {
			return Response{}, mvcc.NewInvalidCommandError("nested transactions are not supported")
		}
		return e.executeTxn(ctx, id, req.Txn)
	default:
		return Response{}, mvcc.NewInvalidCommandError("unrecognized request kind")
	}
}

func (e *Engine) executeRange(id ProposalID, r *RangeRequest) (Response, error) {
	coords := e.index.Get(r.Key, r.RangeEnd, r.Revision)
	kvs := e.store.GetValues(coords)

	resp := &RangeResponse{Header: e.header.Header(), Count: int64(len(kvs))}
	if !r.CountOnly {
		sortKeyValues(kvs, r.SortTarget, r.SortOrder)
		if r.Limit > 0 && int64(len(kvs)) > r.Limit {
			kvs = kvs[:r.Limit]
			resp.More = true
		}
		resp.Kvs = cloneKeyValues(kvs)
	}

	e.pool.Append(id, Request{Kind: RequestRange, Range: r})
	return Response{Kind: RequestRange, Range: resp}, nil
}

// sortKeyValues implements the sort matrix: None on a non-Key target
// behaves as Ascend, matching the behavior this engine inherited.
func sortKeyValues(kvs []*mvcc.KeyValue, target etcdserverpb.RangeRequest_SortTarget, order etcdserverpb.RangeRequest_SortOrder) {
	if target == etcdserverpb.RangeRequest_KEY && order != etcdserverpb.RangeRequest_DESCEND {
		return // already key-ascending from RevisionIndex.Get
	}

	var less func(i, j int) bool
	switch target {
	case etcdserverpb.RangeRequest_KEY:
		less = func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 }
	case etcdserverpb.RangeRequest_VERSION:
		less = func(i, j int) bool { return kvs[i].Version < kvs[j].Version }
	case etcdserverpb.RangeRequest_CREATE:
		less = func(i, j int) bool { return kvs[i].CreateRevision < kvs[j].CreateRevision }
	case etcdserverpb.RangeRequest_MOD:
		less = func(i, j int) bool { return kvs[i].ModRevision < kvs[j].ModRevision }
	case etcdserverpb.RangeRequest_VALUE:
		less = func(i, j int) bool { return bytes.Compare(kvs[i].Value, kvs[j].Value) < 0 }
	default:
		return
	}

	descend := order == etcdserverpb.RangeRequest_DESCEND
	sort.SliceStable(kvs, func(i, j int) bool {
		if descend {
			return less(j, i)
		}
		return less(i, j)
	})
}

func (e *Engine) latestOne(key []byte) *mvcc.KeyValue {
	kvs := e.store.GetValues(e.index.Get(key, nil, 0))
	if len(kvs) == 0 {
		return nil
	}
	return kvs[0]
}

func (e *Engine) executePut(id ProposalID, r *PutRequest) (Response, error) {
	prev := e.latestOne(r.Key)
	if prev == nil && (r.IgnoreLease || r.IgnoreValue) {
		return Response{}, mvcc.NewInvalidCommandError("put: ignore_lease/ignore_value requires a prior value")
	}

	e.pool.Append(id, Request{Kind: RequestPut, Put: r})

	resp := &PutResponse{Header: e.header.Header()}
	if r.PrevKv {
		resp.PrevKv = prev.Clone()
	}
	return Response{Kind: RequestPut, Put: resp}, nil
}

func (e *Engine) executeDeleteRange(id ProposalID, r *DeleteRangeRequest) (Response, error) {
	prevKvs := e.store.GetValues(e.index.Get(r.Key, r.RangeEnd, 0))

	e.pool.Append(id, Request{Kind: RequestDeleteRange, DeleteRange: r})

	resp := &DeleteRangeResponse{Header: e.header.Header(), Deleted: int64(len(prevKvs))}
	if r.PrevKv {
		resp.PrevKvs = cloneKeyValues(prevKvs)
	}
	return Response{Kind: RequestDeleteRange, DeleteRange: resp}, nil
}

// cloneKeyValues deep-copies each entry so a response handed back across the
// engine boundary can't alias VersionedStore's own backing arrays.
func cloneKeyValues(kvs []*mvcc.KeyValue) []*mvcc.KeyValue {
	cloned := make([]*mvcc.KeyValue, len(kvs))
	for i, kv := range kvs {
		cloned[i] = kv.Clone()
	}
	return cloned
}

func (e *Engine) executeTxn(ctx context.Context, id ProposalID, r *TxnRequest) (Response, error) {
	e.pool.Init(id)

	succeeded := true
	for _, c := range r.Compare {
		if !e.checkCompare(c) {
			succeeded = false
			break
		}
	}

	branch := r.Failure
	if succeeded {
		branch = r.Success
	}

	responses := make([]Response, 0, len(branch))
	for _, nested := range branch {
		resp, err := e.dispatch(ctx, id, nested, false)
		if err != nil {
			return Response{}, err
		}
		responses = append(responses, resp)
	}

	return Response{Kind: RequestTxn, Txn: &TxnResponse{
		Header:    e.header.Header(),
		Succeeded: succeeded,
		Responses: responses,
	}}, nil
}

// checkCompare evaluates one Compare predicate as a universal quantifier
// over every kv currently in [c.Key, c.RangeEnd). An empty range synthesizes
// a default KeyValue and evaluates against it, except for a Value target,
// which is false on an empty range (there is no value to compare).
func (e *Engine) checkCompare(c Compare) bool {
	kvs := e.store.GetValues(e.index.Get(c.Key, c.RangeEnd, 0))
	if len(kvs) == 0 {
		if c.Target == etcdserverpb.Compare_VALUE {
			return false
		}
		return compareKV(c, &mvcc.KeyValue{})
	}
	for _, kv := range kvs {
		if !compareKV(c, kv) {
			return false
		}
	}
	return true
}

func compareKV(c Compare, kv *mvcc.KeyValue) bool {
	var result int
	switch c.Target {
	case etcdserverpb.Compare_VERSION:
		result = compareInt64(kv.Version, c.Version)
	case etcdserverpb.Compare_CREATE:
		result = compareInt64(kv.CreateRevision, c.CreateRevision)
	case etcdserverpb.Compare_MOD:
		result = compareInt64(kv.ModRevision, c.ModRevision)
	case etcdserverpb.Compare_VALUE:
		result = bytes.Compare(kv.Value, c.Value)
	case etcdserverpb.Compare_LEASE:
		// Compares mod_revision, not kv.Lease. This reproduces a bug in the
		// system this engine was modeled on rather than etcd's documented
		// lease-comparison semantics; a correct implementation would use
		// kv.Lease here. Left in place deliberately, not fixed.
		result = compareInt64(kv.ModRevision, c.Lease)
	default:
		return false
	}

	switch c.Result {
	case etcdserverpb.Compare_EQUAL:
		return result == 0
	case etcdserverpb.Compare_GREATER:
		return result > 0
	case etcdserverpb.Compare_LESS:
		return result < 0
	case etcdserverpb.Compare_NOT_EQUAL:
		return result != 0
	default:
		return false
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Commit drains id's buffered requests, applies them in order, advances the
// revision counter iff at least one request produced events, and publishes
// those events. It returns the resulting revision, unchanged if nothing
// applied.
func (e *Engine) Commit(ctx context.Context, id ProposalID) (int64, error) {
	requests := e.pool.Take(id)

	current := e.header.Revision()
	next := current + 1
	sub := int64(0)
	var allEvents []mvcc.Event

	for _, req := range requests {
		events, err := e.syncRequest(req, next, sub)
		if err != nil {
			e.log.Debug("commit: request rejected as no-op", zap.Error(err))
			continue
		}
		if len(events) == 0 {
			continue
		}
		allEvents = append(allEvents, events...)
		sub += int64(len(events))
	}

	if len(allEvents) == 0 {
		return current, nil
	}

	e.header.SetRevision(next)
	e.log.Debug("commit: advanced revision", zap.Int64("revision", next), zap.Int("events", len(allEvents)))

	if e.watch != nil {
		if err := e.watch.Publish(ctx, next, allEvents); err != nil {
			e.log.Error("commit: event publish failed", zap.Error(err), zap.Int64("revision", next))
		}
	}

	return next, nil
}

func (e *Engine) syncRequest(req Request, revision, subStart int64) ([]mvcc.Event, error) {
	switch req.Kind {
	case RequestRange:
		return nil, nil
	case RequestPut:
		return e.syncPut(req.Put, revision, subStart)
	case RequestDeleteRange:
		return e.syncDeleteRange(req.DeleteRange, revision, subStart)
	case RequestTxn:
		// A TxnRequest never itself enters the speculative pool: Execute
		// decomposes it into its branch's leaf requests under the same
		// proposal id. Reaching this means that invariant broke.
		mvcc.PanicInvariant("kv engine: a transaction request reached sync directly")
		return nil, nil
	default:
		return nil, mvcc.NewInvalidCommandError("unrecognized request kind")
	}
}

func (e *Engine) syncPut(r *PutRequest, revision, sub int64) ([]mvcc.Event, error) {
	prev := e.latestOne(r.Key)
	if prev == nil && (r.IgnoreLease || r.IgnoreValue) {
		return nil, nil
	}

	entry := e.index.InsertOrUpdate(r.Key, revision, sub)
	kv := &mvcc.KeyValue{
		Key:            append([]byte(nil), r.Key...),
		Value:          r.Value,
		CreateRevision: entry.CreateRevision,
		ModRevision:    entry.Coord.Main,
		Version:        entry.Version,
		Lease:          r.Lease,
	}
	if r.IgnoreLease && prev != nil {
		kv.Lease = prev.Lease
	}
	if r.IgnoreValue && prev != nil {
		kv.Value = prev.Value
	}
	e.store.Insert(entry.Coord, kv)

	return []mvcc.Event{{Type: mvcc.EventTypePut, Kv: kv, PrevKv: prev}}, nil
}

func (e *Engine) syncDeleteRange(r *DeleteRangeRequest, revision, subStart int64) ([]mvcc.Event, error) {
	liveCoords := e.index.Get(r.Key, r.RangeEnd, 0)
	if len(liveCoords) == 0 {
		return nil, nil
	}
	prevKvs := e.store.MarkDeletions(liveCoords)
	tombCoords := e.index.Delete(r.Key, r.RangeEnd, revision, subStart)

	events := make([]mvcc.Event, 0, len(tombCoords))
	for i, coord := range tombCoords {
		var prev *mvcc.KeyValue
		key := r.Key
		if i < len(prevKvs) {
			prev = prevKvs[i]
			key = prev.Key
		}
		tomb := &mvcc.KeyValue{Key: append([]byte(nil), key...), ModRevision: coord.Main}
		e.store.Insert(coord, tomb)
		events = append(events, mvcc.Event{Type: mvcc.EventTypeDelete, Kv: tomb, PrevKv: prev})
	}
	return events, nil
}
