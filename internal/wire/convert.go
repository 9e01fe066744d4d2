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

// Package wire converts between the engine's native KeyValue/Event shapes
// and go.etcd.io/etcd/api/v3's mvccpb wire types, pooling the mvccpb
// allocations to keep a busy Range/Watch path's GC pressure down.
package wire

import (
	"sync"

	"go.etcd.io/etcd/api/v3/mvccpb"

	"kvreplica/internal/mvcc"
)

// KVPool is an object pool for mvccpb.KeyValue and mvccpb.Event
// conversions, reused across Range responses and watch deliveries.
type KVPool struct {
	kvPool    sync.Pool
	evPool    sync.Pool
	slicePool sync.Pool
}

var defaultPool = NewKVPool()

// NewKVPool creates a new conversion pool.
func NewKVPool() *KVPool {
	return &KVPool{
		kvPool: sync.Pool{New: func() interface{} { return &mvccpb.KeyValue{} }},
		evPool: sync.Pool{New: func() interface{} { return &mvccpb.Event{} }},
		slicePool: sync.Pool{New: func() interface{} {
			slice := make([]*mvccpb.KeyValue, 0, 100)
			return &slice
		}},
	}
}

// GetKV gets a zeroed mvccpb.KeyValue from the pool. Callers must call
// PutKV when done with it.
func (p *KVPool) GetKV() *mvccpb.KeyValue {
	kv := p.kvPool.Get().(*mvccpb.KeyValue)
	kv.Key, kv.Value = nil, nil
	kv.CreateRevision, kv.ModRevision, kv.Version, kv.Lease = 0, 0, 0, 0
	return kv
}

// PutKV returns kv to the pool. kv must not be used afterward.
func (p *KVPool) PutKV(kv *mvccpb.KeyValue) {
	if kv == nil {
		return
	}
	kv.Key, kv.Value = nil, nil
	p.kvPool.Put(kv)
}

// GetKVSlice gets a zero-length, nonzero-capacity []*mvccpb.KeyValue.
func (p *KVPool) GetKVSlice() []*mvccpb.KeyValue {
	slicePtr := p.slicePool.Get().(*[]*mvccpb.KeyValue)
	return (*slicePtr)[:0]
}

// PutKVSlice returns slice to the pool. The KeyValues it references are not
// themselves pooled; call PutKV on each first if they came from this pool.
func (p *KVPool) PutKVSlice(slice []*mvccpb.KeyValue) {
	if slice == nil {
		return
	}
	for i := range slice {
		slice[i] = nil
	}
	slice = slice[:0]
	p.slicePool.Put(&slice)
}

// ConvertKV converts an engine KeyValue to its wire form using a pooled
// allocation. The caller owns the result and must call PutKV when done.
func (p *KVPool) ConvertKV(kv *mvcc.KeyValue) *mvccpb.KeyValue {
	if kv == nil {
		return nil
	}
	out := p.GetKV()
	out.Key = kv.Key
	out.Value = kv.Value
	out.CreateRevision = kv.CreateRevision
	out.ModRevision = kv.ModRevision
	out.Version = kv.Version
	out.Lease = kv.Lease
	return out
}

// ConvertKVSlice converts a batch of engine KeyValues, as from a Range
// response, into wire form. The caller owns the result and must call
// PutKVSliceWithKVs when done.
func (p *KVPool) ConvertKVSlice(kvs []*mvcc.KeyValue) []*mvccpb.KeyValue {
	if len(kvs) == 0 {
		return nil
	}
	out := p.GetKVSlice()
	if cap(out) < len(kvs) {
		out = make([]*mvccpb.KeyValue, 0, len(kvs))
	}
	for _, kv := range kvs {
		if kv == nil {
			continue
		}
		out = append(out, p.ConvertKV(kv))
	}
	return out
}

// PutKVSliceWithKVs returns both a converted slice and every KeyValue it
// holds to the pool.
func (p *KVPool) PutKVSliceWithKVs(kvs []*mvccpb.KeyValue) {
	if kvs == nil {
		return
	}
	for _, kv := range kvs {
		p.PutKV(kv)
	}
	p.PutKVSlice(kvs)
}

// ConvertEvent converts an engine Event (from a watch delivery) into its
// wire form. The caller owns the result and its nested KeyValues.
func (p *KVPool) ConvertEvent(ev mvcc.Event) *mvccpb.Event {
	out := p.evPool.Get().(*mvccpb.Event)
	if ev.Type == mvcc.EventTypeDelete {
		out.Type = mvccpb.DELETE
	} else {
		out.Type = mvccpb.PUT
	}
	out.Kv = p.ConvertKV(ev.Kv)
	out.PrevKv = p.ConvertKV(ev.PrevKv)
	return out
}

// PutEvent returns a converted event, and the KeyValues it references, to
// the pool.
func (p *KVPool) PutEvent(ev *mvccpb.Event) {
	if ev == nil {
		return
	}
	p.PutKV(ev.Kv)
	p.PutKV(ev.PrevKv)
	ev.Kv, ev.PrevKv = nil, nil
	p.evPool.Put(ev)
}

// ConvertKV converts using the package default pool.
func ConvertKV(kv *mvcc.KeyValue) *mvccpb.KeyValue { return defaultPool.ConvertKV(kv) }

// ConvertKVSlice converts using the package default pool.
func ConvertKVSlice(kvs []*mvcc.KeyValue) []*mvccpb.KeyValue { return defaultPool.ConvertKVSlice(kvs) }

// ConvertEvent converts using the package default pool.
func ConvertEvent(ev mvcc.Event) *mvccpb.Event { return defaultPool.ConvertEvent(ev) }

// PutKV returns to the package default pool.
func PutKV(kv *mvccpb.KeyValue) { defaultPool.PutKV(kv) }

// PutKVSliceWithKVs returns to the package default pool.
func PutKVSliceWithKVs(kvs []*mvccpb.KeyValue) { defaultPool.PutKVSliceWithKVs(kvs) }

// PutEvent returns to the package default pool.
func PutEvent(ev *mvccpb.Event) { defaultPool.PutEvent(ev) }
