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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.uber.org/zap"

	"kvreplica/internal/mvcc"
)

func newTestEngine() (*Engine, *mvcc.HeaderSource) {
	idx := mvcc.NewRevisionIndex()
	store := mvcc.NewVersionedStore()
	header := mvcc.NewHeaderSource(1, 1, 1)
	return New(idx, store, header, nil, zap.NewNop()), header
}

func mustPut(t *testing.T, e *Engine, id ProposalID, key, value string) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := e.Execute(ctx, id, Request{Kind: RequestPut, Put: &PutRequest{Key: []byte(key), Value: []byte(value)}})
	require.NoError(t, err)
	rev, err := e.Commit(ctx, id)
	require.NoError(t, err)
	return rev
}

func mustRange(t *testing.T, e *Engine, id ProposalID, key, end string) *RangeResponse {
	t.Helper()
	ctx := context.Background()
	resp, err := e.Execute(ctx, id, Request{Kind: RequestRange, Range: &RangeRequest{Key: []byte(key), RangeEnd: []byte(end)}})
	require.NoError(t, err)
	_, err = e.Commit(ctx, id)
	require.NoError(t, err)
	return resp.Range
}

func TestScenarioCreateThenRead(t *testing.T) {
	e, header := newTestEngine()

	rev := mustPut(t, e, "p1", "a", "1")
	assert.Equal(t, int64(2), rev)
	assert.Equal(t, int64(2), header.Revision())

	resp := mustRange(t, e, "p2", "a", "")
	require.Len(t, resp.Kvs, 1)
	kv := resp.Kvs[0]
	assert.Equal(t, "1", string(kv.Value))
	assert.Equal(t, int64(1), kv.Version)
	assert.Equal(t, int64(2), kv.CreateRevision)
	assert.Equal(t, int64(2), kv.ModRevision)
}

func TestScenarioOverwrite(t *testing.T) {
	e, _ := newTestEngine()
	mustPut(t, e, "p1", "a", "1")

	rev := mustPut(t, e, "p2", "a", "2")
	assert.Equal(t, int64(3), rev)

	resp := mustRange(t, e, "p3", "a", "")
	require.Len(t, resp.Kvs, 1)
	assert.Equal(t, int64(2), resp.Kvs[0].Version)
	assert.Equal(t, int64(2), resp.Kvs[0].CreateRevision)
	assert.Equal(t, int64(3), resp.Kvs[0].ModRevision)
}

func TestScenarioDeleteThenRecreate(t *testing.T) {
	e, _ := newTestEngine()
	mustPut(t, e, "p1", "a", "1")
	mustPut(t, e, "p2", "a", "2")

	ctx := context.Background()
	_, err := e.Execute(ctx, "p3", Request{Kind: RequestDeleteRange, DeleteRange: &DeleteRangeRequest{Key: []byte("a")}})
	require.NoError(t, err)
	rev, err := e.Commit(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev)

	resp := mustRange(t, e, "p4", "a", "")
	assert.Empty(t, resp.Kvs)

	rev = mustPut(t, e, "p5", "a", "3")
	assert.Equal(t, int64(5), rev)

	resp = mustRange(t, e, "p6", "a", "")
	require.Len(t, resp.Kvs, 1)
	assert.Equal(t, int64(1), resp.Kvs[0].Version)
	assert.Equal(t, int64(5), resp.Kvs[0].CreateRevision)
	assert.Equal(t, int64(5), resp.Kvs[0].ModRevision)
}

func TestScenarioRangeDeleteOfTwoKeys(t *testing.T) {
	e, header := newTestEngine()
	mustPut(t, e, "p1", "a", "1")
	mustPut(t, e, "p2", "b", "2")
	require.Equal(t, int64(3), header.Revision())

	ctx := context.Background()
	_, err := e.Execute(ctx, "p3", Request{Kind: RequestDeleteRange, DeleteRange: &DeleteRangeRequest{
		Key: []byte("a"), RangeEnd: []byte("c"), PrevKv: true,
	}})
	require.NoError(t, err)
	rev, err := e.Commit(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev)

	resp := mustRange(t, e, "p4", "a", "c")
	assert.Empty(t, resp.Kvs)
}

func TestScenarioTxnSuccessBranch(t *testing.T) {
	e, _ := newTestEngine()
	mustPut(t, e, "p1", "a", "1")

	ctx := context.Background()
	txn := &TxnRequest{
		Compare: []Compare{{
			Target:  etcdserverpb.Compare_VERSION,
			Result:  etcdserverpb.Compare_EQUAL,
			Key:     []byte("a"),
			Version: 1,
		}},
		Success: []Request{{Kind: RequestPut, Put: &PutRequest{Key: []byte("a"), Value: []byte("x")}}},
		Failure: []Request{{Kind: RequestPut, Put: &PutRequest{Key: []byte("a"), Value: []byte("y")}}},
	}

	resp, err := e.Execute(ctx, "p2", Request{Kind: RequestTxn, Txn: txn})
	require.NoError(t, err)
	assert.True(t, resp.Txn.Succeeded)

	rev, err := e.Commit(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)

	result := mustRange(t, e, "p3", "a", "")
	require.Len(t, result.Kvs, 1)
	assert.Equal(t, "x", string(result.Kvs[0].Value))
}

func TestScenarioTxnOnEmptyRangeWithValueCompare(t *testing.T) {
	e, _ := newTestEngine()

	ctx := context.Background()
	txn := &TxnRequest{
		Compare: []Compare{{
			Target:   etcdserverpb.Compare_VALUE,
			Result:   etcdserverpb.Compare_EQUAL,
			Key:      []byte("z"),
			RangeEnd: []byte("z\x00"),
			Value:    []byte("anything"),
		}},
		Success: []Request{{Kind: RequestPut, Put: &PutRequest{Key: []byte("z"), Value: []byte("success")}}},
		Failure: []Request{{Kind: RequestPut, Put: &PutRequest{Key: []byte("z"), Value: []byte("failure")}}},
	}

	resp, err := e.Execute(ctx, "p1", Request{Kind: RequestTxn, Txn: txn})
	require.NoError(t, err)
	assert.False(t, resp.Txn.Succeeded)

	_, err = e.Commit(ctx, "p1")
	require.NoError(t, err)

	result := mustRange(t, e, "p2", "z", "")
	require.Len(t, result.Kvs, 1)
	assert.Equal(t, "failure", string(result.Kvs[0].Value))
}

func TestTxnOnEmptyRangeNonValueTargetEvaluatesAgainstDefaultKV(t *testing.T) {
	e, _ := newTestEngine()

	ctx := context.Background()
	// Default KeyValue has Version 0, so Compare(version == 0) over an
	// absent key's empty range must hold.
	txn := &TxnRequest{
		Compare: []Compare{{
			Target:  etcdserverpb.Compare_VERSION,
			Result:  etcdserverpb.Compare_EQUAL,
			Key:     []byte("missing"),
			Version: 0,
		}},
		Success: []Request{{Kind: RequestPut, Put: &PutRequest{Key: []byte("missing"), Value: []byte("ok")}}},
	}

	resp, err := e.Execute(ctx, "p1", Request{Kind: RequestTxn, Txn: txn})
	require.NoError(t, err)
	assert.True(t, resp.Txn.Succeeded)
}

func TestNestedTxnRejectedAtExecute(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	outer := &TxnRequest{
		Success: []Request{{Kind: RequestTxn, Txn: &TxnRequest{}}},
	}
	_, err := e.Execute(ctx, "p1", Request{Kind: RequestTxn, Txn: outer})
	require.Error(t, err)
	assert.True(t, mvcc.IsInvalidCommand(err))
}

func TestPutIgnoreValueWithNoPriorIsInvalidCommand(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()

	_, err := e.Execute(ctx, "p1", Request{Kind: RequestPut, Put: &PutRequest{
		Key: []byte("a"), IgnoreValue: true,
	}})
	require.Error(t, err)
	assert.True(t, mvcc.IsInvalidCommand(err))
}

func TestSpeculativeRangeExecuteIsIdempotentWithoutCommit(t *testing.T) {
	e, _ := newTestEngine()
	mustPut(t, e, "p1", "a", "1")

	ctx := context.Background()
	req := Request{Kind: RequestRange, Range: &RangeRequest{Key: []byte("a")}}
	r1, err := e.Execute(ctx, "p2", req)
	require.NoError(t, err)
	r2, err := e.Execute(ctx, "p2", req)
	require.NoError(t, err)

	assert.Equal(t, r1.Range.Count, r2.Range.Count)
	require.Len(t, r1.Range.Kvs, 1)
	require.Len(t, r2.Range.Kvs, 1)
	assert.Equal(t, r1.Range.Kvs[0], r2.Range.Kvs[0])
}

func TestCommitUnknownProposalPanics(t *testing.T) {
	e, _ := newTestEngine()
	assert.Panics(t, func() {
		_, _ = e.Commit(context.Background(), "never-executed")
	})
}

func TestRangeSortByValueDescend(t *testing.T) {
	e, _ := newTestEngine()
	mustPut(t, e, "p1", "a", "1")
	mustPut(t, e, "p2", "b", "3")
	mustPut(t, e, "p3", "c", "2")

	ctx := context.Background()
	resp, err := e.Execute(ctx, "p4", Request{Kind: RequestRange, Range: &RangeRequest{
		Key: []byte{0}, RangeEnd: []byte{0},
		SortTarget: etcdserverpb.RangeRequest_VALUE,
		SortOrder:  etcdserverpb.RangeRequest_DESCEND,
	}})
	require.NoError(t, err)
	require.Len(t, resp.Range.Kvs, 3)
	assert.Equal(t, "3", string(resp.Range.Kvs[0].Value))
	assert.Equal(t, "2", string(resp.Range.Kvs[1].Value))
	assert.Equal(t, "1", string(resp.Range.Kvs[2].Value))
}

func TestRangeLimitSetsMore(t *testing.T) {
	e, _ := newTestEngine()
	mustPut(t, e, "p1", "a", "1")
	mustPut(t, e, "p2", "b", "2")

	ctx := context.Background()
	resp, err := e.Execute(ctx, "p3", Request{Kind: RequestRange, Range: &RangeRequest{
		Key: []byte{0}, RangeEnd: []byte{0}, Limit: 1,
	}})
	require.NoError(t, err)
	assert.True(t, resp.Range.More)
	assert.Len(t, resp.Range.Kvs, 1)
	assert.Equal(t, int64(2), resp.Range.Count)
}
