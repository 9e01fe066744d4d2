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

package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kvreplica/internal/engine"
	"kvreplica/internal/mvcc"
)

func newSingleNodeCluster(t *testing.T) (*Node, *engine.Driver) {
	t.Helper()
	idx := mvcc.NewRevisionIndex()
	store := mvcc.NewVersionedStore()
	header := mvcc.NewHeaderSource(1, 1, 1)
	e := engine.New(idx, store, header, nil, zap.NewNop())
	driver := engine.NewDriver(e, 16, 16, zap.NewNop(), nil)

	transport := NewTransport(zap.NewNop())
	node := NewNode(Config{
		ID:            1,
		Peers:         []uint64{1},
		ElectionTick:  5,
		HeartbeatTick: 1,
		TickInterval:  5 * time.Millisecond,

		MaxSizePerMsg:             1024 * 1024,
		MaxInflightMsgs:           256,
		MaxUncommittedEntriesSize: 1 << 20,
		PreVote:                   true,
		CheckQuorum:               true,
	}, transport, driver, zap.NewNop(), nil)
	node.Start()
	t.Cleanup(func() {
		node.Stop()
		driver.Stop()
	})
	return node, driver
}

func TestSingleNodeProposePutCommits(t *testing.T) {
	node, driver := newSingleNodeCluster(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := engine.ProposalID("txn-1")
	_, err := driver.Execute(ctx, id, engine.Request{
		Kind: engine.RequestPut,
		Put:  &engine.PutRequest{Key: []byte("a"), Value: []byte("1")},
	})
	require.NoError(t, err)

	revision, err := node.Propose(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), revision)

	resp, err := driver.Execute(ctx, "read-1", engine.Request{
		Kind: engine.RequestRange, Range: &engine.RangeRequest{Key: []byte("a")},
	})
	require.NoError(t, err)
	require.Len(t, resp.Range.Kvs, 1)
	require.Equal(t, "1", string(resp.Range.Kvs[0].Value))

	_, err = driver.Commit(ctx, "read-1")
	require.NoError(t, err)
}

func TestSingleNodeProposeOrdersTwoProposals(t *testing.T) {
	node, driver := newSingleNodeCluster(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, key := range []string{"a", "b"} {
		id := engine.ProposalID(key)
		_, err := driver.Execute(ctx, id, engine.Request{
			Kind: engine.RequestPut,
			Put:  &engine.PutRequest{Key: []byte(key), Value: []byte("v")},
		})
		require.NoError(t, err)

		revision, err := node.Propose(ctx, id)
		require.NoError(t, err)
		require.Equal(t, int64(2+i), revision)
	}
}
