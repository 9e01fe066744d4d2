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
	"sync"
	"time"

	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
	"go.uber.org/zap"

	"kvreplica/internal/engine"
	"kvreplica/internal/metrics"
	"kvreplica/pkg/reliability"
)

// ProposalID is the engine's proposal id, reused verbatim: the same value
// speculatively executed against the engine is the one carried as raft log
// entry data, so that every replica commits the same engine buffer entry
// once raft has made it durable and ordered.
type ProposalID = engine.ProposalID

// Config bundles the knobs this node's raft.Config is built from.
type Config struct {
	ID            uint64
	Peers         []uint64
	ElectionTick  int
	HeartbeatTick int
	TickInterval  time.Duration

	MaxSizePerMsg             uint64
	MaxInflightMsgs           int
	MaxUncommittedEntriesSize uint64
	PreVote                   bool
	CheckQuorum               bool
}

// pendingResult is what a blocked Propose call is waiting to receive.
type pendingResult struct {
	revision int64
	err      error
}

// Node drives a single raft.Node to consensus over the sequence of proposal
// ids the engine should commit, and applies them to the engine in that
// order as soon as raft reports them committed. The engine's own
// speculative execution already happened before Propose is called; Node
// only orders and replays the commit step.
type Node struct {
	id        uint64
	raftNode  raft.Node
	storage   *raft.MemoryStorage
	transport *Transport
	inbox     <-chan raftpb.Message
	driver    *engine.Driver
	tick      time.Duration
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	pending map[ProposalID]chan pendingResult

	lastLead uint64

	stopc chan struct{}
	donec chan struct{}
}

// NewNode creates a Node backed by an in-memory raft log and registers it
// with transport under cfg.ID. It does not start the run loop; call Start
// once every Node sharing transport has been constructed, so messages sent
// during startup are not dropped for lack of a registered peer. m may be
// nil, in which case the node runs without recording metrics.
func NewNode(cfg Config, transport *Transport, driver *engine.Driver, log *zap.Logger, m *metrics.Metrics) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	storage := raft.NewMemoryStorage()
	n := &Node{
		id:        cfg.ID,
		storage:   storage,
		transport: transport,
		inbox:     transport.Register(cfg.ID, 256),
		driver:    driver,
		tick:      cfg.TickInterval,
		log:       log,
		metrics:   m,
		pending:   make(map[ProposalID]chan pendingResult),
		stopc:     make(chan struct{}),
		donec:     make(chan struct{}),
	}

	raftPeers := make([]raft.Peer, len(cfg.Peers))
	for i, id := range cfg.Peers {
		raftPeers[i] = raft.Peer{ID: id}
	}

	rc := &raft.Config{
		ID:                        cfg.ID,
		ElectionTick:              cfg.ElectionTick,
		HeartbeatTick:             cfg.HeartbeatTick,
		Storage:                   storage,
		MaxSizePerMsg:             cfg.MaxSizePerMsg,
		MaxInflightMsgs:           cfg.MaxInflightMsgs,
		MaxUncommittedEntriesSize: cfg.MaxUncommittedEntriesSize,
		PreVote:                   cfg.PreVote,
		CheckQuorum:               cfg.CheckQuorum,
	}
	n.raftNode = raft.StartNode(rc, raftPeers)
	return n
}

// Start launches the node's tick loop, message receive loop and raft Ready
// loop as background goroutines.
func (n *Node) Start() {
	go n.receiveLoop()
	go n.runLoop()
}

func (n *Node) receiveLoop() {
	defer reliability.RecoverFailStop(n.log, "consensus.receiveLoop")
	for {
		select {
		case m := <-n.inbox:
			n.raftNode.Step(context.Background(), m)
		case <-n.stopc:
			return
		}
	}
}

func (n *Node) runLoop() {
	defer reliability.RecoverFailStop(n.log, "consensus.runLoop")
	defer close(n.donec)
	ticker := time.NewTicker(n.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.raftNode.Tick()

		case rd := <-n.raftNode.Ready():
			if rd.SoftState != nil {
				n.observeLeader(rd.SoftState.Lead)
			}
			if !raft.IsEmptyHardState(rd.HardState) {
				if err := n.storage.SetHardState(rd.HardState); err != nil {
					n.log.Error("consensus: failed to persist hard state", zap.Error(err))
				}
			}
			if len(rd.Entries) > 0 {
				if err := n.storage.Append(rd.Entries); err != nil {
					n.log.Error("consensus: failed to append log entries", zap.Error(err))
				}
			}
			n.transport.Send(rd.Messages)
			n.applyCommitted(rd.CommittedEntries)
			n.raftNode.Advance()

		case <-n.stopc:
			return
		}
	}
}

// observeLeader records a raft leadership change the first time a Ready
// reports a different leader than the last one observed, including the
// initial election out of no-leader state.
func (n *Node) observeLeader(lead uint64) {
	if lead == n.lastLead {
		return
	}
	n.lastLead = lead
	if n.metrics != nil && lead != 0 {
		n.metrics.RaftLeaderChanges.Inc()
	}
}

// applyCommitted commits every normal entry, in log order, to the engine
// through the driver, and wakes up whichever Propose call is waiting on
// that proposal id. Entries with no data are raft no-ops emitted around
// leadership changes and are skipped.
func (n *Node) applyCommitted(entries []raftpb.Entry) {
	for _, ent := range entries {
		if ent.Type == raftpb.EntryConfChange {
			var cc raftpb.ConfChange
			if err := cc.Unmarshal(ent.Data); err == nil {
				n.raftNode.ApplyConfChange(cc)
			}
			continue
		}
		if len(ent.Data) == 0 {
			continue
		}

		id := ProposalID(ent.Data)
		revision, err := n.driver.Commit(context.Background(), id)

		n.mu.Lock()
		replyC, waiting := n.pending[id]
		delete(n.pending, id)
		n.mu.Unlock()

		if waiting {
			replyC <- pendingResult{revision: revision, err: err}
		}
	}
}

// Propose submits id to raft and blocks until this replica has applied the
// corresponding commit (or ctx is done), returning the revision the engine
// reached. The caller must already have run id's speculative Execute before
// calling Propose.
func (n *Node) Propose(ctx context.Context, id ProposalID) (int64, error) {
	if n.metrics != nil {
		n.metrics.RaftProposalsTotal.Inc()
	}
	replyC := make(chan pendingResult, 1)
	n.mu.Lock()
	n.pending[id] = replyC
	n.mu.Unlock()

	if err := n.raftNode.Propose(ctx, []byte(id)); err != nil {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
		if n.metrics != nil {
			n.metrics.RaftProposalsFailed.Inc()
		}
		return 0, err
	}

	select {
	case res := <-replyC:
		if res.err != nil && n.metrics != nil {
			n.metrics.RaftProposalsFailed.Inc()
		}
		return res.revision, res.err
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
		if n.metrics != nil {
			n.metrics.RaftProposalsFailed.Inc()
		}
		return 0, ctx.Err()
	}
}

// Stop halts the node's background loops and unregisters it from its
// transport.
func (n *Node) Stop() {
	close(n.stopc)
	<-n.donec
	n.transport.Unregister(n.id)
	n.raftNode.Stop()
}
