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

// Package consensus wraps go.etcd.io/raft/v3 into the single collaborator
// the engine needs: something that takes an executed proposal and reports
// back, in the same order on every replica, when it is safe to commit.
//
// This differs from a wire-level raft deployment in one deliberate way:
// replicas exchange raftpb.Message over in-process Go channels rather than
// rafthttp over a real network. A single process hosting every replica is
// the deployment shape this module targets; swapping Transport for an
// rafthttp-backed one is the natural extension but out of scope here.
package consensus

import (
	"sync"

	"go.etcd.io/raft/v3/raftpb"
	"go.uber.org/zap"
)

// Transport delivers raftpb.Message between Nodes registered under the same
// Transport instance. It is the in-process stand-in for rafthttp.Transport.
type Transport struct {
	mu    sync.RWMutex
	peers map[uint64]chan raftpb.Message
	log   *zap.Logger
}

// NewTransport creates an empty Transport. Each peer's inbound queue is
// bounded by the inboxCap given to Register; a full inbox drops the message
// rather than blocking the sender, matching raft's own tolerance for
// message loss.
func NewTransport(log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{peers: make(map[uint64]chan raftpb.Message), log: log}
}

// Register creates and returns the inbox channel for peer id. Callers
// (typically a Node's run loop) range over the returned channel to receive
// messages addressed to them.
func (t *Transport) Register(id uint64, inboxCap int) <-chan raftpb.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	inbox := make(chan raftpb.Message, inboxCap)
	t.peers[id] = inbox
	return inbox
}

// Unregister removes peer id so messages addressed to it are dropped
// instead of queued.
func (t *Transport) Unregister(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

// Send delivers each message to its To peer's inbox, dropping (and logging)
// any message whose peer is not registered or whose inbox is full.
func (t *Transport) Send(msgs []raftpb.Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range msgs {
		inbox, ok := t.peers[m.To]
		if !ok {
			continue
		}
		select {
		case inbox <- m:
		default:
			t.log.Warn("consensus: dropped message to full inbox", zap.Uint64("to", m.To), zap.String("type", m.Type.String()))
		}
	}
}
