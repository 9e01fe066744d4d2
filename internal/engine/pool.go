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
	"kvreplica/internal/mvcc"
	"kvreplica/pkg/syncmap"
)

// SpeculativePool buffers the mutating requests a proposal has speculatively
// executed, keyed by proposal id, until its commit drains them in order.
//
// The driver is the only writer, but an optional reaper goroutine may Range
// or Forget entries abandoned by a proposal whose commit marker never
// arrives; syncmap.Map's lock-free reads make that safe without coordinating
// with the driver.
type SpeculativePool struct {
	pending *syncmap.Map[ProposalID, []Request]
}

// NewSpeculativePool creates an empty pool.
func NewSpeculativePool() *SpeculativePool {
	return &SpeculativePool{pending: syncmap.NewMap[ProposalID, []Request]()}
}

// Append adds req to proposal id's list, creating the list if absent.
func (p *SpeculativePool) Append(id ProposalID, req Request) {
	existing, _ := p.pending.Load(id)
	p.pending.Store(id, append(existing, req))
}

// Init ensures proposal id has a (possibly empty) list, without appending
// anything. A TxnRequest uses this before executing its chosen branch: the
// branch's own leaf requests append into the same list as they execute.
func (p *SpeculativePool) Init(id ProposalID) {
	if _, ok := p.pending.Load(id); !ok {
		p.pending.Store(id, []Request{})
	}
}

// Take removes and returns proposal id's buffered requests. A missing
// proposal id is an invariant violation: the consensus collaborator must
// never deliver a commit marker for a proposal that was never executed.
func (p *SpeculativePool) Take(id ProposalID) []Request {
	requests, ok := p.pending.LoadAndDelete(id)
	if !ok {
		mvcc.PanicInvariant("speculative pool: commit for unknown proposal " + string(id))
	}
	return requests
}

// Forget discards a proposal's buffered requests without committing them.
// Used by the optional abandoned-proposal reaper; correctness never depends
// on it running.
func (p *SpeculativePool) Forget(id ProposalID) {
	p.pending.Delete(id)
}

// Len reports the number of proposals currently buffered.
func (p *SpeculativePool) Len() int {
	return p.pending.Len()
}

// Proposals returns the ids currently buffered, for use by a reaper.
func (p *SpeculativePool) Proposals() []ProposalID {
	return p.pending.Keys()
}
