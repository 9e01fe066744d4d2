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

package mvcc

import "sync/atomic"

// Header is the metadata block attached to every response.
type Header struct {
	ClusterID int64
	MemberID  int64
	Revision  int64
	RaftTerm  int64
}

// HeaderSource vends response headers and owns the authoritative revision
// counter. The counter is exposed through an atomic cell so read-only
// collaborators (for instance a watch stream computing a header for a
// historical reply) may observe it without taking the driver's lock; only
// the commit driver ever writes it.
type HeaderSource struct {
	clusterID int64
	memberID  int64
	raftTerm  int64
	revision  atomic.Int64
}

// NewHeaderSource creates a HeaderSource starting at the given revision.
func NewHeaderSource(clusterID, memberID, initialRevision int64) *HeaderSource {
	h := &HeaderSource{clusterID: clusterID, memberID: memberID}
	h.revision.Store(initialRevision)
	return h
}

// Revision returns the current revision.
func (h *HeaderSource) Revision() int64 {
	return h.revision.Load()
}

// SetRevision installs a new revision. Only the commit driver calls this.
func (h *HeaderSource) SetRevision(rev int64) {
	h.revision.Store(rev)
}

// SetRaftTerm records the current consensus term, surfaced in headers.
func (h *HeaderSource) SetRaftTerm(term int64) {
	atomic.StoreInt64(&h.raftTerm, term)
}

// Header builds a header reflecting the current revision.
func (h *HeaderSource) Header() Header {
	return Header{
		ClusterID: h.clusterID,
		MemberID:  h.memberID,
		Revision:  h.revision.Load(),
		RaftTerm:  atomic.LoadInt64(&h.raftTerm),
	}
}
