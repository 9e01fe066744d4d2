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

// Package engine implements the speculative-execute/commit-sync pipeline
// that turns opaque, consensus-ordered proposals into etcd-compatible KV
// semantics.
package engine

import (
	"go.etcd.io/etcd/api/v3/etcdserverpb"

	"kvreplica/internal/mvcc"
)

// ProposalID names a unit of work handed out by the consensus collaborator.
// The same id is used for a request's speculative Execute and its eventual
// Commit.
type ProposalID string

// RequestKind discriminates the tagged union carried by Request.
type RequestKind int

const (
	RequestRange RequestKind = iota
	RequestPut
	RequestDeleteRange
	RequestTxn
)

// Request is a tagged union over the four request shapes the engine
// accepts. Exactly the field matching Kind is populated.
type Request struct {
	Kind        RequestKind
	Range       *RangeRequest
	Put         *PutRequest
	DeleteRange *DeleteRangeRequest
	Txn         *TxnRequest
}

// RangeRequest reads keys in [Key, RangeEnd) as of Revision (0 = latest).
type RangeRequest struct {
	Key        []byte
	RangeEnd   []byte
	Revision   int64
	Limit      int64
	CountOnly  bool
	SortTarget etcdserverpb.RangeRequest_SortTarget
	SortOrder  etcdserverpb.RangeRequest_SortOrder
}

// PutRequest creates or overwrites a single key.
type PutRequest struct {
	Key         []byte
	Value       []byte
	Lease       int64
	PrevKv      bool
	IgnoreValue bool
	IgnoreLease bool
}

// DeleteRangeRequest deletes keys in [Key, RangeEnd).
type DeleteRangeRequest struct {
	Key      []byte
	RangeEnd []byte
	PrevKv   bool
}

// Compare is one predicate of a transaction's guard. RangeEnd empty means a
// point comparison on Key.
type Compare struct {
	Target   etcdserverpb.Compare_CompareTarget
	Result   etcdserverpb.Compare_CompareResult
	Key      []byte
	RangeEnd []byte

	Value          []byte
	Version        int64
	CreateRevision int64
	ModRevision    int64
	Lease          int64
}

// TxnRequest evaluates Compare and executes Success or Failure accordingly.
// Requests in either branch execute under the transaction's own proposal
// id; a nested TxnRequest is rejected rather than executed.
type TxnRequest struct {
	Compare []Compare
	Success []Request
	Failure []Request
}

// Response mirrors Request: exactly the field matching Kind is populated.
type Response struct {
	Kind        RequestKind
	Range       *RangeResponse
	Put         *PutResponse
	DeleteRange *DeleteRangeResponse
	Txn         *TxnResponse
}

// RangeResponse carries the matched count and, unless CountOnly was set,
// the matched values.
type RangeResponse struct {
	Header mvcc.Header
	Kvs    []*mvcc.KeyValue
	Count  int64
	More   bool
}

// PutResponse carries the value overwritten by the put, if requested.
type PutResponse struct {
	Header mvcc.Header
	PrevKv *mvcc.KeyValue
}

// DeleteRangeResponse reports how many keys were deleted and, if
// requested, their values immediately before deletion.
type DeleteRangeResponse struct {
	Header  mvcc.Header
	Deleted int64
	PrevKvs []*mvcc.KeyValue
}

// TxnResponse reports which branch ran and that branch's own responses, in
// order.
type TxnResponse struct {
	Header    mvcc.Header
	Succeeded bool
	Responses []Response
}
