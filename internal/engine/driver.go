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
	"errors"
	"time"

	"go.uber.org/zap"

	"kvreplica/internal/metrics"
	"kvreplica/pkg/reliability"
)

// errDriverClosed is returned to any job still queued when Stop runs.
var errDriverClosed = errors.New("engine: driver stopped")

// executeJob and commitJob are the two request shapes the driver consumes.
// Each carries a one-shot reply channel; the job's submitter blocks on it,
// which is one of the two suspension points this engine permits (the other
// is the driver's send to the EventPublisher during Commit).
type executeJob struct {
	ctx    context.Context
	id     ProposalID
	req    Request
	replyC chan executeResult
}

type executeResult struct {
	resp Response
	err  error
}

type commitJob struct {
	ctx    context.Context
	id     ProposalID
	replyC chan commitResult
}

type commitResult struct {
	revision int64
	err      error
}

// Driver funnels every Execute and Commit call through a single goroutine,
// giving the engine linearizable revision assignment without locking
// RevisionIndex or VersionedStore individually. Execute and Commit calls
// are each FIFO across a single proposal id's submissions; across different
// proposals, execute and commit jobs interleave in queue order.
type Driver struct {
	engine    *Engine
	executeCh chan executeJob
	commitCh  chan commitJob
	done      chan struct{}
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewDriver creates a Driver over engine with the given inbound queue
// capacities and starts its consumer goroutine. m may be nil, in which case
// the driver runs without recording metrics.
func NewDriver(e *Engine, executeQueueCap, commitQueueCap int, log *zap.Logger, m *metrics.Metrics) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Driver{
		engine:    e,
		executeCh: make(chan executeJob, executeQueueCap),
		commitCh:  make(chan commitJob, commitQueueCap),
		done:      make(chan struct{}),
		log:       log,
		metrics:   m,
	}
	go d.run()
	return d
}

// requestKindLabel names a RequestKind for metric labels.
func requestKindLabel(k RequestKind) string {
	switch k {
	case RequestRange:
		return "range"
	case RequestPut:
		return "put"
	case RequestDeleteRange:
		return "delete_range"
	case RequestTxn:
		return "txn"
	default:
		return "unknown"
	}
}

// run is the driver's single consumer goroutine. A panic here means the
// engine observed state it proves should be impossible (see
// mvcc.PanicInvariant); RecoverFailStop logs it and terminates the process
// rather than letting the driver limp on with queued callers hanging
// forever against a goroutine that no longer exists.
func (d *Driver) run() {
	defer reliability.RecoverFailStop(d.log, "engine.driver")
	defer close(d.done)
	for {
		select {
		case job, ok := <-d.executeCh:
			if !ok {
				d.drainRemaining()
				return
			}
			start := time.Now()
			resp, err := d.engine.Execute(job.ctx, job.id, job.req)
			if d.metrics != nil {
				d.metrics.ObserveOperation(requestKindLabel(job.req.Kind), start, err)
			}
			job.replyC <- executeResult{resp: resp, err: err}
		case job, ok := <-d.commitCh:
			if !ok {
				d.drainRemaining()
				return
			}
			start := time.Now()
			rev, err := d.engine.Commit(job.ctx, job.id)
			if d.metrics != nil {
				d.metrics.ObserveOperation("commit", start, err)
				if err == nil {
					d.metrics.CurrentRevision.Set(float64(rev))
				}
			}
			job.replyC <- commitResult{revision: rev, err: err}
		}
	}
}

// drainRemaining replies to any jobs still sitting in the queues with
// errDriverClosed so callers blocked on replyC don't hang after Stop.
func (d *Driver) drainRemaining() {
	for {
		select {
		case job := <-d.executeCh:
			job.replyC <- executeResult{err: errDriverClosed}
		case job := <-d.commitCh:
			job.replyC <- commitResult{err: errDriverClosed}
		default:
			return
		}
	}
}

// Execute submits req for speculative execution and blocks until the
// driver replies or ctx is done.
func (d *Driver) Execute(ctx context.Context, id ProposalID, req Request) (Response, error) {
	reply := make(chan executeResult, 1)
	select {
	case d.executeCh <- executeJob{ctx: ctx, id: id, req: req, replyC: reply}:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.resp, res.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Commit submits id for commit-time synchronization and blocks until the
// driver replies or ctx is done.
func (d *Driver) Commit(ctx context.Context, id ProposalID) (int64, error) {
	reply := make(chan commitResult, 1)
	select {
	case d.commitCh <- commitJob{ctx: ctx, id: id, replyC: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.revision, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop closes the inbound queues and waits for the driver goroutine to
// drain and exit.
func (d *Driver) Stop() {
	close(d.executeCh)
	close(d.commitCh)
	<-d.done
}
