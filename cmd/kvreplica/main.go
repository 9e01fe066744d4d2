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

// Command kvreplica hosts a full in-process replica set: every member's
// RevisionIndex, VersionedStore, KvEngine and raft.Node lives in this one
// process, exchanging raftpb.Message over Go channels rather than a real
// network. There is no gRPC or HTTP client surface; this binary exists to
// prove the wiring and to serve its Prometheus metrics, and is meant to be
// driven as a library by anything that embeds internal/engine and
// internal/consensus directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"kvreplica/internal/consensus"
	"kvreplica/internal/engine"
	"kvreplica/internal/metrics"
	"kvreplica/internal/mvcc"
	"kvreplica/internal/watch"
	"kvreplica/pkg/config"
	"kvreplica/pkg/log"
	"kvreplica/pkg/reliability"
)

// replica bundles one member's full storage-core stack.
type replica struct {
	id     uint64
	index  *mvcc.RevisionIndex
	store  *mvcc.VersionedStore
	fanout *watch.Fanout
	driver *engine.Driver
	node   *consensus.Node
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; defaults are used if omitted or missing")
	clusterID := flag.Uint64("cluster-id", 1, "cluster ID")
	memberID := flag.Uint64("member-id", 1, "this process's primary member ID, first in -members")
	listenAddr := flag.String("listen-address", ":2379", "informational only; no client server is started")
	members := flag.String("members", "1", "comma-separated member IDs hosted by this process")
	flag.Parse()

	memberIDs, err := parseMembers(*members)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvreplica:", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigOrDefault(*configPath, *clusterID, *memberID, *listenAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvreplica: loading config:", err)
		os.Exit(1)
	}

	if err := log.InitFromConfig(&cfg.Server.Log); err != nil {
		fmt.Fprintln(os.Stderr, "kvreplica: initializing logger:", err)
		os.Exit(1)
	}
	logger := log.GetLogger().Zap()
	defer logger.Sync()

	logger.Info("starting replica set",
		zap.Uint64("cluster_id", cfg.Server.ClusterID),
		zap.Uint64s("members", memberIDs),
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	transport := consensus.NewTransport(logger)
	replicas := buildReplicaSet(cfg, memberIDs, transport, m, logger)
	for _, r := range replicas {
		r.node.Start()
	}

	metricsServer := metrics.NewServer(cfg.Server.Monitoring.ListenAddress, registry, logger)
	reliability.SafeGo(logger, "metrics.server", func() {
		if err := metricsServer.Start(); err != nil {
			logger.Error("metrics server exited", zap.Error(err))
		}
	})

	if err := smokeTest(replicas[0], logger); err != nil {
		logger.Error("startup smoke test failed", zap.Error(err))
	}

	shutdown := reliability.NewGracefulShutdown(cfg.Server.Reliability.ShutdownTimeout)
	shutdown.RegisterHook(reliability.PhaseCloseResources, func(ctx context.Context) error {
		return metricsServer.Shutdown(ctx)
	})
	shutdown.RegisterHook(reliability.PhaseCloseResources, func(ctx context.Context) error {
		for _, r := range replicas {
			r.node.Stop()
			r.fanout.Stop()
			r.driver.Stop()
		}
		return nil
	})

	waitForSignal(logger)
	shutdown.Shutdown()
	logger.Info("replica set stopped")
}

func parseMembers(csv string) ([]uint64, error) {
	parts := strings.Split(csv, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid member id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one member is required")
	}
	return ids, nil
}

func buildReplicaSet(cfg *config.Config, memberIDs []uint64, transport *consensus.Transport, m *metrics.Metrics, logger *zap.Logger) []*replica {
	replicas := make([]*replica, 0, len(memberIDs))
	for _, id := range memberIDs {
		index := mvcc.NewRevisionIndex()
		store := mvcc.NewVersionedStore()
		header := mvcc.NewHeaderSource(int64(cfg.Server.ClusterID), int64(id), 1)
		fanout := watch.NewFanout(index, store, cfg.Server.Limits.WatchPublishQueueCap, logger, m)
		e := engine.New(index, store, header, fanout, logger)
		driver := engine.NewDriver(e, cfg.Server.Limits.ExecuteQueueCap, cfg.Server.Limits.CommitQueueCap, logger, m)

		node := consensus.NewNode(consensus.Config{
			ID:            id,
			Peers:         memberIDs,
			ElectionTick:  cfg.Server.Raft.ElectionTick,
			HeartbeatTick: cfg.Server.Raft.HeartbeatTick,
			TickInterval:  cfg.Server.Raft.TickInterval,

			MaxSizePerMsg:             cfg.Server.Raft.MaxSizePerMsg,
			MaxInflightMsgs:           cfg.Server.Raft.MaxInflightMsgs,
			MaxUncommittedEntriesSize: cfg.Server.Raft.MaxUncommittedEntriesSize,
			PreVote:                   cfg.Server.Raft.PreVote,
			CheckQuorum:               cfg.Server.Raft.CheckQuorum,
		}, transport, driver, logger, m)

		replicas = append(replicas, &replica{id: id, index: index, store: store, fanout: fanout, driver: driver, node: node})
	}
	return replicas
}

// smokeTest proves the replica set can take a proposal to commit before the
// process starts serving.
func smokeTest(r *replica, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := engine.ProposalID("startup-smoke-test")
	_, err := r.driver.Execute(ctx, id, engine.Request{
		Kind: engine.RequestPut,
		Put:  &engine.PutRequest{Key: []byte("kvreplica/startup"), Value: []byte("ok")},
	})
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	revision, err := r.node.Propose(ctx, id)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}
	logger.Debug("startup smoke test committed", zap.Int64("revision", revision))
	return nil
}

func waitForSignal(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
}
