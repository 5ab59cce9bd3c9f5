// Package health runs the naming service's standing consistency-repair
// loop: orphan cleanup plus a verification sweep over every active node.
package health

import (
	"context"
	"log"
	"time"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/nodeclient"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/store"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// Repairer runs the copy protocol for a replica whose verification probe
// failed. Implemented by the recovery engine.
type Repairer interface {
	RepairReplica(ctx context.Context, file *types.File, nodeID, nodeAddress string) bool
}

// Config tunes the monitor.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// VerifyTimeout bounds each verification probe.
	VerifyTimeout time.Duration

	// PendingTTL is how long an all-pending reservation survives before
	// the orphan pass reaps it.
	PendingTTL time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		VerifyTimeout: 10 * time.Second,
		PendingTTL:    15 * time.Minute,
	}
}

// Monitor is the periodic health loop. It must keep running for the
// lifetime of the process; individual sweep failures are logged and
// retried on the next cycle.
type Monitor struct {
	store    store.Store
	nodes    nodeclient.API
	repairer Repairer
	cfg      Config
}

// NewMonitor creates a health monitor. Zero Config fields fall back to the
// protocol defaults.
func NewMonitor(st store.Store, nodes nodeclient.API, repairer Repairer, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = def.PendingTTL
	}
	return &Monitor{store: st, nodes: nodes, repairer: repairer, cfg: cfg}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one full health pass: orphan cleanup, then verification
// of every replica on every active node.
func (m *Monitor) Sweep(ctx context.Context) {
	m.cleanupOrphans()
	m.verifyNodes(ctx)
}

// cleanupOrphans deletes files with zero active replicas, bounding the
// staleness of orphaned metadata to one sweep interval.
func (m *Monitor) cleanupOrphans() {
	orphans, err := m.store.OrphanedFiles(m.cfg.PendingTTL)
	if err != nil {
		log.Printf("[CLEANUP] orphan scan failed: %v", err)
		return
	}
	if len(orphans) == 0 {
		return
	}
	log.Printf("[CLEANUP] found %d orphaned file(s) with no active replicas", len(orphans))
	for _, f := range orphans {
		log.Printf("[CLEANUP] removing orphaned file %s (%s)", f.Filename, f.FileID)
		if err := m.store.DeleteFile(f.FileID); err != nil {
			log.Printf("[CLEANUP] failed to remove %s: %v", f.FileID, err)
		}
	}
}

// verifyNodes probes every replica on every active node, promoting
// verified replicas and repairing missing ones via the copy protocol.
func (m *Monitor) verifyNodes(ctx context.Context) {
	nodes, err := m.store.ListActiveNodes()
	if err != nil {
		log.Printf("[HEALTH] node scan failed: %v", err)
		return
	}
	for _, node := range nodes {
		replicas, err := m.store.ListReplicasByNode(node.NodeID)
		if err != nil {
			log.Printf("[HEALTH] replica scan for %s failed: %v", node.NodeID, err)
			continue
		}
		for _, rep := range replicas {
			file, err := m.store.GetFile(rep.FileID)
			if err != nil {
				continue
			}

			vctx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
			_, err = m.nodes.Verify(vctx, node.Address, rep.FileID)
			cancel()
			if err == nil {
				if err := m.store.MarkReplicaActive(rep.FileID, node.NodeID, node.Address); err != nil {
					log.Printf("[HEALTH] failed to mark %s active on %s: %v", rep.FileID, node.NodeID, err)
				}
				continue
			}

			log.Printf("[HEALTH] file %s missing on %s, triggering repair", file.Filename, node.NodeID)
			m.repairer.RepairReplica(ctx, file, node.NodeID, node.Address)
		}
	}
}
