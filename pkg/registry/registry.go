// Package registry tracks storage node identity, liveness and reported
// capacity for the naming service.
package registry

import (
	"context"
	"log"
	"time"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/store"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// RecoveryTrigger receives recovery events. Every status flip to active
// fires exactly one trigger for that node; the receiver is responsible for
// deduplicating overlapping runs.
type RecoveryTrigger interface {
	TriggerRecovery(nodeID string)
}

// Registry is the node registry. Reads are snapshots: capacity may change
// between a read and its use.
type Registry struct {
	store           store.Store
	recovery        RecoveryTrigger
	livenessTimeout time.Duration
	sweepInterval   time.Duration
}

// New creates a registry. Nodes whose last heartbeat is older than
// livenessTimeout are marked inactive by the sweep started via Run.
func New(st store.Store, livenessTimeout time.Duration) *Registry {
	sweep := livenessTimeout / 3
	if sweep < time.Second {
		sweep = time.Second
	}
	return &Registry{
		store:           st,
		livenessTimeout: livenessTimeout,
		sweepInterval:   sweep,
	}
}

// SetRecoveryTrigger wires the recovery engine in. Must be called before
// Run; a nil trigger disables recovery events.
func (r *Registry) SetRecoveryTrigger(t RecoveryTrigger) {
	r.recovery = t
}

// RegisterOrUpdate is the idempotent node registration upsert. A node
// re-registering after being inactive is a recovery event.
func (r *Registry) RegisterOrUpdate(nodeID, address string) error {
	wasInactive, err := r.store.UpsertNode(nodeID, address)
	if err != nil {
		return err
	}
	if wasInactive {
		log.Printf("[RECOVERY] node %s re-registered after being offline", nodeID)
		r.signalRecovery(nodeID)
	}
	return nil
}

// RecordHeartbeat updates a node's capacity report and liveness. It
// returns types.ErrNodeNotFound for nodes that never registered.
func (r *Registry) RecordHeartbeat(nodeID string, availableSpace int64, fileCount int) error {
	becameActive, err := r.store.RecordHeartbeat(nodeID, availableSpace, fileCount)
	if err != nil {
		return err
	}
	if becameActive {
		log.Printf("[RECOVERY] node %s is back online", nodeID)
		r.signalRecovery(nodeID)
	}
	return nil
}

// ListActive returns a snapshot of the active nodes.
func (r *Registry) ListActive() ([]*types.StorageNode, error) {
	return r.store.ListActiveNodes()
}

// ListAll returns a snapshot of every registered node.
func (r *Registry) ListAll() ([]*types.StorageNode, error) {
	return r.store.ListNodes()
}

// Run drives the liveness sweep until ctx is cancelled: any active node
// whose heartbeat has gone stale is flipped to inactive. The flip back to
// active happens on the node's next heartbeat or registration.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepStaleNodes()
		}
	}
}

func (r *Registry) sweepStaleNodes() {
	nodes, err := r.store.ListNodes()
	if err != nil {
		log.Printf("[REGISTRY] liveness sweep failed: %v", err)
		return
	}
	cutoff := time.Now().Add(-r.livenessTimeout)
	for _, node := range nodes {
		if node.Status != types.NodeActive || node.LastHeartbeat.After(cutoff) {
			continue
		}
		log.Printf("[REGISTRY] node %s missed heartbeats, marking inactive", node.NodeID)
		if err := r.store.SetNodeStatus(node.NodeID, types.NodeInactive); err != nil {
			log.Printf("[REGISTRY] failed to mark %s inactive: %v", node.NodeID, err)
		}
	}
}

func (r *Registry) signalRecovery(nodeID string) {
	if r.recovery != nil {
		r.recovery.TriggerRecovery(nodeID)
	}
}
