// Package recovery re-verifies and repairs replica placement when storage
// nodes come back online.
package recovery

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/nodeclient"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/store"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// Config bounds a single recovery run.
type Config struct {
	// ScanLimit caps the files examined per pass so one run stays finite.
	ScanLimit int

	// Pacing is slept after each successful redistribution copy to bound
	// load on the source node.
	Pacing time.Duration

	// VerifyTimeout bounds verification probes.
	VerifyTimeout time.Duration

	// TransferTimeout bounds each leg of the copy protocol.
	TransferTimeout time.Duration

	// QueueSize is the trigger queue capacity; extra triggers are dropped.
	QueueSize int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		ScanLimit:       100,
		Pacing:          100 * time.Millisecond,
		VerifyTimeout:   15 * time.Second,
		TransferTimeout: 30 * time.Second,
		QueueSize:       16,
	}
}

// Engine runs recovery for nodes that transitioned inactive -> active.
// Triggers are deduplicated per node: at most one recovery run per node is
// queued or in flight at a time; extra triggers for a flapping node are
// dropped.
type Engine struct {
	store store.Store
	nodes nodeclient.API
	cfg   Config

	mu       sync.Mutex
	inFlight map[string]bool
	queue    chan string
}

// NewEngine creates a recovery engine. Zero Config fields fall back to the
// protocol defaults.
func NewEngine(st store.Store, nodes nodeclient.API, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = def.ScanLimit
	}
	if cfg.Pacing <= 0 {
		cfg.Pacing = def.Pacing
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = def.TransferTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Engine{
		store:    st,
		nodes:    nodes,
		cfg:      cfg,
		inFlight: make(map[string]bool),
		queue:    make(chan string, cfg.QueueSize),
	}
}

// TriggerRecovery queues a recovery run for the node. Non-blocking: if a
// run for the node is already queued or in flight, or the queue is full,
// the trigger is dropped and the next health sweep picks up the slack.
func (e *Engine) TriggerRecovery(nodeID string) {
	e.mu.Lock()
	if e.inFlight[nodeID] {
		e.mu.Unlock()
		log.Printf("[RECOVERY] %s already recovering, dropping trigger", nodeID)
		return
	}
	e.inFlight[nodeID] = true
	e.mu.Unlock()

	select {
	case e.queue <- nodeID:
	default:
		e.mu.Lock()
		delete(e.inFlight, nodeID)
		e.mu.Unlock()
		log.Printf("[RECOVERY] trigger queue full, dropping trigger for %s", nodeID)
	}
}

// Run drains the trigger queue until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case nodeID := <-e.queue:
			e.RecoverNode(ctx, nodeID)
			e.mu.Lock()
			delete(e.inFlight, nodeID)
			e.mu.Unlock()
		}
	}
}

// RecoverNode runs both recovery passes for one node: targeted repair of
// the replicas already placed on it, then redistribution of other files
// onto it for load balancing. Best-effort throughout; failures are skipped
// and retried by later sweeps.
func (e *Engine) RecoverNode(ctx context.Context, nodeID string) {
	node, err := e.store.GetNode(nodeID)
	if err != nil {
		log.Printf("[RECOVERY] %s: %v", nodeID, err)
		return
	}
	log.Printf("[RECOVERY] handling recovery for %s at %s", nodeID, node.Address)

	recovered := 0
	seen := make(map[string]bool)

	// Pass 1: verify every file that already has a replica row here; on a
	// failed probe, re-copy reusing the existing row.
	replicas, err := e.store.ListReplicasByNode(nodeID)
	if err != nil {
		log.Printf("[RECOVERY] %s: replica scan failed: %v", nodeID, err)
		return
	}
	if len(replicas) > e.cfg.ScanLimit {
		replicas = replicas[:e.cfg.ScanLimit]
	}
	for _, rep := range replicas {
		seen[rep.FileID] = true
		file, err := e.store.GetFile(rep.FileID)
		if err != nil {
			continue
		}

		vctx, cancel := context.WithTimeout(ctx, e.cfg.VerifyTimeout)
		_, err = e.nodes.Verify(vctx, node.Address, rep.FileID)
		cancel()
		if err == nil {
			if err := e.store.MarkReplicaActive(rep.FileID, nodeID, node.Address); err != nil {
				log.Printf("[RECOVERY] %s: failed to mark %s active: %v", nodeID, rep.FileID, err)
			}
			continue
		}
		if e.copyFile(ctx, file, nodeID, node.Address, true) {
			recovered++
		}
	}

	// Pass 2: redistribute other files onto this node while the file's
	// active replica spread is below the active node count. This can push
	// a file past its replication factor; the spread cap keeps the total
	// at max(replication_factor, active nodes).
	activeNodes, err := e.store.ListActiveNodes()
	if err != nil {
		log.Printf("[RECOVERY] %s: node list failed: %v", nodeID, err)
		return
	}
	files, _, err := e.store.ListFiles(e.cfg.ScanLimit, 0)
	if err != nil {
		log.Printf("[RECOVERY] %s: file scan failed: %v", nodeID, err)
		return
	}
	for _, f := range files {
		if seen[f.FileID] {
			continue
		}
		fileReplicas, err := e.store.ListReplicasByFile(f.FileID)
		if err != nil {
			continue
		}
		placedHere := false
		activeSpread := 0
		for _, r := range fileReplicas {
			if r.NodeID == nodeID {
				placedHere = true
			}
			if r.Status == types.ReplicaActive {
				activeSpread++
			}
		}
		if placedHere || activeSpread >= len(activeNodes) {
			continue
		}
		if e.copyFile(ctx, f, nodeID, node.Address, false) {
			recovered++
			time.Sleep(e.cfg.Pacing)
		}
	}

	log.Printf("[RECOVERY] %s: complete, %d files recovered or redistributed", nodeID, recovered)
}

// RepairReplica runs the copy protocol in update mode for an existing
// replica row, used by the health monitor when a verification probe fails.
func (e *Engine) RepairReplica(ctx context.Context, file *types.File, nodeID, nodeAddress string) bool {
	return e.copyFile(ctx, file, nodeID, nodeAddress, true)
}

// copyFile is the copy protocol: fetch the bytes from any node holding an
// active replica and push them to the target. Any failure aborts silently
// for this file; the next sweep makes further progress.
func (e *Engine) copyFile(ctx context.Context, file *types.File, targetID, targetAddress string, updateOnly bool) bool {
	replicas, err := e.store.ListReplicasByFile(file.FileID)
	if err != nil {
		return false
	}
	var source *types.Replica
	for _, r := range replicas {
		if r.Status == types.ReplicaActive && r.NodeID != targetID {
			source = r
			break
		}
	}
	if source == nil {
		log.Printf("[RECOVERY] %s: no active source for %s", targetID, file.Filename)
		return false
	}

	fctx, cancel := context.WithTimeout(ctx, e.cfg.TransferTimeout)
	data, err := e.nodes.Fetch(fctx, source.NodeAddress, file.FileID)
	cancel()
	if err != nil {
		log.Printf("[RECOVERY] %s: download of %s from %s failed: %v",
			targetID, file.Filename, source.NodeID, err)
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.TransferTimeout)
	_, err = e.nodes.Push(pctx, targetAddress, file.FileID, file.Filename, data)
	cancel()
	if err != nil {
		log.Printf("[RECOVERY] %s: upload of %s failed: %v", targetID, file.Filename, err)
		return false
	}

	if updateOnly {
		err = e.store.UpdateReplicaStatus(file.FileID, targetID, types.ReplicaActive)
	} else {
		err = e.store.MarkReplicaActive(file.FileID, targetID, targetAddress)
	}
	if err != nil {
		log.Printf("[RECOVERY] %s: failed to record replica for %s: %v", targetID, file.FileID, err)
		return false
	}
	log.Printf("[RECOVERY] %s: copied %s from %s", targetID, file.Filename, source.NodeID)
	return true
}
