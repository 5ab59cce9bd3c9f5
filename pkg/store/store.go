package store

import (
	"time"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// Store is the metadata store consumed by the naming service core. Every
// method is atomic per call; multi-row mutations (file delete, replica
// upsert) must not expose intermediate states to concurrent readers.
type Store interface {
	// UpsertNode registers a node or updates its address, forcing status
	// active. It reports whether the node was previously inactive, which
	// the caller treats as a recovery event.
	UpsertNode(nodeID, address string) (wasInactive bool, err error)

	// GetNode returns a node record or types.ErrNodeNotFound.
	GetNode(nodeID string) (*types.StorageNode, error)

	// RecordHeartbeat updates a node's self-reported capacity and
	// heartbeat timestamp, flipping status back to active. It returns
	// types.ErrNodeNotFound for nodes that were never registered, and
	// reports whether the heartbeat flipped the node inactive -> active.
	RecordHeartbeat(nodeID string, availableSpace int64, fileCount int) (becameActive bool, err error)

	// SetNodeStatus overrides a node's liveness status (used by the
	// registry's staleness sweep).
	SetNodeStatus(nodeID string, status types.NodeStatus) error

	ListNodes() ([]*types.StorageNode, error)
	ListActiveNodes() ([]*types.StorageNode, error)

	CreateFile(f *types.File) error

	// GetFile returns a file record or types.ErrFileNotFound.
	GetFile(fileID string) (*types.File, error)

	// SetFileChecksum records the file checksum if none is recorded yet.
	// Later confirmations with a different checksum are ignored.
	SetFileChecksum(fileID, checksum string) error

	// DeleteFile removes the file and all its replica rows in one batch.
	DeleteFile(fileID string) error

	// ListFiles returns a page of files ordered by upload time, newest
	// first, plus the total file count.
	ListFiles(limit, offset int) ([]*types.File, int, error)

	AddReplica(r *types.Replica) error

	// MarkReplicaActive creates the (fileID, nodeID) replica row as active
	// or flips an existing row to active. The read-modify-write is atomic
	// with respect to concurrent calls for the same key.
	MarkReplicaActive(fileID, nodeID, nodeAddress string) error

	// UpdateReplicaStatus updates an existing replica row; it is a no-op
	// if the row does not exist.
	UpdateReplicaStatus(fileID, nodeID string, status types.ReplicaStatus) error

	ListReplicasByFile(fileID string) ([]*types.Replica, error)
	ListReplicasByNode(nodeID string) ([]*types.Replica, error)

	// OrphanedFiles returns files with zero active replicas, excluding
	// fresh reservations: a file whose replicas are all pending is only an
	// orphan once the newest reservation is older than pendingTTL.
	OrphanedFiles(pendingTTL time.Duration) ([]*types.File, error)

	Stats() (*types.Stats, error)

	AppendUploadRecord(rec *types.UploadRecord) error

	// UploadHistory returns the most recent upload records, newest first.
	UploadHistory(limit int) ([]*types.UploadRecord, error)

	Close() error
}
