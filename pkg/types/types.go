package types

import "time"

// NodeStatus is the liveness state of a storage node as tracked by the
// naming service.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
)

// ReplicaStatus is the state of a single (file, node) placement.
type ReplicaStatus string

const (
	// ReplicaPending is set when the placement is reserved but the node has
	// not yet confirmed it holds the bytes.
	ReplicaPending ReplicaStatus = "pending"

	// ReplicaActive is set once the node confirms the upload or a
	// verification probe succeeds.
	ReplicaActive ReplicaStatus = "active"
)

// StorageNode is the registry record for a storage node. AvailableSpace is
// self-reported by the node's heartbeat and may be stale between reports.
type StorageNode struct {
	NodeID         string     `json:"node_id"`
	Address        string     `json:"node_address"`
	Status         NodeStatus `json:"status"`
	AvailableSpace int64      `json:"available_space"`
	FileCount      int        `json:"file_count"`
	LastHeartbeat  time.Time  `json:"last_heartbeat"`
}

// File is the metadata record for a stored file. It is created as a
// reservation before any bytes are transferred.
type File struct {
	FileID            string    `json:"file_id"`
	Filename          string    `json:"filename"`
	FileSize          int64     `json:"file_size"`
	ReplicationFactor int       `json:"replication_factor"`
	Checksum          string    `json:"checksum,omitempty"`
	UploadTimestamp   time.Time `json:"upload_timestamp"`
}

// Replica records a (file, node) placement. A row existing does not
// guarantee bytes exist on the node; ReplicaActive is a claim that is
// re-checked by the periodic verification sweeps.
type Replica struct {
	FileID      string        `json:"file_id"`
	NodeID      string        `json:"node_id"`
	NodeAddress string        `json:"node_address"`
	Status      ReplicaStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// UploadRecord is one row of the upload history kept for /api/history.
type UploadRecord struct {
	FileID     string    `json:"file_id"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	NodeIDs    []string  `json:"node_ids"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Stats is the aggregate view returned by /api/stats.
type Stats struct {
	TotalNodes    int   `json:"total_nodes"`
	ActiveNodes   int   `json:"active_nodes"`
	TotalFiles    int   `json:"total_files"`
	TotalSize     int64 `json:"total_size_bytes"`
	RecentUploads int   `json:"recent_uploads"`
}
