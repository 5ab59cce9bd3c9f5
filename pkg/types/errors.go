package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the naming service packages.
var (
	// ErrFileNotFound indicates an unknown file ID.
	ErrFileNotFound = errors.New("file not found")

	// ErrNodeNotFound indicates a node that was never registered.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoActiveReplica indicates a file with no replica on any currently
	// active node.
	ErrNoActiveReplica = errors.New("no active replica available")
)

// SizeLimitError rejects an upload whose declared size exceeds the global
// maximum.
type SizeLimitError struct {
	Filename string
	FileSize int64
	MaxSize  int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("file %q is %.2f MB, exceeds the %.0f MB limit",
		e.Filename, float64(e.FileSize)/(1024*1024), float64(e.MaxSize)/(1024*1024))
}

// NodeSpaceInfo carries the per-node capacity deficit diagnostics attached
// to a CapacityError. Sizes are reported in MB to match the wire format.
type NodeSpaceInfo struct {
	NodeID           string  `json:"node_id"`
	AvailableSpaceMB float64 `json:"available_space_mb"`
	RequiredSpaceMB  float64 `json:"required_space_mb"`
	FileSizeMB       float64 `json:"file_size_mb"`
	BufferMB         float64 `json:"buffer_mb"`
	DeficitMB        float64 `json:"deficit_mb"`
}

// CapacityError indicates that fewer than the requested number of nodes
// have enough free space for the file plus buffer.
type CapacityError struct {
	RequiredNodes  int
	NodesWithSpace int
	FileSize       int64
	Buffer         int64
	NodesInfo      []NodeSpaceInfo
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: %d of %d required nodes have %.2f MB free",
		e.NodesWithSpace, e.RequiredNodes, float64(e.FileSize+e.Buffer)/(1024*1024))
}

// ActiveNodesError indicates fewer active nodes than the requested
// replication factor.
type ActiveNodesError struct {
	Required  int
	Available int
}

func (e *ActiveNodesError) Error() string {
	return fmt.Sprintf("not enough active storage nodes: need %d, have %d",
		e.Required, e.Available)
}
