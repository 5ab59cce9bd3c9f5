// Package coordinator orchestrates the upload, download and delete
// protocols between clients, the metadata store and the storage nodes.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/nodeclient"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/placement"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/store"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// Config tunes the coordinator.
type Config struct {
	// MaxFileSize rejects oversized uploads up front.
	MaxFileSize int64

	// SpaceBuffer is required free space on a node beyond the file size.
	SpaceBuffer int64

	// DeleteTimeout bounds each best-effort delete notification.
	DeleteTimeout time.Duration
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:   100 * 1024 * 1024,
		SpaceBuffer:   0,
		DeleteTimeout: 5 * time.Second,
	}
}

// Coordinator implements the upload/download/delete flows. It never sees
// file bytes: clients transfer directly to storage nodes.
type Coordinator struct {
	store    store.Store
	strategy placement.Strategy
	nodes    nodeclient.API
	cfg      Config
}

// New creates a coordinator. Zero Config fields fall back to the defaults.
func New(st store.Store, strategy placement.Strategy, nodes nodeclient.API, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.SpaceBuffer < 0 {
		cfg.SpaceBuffer = def.SpaceBuffer
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = def.DeleteTimeout
	}
	return &Coordinator{store: st, strategy: strategy, nodes: nodes, cfg: cfg}
}

// MaxFileSize exposes the configured upload limit for error reporting.
func (c *Coordinator) MaxFileSize() int64 { return c.cfg.MaxFileSize }

// UploadTarget is one direct upload destination returned to the client.
type UploadTarget struct {
	NodeID    string `json:"node_id"`
	UploadURL string `json:"upload_url"`
}

// UploadPlan is the result of a successful upload reservation.
type UploadPlan struct {
	FileID  string
	Targets []UploadTarget
}

// RequestUpload validates the upload, selects placement nodes and commits
// the reservation: a File row plus one pending Replica row per target.
func (c *Coordinator) RequestUpload(filename string, fileSize int64, replicationFactor int) (*UploadPlan, error) {
	if replicationFactor < 1 {
		replicationFactor = 1
	}
	if fileSize > c.cfg.MaxFileSize {
		return nil, &types.SizeLimitError{
			Filename: filename,
			FileSize: fileSize,
			MaxSize:  c.cfg.MaxFileSize,
		}
	}

	active, err := c.store.ListActiveNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	selected, err := c.strategy.SelectNodes(active, replicationFactor, fileSize, c.cfg.SpaceBuffer)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	file := &types.File{
		FileID:            uuid.New().String(),
		Filename:          filename,
		FileSize:          fileSize,
		ReplicationFactor: replicationFactor,
		UploadTimestamp:   now,
	}
	if err := c.store.CreateFile(file); err != nil {
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	plan := &UploadPlan{FileID: file.FileID}
	nodeIDs := make([]string, 0, len(selected))
	for _, node := range selected {
		replica := &types.Replica{
			FileID:      file.FileID,
			NodeID:      node.NodeID,
			NodeAddress: node.Address,
			Status:      types.ReplicaPending,
			CreatedAt:   now,
		}
		if err := c.store.AddReplica(replica); err != nil {
			return nil, fmt.Errorf("failed to create replica record: %w", err)
		}
		nodeIDs = append(nodeIDs, node.NodeID)
		plan.Targets = append(plan.Targets, UploadTarget{
			NodeID:    node.NodeID,
			UploadURL: fmt.Sprintf("%s/upload/%s", node.Address, file.FileID),
		})
	}

	if err := c.store.AppendUploadRecord(&types.UploadRecord{
		FileID:     file.FileID,
		Filename:   filename,
		FileSize:   fileSize,
		NodeIDs:    nodeIDs,
		UploadedAt: now,
	}); err != nil {
		log.Printf("[UPLOAD] failed to record history for %s: %v", file.FileID, err)
	}
	return plan, nil
}

// ConfirmUpload flips the replica to active and records the file checksum
// if none is recorded yet.
func (c *Coordinator) ConfirmUpload(fileID, nodeID, checksum string) error {
	if _, err := c.store.GetFile(fileID); err != nil {
		return err
	}
	if err := c.store.UpdateReplicaStatus(fileID, nodeID, types.ReplicaActive); err != nil {
		return fmt.Errorf("failed to update replica status: %w", err)
	}
	if checksum != "" {
		if err := c.store.SetFileChecksum(fileID, checksum); err != nil {
			return fmt.Errorf("failed to record checksum: %w", err)
		}
	}
	return nil
}

// CancelUpload removes the file and its replica rows as a compensating
// action after a partial upload failure. Bytes already written on nodes
// that did succeed are left for their local cleanup.
func (c *Coordinator) CancelUpload(fileID, reason string) error {
	filename := "unknown"
	if file, err := c.store.GetFile(fileID); err == nil {
		filename = file.Filename
	}
	log.Printf("[UPLOAD CANCEL] file %s (%s): %s", fileID, filename, reason)
	return c.store.DeleteFile(fileID)
}

// DownloadInfo is the resolved download view of a file.
type DownloadInfo struct {
	FileID       string   `json:"file_id"`
	Filename     string   `json:"filename"`
	FileSize     int64    `json:"file_size"`
	Checksum     string   `json:"checksum"`
	DownloadURLs []string `json:"download_urls"`
}

// ResolveDownload returns direct download URLs for all replicas that are
// active and whose node is currently active in the registry. Replicas
// stale-active on a dead node are excluded.
func (c *Coordinator) ResolveDownload(fileID string) (*DownloadInfo, error) {
	file, err := c.store.GetFile(fileID)
	if err != nil {
		return nil, err
	}

	activeNodes, err := c.store.ListActiveNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	activeIDs := make(map[string]bool, len(activeNodes))
	for _, node := range activeNodes {
		activeIDs[node.NodeID] = true
	}

	replicas, err := c.store.ListReplicasByFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list replicas: %w", err)
	}

	info := &DownloadInfo{
		FileID:   file.FileID,
		Filename: file.Filename,
		FileSize: file.FileSize,
		Checksum: file.Checksum,
	}
	for _, r := range replicas {
		if r.Status == types.ReplicaActive && activeIDs[r.NodeID] {
			info.DownloadURLs = append(info.DownloadURLs,
				fmt.Sprintf("%s/download/%s", r.NodeAddress, fileID))
		}
	}
	if len(info.DownloadURLs) == 0 {
		return nil, types.ErrNoActiveReplica
	}
	return info, nil
}

// RedirectDownload resolves the file and returns a direct URL to its first
// eligible replica, carrying the original filename for the node to serve.
func (c *Coordinator) RedirectDownload(fileID string) (string, error) {
	info, err := c.ResolveDownload(fileID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s?download_name=%s", info.DownloadURLs[0], url.QueryEscape(info.Filename)), nil
}

// DeleteFile notifies every replica's node to drop its local copy, then
// removes the file and replica rows unconditionally. Node notifications
// are fire-and-forget.
func (c *Coordinator) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := c.store.GetFile(fileID); err != nil {
		return err
	}
	replicas, err := c.store.ListReplicasByFile(fileID)
	if err != nil {
		return fmt.Errorf("failed to list replicas: %w", err)
	}
	for _, r := range replicas {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.DeleteTimeout)
		if err := c.nodes.Delete(dctx, r.NodeAddress, fileID); err != nil {
			log.Printf("[DELETE] notify %s about %s failed: %v", r.NodeID, fileID, err)
		}
		cancel()
	}
	return c.store.DeleteFile(fileID)
}

// DeleteAllFiles deletes every file in the system and returns the count.
func (c *Coordinator) DeleteAllFiles(ctx context.Context) (int, error) {
	files, _, err := c.store.ListFiles(0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list files: %w", err)
	}
	deleted := 0
	for _, f := range files {
		if err := c.DeleteFile(ctx, f.FileID); err != nil {
			log.Printf("[DELETE] failed to delete %s: %v", f.FileID, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// FileDetail is a file together with its replica rows.
type FileDetail struct {
	*types.File
	Replicas       []*types.Replica `json:"replicas"`
	ActiveReplicas int              `json:"active_replicas"`
	ReplicaCount   int              `json:"replica_count"`
}

// FileDetail returns the file with its replicas and replica counts.
func (c *Coordinator) FileDetail(fileID string) (*FileDetail, error) {
	file, err := c.store.GetFile(fileID)
	if err != nil {
		return nil, err
	}
	return c.detailFor(file)
}

// ListFiles returns a page of file details plus the total file count.
func (c *Coordinator) ListFiles(limit, offset int) ([]*FileDetail, int, error) {
	files, total, err := c.store.ListFiles(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	details := make([]*FileDetail, 0, len(files))
	for _, f := range files {
		detail, err := c.detailFor(f)
		if err != nil {
			return nil, 0, err
		}
		details = append(details, detail)
	}
	return details, total, nil
}

func (c *Coordinator) detailFor(file *types.File) (*FileDetail, error) {
	replicas, err := c.store.ListReplicasByFile(file.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list replicas: %w", err)
	}
	detail := &FileDetail{File: file, Replicas: replicas, ReplicaCount: len(replicas)}
	for _, r := range replicas {
		if r.Status == types.ReplicaActive {
			detail.ActiveReplicas++
		}
	}
	if detail.Replicas == nil {
		detail.Replicas = []*types.Replica{}
	}
	return detail, nil
}

// Stats returns the aggregate system view.
func (c *Coordinator) Stats() (*types.Stats, error) {
	return c.store.Stats()
}

// History returns the most recent upload records.
func (c *Coordinator) History(limit int) ([]*types.UploadRecord, error) {
	return c.store.UploadHistory(limit)
}
