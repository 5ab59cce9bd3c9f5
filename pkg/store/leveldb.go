package store

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// Key layout:
//
//	node/<nodeID>              -> StorageNode JSON
//	file/<fileID>              -> File JSON
//	replica/<fileID>/<nodeID>  -> Replica JSON
//	history/<seq>              -> UploadRecord JSON (seq descends with time)
const (
	nodePrefix    = "node/"
	filePrefix    = "file/"
	replicaPrefix = "replica/"
	historyPrefix = "history/"
)

const lockStripes = 64

// LevelStore implements Store on a local goleveldb database. Single-key
// reads and writes are atomic in leveldb itself; read-modify-write
// sequences are serialized through striped per-key locks.
type LevelStore struct {
	db    *leveldb.DB
	locks [lockStripes]sync.Mutex
}

// OpenLevelStore opens (or creates) the metadata database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}
	return &LevelStore{db: db}, nil
}

// Close shuts the database down.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

func (s *LevelStore) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *LevelStore) getJSON(key string, v interface{}) (bool, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *LevelStore) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func nodeKey(nodeID string) string { return nodePrefix + nodeID }
func fileKey(fileID string) string { return filePrefix + fileID }

func replicaKey(fileID, nodeID string) string {
	return replicaPrefix + fileID + "/" + nodeID
}

// UpsertNode registers or re-registers a node, forcing status active.
func (s *LevelStore) UpsertNode(nodeID, address string) (bool, error) {
	key := nodeKey(nodeID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var node types.StorageNode
	found, err := s.getJSON(key, &node)
	if err != nil {
		return false, err
	}

	wasInactive := found && node.Status == types.NodeInactive
	if !found {
		node = types.StorageNode{NodeID: nodeID}
	}
	node.Address = address
	node.Status = types.NodeActive
	node.LastHeartbeat = time.Now().UTC()

	return wasInactive, s.putJSON(key, &node)
}

// GetNode returns a node record or types.ErrNodeNotFound.
func (s *LevelStore) GetNode(nodeID string) (*types.StorageNode, error) {
	var node types.StorageNode
	found, err := s.getJSON(nodeKey(nodeID), &node)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.ErrNodeNotFound
	}
	return &node, nil
}

// RecordHeartbeat updates capacity and liveness for a known node.
func (s *LevelStore) RecordHeartbeat(nodeID string, availableSpace int64, fileCount int) (bool, error) {
	key := nodeKey(nodeID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var node types.StorageNode
	found, err := s.getJSON(key, &node)
	if err != nil {
		return false, err
	}
	if !found {
		return false, types.ErrNodeNotFound
	}

	becameActive := node.Status == types.NodeInactive
	node.Status = types.NodeActive
	node.AvailableSpace = availableSpace
	node.FileCount = fileCount
	node.LastHeartbeat = time.Now().UTC()

	return becameActive, s.putJSON(key, &node)
}

// SetNodeStatus overrides a node's liveness status.
func (s *LevelStore) SetNodeStatus(nodeID string, status types.NodeStatus) error {
	key := nodeKey(nodeID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var node types.StorageNode
	found, err := s.getJSON(key, &node)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrNodeNotFound
	}
	node.Status = status
	return s.putJSON(key, &node)
}

// ListNodes returns all registered nodes.
func (s *LevelStore) ListNodes() ([]*types.StorageNode, error) {
	var nodes []*types.StorageNode
	iter := s.db.NewIterator(util.BytesPrefix([]byte(nodePrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var node types.StorageNode
		if err := json.Unmarshal(iter.Value(), &node); err != nil {
			return nil, fmt.Errorf("failed to decode node record: %w", err)
		}
		nodes = append(nodes, &node)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("node scan failed: %w", err)
	}
	return nodes, nil
}

// ListActiveNodes returns all nodes with status active.
func (s *LevelStore) ListActiveNodes() ([]*types.StorageNode, error) {
	nodes, err := s.ListNodes()
	if err != nil {
		return nil, err
	}
	active := nodes[:0]
	for _, node := range nodes {
		if node.Status == types.NodeActive {
			active = append(active, node)
		}
	}
	return active, nil
}

// CreateFile stores a new file reservation.
func (s *LevelStore) CreateFile(f *types.File) error {
	return s.putJSON(fileKey(f.FileID), f)
}

// GetFile returns a file record or types.ErrFileNotFound.
func (s *LevelStore) GetFile(fileID string) (*types.File, error) {
	var f types.File
	found, err := s.getJSON(fileKey(fileID), &f)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.ErrFileNotFound
	}
	return &f, nil
}

// SetFileChecksum records the checksum on first confirmation only.
func (s *LevelStore) SetFileChecksum(fileID, checksum string) error {
	key := fileKey(fileID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var f types.File
	found, err := s.getJSON(key, &f)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrFileNotFound
	}
	if f.Checksum != "" {
		return nil
	}
	f.Checksum = checksum
	return s.putJSON(key, &f)
}

// DeleteFile removes the file record and all its replica rows in one batch.
func (s *LevelStore) DeleteFile(fileID string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(fileKey(fileID)))

	prefix := []byte(replicaPrefix + fileID + "/")
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("replica scan failed: %w", err)
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileID, err)
	}
	return nil
}

// ListFiles returns a page of files ordered newest first, plus the total.
func (s *LevelStore) ListFiles(limit, offset int) ([]*types.File, int, error) {
	var files []*types.File
	iter := s.db.NewIterator(util.BytesPrefix([]byte(filePrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var f types.File
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return nil, 0, fmt.Errorf("failed to decode file record: %w", err)
		}
		files = append(files, &f)
	}
	if err := iter.Error(); err != nil {
		return nil, 0, fmt.Errorf("file scan failed: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].UploadTimestamp.After(files[j].UploadTimestamp)
	})

	total := len(files)
	if offset >= total {
		return nil, total, nil
	}
	files = files[offset:]
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, total, nil
}

// AddReplica stores a new replica row.
func (s *LevelStore) AddReplica(r *types.Replica) error {
	return s.putJSON(replicaKey(r.FileID, r.NodeID), r)
}

// MarkReplicaActive atomically creates or promotes the replica row.
func (s *LevelStore) MarkReplicaActive(fileID, nodeID, nodeAddress string) error {
	key := replicaKey(fileID, nodeID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var r types.Replica
	found, err := s.getJSON(key, &r)
	if err != nil {
		return err
	}
	if !found {
		r = types.Replica{
			FileID:      fileID,
			NodeID:      nodeID,
			NodeAddress: nodeAddress,
			CreatedAt:   time.Now().UTC(),
		}
	}
	r.Status = types.ReplicaActive
	if nodeAddress != "" {
		r.NodeAddress = nodeAddress
	}
	return s.putJSON(key, &r)
}

// UpdateReplicaStatus updates an existing replica row; missing rows are a
// no-op, matching UPDATE semantics.
func (s *LevelStore) UpdateReplicaStatus(fileID, nodeID string, status types.ReplicaStatus) error {
	key := replicaKey(fileID, nodeID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var r types.Replica
	found, err := s.getJSON(key, &r)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	r.Status = status
	return s.putJSON(key, &r)
}

// ListReplicasByFile returns all replica rows for a file.
func (s *LevelStore) ListReplicasByFile(fileID string) ([]*types.Replica, error) {
	return s.scanReplicas(replicaPrefix+fileID+"/", func(*types.Replica) bool { return true })
}

// ListReplicasByNode returns all replica rows placed on a node.
func (s *LevelStore) ListReplicasByNode(nodeID string) ([]*types.Replica, error) {
	return s.scanReplicas(replicaPrefix, func(r *types.Replica) bool {
		return r.NodeID == nodeID
	})
}

func (s *LevelStore) scanReplicas(prefix string, keep func(*types.Replica) bool) ([]*types.Replica, error) {
	var replicas []*types.Replica
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var r types.Replica
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("failed to decode replica record: %w", err)
		}
		if keep(&r) {
			replicas = append(replicas, &r)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("replica scan failed: %w", err)
	}
	return replicas, nil
}

// OrphanedFiles returns files with zero active replicas. Files whose
// replicas are all still pending are held back until the newest
// reservation is older than pendingTTL, so in-flight uploads survive the
// sweep.
func (s *LevelStore) OrphanedFiles(pendingTTL time.Duration) ([]*types.File, error) {
	files, _, err := s.ListFiles(0, 0)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-pendingTTL)
	var orphans []*types.File
	for _, f := range files {
		replicas, err := s.ListReplicasByFile(f.FileID)
		if err != nil {
			return nil, err
		}
		active := 0
		newest := time.Time{}
		for _, r := range replicas {
			if r.Status == types.ReplicaActive {
				active++
			}
			if r.CreatedAt.After(newest) {
				newest = r.CreatedAt
			}
		}
		if active > 0 {
			continue
		}
		if len(replicas) > 0 && newest.After(cutoff) {
			continue
		}
		orphans = append(orphans, f)
	}
	return orphans, nil
}

// Stats aggregates node and file counts for /api/stats.
func (s *LevelStore) Stats() (*types.Stats, error) {
	nodes, err := s.ListNodes()
	if err != nil {
		return nil, err
	}
	files, total, err := s.ListFiles(0, 0)
	if err != nil {
		return nil, err
	}

	stats := &types.Stats{TotalNodes: len(nodes), TotalFiles: total}
	for _, node := range nodes {
		if node.Status == types.NodeActive {
			stats.ActiveNodes++
		}
	}
	for _, f := range files {
		stats.TotalSize += f.FileSize
	}

	history, err := s.UploadHistory(0)
	if err != nil {
		return nil, err
	}
	hourAgo := time.Now().Add(-1 * time.Hour)
	for _, rec := range history {
		if rec.UploadedAt.After(hourAgo) {
			stats.RecentUploads++
		}
	}
	return stats, nil
}

// AppendUploadRecord stores one history row. Keys descend with time so a
// forward prefix scan yields newest entries first.
func (s *LevelStore) AppendUploadRecord(rec *types.UploadRecord) error {
	seq := uint64(math.MaxInt64 - rec.UploadedAt.UnixNano())
	key := fmt.Sprintf("%s%020d/%s", historyPrefix, seq, rec.FileID)
	return s.putJSON(key, rec)
}

// UploadHistory returns the most recent upload records, newest first.
// limit <= 0 means no limit.
func (s *LevelStore) UploadHistory(limit int) ([]*types.UploadRecord, error) {
	var records []*types.UploadRecord
	iter := s.db.NewIterator(util.BytesPrefix([]byte(historyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var rec types.UploadRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode history record: %w", err)
		}
		records = append(records, &rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("history scan failed: %w", err)
	}
	return records, nil
}
