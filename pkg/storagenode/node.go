// Package storagenode implements a storage node: local byte storage with
// checksums, the peer-facing HTTP API, and the registration/heartbeat
// protocol against the naming service.
package storagenode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sys/unix"
)

// Config describes one storage node.
type Config struct {
	NodeID     string
	Address    string // advertised base URL, e.g. http://10.0.0.5:5001
	StorageDir string
	NamingURL  string

	// MaxStorage caps the reported capacity; 0 means unlimited and the
	// node reports free disk space instead.
	MaxStorage int64

	// HeartbeatInterval defaults to 10s.
	HeartbeatInterval time.Duration
}

// Node is a running storage node.
type Node struct {
	cfg    Config
	router *mux.Router
	naming *namingClient
}

// New creates a storage node and its storage directory.
func New(cfg Config) (*Node, error) {
	if cfg.NodeID == "" || cfg.StorageDir == "" {
		return nil, fmt.Errorf("node id and storage directory are required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	n := &Node{
		cfg:    cfg,
		router: mux.NewRouter(),
		naming: newNamingClient(cfg.NamingURL),
	}
	n.setupRoutes()
	return n, nil
}

// Router returns the node's HTTP handler, mainly for tests.
func (n *Node) Router() http.Handler {
	return n.router
}

func (n *Node) filePath(fileID string) (string, error) {
	if fileID == "" || fileID != filepath.Base(fileID) || strings.HasPrefix(fileID, ".") {
		return "", fmt.Errorf("invalid file id %q", fileID)
	}
	return filepath.Join(n.cfg.StorageDir, fileID), nil
}

// SaveFile writes the bytes and a filename sidecar, returning the sha256
// checksum and size.
func (n *Node) SaveFile(fileID, filename string, data []byte) (string, int64, error) {
	path, err := n.filePath(fileID)
	if err != nil {
		return "", 0, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}
	if filename != "" {
		if err := os.WriteFile(path+".meta", []byte(filename), 0644); err != nil {
			return "", 0, fmt.Errorf("failed to write file metadata: %w", err)
		}
	}
	checksum, err := n.Checksum(fileID)
	if err != nil {
		return "", 0, err
	}
	return checksum, int64(len(data)), nil
}

// Checksum computes the sha256 hex digest of a stored file.
func (n *Node) Checksum(fileID string) (string, error) {
	path, err := n.filePath(fileID)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OriginalFilename returns the stored filename sidecar, or the file ID if
// no sidecar exists.
func (n *Node) OriginalFilename(fileID string) string {
	path, err := n.filePath(fileID)
	if err != nil {
		return fileID
	}
	data, err := os.ReadFile(path + ".meta")
	if err != nil {
		return fileID
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return fileID
	}
	return name
}

// DeleteLocal removes a stored file and its sidecar, reporting whether the
// file existed.
func (n *Node) DeleteLocal(fileID string) bool {
	path, err := n.filePath(fileID)
	if err != nil {
		return false
	}
	existed := os.Remove(path) == nil
	os.Remove(path + ".meta")
	return existed
}

// UsedSpace sums the sizes of all stored files.
func (n *Node) UsedSpace() int64 {
	var total int64
	entries, err := os.ReadDir(n.cfg.StorageDir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		total += info.Size()
	}
	return total
}

// FileCount counts stored files, excluding filename sidecars.
func (n *Node) FileCount() int {
	entries, err := os.ReadDir(n.cfg.StorageDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasSuffix(entry.Name(), ".meta") {
			count++
		}
	}
	return count
}

// AvailableSpace is the capacity reported in heartbeats: the configured
// cap minus usage, or free disk space when uncapped.
func (n *Node) AvailableSpace() int64 {
	if n.cfg.MaxStorage > 0 {
		available := n.cfg.MaxStorage - n.UsedSpace()
		if available < 0 {
			return 0
		}
		return available
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(n.cfg.StorageDir, &stat); err != nil {
		return 0
	}
	return int64(stat.Bavail) * stat.Bsize
}
