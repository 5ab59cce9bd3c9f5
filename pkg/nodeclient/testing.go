package nodeclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// FakeCluster is an in-memory implementation of API for tests. It mimics a
// set of storage nodes keyed by address and records push/delete traffic.
type FakeCluster struct {
	mu      sync.Mutex
	files   map[string]map[string][]byte
	down    map[string]bool
	pushes  []string
	deletes []string
}

// NewFakeCluster creates an empty fake node cluster.
func NewFakeCluster() *FakeCluster {
	return &FakeCluster{
		files: make(map[string]map[string][]byte),
		down:  make(map[string]bool),
	}
}

// AddFile seeds a file's bytes on the node at addr.
func (f *FakeCluster) AddFile(addr, fileID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[addr] == nil {
		f.files[addr] = make(map[string][]byte)
	}
	f.files[addr][fileID] = data
}

// HasFile reports whether the node at addr holds the file.
func (f *FakeCluster) HasFile(addr, fileID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[addr][fileID]
	return ok
}

// SetDown makes every call against addr fail, as if the node were offline.
func (f *FakeCluster) SetDown(addr string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[addr] = down
}

// Pushes returns the recorded "addr/fileID" push calls in order.
func (f *FakeCluster) Pushes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushes...)
}

// Deletes returns the recorded "addr/fileID" delete calls in order.
func (f *FakeCluster) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func fakeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify implements API.
func (f *FakeCluster) Verify(_ context.Context, addr, fileID string) (*VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[addr] {
		return nil, fmt.Errorf("node %s is down", addr)
	}
	data, ok := f.files[addr][fileID]
	if !ok {
		return nil, fmt.Errorf("node returned status 404")
	}
	return &VerifyResult{
		FileID:   fileID,
		Checksum: fakeChecksum(data),
		Size:     int64(len(data)),
		Exists:   true,
	}, nil
}

// Fetch implements API.
func (f *FakeCluster) Fetch(_ context.Context, addr, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[addr] {
		return nil, fmt.Errorf("node %s is down", addr)
	}
	data, ok := f.files[addr][fileID]
	if !ok {
		return nil, fmt.Errorf("node returned status 404")
	}
	return append([]byte(nil), data...), nil
}

// Push implements API.
func (f *FakeCluster) Push(_ context.Context, addr, fileID, _ string, data []byte) (*PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[addr] {
		return nil, fmt.Errorf("node %s is down", addr)
	}
	if f.files[addr] == nil {
		f.files[addr] = make(map[string][]byte)
	}
	f.files[addr][fileID] = append([]byte(nil), data...)
	f.pushes = append(f.pushes, addr+"/"+fileID)
	return &PushResult{Checksum: fakeChecksum(data), Size: int64(len(data))}, nil
}

// Delete implements API.
func (f *FakeCluster) Delete(_ context.Context, addr, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, addr+"/"+fileID)
	if f.down[addr] {
		return fmt.Errorf("node %s is down", addr)
	}
	delete(f.files[addr], fileID)
	return nil
}
