package recovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/nodeclient"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/store"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

func setupTestEngine(t *testing.T) (*Engine, store.Store, *nodeclient.FakeCluster) {
	t.Helper()
	st, err := store.OpenLevelStore(filepath.Join(t.TempDir(), "metadata"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cluster := nodeclient.NewFakeCluster()
	eng := NewEngine(st, cluster, Config{Pacing: time.Millisecond})
	return eng, st, cluster
}

func addActiveNode(t *testing.T, st store.Store, nodeID, addr string) {
	t.Helper()
	_, err := st.UpsertNode(nodeID, addr)
	require.NoError(t, err)
}

func addFileWithReplica(t *testing.T, st store.Store, fileID, nodeID, addr string, status types.ReplicaStatus) {
	t.Helper()
	_, err := st.GetFile(fileID)
	if err != nil {
		require.NoError(t, st.CreateFile(&types.File{
			FileID:            fileID,
			Filename:          fileID + ".bin",
			FileSize:          4,
			ReplicationFactor: 2,
			UploadTimestamp:   time.Now().UTC(),
		}))
	}
	require.NoError(t, st.AddReplica(&types.Replica{
		FileID:      fileID,
		NodeID:      nodeID,
		NodeAddress: addr,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}))
}

func replicaStatus(t *testing.T, st store.Store, fileID, nodeID string) types.ReplicaStatus {
	t.Helper()
	replicas, err := st.ListReplicasByFile(fileID)
	require.NoError(t, err)
	for _, r := range replicas {
		if r.NodeID == nodeID {
			return r.Status
		}
	}
	return ""
}

func TestTargetedRepair(t *testing.T) {
	eng, st, cluster := setupTestEngine(t)

	addActiveNode(t, st, "n1", "http://n1")
	addActiveNode(t, st, "n2", "http://n2")

	// f1 survives on n2: the probe succeeds and the row is promoted.
	addFileWithReplica(t, st, "f1", "n1", "http://n1", types.ReplicaActive)
	addFileWithReplica(t, st, "f1", "n2", "http://n2", types.ReplicaPending)
	cluster.AddFile("http://n1", "f1", []byte("one"))
	cluster.AddFile("http://n2", "f1", []byte("one"))

	// f2 was lost on n2: the probe fails and the copy protocol restores it.
	addFileWithReplica(t, st, "f2", "n1", "http://n1", types.ReplicaActive)
	addFileWithReplica(t, st, "f2", "n2", "http://n2", types.ReplicaPending)
	cluster.AddFile("http://n1", "f2", []byte("two"))

	eng.RecoverNode(context.Background(), "n2")

	assert.Equal(t, types.ReplicaActive, replicaStatus(t, st, "f1", "n2"))
	assert.Equal(t, types.ReplicaActive, replicaStatus(t, st, "f2", "n2"))
	assert.True(t, cluster.HasFile("http://n2", "f2"))
	assert.Equal(t, []string{"http://n2/f2"}, cluster.Pushes())
}

func TestRedistribution(t *testing.T) {
	eng, st, cluster := setupTestEngine(t)

	addActiveNode(t, st, "n1", "http://n1")
	addActiveNode(t, st, "n2", "http://n2")

	// f1 lives only on n1; n2 rejoining should receive a copy even though
	// the replication factor is already met.
	addFileWithReplica(t, st, "f1", "n1", "http://n1", types.ReplicaActive)
	cluster.AddFile("http://n1", "f1", []byte("payload"))

	eng.RecoverNode(context.Background(), "n2")

	assert.Equal(t, types.ReplicaActive, replicaStatus(t, st, "f1", "n2"))
	assert.True(t, cluster.HasFile("http://n2", "f1"))
}

func TestRedistributionRespectsSpreadCap(t *testing.T) {
	eng, st, cluster := setupTestEngine(t)

	addActiveNode(t, st, "n1", "http://n1")
	addActiveNode(t, st, "n2", "http://n2")

	// f1 already has active replicas on as many nodes as are active
	// (n3 is gone but its replica row is still marked active).
	addFileWithReplica(t, st, "f1", "n1", "http://n1", types.ReplicaActive)
	addFileWithReplica(t, st, "f1", "n3", "http://n3", types.ReplicaActive)
	cluster.AddFile("http://n1", "f1", []byte("payload"))

	eng.RecoverNode(context.Background(), "n2")

	assert.Empty(t, cluster.Pushes())
	assert.Equal(t, types.ReplicaStatus(""), replicaStatus(t, st, "f1", "n2"))
}

func TestCopyWithoutSourceAborts(t *testing.T) {
	eng, st, cluster := setupTestEngine(t)

	addActiveNode(t, st, "n1", "http://n1")
	addActiveNode(t, st, "n2", "http://n2")

	// Only a pending replica exists elsewhere, so there is no source.
	addFileWithReplica(t, st, "f1", "n1", "http://n1", types.ReplicaPending)

	eng.RecoverNode(context.Background(), "n2")

	assert.Empty(t, cluster.Pushes())
	assert.Equal(t, types.ReplicaStatus(""), replicaStatus(t, st, "f1", "n2"))
}

func TestRepairReplica(t *testing.T) {
	eng, st, cluster := setupTestEngine(t)

	addActiveNode(t, st, "n1", "http://n1")
	addActiveNode(t, st, "n2", "http://n2")
	addFileWithReplica(t, st, "f1", "n1", "http://n1", types.ReplicaActive)
	addFileWithReplica(t, st, "f1", "n2", "http://n2", types.ReplicaPending)
	cluster.AddFile("http://n1", "f1", []byte("payload"))

	file, err := st.GetFile("f1")
	require.NoError(t, err)

	ok := eng.RepairReplica(context.Background(), file, "n2", "http://n2")
	assert.True(t, ok)
	assert.True(t, cluster.HasFile("http://n2", "f1"))
	assert.Equal(t, types.ReplicaActive, replicaStatus(t, st, "f1", "n2"))
}

func TestTriggerDeduplication(t *testing.T) {
	eng, _, _ := setupTestEngine(t)

	eng.TriggerRecovery("n1")
	eng.TriggerRecovery("n1")
	eng.TriggerRecovery("n1")

	assert.Len(t, eng.queue, 1)

	// A different node still gets its own slot.
	eng.TriggerRecovery("n2")
	assert.Len(t, eng.queue, 2)
}

func TestRunDrainsQueue(t *testing.T) {
	eng, st, cluster := setupTestEngine(t)

	addActiveNode(t, st, "n1", "http://n1")
	addActiveNode(t, st, "n2", "http://n2")
	addFileWithReplica(t, st, "f1", "n1", "http://n1", types.ReplicaActive)
	cluster.AddFile("http://n1", "f1", []byte("payload"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	eng.TriggerRecovery("n2")

	require.Eventually(t, func() bool {
		return cluster.HasFile("http://n2", "f1")
	}, 2*time.Second, 10*time.Millisecond)

	// Once the run finishes the node can be triggered again.
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return !eng.inFlight["n2"]
	}, 2*time.Second, 10*time.Millisecond)
}
