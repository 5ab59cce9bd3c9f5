package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/coordinator"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/nodeclient"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/placement"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/registry"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/store"
)

type testEnv struct {
	server  *Server
	store   store.Store
	cluster *nodeclient.FakeCluster
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.OpenLevelStore(filepath.Join(t.TempDir(), "metadata"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cluster := nodeclient.NewFakeCluster()
	reg := registry.New(st, 30*time.Second)
	coord := coordinator.New(st, placement.MostAvailable{}, cluster, coordinator.Config{MaxFileSize: 10 * mb})
	return &testEnv{server: NewServer(reg, coord), store: st, cluster: cluster}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (env *testEnv) registerNode(t *testing.T, nodeID string, spaceMB int64) {
	t.Helper()
	rec := env.do(t, "POST", "/api/nodes/register", map[string]string{
		"node_id":      nodeID,
		"node_address": "http://" + nodeID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, "POST", "/api/nodes/heartbeat", map[string]interface{}{
		"node_id":         nodeID,
		"available_space": spaceMB * mb,
		"file_count":      0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func (env *testEnv) requestUpload(t *testing.T, filename string, size int64, factor int) map[string]interface{} {
	t.Helper()
	rec := env.do(t, "POST", "/api/upload/request", map[string]interface{}{
		"filename":           filename,
		"file_size":          size,
		"replication_factor": factor,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestNodeEndpoints(t *testing.T) {
	env := setupTestServer(t)

	t.Run("register requires both fields", func(t *testing.T) {
		rec := env.do(t, "POST", "/api/nodes/register", map[string]string{"node_id": "n1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("heartbeat for unknown node", func(t *testing.T) {
		rec := env.do(t, "POST", "/api/nodes/heartbeat", map[string]interface{}{
			"node_id": "ghost", "available_space": mb,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("register then list", func(t *testing.T) {
		env.registerNode(t, "n1", 500)
		rec := env.do(t, "GET", "/api/nodes", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		nodes := decode(t, rec)["nodes"].([]interface{})
		require.Len(t, nodes, 1)
		node := nodes[0].(map[string]interface{})
		assert.Equal(t, "n1", node["node_id"])
		assert.Equal(t, "active", node["status"])
	})
}

func TestUploadFlow(t *testing.T) {
	env := setupTestServer(t)
	env.registerNode(t, "n1", 500)
	env.registerNode(t, "n2", 300)
	env.registerNode(t, "n3", 100)

	resp := env.requestUpload(t, "report.pdf", 4*mb, 2)
	fileID := resp["file_id"].(string)
	targets := resp["upload_nodes"].([]interface{})
	require.Len(t, targets, 2)
	first := targets[0].(map[string]interface{})
	assert.Equal(t, "n1", first["node_id"])
	assert.Equal(t, fmt.Sprintf("http://n1/upload/%s", fileID), first["upload_url"])

	for _, nodeID := range []string{"n1", "n2"} {
		rec := env.do(t, "POST", "/api/upload/confirm", map[string]string{
			"file_id": fileID, "node_id": nodeID, "checksum": "deadbeef",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, "GET", "/api/files/"+fileID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode(t, rec)
	assert.Equal(t, "report.pdf", detail["filename"])
	assert.Equal(t, float64(2), detail["active_replicas"])
	assert.Equal(t, float64(2), detail["replica_count"])
	assert.Equal(t, "deadbeef", detail["checksum"])
}

func TestUploadErrorContract(t *testing.T) {
	env := setupTestServer(t)

	t.Run("503 when not enough active nodes", func(t *testing.T) {
		env.registerNode(t, "n1", 500)
		rec := env.do(t, "POST", "/api/upload/request", map[string]interface{}{
			"filename": "a.txt", "file_size": mb, "replication_factor": 2,
		})
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, float64(2), body["required"])
		assert.Equal(t, float64(1), body["available"])
	})

	t.Run("507 when nodes lack space", func(t *testing.T) {
		env.registerNode(t, "n2", 1)
		rec := env.do(t, "POST", "/api/upload/request", map[string]interface{}{
			"filename": "b.txt", "file_size": 5 * mb, "replication_factor": 2,
		})
		require.Equal(t, http.StatusInsufficientStorage, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "storage_full", body["status"])
		assert.Equal(t, float64(2), body["required_nodes"])
		assert.Equal(t, float64(1), body["available_nodes_with_space"])
		assert.NotEmpty(t, body["nodes_info"])
	})

	t.Run("413 when file is oversized", func(t *testing.T) {
		rec := env.do(t, "POST", "/api/upload/request", map[string]interface{}{
			"filename": "huge.iso", "file_size": 11 * mb, "replication_factor": 2,
		})
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "size_limit_exceeded", decode(t, rec)["status"])
	})

	t.Run("400 on missing fields", func(t *testing.T) {
		rec := env.do(t, "POST", "/api/upload/request", map[string]interface{}{"filename": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadCancel(t *testing.T) {
	env := setupTestServer(t)
	env.registerNode(t, "n1", 500)

	resp := env.requestUpload(t, "a.txt", mb, 1)
	fileID := resp["file_id"].(string)

	rec := env.do(t, "POST", "/api/upload/cancel", map[string]string{
		"file_id": fileID, "reason": "client gave up",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/files/"+fileID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadEndpoints(t *testing.T) {
	env := setupTestServer(t)
	env.registerNode(t, "n1", 500)

	resp := env.requestUpload(t, "my photo.jpg", mb, 1)
	fileID := resp["file_id"].(string)

	t.Run("503 while the upload is still pending", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/download/"+fileID, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	rec := env.do(t, "POST", "/api/upload/confirm", map[string]string{
		"file_id": fileID, "node_id": "n1", "checksum": "cafe",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("resolve returns direct URLs", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/download/"+fileID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "my photo.jpg", body["filename"])
		urls := body["download_urls"].([]interface{})
		assert.Equal(t, "http://n1/download/"+fileID, urls[0])
	})

	t.Run("redirect carries the original filename", func(t *testing.T) {
		rec := env.do(t, "GET", "/download/"+fileID, nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t,
			"http://n1/download/"+fileID+"?download_name=my+photo.jpg",
			rec.Header().Get("Location"))
	})

	t.Run("404 for unknown file", func(t *testing.T) {
		rec := env.do(t, "GET", "/api/download/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestFileDeletion(t *testing.T) {
	env := setupTestServer(t)
	env.registerNode(t, "n1", 500)
	env.registerNode(t, "n2", 400)

	resp := env.requestUpload(t, "a.txt", mb, 2)
	fileID := resp["file_id"].(string)

	rec := env.do(t, "DELETE", "/api/files/"+fileID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{
		"http://n1/" + fileID,
		"http://n2/" + fileID,
	}, env.cluster.Deletes())

	rec = env.do(t, "DELETE", "/api/files/"+fileID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAllFiles(t *testing.T) {
	env := setupTestServer(t)
	env.registerNode(t, "n1", 500)

	for i := 0; i < 3; i++ {
		env.requestUpload(t, "f.txt", mb, 1)
	}

	rec := env.do(t, "POST", "/api/files/delete-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["deleted_count"])

	rec = env.do(t, "GET", "/api/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["total"])
}

func TestListFilesPagination(t *testing.T) {
	env := setupTestServer(t)
	env.registerNode(t, "n1", 500)

	for i := 0; i < 5; i++ {
		env.requestUpload(t, fmt.Sprintf("f%d.txt", i), mb, 1)
	}

	rec := env.do(t, "GET", "/api/files?limit=2&offset=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(5), body["total"])
	assert.Len(t, body["files"].([]interface{}), 2)

	rec = env.do(t, "GET", "/api/files?limit=2&offset=4", nil)
	body = decode(t, rec)
	assert.Len(t, body["files"].([]interface{}), 1)
}

func TestStatsAndHistoryEndpoints(t *testing.T) {
	env := setupTestServer(t)
	env.registerNode(t, "n1", 500)
	env.registerNode(t, "n2", 400)

	env.requestUpload(t, "a.txt", 3*mb, 1)

	rec := env.do(t, "GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, float64(2), stats["total_nodes"])
	assert.Equal(t, float64(2), stats["active_nodes"])
	assert.Equal(t, float64(1), stats["total_files"])
	assert.Equal(t, float64(3*mb), stats["total_size_bytes"])
	assert.Equal(t, float64(3), stats["total_size_mb"])

	rec = env.do(t, "GET", "/api/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode(t, rec)["history"].([]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, "a.txt", history[0].(map[string]interface{})["filename"])
}
