package storagenode

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
)

// setupRoutes configures the peer-facing HTTP routes.
func (n *Node) setupRoutes() {
	n.router.HandleFunc("/upload/{file_id}", n.handleUpload).Methods("POST")
	n.router.HandleFunc("/download/{file_id}", n.handleDownload).Methods("GET")
	n.router.HandleFunc("/delete/{file_id}", n.handleDelete).Methods("DELETE")
	n.router.HandleFunc("/verify/{file_id}", n.handleVerify).Methods("GET")
	n.router.HandleFunc("/health", n.handleHealth).Methods("GET")
	n.router.HandleFunc("/stats", n.handleStats).Methods("GET")
}

func nodeWriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (n *Node) handleUpload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]

	file, header, err := r.FormFile("file")
	if err != nil {
		nodeWriteJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		nodeWriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	const mb = 1024 * 1024
	available := n.AvailableSpace()
	if int64(len(data)) > available {
		nodeWriteJSON(w, http.StatusInsufficientStorage, map[string]interface{}{
			"error":        "Insufficient storage space",
			"message":      fmt.Sprintf("node %s does not have enough space", n.cfg.NodeID),
			"file_size_mb": float64(len(data)) / mb,
			"available_mb": float64(available) / mb,
			"used_mb":      float64(n.UsedSpace()) / mb,
		})
		return
	}

	checksum, size, err := n.SaveFile(fileID, header.Filename, data)
	if err != nil {
		nodeWriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// Tell the naming service this replica is now live. Best-effort: a
	// client-driven confirm or the next verification sweep also works.
	if err := n.naming.ConfirmUpload(n.cfg.NodeID, fileID, checksum); err != nil {
		log.Printf("[UPLOAD] confirm for %s failed: %v", fileID, err)
	}

	log.Printf("[UPLOAD] stored %s (%d bytes) as %q", fileID, size, header.Filename)
	nodeWriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"file_id":  fileID,
		"checksum": checksum,
		"size":     size,
	})
}

func (n *Node) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	path, err := n.filePath(fileID)
	if err != nil {
		nodeWriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := os.Stat(path); err != nil {
		nodeWriteJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}

	name := r.URL.Query().Get("download_name")
	if name == "" {
		name = n.OriginalFilename(fileID)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func (n *Node) handleDelete(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	if !n.DeleteLocal(fileID) {
		nodeWriteJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}
	log.Printf("[DELETE] removed %s", fileID)
	nodeWriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (n *Node) handleVerify(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	path, err := n.filePath(fileID)
	if err != nil {
		nodeWriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		nodeWriteJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}
	checksum, err := n.Checksum(fileID)
	if err != nil {
		nodeWriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	nodeWriteJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":  fileID,
		"checksum": checksum,
		"size":     info.Size(),
		"exists":   true,
	})
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	used := n.UsedSpace()
	percentage := 0.0
	if n.cfg.MaxStorage > 0 {
		percentage = float64(used) / float64(n.cfg.MaxStorage) * 100
	}
	nodeWriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"node_id":            n.cfg.NodeID,
		"available_space":    n.AvailableSpace(),
		"used_space":         used,
		"max_storage":        n.cfg.MaxStorage,
		"file_count":         n.FileCount(),
		"storage_percentage": percentage,
	})
}

func (n *Node) handleStats(w http.ResponseWriter, r *http.Request) {
	nodeWriteJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":         n.cfg.NodeID,
		"storage_dir":     n.cfg.StorageDir,
		"available_space": n.AvailableSpace(),
		"file_count":      n.FileCount(),
	})
}
