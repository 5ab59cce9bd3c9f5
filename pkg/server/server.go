// Package server exposes the naming service HTTP/JSON API.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/coordinator"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/registry"
	"github.com/SatriaRidhoRamadana/Distribution-File-System-Updated/pkg/types"
)

// Server routes the naming service API onto the registry and coordinator.
type Server struct {
	registry *registry.Registry
	coord    *coordinator.Coordinator
	router   *mux.Router
}

// NewServer creates the naming service HTTP server.
func NewServer(reg *registry.Registry, coord *coordinator.Coordinator) *Server {
	s := &Server{
		registry: reg,
		coord:    coord,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/nodes/register", s.handleRegisterNode).Methods("POST")
	s.router.HandleFunc("/api/nodes/heartbeat", s.handleHeartbeat).Methods("POST")
	s.router.HandleFunc("/api/nodes", s.handleListNodes).Methods("GET")

	s.router.HandleFunc("/api/upload/request", s.handleUploadRequest).Methods("POST")
	s.router.HandleFunc("/api/upload/confirm", s.handleUploadConfirm).Methods("POST")
	s.router.HandleFunc("/api/upload/cancel", s.handleUploadCancel).Methods("POST")

	s.router.HandleFunc("/api/download/{file_id}", s.handleResolveDownload).Methods("GET")
	s.router.HandleFunc("/download/{file_id}", s.handleRedirectDownload).Methods("GET")

	s.router.HandleFunc("/api/files", s.handleListFiles).Methods("GET")
	s.router.HandleFunc("/api/files/delete-all", s.handleDeleteAllFiles).Methods("POST")
	s.router.HandleFunc("/api/files/{file_id}", s.handleGetFile).Methods("GET")
	s.router.HandleFunc("/api/files/{file_id}", s.handleDeleteFile).Methods("DELETE")

	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/history", s.handleHistory).Methods("GET")
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("Starting naming service on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

const mb = 1024 * 1024

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "naming-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type registerRequest struct {
	NodeID      string `json:"node_id"`
	NodeAddress string `json:"node_address"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NodeID == "" || req.NodeAddress == "" {
		writeError(w, http.StatusBadRequest, "node_id and node_address required")
		return
	}
	if err := s.registry.RegisterOrUpdate(req.NodeID, req.NodeAddress); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Node " + req.NodeID + " registered",
	})
}

type heartbeatRequest struct {
	NodeID         string `json:"node_id"`
	AvailableSpace int64  `json:"available_space"`
	FileCount      int    `json:"file_count"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "node_id required")
		return
	}
	err := s.registry.RecordHeartbeat(req.NodeID, req.AvailableSpace, req.FileCount)
	if errors.Is(err, types.ErrNodeNotFound) {
		writeError(w, http.StatusNotFound, "Node not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.registry.ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if nodes == nil {
		nodes = []*types.StorageNode{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

type uploadRequest struct {
	Filename          string `json:"filename"`
	FileSize          int64  `json:"file_size"`
	ReplicationFactor int    `json:"replication_factor"`
}

func (s *Server) handleUploadRequest(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" || req.FileSize <= 0 {
		writeError(w, http.StatusBadRequest, "filename and file_size required")
		return
	}
	if req.ReplicationFactor == 0 {
		req.ReplicationFactor = 2
	}

	plan, err := s.coord.RequestUpload(req.Filename, req.FileSize, req.ReplicationFactor)
	if err != nil {
		s.writeUploadError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "success",
		"file_id":      plan.FileID,
		"upload_nodes": plan.Targets,
	})
}

// writeUploadError maps placement failures onto the API status contract:
// 413 oversized, 507 not enough capacity, 503 not enough active nodes.
func (s *Server) writeUploadError(w http.ResponseWriter, req uploadRequest, err error) {
	var sizeErr *types.SizeLimitError
	if errors.As(err, &sizeErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
			"error":        "File too large",
			"message":      sizeErr.Error(),
			"max_size_mb":  float64(sizeErr.MaxSize) / mb,
			"file_size_mb": float64(sizeErr.FileSize) / mb,
			"status":       "size_limit_exceeded",
		})
		return
	}
	var capErr *types.CapacityError
	if errors.As(err, &capErr) {
		writeJSON(w, http.StatusInsufficientStorage, map[string]interface{}{
			"error":                      "Storage nodes do not have enough space",
			"message":                    capErr.Error(),
			"file_size_mb":               float64(capErr.FileSize) / mb,
			"required_space_mb":          float64(capErr.FileSize+capErr.Buffer) / mb,
			"required_nodes":             capErr.RequiredNodes,
			"available_nodes_with_space": capErr.NodesWithSpace,
			"nodes_info":                 capErr.NodesInfo,
			"status":                     "storage_full",
		})
		return
	}
	var nodesErr *types.ActiveNodesError
	if errors.As(err, &nodesErr) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":     nodesErr.Error(),
			"required":  nodesErr.Required,
			"available": nodesErr.Available,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

type confirmRequest struct {
	FileID   string `json:"file_id"`
	NodeID   string `json:"node_id"`
	Checksum string `json:"checksum"`
}

func (s *Server) handleUploadConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" || req.NodeID == "" || req.Checksum == "" {
		writeError(w, http.StatusBadRequest, "file_id, node_id and checksum required")
		return
	}
	err := s.coord.ConfirmUpload(req.FileID, req.NodeID, req.Checksum)
	if errors.Is(err, types.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type cancelRequest struct {
	FileID string `json:"file_id"`
	Reason string `json:"reason"`
}

func (s *Server) handleUploadCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id required")
		return
	}
	if req.Reason == "" {
		req.Reason = "Unknown"
	}
	if err := s.coord.CancelUpload(req.FileID, req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Upload cancelled and cleaned up",
	})
}

func (s *Server) handleResolveDownload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	info, err := s.coord.ResolveDownload(fileID)
	if errors.Is(err, types.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if errors.Is(err, types.ErrNoActiveReplica) {
		writeError(w, http.StatusServiceUnavailable, "No active replica available")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRedirectDownload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	target, err := s.coord.RedirectDownload(fileID)
	if errors.Is(err, types.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if errors.Is(err, types.ErrNoActiveReplica) {
		writeError(w, http.StatusServiceUnavailable, "No active replica available")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	files, total, err := s.coord.ListFiles(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []*coordinator.FileDetail{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"files":  files,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	detail, err := s.coord.FileDetail(fileID)
	if errors.Is(err, types.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	err := s.coord.DeleteFile(r.Context(), fileID)
	if errors.Is(err, types.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleDeleteAllFiles(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.coord.DeleteAllFiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"deleted_count": deleted,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_nodes":      stats.TotalNodes,
		"active_nodes":     stats.ActiveNodes,
		"total_files":      stats.TotalFiles,
		"total_size_bytes": stats.TotalSize,
		"total_size_mb":    math.Round(float64(stats.TotalSize)/mb*100) / 100,
		"recent_uploads":   stats.RecentUploads,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	history, err := s.coord.History(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []*types.UploadRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}
