package storagenode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// errUnknownNode is returned when the naming service does not recognise
// this node, which happens after the service loses or expires our
// registration.
var errUnknownNode = errors.New("naming service does not know this node")

// namingClient talks to the naming service's node API.
type namingClient struct {
	baseURL string
	http    *http.Client
}

func newNamingClient(baseURL string) *namingClient {
	return &namingClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *namingClient) postJSON(path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request to naming service failed: %w", err)
	}
	return resp, nil
}

// Register announces the node to the naming service.
func (c *namingClient) Register(nodeID, address string) error {
	resp, err := c.postJSON("/api/nodes/register", map[string]string{
		"node_id":      nodeID,
		"node_address": address,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registration rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Heartbeat reports liveness and capacity.
func (c *namingClient) Heartbeat(nodeID string, availableSpace int64, fileCount int) error {
	resp, err := c.postJSON("/api/nodes/heartbeat", map[string]interface{}{
		"node_id":         nodeID,
		"available_space": availableSpace,
		"file_count":      fileCount,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errUnknownNode
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat rejected with status %d", resp.StatusCode)
	}
	return nil
}

// ConfirmUpload reports a stored replica and its checksum.
func (c *namingClient) ConfirmUpload(nodeID, fileID, checksum string) error {
	resp, err := c.postJSON("/api/upload/confirm", map[string]string{
		"file_id":  fileID,
		"node_id":  nodeID,
		"checksum": checksum,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("confirm rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Run registers with the naming service, starts the heartbeat loop and
// serves the peer API until ctx is cancelled.
func (n *Node) Run(ctx context.Context, listenAddr string) error {
	if err := n.naming.Register(n.cfg.NodeID, n.cfg.Address); err != nil {
		log.Printf("[NODE] initial registration failed: %v", err)
	} else {
		log.Printf("[NODE] registered with naming service as %s", n.cfg.NodeID)
	}

	go n.heartbeatLoop(ctx)

	srv := &http.Server{Addr: listenAddr, Handler: n.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[NODE] %s serving on %s (storage %s)", n.cfg.NodeID, listenAddr, n.cfg.StorageDir)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// heartbeatLoop reports capacity every interval. A 404 means the naming
// service forgot us, so re-register before the next beat.
func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := n.naming.Heartbeat(n.cfg.NodeID, n.AvailableSpace(), n.FileCount())
			if errors.Is(err, errUnknownNode) {
				log.Printf("[NODE] naming service lost our registration, re-registering")
				if err := n.naming.Register(n.cfg.NodeID, n.cfg.Address); err != nil {
					log.Printf("[NODE] re-registration failed: %v", err)
				}
				continue
			}
			if err != nil {
				log.Printf("[NODE] heartbeat failed: %v", err)
			}
		}
	}
}
