// Package nodeclient is the naming service's HTTP client for the
// storage-node peer API.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// VerifyResult is a storage node's answer to a verification probe.
type VerifyResult struct {
	FileID   string `json:"file_id"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
	Exists   bool   `json:"exists"`
}

// PushResult is a storage node's answer to an upload.
type PushResult struct {
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// API is the peer-facing surface the core calls on storage nodes. Callers
// bound each call with a context deadline; the per-operation timeouts
// (verify 10-15s, delete 5s, transfers 30s) live with the callers, not here.
type API interface {
	// Verify asks the node whether it still holds the file's bytes.
	Verify(ctx context.Context, nodeAddress, fileID string) (*VerifyResult, error)

	// Fetch downloads the file's bytes from the node.
	Fetch(ctx context.Context, nodeAddress, fileID string) ([]byte, error)

	// Push uploads the file's bytes to the node.
	Push(ctx context.Context, nodeAddress, fileID, filename string, data []byte) (*PushResult, error)

	// Delete asks the node to remove its local copy.
	Delete(ctx context.Context, nodeAddress, fileID string) error
}

// Client implements API over plain HTTP.
type Client struct {
	http *http.Client
}

// New creates a node API client. Timeouts come from caller contexts.
func New() *Client {
	return &Client{http: &http.Client{}}
}

// Verify implements API.
func (c *Client) Verify(ctx context.Context, nodeAddress, fileID string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/verify/%s", nodeAddress, fileID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &result, nil
}

// Fetch implements API.
func (c *Client) Fetch(ctx context.Context, nodeAddress, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/download/%s", nodeAddress, fileID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file bytes: %w", err)
	}
	return data, nil
}

// Push implements API. The bytes go up as a multipart form, matching the
// storage node's upload endpoint.
func (c *Client) Push(ctx context.Context, nodeAddress, fileID, filename string, data []byte) (*PushResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/upload/%s", nodeAddress, fileID), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	var result PushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &result, nil
}

// Delete implements API.
func (c *Client) Delete(ctx context.Context, nodeAddress, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/delete/%s", nodeAddress, fileID), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	return nil
}
