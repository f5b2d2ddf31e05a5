// remote.go implements Client over the agent daemon's HTTP API.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to a remote agent daemon over JSON HTTP.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

// NewHTTPClient creates a client for the agent daemon at endpoint
// (e.g. "http://127.0.0.1:4096").
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateSession opens a remote session.
func (c *HTTPClient) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	body := map[string]string{
		"construct_id": req.ConstructID,
		"provider_id":  req.ProviderID,
		"prompt":       req.Prompt,
		"working_dir":  req.WorkingDir,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/session", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("agent daemon returned no session id")
	}
	return resp.ID, nil
}

// SendPrompt forwards user content to a session.
func (c *HTTPClient) SendPrompt(ctx context.Context, sessionID, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPost, "/session/"+sessionID+"/message", body, nil)
}

// TerminateSession asks the daemon to end a session.
func (c *HTTPClient) TerminateSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+sessionID, nil, nil)
}

// GetSessionStatus fetches the remote session status string.
func (c *HTTPClient) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/session/"+sessionID+"/status", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// ListMessages fetches the session's full message list.
func (c *HTTPClient) ListMessages(ctx context.Context, sessionID string) ([]RemoteMessage, error) {
	var resp []struct {
		ID        string    `json:"id"`
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := c.do(ctx, http.MethodGet, "/session/"+sessionID+"/message", nil, &resp); err != nil {
		return nil, err
	}

	messages := make([]RemoteMessage, len(resp))
	for i, m := range resp {
		messages[i] = RemoteMessage{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
	}
	return messages, nil
}

// do issues one JSON request and decodes the response into out, if any.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent daemon request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent daemon %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response for %s %s: %w", method, path, err)
		}
	}
	return nil
}
