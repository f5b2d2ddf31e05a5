// websocket.go implements Client over a WebSocket event feed.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// WebSocketClient dials the agent daemon's per-session event feed at
// {endpoint}/session/{id}/events.
type WebSocketClient struct {
	endpoint string
	dialer   *websocket.Dialer
}

// NewWebSocketClient creates a client for the feed at endpoint
// (e.g. "ws://127.0.0.1:4096").
func NewWebSocketClient(endpoint string) *WebSocketClient {
	return &WebSocketClient{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
	}
}

// Open dials the session's event feed.
func (c *WebSocketClient) Open(ctx context.Context, sessionID string) (Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid feed endpoint %q: %w", c.endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("%s/session/%s/events", u.Path, sessionID)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing event feed: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing event feed: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a websocket connection to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

// Next reads one event frame. Frames are JSON envelopes with a type
// and a raw payload.
func (w *wsConn) Next() (Event, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return Event{}, fmt.Errorf("reading event frame: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		// A frame that is not even an envelope counts as a transport
		// error; per-event payload problems are handled downstream.
		return Event{}, fmt.Errorf("decoding event frame: %w", err)
	}
	return ev, nil
}

// Close closes the underlying connection.
func (w *wsConn) Close() error {
	return w.conn.Close()
}
