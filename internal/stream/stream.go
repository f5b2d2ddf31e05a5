// Package stream provides the push-stream client the event relay
// consumes: named JSON events delivered over a WebSocket feed, with
// automatic reconnect and exponential backoff.
package stream

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one named event from the remote feed. Payload is left raw;
// the consumer decodes per event type.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Conn is one live connection to a session's event feed.
type Conn interface {
	// Next blocks until the next event arrives or the connection fails.
	Next() (Event, error)
	Close() error
}

// Client opens event feed connections. Open may fail or hang from the
// caller's perspective; the Reconnector imposes retry policy on top.
type Client interface {
	Open(ctx context.Context, sessionID string) (Conn, error)
}

// Clock abstracts timer scheduling so backoff timing is testable
// without wall-clock delays.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// realClock delegates to the time package.
type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall-clock implementation.
func RealClock() Clock { return realClock{} }
