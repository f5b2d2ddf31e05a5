// Package agent creates and tracks remote coding-agent sessions for
// constructs.
package agent

import (
	"context"
	"time"
)

// CreateSessionRequest carries everything the remote agent needs to
// open a session for a construct.
type CreateSessionRequest struct {
	ConstructID string
	ProviderID  string
	Prompt      string
	WorkingDir  string
}

// RemoteMessage is one message as reported by the remote agent's
// message listing.
type RemoteMessage struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Client is the remote coding-agent API surface the orchestrator calls.
// Any method may reject; the orchestrator maps rejections to session
// status error without crashing.
type Client interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (sessionID string, err error)
	SendPrompt(ctx context.Context, sessionID, content string) error
	TerminateSession(ctx context.Context, sessionID string) error
	GetSessionStatus(ctx context.Context, sessionID string) (string, error)
	ListMessages(ctx context.Context, sessionID string) ([]RemoteMessage, error)
}
