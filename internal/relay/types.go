// Package relay reconciles a session's streaming remote event feed
// into a consistent, observable message/part view.
package relay

import "time"

// PartRecord is the wire form of one message part.
type PartRecord struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Type      string `json:"type"` // text, reasoning, tool, ...
	Text      string `json:"text"`
}

// MessageRecord is the wire form of one message, optionally with its
// parts (history and legacy whole-message events carry them).
type MessageRecord struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        string       `json:"role"` // user, assistant, system
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Parts       []PartRecord `json:"parts,omitempty"`
}

// MessageState is derived from a message's metadata.
type MessageState string

const (
	StateStreaming MessageState = "streaming"
	StateCompleted MessageState = "completed"
	StateError     MessageState = "error"
)

// Part is the reconciled view of one part.
type Part struct {
	ID        string
	MessageID string
	Type      string
	Text      string
}

// Message is the reconciled view handed to subscribers. Content is
// always the ordered concatenation of the message's readable parts'
// text; it is never edited independently.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	State     MessageState
	CreatedAt time.Time
	PartIDs   []string
}

// PermissionRequest is a pending tool-use permission surfaced by the
// feed.
type PermissionRequest struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// CompactionStats reports a context compaction on the remote session.
type CompactionStats struct {
	SessionID    string `json:"session_id"`
	TokensBefore int    `json:"tokens_before"`
	TokensAfter  int    `json:"tokens_after"`
}

// Feed event type names.
const (
	eventHistory           = "history"
	eventMessage           = "message"
	eventMessageUpdated    = "message.updated"
	eventPartUpdated       = "message.part.updated"
	eventPartRemoved       = "message.part.removed"
	eventStatus            = "status"
	eventPermissionUpdated = "permission.updated"
	eventPermissionReplied = "permission.replied"
	eventCompaction        = "session.compaction"
)

// Payload shapes per event type.

type historyPayload struct {
	Messages []MessageRecord `json:"messages"`
}

type messagePayload struct {
	Message MessageRecord `json:"message"`
}

type partUpdatedPayload struct {
	Part PartRecord `json:"part"`
	// Delta, when present, is appended to the part's text; when
	// absent the part's full text is replaced.
	Delta *string `json:"delta,omitempty"`
}

type partRemovedPayload struct {
	MessageID string `json:"message_id"`
	PartID    string `json:"part_id"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type permissionUpdatedPayload struct {
	Permission PermissionRequest `json:"permission"`
}

type permissionRepliedPayload struct {
	PermissionID string `json:"permission_id"`
	Reply        string `json:"reply"`
}
