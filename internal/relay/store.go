// store.go holds the reconciled message/part state and the pure
// reducers that mutate it, one per event type. Keeping the reducers
// free of any stream plumbing makes each transition unit-testable.
package relay

import (
	"sort"
	"time"
)

// messageEntry is the store's internal record for one message.
type messageEntry struct {
	id          string
	sessionID   string
	role        string
	createdAt   time.Time
	completedAt *time.Time
	errText     string
	content     string
	state       MessageState
}

// MessageStore owns messages-by-id and parts-by-message-id for one
// subscription. It is single-owner: the subscription goroutine is the
// only mutator, so methods are unsynchronized by design.
type MessageStore struct {
	messages  map[string]*messageEntry
	parts     map[string]map[string]*Part // message id -> part id -> part
	partOrder map[string][]string         // message id -> part ids in arrival order
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages:  make(map[string]*messageEntry),
		parts:     make(map[string]map[string]*Part),
		partOrder: make(map[string][]string),
	}
}

// ApplyHistory replaces the entire store contents from a full snapshot.
// Issued after every (re)connect, so activity missed while disconnected
// is recovered wholesale rather than replayed.
func (s *MessageStore) ApplyHistory(records []MessageRecord) {
	s.messages = make(map[string]*messageEntry, len(records))
	s.parts = make(map[string]map[string]*Part, len(records))
	s.partOrder = make(map[string][]string, len(records))
	for _, rec := range records {
		s.ApplyMessage(rec)
	}
}

// ApplyMessage upserts a whole message record, replacing its parts
// wholesale. This is the legacy whole-record event path.
func (s *MessageStore) ApplyMessage(rec MessageRecord) {
	s.upsertMeta(rec)

	parts := make(map[string]*Part, len(rec.Parts))
	order := make([]string, 0, len(rec.Parts))
	for _, p := range rec.Parts {
		parts[p.ID] = &Part{ID: p.ID, MessageID: rec.ID, Type: p.Type, Text: p.Text}
		order = append(order, p.ID)
	}
	s.parts[rec.ID] = parts
	s.partOrder[rec.ID] = order

	s.recompute(rec.ID)
}

// ApplyMessageUpdated upserts message metadata only, keeping existing
// parts, then recomputes content and state.
func (s *MessageStore) ApplyMessageUpdated(rec MessageRecord) {
	s.upsertMeta(rec)
	s.recompute(rec.ID)
}

// ApplyPartUpdated applies a part event. With a delta the text is
// appended (the token-streaming path), creating the part on first
// reference; without one the part's full text is replaced.
func (s *MessageStore) ApplyPartUpdated(rec PartRecord, delta *string) {
	part := s.ensurePart(rec.MessageID, rec.ID, rec.Type)
	if delta != nil {
		part.Text += *delta
	} else {
		part.Text = rec.Text
	}
	if rec.Type != "" {
		part.Type = rec.Type
	}
	s.recompute(rec.MessageID)
}

// ApplyPartRemoved deletes a part from its owning message and
// recomputes content.
func (s *MessageStore) ApplyPartRemoved(messageID, partID string) {
	if parts, ok := s.parts[messageID]; ok {
		delete(parts, partID)
	}
	order := s.partOrder[messageID]
	for i, id := range order {
		if id == partID {
			s.partOrder[messageID] = append(order[:i], order[i+1:]...)
			break
		}
	}
	s.recompute(messageID)
}

// Snapshot returns the reconciled messages sorted by creation time.
func (s *MessageStore) Snapshot() []Message {
	out := make([]Message, 0, len(s.messages))
	for id, entry := range s.messages {
		out = append(out, Message{
			ID:        entry.id,
			SessionID: entry.sessionID,
			Role:      entry.role,
			Content:   entry.content,
			State:     entry.state,
			CreatedAt: entry.createdAt,
			PartIDs:   append([]string(nil), s.partOrder[id]...),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Message returns the reconciled view of one message.
func (s *MessageStore) Message(id string) (Message, bool) {
	entry, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return Message{
		ID:        entry.id,
		SessionID: entry.sessionID,
		Role:      entry.role,
		Content:   entry.content,
		State:     entry.state,
		CreatedAt: entry.createdAt,
		PartIDs:   append([]string(nil), s.partOrder[id]...),
	}, true
}

// Part returns one part of a message.
func (s *MessageStore) Part(messageID, partID string) (Part, bool) {
	if parts, ok := s.parts[messageID]; ok {
		if p, ok := parts[partID]; ok {
			return *p, true
		}
	}
	return Part{}, false
}

// upsertMeta creates or updates the metadata entry for a message.
func (s *MessageStore) upsertMeta(rec MessageRecord) {
	entry, ok := s.messages[rec.ID]
	if !ok {
		entry = &messageEntry{id: rec.ID}
		s.messages[rec.ID] = entry
	}
	entry.sessionID = rec.SessionID
	entry.role = rec.Role
	if !rec.CreatedAt.IsZero() {
		entry.createdAt = rec.CreatedAt
	}
	entry.completedAt = rec.CompletedAt
	entry.errText = rec.Error
}

// ensurePart returns the named part, creating the message entry and
// part on first reference. Parts can arrive before any message
// metadata does.
func (s *MessageStore) ensurePart(messageID, partID, partType string) *Part {
	if _, ok := s.messages[messageID]; !ok {
		s.messages[messageID] = &messageEntry{id: messageID}
	}
	if _, ok := s.parts[messageID]; !ok {
		s.parts[messageID] = make(map[string]*Part)
	}
	part, ok := s.parts[messageID][partID]
	if !ok {
		part = &Part{ID: partID, MessageID: messageID, Type: partType}
		s.parts[messageID][partID] = part
		s.partOrder[messageID] = append(s.partOrder[messageID], partID)
	}
	return part
}

// recompute rebuilds the derived content and state for a message.
// Content is exactly the ordered concatenation of readable parts' text.
func (s *MessageStore) recompute(messageID string) {
	entry, ok := s.messages[messageID]
	if !ok {
		return
	}

	content := ""
	for _, partID := range s.partOrder[messageID] {
		part := s.parts[messageID][partID]
		if part == nil || !readablePart(part.Type) {
			continue
		}
		content += part.Text
	}
	entry.content = content

	switch {
	case entry.role == "assistant" && entry.errText != "":
		entry.state = StateError
	case entry.role == "assistant" && entry.completedAt == nil:
		entry.state = StateStreaming
	default:
		entry.state = StateCompleted
	}
}

// readablePart reports whether a part's text contributes to message
// content.
func readablePart(partType string) bool {
	switch partType {
	case "text", "reasoning", "":
		return true
	default:
		return false
	}
}
