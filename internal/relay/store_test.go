package relay

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestPartDeltasAccumulate(t *testing.T) {
	s := NewMessageStore()

	part := PartRecord{ID: "p1", MessageID: "m1", Type: "text"}
	s.ApplyPartUpdated(part, strPtr("Hel"))
	s.ApplyPartUpdated(part, strPtr("lo"))

	got, ok := s.Part("m1", "p1")
	if !ok {
		t.Fatal("part not created on first reference")
	}
	if got.Text != "Hello" {
		t.Errorf("part text = %q, want Hello", got.Text)
	}

	msg, ok := s.Message("m1")
	if !ok {
		t.Fatal("owning message not created")
	}
	if msg.Content != "Hello" {
		t.Errorf("Content = %q, want Hello", msg.Content)
	}
}

func TestPartUpdateWithoutDeltaReplaces(t *testing.T) {
	s := NewMessageStore()

	s.ApplyPartUpdated(PartRecord{ID: "p1", MessageID: "m1", Type: "text"}, strPtr("draft"))
	s.ApplyPartUpdated(PartRecord{ID: "p1", MessageID: "m1", Type: "text", Text: "final"}, nil)

	got, _ := s.Part("m1", "p1")
	if got.Text != "final" {
		t.Errorf("part text = %q, want full replacement", got.Text)
	}
}

func TestPartRemovedRecomputesContent(t *testing.T) {
	s := NewMessageStore()

	s.ApplyPartUpdated(PartRecord{ID: "p1", MessageID: "m1", Type: "text"}, strPtr("keep"))
	s.ApplyPartUpdated(PartRecord{ID: "p2", MessageID: "m1", Type: "text"}, strPtr("drop"))

	s.ApplyPartRemoved("m1", "p2")

	msg, _ := s.Message("m1")
	if msg.Content != "keep" {
		t.Errorf("Content = %q, want join of remaining parts only", msg.Content)
	}
	if len(msg.PartIDs) != 1 || msg.PartIDs[0] != "p1" {
		t.Errorf("PartIDs = %v", msg.PartIDs)
	}
}

func TestUnreadablePartsExcludedFromContent(t *testing.T) {
	s := NewMessageStore()

	s.ApplyPartUpdated(PartRecord{ID: "p1", MessageID: "m1", Type: "text"}, strPtr("visible"))
	s.ApplyPartUpdated(PartRecord{ID: "p2", MessageID: "m1", Type: "tool"}, strPtr("{json blob}"))

	msg, _ := s.Message("m1")
	if msg.Content != "visible" {
		t.Errorf("Content = %q, tool part text leaked in", msg.Content)
	}
}

func TestMessageUpdatedKeepsParts(t *testing.T) {
	s := NewMessageStore()
	created := time.Now()

	s.ApplyPartUpdated(PartRecord{ID: "p1", MessageID: "m1", Type: "text"}, strPtr("body"))
	s.ApplyMessageUpdated(MessageRecord{ID: "m1", Role: "assistant", CreatedAt: created})

	msg, _ := s.Message("m1")
	if msg.Content != "body" {
		t.Errorf("Content = %q, metadata update dropped existing parts", msg.Content)
	}
	if msg.State != StateStreaming {
		t.Errorf("State = %q, want streaming for incomplete assistant message", msg.State)
	}

	s.ApplyMessageUpdated(MessageRecord{ID: "m1", Role: "assistant", CreatedAt: created, CompletedAt: timePtr(time.Now())})
	msg, _ = s.Message("m1")
	if msg.State != StateCompleted {
		t.Errorf("State = %q, want completed after completion time", msg.State)
	}
}

func TestAssistantErrorState(t *testing.T) {
	s := NewMessageStore()

	s.ApplyMessageUpdated(MessageRecord{ID: "m1", Role: "assistant", Error: "rate limited"})
	msg, _ := s.Message("m1")
	if msg.State != StateError {
		t.Errorf("State = %q, want error", msg.State)
	}
}

func TestLegacyMessageReplacesPartsWholesale(t *testing.T) {
	s := NewMessageStore()

	s.ApplyPartUpdated(PartRecord{ID: "old", MessageID: "m1", Type: "text"}, strPtr("stale"))
	s.ApplyMessage(MessageRecord{
		ID:   "m1",
		Role: "assistant",
		Parts: []PartRecord{
			{ID: "new", MessageID: "m1", Type: "text", Text: "fresh"},
		},
	})

	msg, _ := s.Message("m1")
	if msg.Content != "fresh" {
		t.Errorf("Content = %q, want old parts replaced wholesale", msg.Content)
	}
	if _, ok := s.Part("m1", "old"); ok {
		t.Error("stale part survived a legacy whole-message event")
	}
}

func TestHistoryReplacesEverything(t *testing.T) {
	s := NewMessageStore()

	s.ApplyPartUpdated(PartRecord{ID: "p1", MessageID: "gone", Type: "text"}, strPtr("pre-reconnect"))

	base := time.Now()
	s.ApplyHistory([]MessageRecord{
		{
			ID: "m2", Role: "assistant", CreatedAt: base.Add(time.Second),
			CompletedAt: timePtr(base.Add(2 * time.Second)),
			Parts:       []PartRecord{{ID: "p2", MessageID: "m2", Type: "text", Text: "answer"}},
		},
		{
			ID: "m1", Role: "user", CreatedAt: base,
			Parts: []PartRecord{{ID: "p1", MessageID: "m1", Type: "text", Text: "question"}},
		},
	})

	snapshot := s.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("got %d messages, want 2", len(snapshot))
	}
	// Snapshot re-sorts by creation time.
	if snapshot[0].ID != "m1" || snapshot[1].ID != "m2" {
		t.Errorf("snapshot order = %s, %s", snapshot[0].ID, snapshot[1].ID)
	}
	if _, ok := s.Message("gone"); ok {
		t.Error("pre-reconnect message survived a history replace")
	}
}
