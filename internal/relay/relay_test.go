package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/construct-dev/construct/internal/stream"
)

// fakeFeed is an in-memory stream.Client delivering scripted events.
type fakeFeed struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFeed) Open(_ context.Context, _ string) (stream.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakeConn{events: make(chan stream.Event, 32), closed: make(chan struct{})}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeFeed) send(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	conn.events <- stream.Event{Type: eventType, Payload: data}
}

func (f *fakeFeed) sendRaw(eventType string, payload []byte) {
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	conn.events <- stream.Event{Type: eventType, Payload: payload}
}

type fakeConn struct {
	events chan stream.Event
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) Next() (stream.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return stream.Event{}, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeHistory serves a fixed snapshot.
type fakeHistory struct {
	records []MessageRecord
}

func (f *fakeHistory) SessionHistory(_ context.Context, _ string) ([]MessageRecord, error) {
	return f.records, nil
}

func waitConnected(t *testing.T, feed *fakeFeed) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		feed.mu.Lock()
		ready := len(feed.conns) > 0
		feed.mu.Unlock()
		if ready {
			return
		}
		select {
		case <-deadline:
			t.Fatal("feed never connected")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func waitSnapshot(t *testing.T, snapshots <-chan []Message, check func([]Message) bool) []Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-snapshots:
			if check(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("expected snapshot never arrived")
		}
	}
}

func TestSubscribeResyncsFromHistory(t *testing.T) {
	feed := &fakeFeed{}
	history := &fakeHistory{records: []MessageRecord{
		{ID: "m1", Role: "user", CreatedAt: time.Now(),
			Parts: []PartRecord{{ID: "p1", MessageID: "m1", Type: "text", Text: "hi"}}},
	}}

	snapshots := make(chan []Message, 32)
	r := New(feed, history)
	unsubscribe := r.Subscribe("sess-1",
		func(snap []Message) { snapshots <- snap },
		func(error) {},
	)
	defer unsubscribe()

	snap := waitSnapshot(t, snapshots, func(s []Message) bool { return len(s) == 1 })
	if snap[0].ID != "m1" || snap[0].Content != "hi" {
		t.Errorf("snapshot = %+v", snap[0])
	}
}

func TestSubscribeStreamsPartDeltas(t *testing.T) {
	feed := &fakeFeed{}

	snapshots := make(chan []Message, 32)
	r := New(feed, &fakeHistory{})
	unsubscribe := r.Subscribe("sess-1",
		func(snap []Message) { snapshots <- snap },
		func(error) {},
	)
	defer unsubscribe()
	waitConnected(t, feed)

	feed.send(t, "message.part.updated", map[string]interface{}{
		"part":  PartRecord{ID: "p1", MessageID: "m1", Type: "text"},
		"delta": "Hel",
	})
	feed.send(t, "message.part.updated", map[string]interface{}{
		"part":  PartRecord{ID: "p1", MessageID: "m1", Type: "text"},
		"delta": "lo",
	})

	snap := waitSnapshot(t, snapshots, func(s []Message) bool {
		return len(s) == 1 && s[0].Content == "Hello"
	})
	if snap[0].Content != "Hello" {
		t.Errorf("Content = %q", snap[0].Content)
	}
}

func TestMalformedPayloadReportedNotFatal(t *testing.T) {
	feed := &fakeFeed{}

	snapshots := make(chan []Message, 32)
	errs := make(chan error, 8)
	r := New(feed, &fakeHistory{})
	unsubscribe := r.Subscribe("sess-1",
		func(snap []Message) { snapshots <- snap },
		func(err error) { errs <- err },
	)
	defer unsubscribe()
	waitConnected(t, feed)

	feed.sendRaw("message.updated", []byte("{not json"))

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("nil error reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("malformed payload never reported")
	}

	// Later events still apply on the same subscription.
	feed.send(t, "message.part.updated", map[string]interface{}{
		"part":  PartRecord{ID: "p1", MessageID: "m1", Type: "text"},
		"delta": "still alive",
	})
	waitSnapshot(t, snapshots, func(s []Message) bool {
		return len(s) == 1 && s[0].Content == "still alive"
	})
}

func TestStatusHandlerInvoked(t *testing.T) {
	feed := &fakeFeed{}

	statuses := make(chan string, 8)
	r := New(feed, &fakeHistory{})
	unsubscribe := r.Subscribe("sess-1",
		func([]Message) {},
		func(error) {},
		WithStatusHandler(func(s string) { statuses <- s }),
	)
	defer unsubscribe()
	waitConnected(t, feed)

	feed.send(t, "status", map[string]string{"status": "awaiting_input"})

	select {
	case s := <-statuses:
		if s != "awaiting_input" {
			t.Errorf("status = %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status handler never invoked")
	}
}

func TestPermissionLifecycle(t *testing.T) {
	feed := &fakeFeed{}

	pendingCh := make(chan []PermissionRequest, 8)
	r := New(feed, &fakeHistory{})
	unsubscribe := r.Subscribe("sess-1",
		func([]Message) {},
		func(error) {},
		WithPermissionHandler(func(p []PermissionRequest) { pendingCh <- p }),
	)
	defer unsubscribe()
	waitConnected(t, feed)

	feed.send(t, "permission.updated", map[string]interface{}{
		"permission": PermissionRequest{ID: "perm-1", SessionID: "sess-1", Title: "run tests"},
	})

	select {
	case pending := <-pendingCh:
		if len(pending) != 1 || pending[0].ID != "perm-1" {
			t.Errorf("pending = %+v", pending)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("permission never surfaced")
	}

	feed.send(t, "permission.replied", map[string]string{"permission_id": "perm-1", "reply": "allow"})

	select {
	case pending := <-pendingCh:
		if len(pending) != 0 {
			t.Errorf("pending after reply = %+v", pending)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("permission reply never surfaced")
	}
}

func TestUnsubscribeStopsBackgroundActivity(t *testing.T) {
	feed := &fakeFeed{}

	r := New(feed, &fakeHistory{})
	unsubscribe := r.Subscribe("sess-1", func([]Message) {}, func(error) {})
	waitConnected(t, feed)

	done := make(chan struct{})
	go func() {
		unsubscribe()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe did not tear the subscription down")
	}
}
