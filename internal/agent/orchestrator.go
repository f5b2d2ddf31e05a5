package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRemoteSession is returned when the remote agent rejects a call.
// The session is left in status error with the message preserved.
var ErrRemoteSession = errors.New("remote session failure")

// Status is the lifecycle state of an agent session.
type Status string

const (
	StatusStarting      Status = "starting"
	StatusWorking       Status = "working"
	StatusAwaitingInput Status = "awaiting_input"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
)

// statusRank orders statuses for monotonic advancement. Events never
// move a session backwards; only Stop overrides the rank check.
var statusRank = map[Status]int{
	StatusStarting:      0,
	StatusWorking:       1,
	StatusAwaitingInput: 2,
	StatusCompleted:     3,
	StatusError:         3,
}

// Session is the local view of one remote agent session.
type Session struct {
	ID          string
	ConstructID string
	ProviderID  string
	Status      Status
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventType distinguishes observer notifications.
type EventType string

const (
	EventStatus  EventType = "status"
	EventMessage EventType = "message"
)

// Event is delivered to observers on every session change.
type Event struct {
	Type    EventType
	Session Session
	Message *RemoteMessage
}

// Observer receives session events. Observers are called synchronously
// in the order events occur; a slow observer delays delivery to all
// others, so observers must not block or re-enter the orchestrator.
type Observer func(Event)

// Orchestrator owns the local session table and maps remote agent
// failures to session state.
type Orchestrator struct {
	client Client

	mu        sync.Mutex
	sessions  map[string]*Session
	observers map[int]Observer
	nextObsID int
}

// NewOrchestrator creates an Orchestrator backed by the given client.
func NewOrchestrator(client Client) *Orchestrator {
	return &Orchestrator{
		client:    client,
		sessions:  make(map[string]*Session),
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer for all session events and returns an
// unsubscribe function. No event is buffered or dropped for a
// registered observer; a panicking observer is isolated so delivery to
// the others continues.
func (o *Orchestrator) Subscribe(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextObsID
	o.nextObsID++
	o.observers[id] = obs

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

// notifyLocked broadcasts an event to every observer in registration
// order. Caller holds o.mu, which also serializes event order.
func (o *Orchestrator) notifyLocked(ev Event) {
	for id := 0; id < o.nextObsID; id++ {
		obs, ok := o.observers[id]
		if !ok {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			obs(ev)
		}()
	}
}

// CreateSession opens a remote session for a construct and tracks it
// locally with initial status starting.
func (o *Orchestrator) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	sessionID, err := o.client.CreateSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating agent session for construct %s: %w", req.ConstructID, err)
	}

	now := time.Now()
	sess := &Session{
		ID:          sessionID,
		ConstructID: req.ConstructID,
		ProviderID:  req.ProviderID,
		Status:      StatusStarting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	o.mu.Lock()
	o.sessions[sessionID] = sess
	o.notifyLocked(Event{Type: EventStatus, Session: *sess})
	o.mu.Unlock()

	return sess, nil
}

// SendMessage forwards user content to the remote agent. The session
// moves to working; a remote rejection moves it to error and returns
// ErrRemoteSession with the underlying message.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, content string) error {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown session %s", sessionID)
	}
	// SendMessage is an explicit operation, so it may move an
	// awaiting_input session back to working; only event-driven
	// transitions are monotonic.
	o.setStatusLocked(sess, StatusWorking)
	o.mu.Unlock()

	if err := o.client.SendPrompt(ctx, sessionID, content); err != nil {
		o.mu.Lock()
		o.setErrorLocked(sess, err.Error())
		o.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRemoteSession, err)
	}

	o.mu.Lock()
	o.notifyLocked(Event{
		Type:    EventMessage,
		Session: *sess,
		Message: &RemoteMessage{Role: "user", Content: content, CreatedAt: time.Now()},
	})
	o.mu.Unlock()

	return nil
}

// MarkAwaitingInput advances a session to awaiting_input once a
// response has been observed. The transition mechanism is pluggable:
// the event relay calls this from its status handler, and PollUntilIdle
// offers a polling fallback.
func (o *Orchestrator) MarkAwaitingInput(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[sessionID]; ok {
		o.advanceLocked(sess, StatusAwaitingInput)
	}
}

// Stop terminates a session. The remote terminate call is best-effort:
// the local status becomes completed even when it fails.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) error {
	err := o.client.TerminateSession(ctx, sessionID)

	o.mu.Lock()
	if sess, ok := o.sessions[sessionID]; ok {
		sess.Status = StatusCompleted
		sess.UpdatedAt = time.Now()
		o.notifyLocked(Event{Type: EventStatus, Session: *sess})
	}
	o.mu.Unlock()

	if err != nil {
		return fmt.Errorf("terminating remote session %s: %w", sessionID, err)
	}
	return nil
}

// Adopt registers a session opened by an earlier process so its
// lifecycle can continue to be driven from this one. An already
// tracked session is left untouched.
func (o *Orchestrator) Adopt(sess Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.sessions[sess.ID]; ok {
		return
	}
	adopted := sess
	if adopted.UpdatedAt.IsZero() {
		adopted.UpdatedAt = time.Now()
	}
	o.sessions[sess.ID] = &adopted
}

// Session returns a copy of the tracked session, if any.
func (o *Orchestrator) Session(sessionID string) (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[sessionID]; ok {
		return *sess, true
	}
	return Session{}, false
}

// PollUntilIdle polls the remote status until the session leaves
// working, the context is done, or the poll errors. It is the fallback
// for callers not running an event relay.
func (o *Orchestrator) PollUntilIdle(ctx context.Context, sessionID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := o.client.GetSessionStatus(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("polling session %s: %w", sessionID, err)
			}
			if status != string(StatusWorking) {
				o.MarkAwaitingInput(sessionID)
				return nil
			}
		}
	}
}

// advanceLocked moves the session forward only if the new status
// outranks the current one. Caller holds o.mu.
func (o *Orchestrator) advanceLocked(sess *Session, status Status) {
	if statusRank[status] <= statusRank[sess.Status] {
		return
	}
	sess.Status = status
	sess.UpdatedAt = time.Now()
	o.notifyLocked(Event{Type: EventStatus, Session: *sess})
}

// setStatusLocked applies a status unconditionally. Caller holds o.mu.
func (o *Orchestrator) setStatusLocked(sess *Session, status Status) {
	if sess.Status == status {
		return
	}
	sess.Status = status
	sess.UpdatedAt = time.Now()
	o.notifyLocked(Event{Type: EventStatus, Session: *sess})
}

// setErrorLocked forces the session into error state. Caller holds o.mu.
func (o *Orchestrator) setErrorLocked(sess *Session, msg string) {
	sess.Status = StatusError
	sess.Error = msg
	sess.UpdatedAt = time.Now()
	o.notifyLocked(Event{Type: EventStatus, Session: *sess})
}
