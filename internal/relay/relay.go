// relay.go wires the message store to the reconnecting event feed.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/construct-dev/construct/internal/log"
	"github.com/construct-dev/construct/internal/stream"
)

// HistoryFetcher supplies a full message+parts snapshot. The relay
// calls it immediately after every (re)connect so any activity missed
// while disconnected is recovered by full resync.
type HistoryFetcher interface {
	SessionHistory(ctx context.Context, sessionID string) ([]MessageRecord, error)
}

// historyTimeout bounds one snapshot fetch; a hung fetch counts as a
// connect failure and goes through backoff like any other.
const historyTimeout = 30 * time.Second

// Relay creates subscriptions that reconcile a session's event feed
// into message snapshots.
type Relay struct {
	client  stream.Client
	fetcher HistoryFetcher
	backoff stream.Backoff
	clock   stream.Clock
	logger  *log.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithBackoff overrides the reconnect backoff policy.
func WithBackoff(b stream.Backoff) Option {
	return func(r *Relay) { r.backoff = b }
}

// WithClock injects a clock for deterministic backoff tests.
func WithClock(c stream.Clock) Option {
	return func(r *Relay) { r.clock = c }
}

// WithLogger records connect, disconnect, and resync events in the
// project event log.
func WithLogger(l *log.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// New creates a Relay over the given feed client and history source.
func New(client stream.Client, fetcher HistoryFetcher, opts ...Option) *Relay {
	r := &Relay{
		client:  client,
		fetcher: fetcher,
		backoff: stream.DefaultBackoff(),
		clock:   stream.RealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SubscribeOption configures one subscription's optional handlers.
type SubscribeOption func(*subscription)

// WithStatusHandler receives remote session status strings.
func WithStatusHandler(fn func(status string)) SubscribeOption {
	return func(s *subscription) { s.onStatus = fn }
}

// WithPermissionHandler receives the pending permission requests after
// every permission event, sorted by creation time.
func WithPermissionHandler(fn func(pending []PermissionRequest)) SubscribeOption {
	return func(s *subscription) { s.onPermission = fn }
}

// WithCompactionHandler receives compaction stats events.
func WithCompactionHandler(fn func(CompactionStats)) SubscribeOption {
	return func(s *subscription) { s.onCompaction = fn }
}

// subscription is the single-owner state for one (session, subscriber)
// pair. All event handling runs on the reconnector's goroutine, so the
// store needs no locking.
type subscription struct {
	sessionID  string
	store      *MessageStore
	onSnapshot func([]Message)
	onError    func(error)

	onStatus     func(string)
	onPermission func([]PermissionRequest)
	onCompaction func(CompactionStats)

	permissions map[string]PermissionRequest
	fetcher     HistoryFetcher
}

// Subscribe opens a subscription on the session's event feed.
// onSnapshot receives the re-sorted message list after every mutation;
// onError receives malformed-payload reports, which never terminate
// the subscription. The returned function tears everything down:
// pending reconnect timers are cancelled and the connection closed, so
// no background activity survives it.
func (r *Relay) Subscribe(sessionID string, onSnapshot func([]Message), onError func(error), opts ...SubscribeOption) func() {
	sub := &subscription{
		sessionID:   sessionID,
		store:       NewMessageStore(),
		onSnapshot:  onSnapshot,
		onError:     onError,
		permissions: make(map[string]PermissionRequest),
		fetcher:     r.fetcher,
	}
	for _, opt := range opts {
		opt(sub)
	}

	rec := stream.NewReconnector(r.client, sessionID, r.backoff, r.clock, stream.Hooks{
		OnConnect: func(conn stream.Conn) error {
			r.logEvent(log.LogEvent{Event: log.EventRelayConnected, SessionID: sessionID})
			if err := sub.resync(conn); err != nil {
				return err
			}
			r.logEvent(log.LogEvent{Event: log.EventRelayResync, SessionID: sessionID})
			return nil
		},
		OnEvent: sub.handle,
		// Disconnects are not user-visible errors; the reconnector
		// recovers them silently.
		OnDisconnect: func(err error) {
			ev := log.LogEvent{Event: log.EventRelayDisconnected, SessionID: sessionID}
			if err != nil {
				ev.Error = err.Error()
			}
			r.logEvent(ev)
		},
	})
	rec.Start()

	return rec.Close
}

func (r *Relay) logEvent(ev log.LogEvent) {
	if r.logger == nil {
		return
	}
	_ = r.logger.Append(ev)
}

// resync replaces the store from a fresh history snapshot. Runs after
// every successful (re)connect, before feed events flow.
func (sub *subscription) resync(stream.Conn) error {
	if sub.fetcher == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	records, err := sub.fetcher.SessionHistory(ctx, sub.sessionID)
	if err != nil {
		return fmt.Errorf("fetching session history: %w", err)
	}

	sub.store.ApplyHistory(records)
	sub.emit()
	return nil
}

// handle applies one feed event. Malformed payloads are reported
// through onError and skipped; later events still apply.
func (sub *subscription) handle(ev stream.Event) {
	switch ev.Type {
	case eventHistory:
		var p historyPayload
		if !sub.decode(ev, &p) {
			return
		}
		sub.store.ApplyHistory(p.Messages)
		sub.emit()

	case eventMessage:
		var p messagePayload
		if !sub.decode(ev, &p) {
			return
		}
		sub.store.ApplyMessage(p.Message)
		sub.emit()

	case eventMessageUpdated:
		var p messagePayload
		if !sub.decode(ev, &p) {
			return
		}
		sub.store.ApplyMessageUpdated(p.Message)
		sub.emit()

	case eventPartUpdated:
		var p partUpdatedPayload
		if !sub.decode(ev, &p) {
			return
		}
		sub.store.ApplyPartUpdated(p.Part, p.Delta)
		sub.emit()

	case eventPartRemoved:
		var p partRemovedPayload
		if !sub.decode(ev, &p) {
			return
		}
		sub.store.ApplyPartRemoved(p.MessageID, p.PartID)
		sub.emit()

	case eventStatus:
		var p statusPayload
		if !sub.decode(ev, &p) {
			return
		}
		if sub.onStatus != nil {
			sub.onStatus(p.Status)
		}

	case eventPermissionUpdated:
		var p permissionUpdatedPayload
		if !sub.decode(ev, &p) {
			return
		}
		sub.permissions[p.Permission.ID] = p.Permission
		sub.emitPermissions()

	case eventPermissionReplied:
		var p permissionRepliedPayload
		if !sub.decode(ev, &p) {
			return
		}
		delete(sub.permissions, p.PermissionID)
		sub.emitPermissions()

	case eventCompaction:
		var p CompactionStats
		if !sub.decode(ev, &p) {
			return
		}
		if sub.onCompaction != nil {
			sub.onCompaction(p)
		}

	default:
		// Unknown event types are ignored; the upstream feed may grow
		// new ones.
	}
}

// decode unmarshals an event payload, reporting failures via onError.
func (sub *subscription) decode(ev stream.Event, out interface{}) bool {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		if sub.onError != nil {
			sub.onError(fmt.Errorf("malformed %s payload: %w", ev.Type, err))
		}
		return false
	}
	return true
}

func (sub *subscription) emit() {
	if sub.onSnapshot != nil {
		sub.onSnapshot(sub.store.Snapshot())
	}
}

func (sub *subscription) emitPermissions() {
	if sub.onPermission == nil {
		return
	}
	pending := make([]PermissionRequest, 0, len(sub.permissions))
	for _, p := range sub.permissions {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	sub.onPermission(pending)
}
