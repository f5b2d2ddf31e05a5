// reconnect.go drives the auto-reconnecting subscription loop.
package stream

import (
	"context"
	"sync"
)

// State of the reconnecting client.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateOpen        State = "open"
	StateBackoffWait State = "backoff_wait"
	StateClosed      State = "closed"
)

// Hooks are the Reconnector's callbacks. All are invoked from the run
// goroutine, never concurrently with each other.
type Hooks struct {
	// OnConnect runs after each successful open, before events flow.
	// The relay uses it to resync from a fresh history snapshot.
	// Returning an error abandons the connection and backs off.
	OnConnect func(Conn) error
	// OnEvent receives every event from the live connection.
	OnEvent func(Event)
	// OnDisconnect is informational; disconnects are handled by
	// reconnecting, never surfaced as fatal.
	OnDisconnect func(error)
}

// Reconnector maintains one logical subscription to a session's event
// feed across connection failures. It reconnects forever with capped
// exponential backoff until Close is called; Close cancels any pending
// backoff timer and closes the live connection so no background
// activity survives it.
type Reconnector struct {
	client    Client
	sessionID string
	backoff   Backoff
	clock     Clock
	hooks     Hooks

	mu     sync.Mutex
	state  State
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconnector creates a Reconnector. A nil clock means wall clock.
func NewReconnector(client Client, sessionID string, backoff Backoff, clock Clock, hooks Hooks) *Reconnector {
	if clock == nil {
		clock = RealClock()
	}
	return &Reconnector{
		client:    client,
		sessionID: sessionID,
		backoff:   backoff,
		clock:     clock,
		hooks:     hooks,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State returns the current connection state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconnector) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Start launches the subscription loop in a goroutine.
func (r *Reconnector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	go r.run(ctx)
}

// Close tears the subscription down: the loop goroutine exits, any
// pending backoff timer is cancelled, and the live connection (if any)
// is closed. Blocks until the loop has stopped.
func (r *Reconnector) Close() {
	r.mu.Lock()
	cancel := r.cancel
	conn := r.conn
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	<-r.done
}

// run is the subscription loop: connect, resync, pump events, back off
// on failure, repeat until the context is cancelled.
func (r *Reconnector) run(ctx context.Context) {
	defer close(r.done)
	defer r.setState(StateClosed)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		r.setState(StateConnecting)
		conn, err := r.client.Open(ctx, r.sessionID)
		if err != nil {
			failures++
			if r.hooks.OnDisconnect != nil {
				r.hooks.OnDisconnect(err)
			}
			if !r.wait(ctx, failures) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()

		if r.hooks.OnConnect != nil {
			if err := r.hooks.OnConnect(conn); err != nil {
				_ = conn.Close()
				r.clearConn()
				failures++
				if r.hooks.OnDisconnect != nil {
					r.hooks.OnDisconnect(err)
				}
				if !r.wait(ctx, failures) {
					return
				}
				continue
			}
		}

		// A fully established connection resets the backoff.
		failures = 0
		r.setState(StateOpen)

		err = r.pump(ctx, conn)
		_ = conn.Close()
		r.clearConn()
		if ctx.Err() != nil {
			return
		}

		failures++
		if r.hooks.OnDisconnect != nil {
			r.hooks.OnDisconnect(err)
		}
		if !r.wait(ctx, failures) {
			return
		}
	}
}

// pump delivers events until the connection fails.
func (r *Reconnector) pump(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.Next()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.hooks.OnEvent != nil {
			r.hooks.OnEvent(ev)
		}
	}
}

// wait sleeps for the backoff delay of the given consecutive failure
// count. Returns false if the context was cancelled while waiting.
func (r *Reconnector) wait(ctx context.Context, failures int) bool {
	r.setState(StateBackoffWait)
	select {
	case <-ctx.Done():
		return false
	case <-r.clock.After(r.backoff.Delay(failures)):
		return true
	}
}

func (r *Reconnector) clearConn() {
	r.mu.Lock()
	r.conn = nil
	r.mu.Unlock()
}
