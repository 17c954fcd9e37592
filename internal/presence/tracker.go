// Package presence tracks per-user connection counts and turns them into
// debounced online/offline transitions.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/pkg/logger"
	"github.com/michel-DC/Teamify-sub004/pkg/metrics"
)

// State is a user's aggregate presence.
type State int

const (
	Offline State = iota
	Connecting
	Online
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Online:
		return "ONLINE"
	case Disconnecting:
		return "DISCONNECTING"
	default:
		return "OFFLINE"
	}
}

// NotifyFunc receives transitions that must be broadcast: Online on the
// first established connection, Offline after the grace window.
type NotifyFunc func(userID string, state State)

type entry struct {
	state State
	conns int
	timer *time.Timer
	gen   uint64
}

// outbox holds a user's transitions not yet handed to notify. At most one
// goroutine drains it at a time, so a user's broadcasts never overtake each
// other.
type outbox struct {
	queue    []State
	draining bool
}

// Tracker is the per-process presence state machine. Transitions are driven
// only by connection-count deltas.
type Tracker struct {
	mu      sync.Mutex
	users   map[string]*entry
	pending map[string]*outbox
	grace   time.Duration
	notify  NotifyFunc
	log     *logger.Logger
	stopped bool
}

// NewTracker creates a tracker. notify runs outside the tracker lock.
func NewTracker(grace time.Duration, notify NotifyFunc, log *logger.Logger) *Tracker {
	if notify == nil {
		notify = func(string, State) {}
	}
	return &Tracker{
		users:   make(map[string]*entry),
		pending: make(map[string]*outbox),
		grace:   grace,
		notify: notify,
		log:    log.Named("presence"),
	}
}

// Attach counts a new connection before its rooms are subscribed. A
// connection during the grace window cancels the pending offline silently.
func (t *Tracker) Attach(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.users[userID]
	if e == nil {
		e = &entry{}
		t.users[userID] = e
	}
	e.conns++

	switch e.state {
	case Offline:
		e.state = Connecting
	case Disconnecting:
		t.stopTimer(e)
		e.state = Online
		t.log.Debug("reconnected within grace window", zap.String("user_id", userID))
	}
}

// Established completes a handshake. It emits Online only on the
// CONNECTING to ONLINE edge.
func (t *Tracker) Established(userID string) {
	t.mu.Lock()
	e := t.users[userID]
	if e == nil || e.state != Connecting || e.conns == 0 {
		t.mu.Unlock()
		return
	}
	e.state = Online
	t.emitLocked(userID, Online)
}

// Detach uncounts a connection. The last one starts the grace timer.
func (t *Tracker) Detach(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.users[userID]
	if e == nil || e.conns == 0 {
		return
	}
	e.conns--
	if e.conns > 0 {
		return
	}

	switch e.state {
	case Connecting:
		// Never announced, so nothing to retract.
		delete(t.users, userID)
	case Online:
		if t.stopped {
			delete(t.users, userID)
			return
		}
		e.state = Disconnecting
		e.gen++
		gen := e.gen
		e.timer = time.AfterFunc(t.grace, func() { t.expire(userID, gen) })
	}
}

func (t *Tracker) expire(userID string, gen uint64) {
	t.mu.Lock()
	e := t.users[userID]
	if e == nil || e.gen != gen || e.state != Disconnecting || e.conns > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	t.emitLocked(userID, Offline)
}

// emitLocked queues a transition and releases t.mu. When no other goroutine
// is draining userID's outbox, the caller drains it, so an uncontended
// transition is delivered before emitLocked returns.
func (t *Tracker) emitLocked(userID string, state State) {
	ob := t.pending[userID]
	if ob == nil {
		ob = &outbox{}
		t.pending[userID] = ob
	}
	ob.queue = append(ob.queue, state)
	if ob.draining {
		t.mu.Unlock()
		return
	}
	ob.draining = true
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if len(ob.queue) == 0 {
			delete(t.pending, userID)
			t.mu.Unlock()
			return
		}
		next := ob.queue[0]
		ob.queue = ob.queue[1:]
		t.mu.Unlock()

		label := "offline"
		if next == Online {
			label = "online"
		}
		metrics.PresenceTransitions.WithLabelValues(label).Inc()
		t.notify(userID, next)
	}
}

func (t *Tracker) stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

// State returns the current state of userID.
func (t *Tracker) State(userID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.users[userID]; e != nil {
		return e.state
	}
	return Offline
}

// Connections returns the live connection count of userID.
func (t *Tracker) Connections(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.users[userID]; e != nil {
		return e.conns
	}
	return 0
}

// Stop cancels pending grace timers without emitting offline transitions.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for userID, e := range t.users {
		if e.state == Disconnecting {
			t.stopTimer(e)
			delete(t.users, userID)
		}
	}
}
