// Package editlock arbitrates who may edit a document. One client at a time
// holds a lease on the document's lock record, renewed by heartbeat and kept
// in sync with the authoritative store through realtime change notifications.
package editlock

import (
	"context"
	"log"
	"sync"
	"time"
)

// State is the local view of a document's lock.
type State string

const (
	// StateChecking means acquisition or re-verification is in flight.
	StateChecking State = "checking"
	// StateAcquired means this client holds the lock.
	StateAcquired State = "acquired"
	// StateLocked means another user holds the lock.
	StateLocked State = "locked"
	// StateUnlocked is terminal for the session until a new Acquire.
	StateUnlocked State = "unlocked"
)

// Holder identifies the current lock holder when it is not us.
type Holder struct {
	ID   uint64 `json:"id"`
	Name string `json:"display_name"`
}

// Status is the manager's observable state. The UI-facing contract is binary:
// editable only when State is acquired (and the caller's permissions allow
// it); every other state means read-only.
type Status struct {
	State    State   `json:"state"`
	LockedBy *Holder `json:"locked_by,omitempty"`
}

// ProfileLookup resolves a user id to a display name for "X is editing".
type ProfileLookup interface {
	DisplayName(ctx context.Context, userID uint64) (string, error)
}

// Config tunes the lease protocol. Zero values take the defaults below.
type Config struct {
	VerifyAttempts     int
	VerifyInterval     time.Duration
	HeartbeatInterval  time.Duration
	DeleteDebounce     time.Duration
	ReleaseSuppression time.Duration
}

const (
	defaultVerifyAttempts     = 10
	defaultVerifyInterval     = 100 * time.Millisecond
	defaultHeartbeatInterval  = 5 * time.Minute
	defaultDeleteDebounce     = 100 * time.Millisecond
	defaultReleaseSuppression = time.Second
	rpcTimeout                = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = defaultVerifyAttempts
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = defaultVerifyInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.DeleteDebounce <= 0 {
		c.DeleteDebounce = defaultDeleteDebounce
	}
	if c.ReleaseSuppression <= 0 {
		c.ReleaseSuppression = defaultReleaseSuppression
	}
	return c
}

// Manager owns the lease state machine for one document observed by one user
// session. All failures are non-fatal: they resolve to locked or trigger a
// retry, never an unrecoverable error state.
type Manager struct {
	store    LockStore
	realtime Realtime
	profiles ProfileLookup
	cfg      Config

	docID  uint64
	selfID uint64

	mu       sync.Mutex
	state    State
	lockedBy *Holder
	// acquireSucceeded records whether OUR acquisition RPC succeeded,
	// independent of what realtime later reports. Only the instance whose own
	// call succeeded may claim acquired on receipt of an INSERT echo; a
	// losing racer for the same user must not.
	acquireSucceeded bool
	// suppressUntil silences DELETE echoes from our own manual release so
	// they do not trigger self-re-acquisition.
	suppressUntil time.Time
	closed        bool
	unsubscribe   func()
	hbStop        chan struct{}
	deleteTimer   *time.Timer
	onChange      func(Status)
}

func NewManager(store LockStore, realtime Realtime, profiles ProfileLookup, docID, selfID uint64, cfg Config) *Manager {
	return &Manager{
		store:    store,
		realtime: realtime,
		profiles: profiles,
		cfg:      cfg.withDefaults(),
		docID:    docID,
		selfID:   selfID,
		state:    StateChecking,
	}
}

// OnChange registers an observer invoked after every state transition. Must
// be set before Start.
func (m *Manager) OnChange(fn func(Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Start subscribes to realtime notifications and runs the acquisition
// protocol. Subscribing first guarantees no event is missed between the
// acquire RPC and the reconciliation loop coming up.
func (m *Manager) Start(ctx context.Context) error {
	events, cancel, err := m.realtime.Subscribe(ctx, m.docID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.unsubscribe = cancel
	m.mu.Unlock()

	go m.consume(events)

	m.Acquire(ctx)
	return nil
}

// Status returns the current local view.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, LockedBy: m.lockedBy}
}

// Editable reports whether this session may initiate mutations.
func (m *Manager) Editable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAcquired
}

// Acquire runs the acquisition protocol: atomic acquire RPC, then
// verification by re-read, because the RPC's success response and the
// record's visibility to subsequent reads are not guaranteed to be
// simultaneous in the backing store.
func (m *Manager) Acquire(ctx context.Context) Status {
	if !m.transition(StateChecking, nil) {
		return m.Status()
	}

	res, err := m.store.Acquire(ctx, m.docID, m.selfID)
	if m.isClosed() {
		return m.Status()
	}
	if err != nil {
		// Transient infrastructure failure: read-only, not fatal.
		log.Printf("[EDITLOCK] acquire failed for doc %d: %v", m.docID, err)
		m.transition(StateLocked, nil)
		return m.Status()
	}

	if !res.Acquired {
		m.mu.Lock()
		m.acquireSucceeded = false
		m.mu.Unlock()

		var holder *Holder
		if res.OwnerID != 0 {
			holder = &Holder{ID: res.OwnerID, Name: res.OwnerName}
		}
		m.transition(StateLocked, holder)
		return m.Status()
	}

	m.mu.Lock()
	m.acquireSucceeded = true
	m.mu.Unlock()

	if !m.verify(ctx) {
		return m.Status()
	}

	if m.transition(StateAcquired, nil) {
		m.startHeartbeat()
	}
	return m.Status()
}

// verify re-reads the record until it is visible and owned by self. Gives up
// after the configured retry budget (~1s by default) and treats the
// acquisition as failed.
func (m *Manager) verify(ctx context.Context) bool {
	for attempt := 0; attempt < m.cfg.VerifyAttempts; attempt++ {
		if m.isClosed() {
			return false
		}

		lock, err := m.store.Get(ctx, m.docID)
		if err == nil {
			if lock.OwnerID == m.selfID {
				return true
			}
			// Someone else took over between the RPC response and our read.
			m.transition(StateLocked, &Holder{ID: lock.OwnerID, Name: m.lookupName(lock.OwnerID)})
			return false
		}

		select {
		case <-ctx.Done():
			m.transition(StateLocked, nil)
			return false
		case <-time.After(m.cfg.VerifyInterval):
		}
	}

	m.transition(StateLocked, nil)
	return false
}

// Release deletes our lock record and goes to unlocked, suppressing the
// resulting DELETE echo for a short window so it does not re-acquire.
func (m *Manager) Release(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAcquired {
		m.mu.Unlock()
		return nil
	}
	m.suppressUntil = time.Now().Add(m.cfg.ReleaseSuppression)
	// A stale INSERT echo from our earlier acquisition must not count as
	// confirmation once we have let go.
	m.acquireSucceeded = false
	m.mu.Unlock()

	m.stopHeartbeat()
	err := m.store.Release(ctx, m.docID, m.selfID)
	m.transition(StateUnlocked, nil)
	return err
}

// ForceTakeover deletes the existing lock record unconditionally; a
// subsequent Acquire by the caller (or anyone else) proceeds through the
// normal protocol. Permission gating is the caller's responsibility.
func (m *Manager) ForceTakeover(ctx context.Context) error {
	m.mu.Lock()
	m.suppressUntil = time.Now().Add(m.cfg.ReleaseSuppression)
	m.acquireSucceeded = false
	m.mu.Unlock()

	m.stopHeartbeat()
	if err := m.store.ForceDelete(ctx, m.docID); err != nil {
		return err
	}
	m.transition(StateUnlocked, nil)
	return nil
}

// Close tears down the session: unsubscribe first, then stop the heartbeat,
// then best-effort delete the lock if held. The unsubscribe must precede the
// delete so our own cleanup delete cannot trigger our re-acquisition logic.
// After Close no late event or RPC response mutates local state.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.unsubscribe
	m.unsubscribe = nil
	if m.deleteTimer != nil {
		m.deleteTimer.Stop()
		m.deleteTimer = nil
	}
	held := m.state == StateAcquired
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.stopHeartbeat()

	if held {
		if err := m.store.Release(ctx, m.docID, m.selfID); err != nil {
			log.Printf("[EDITLOCK] cleanup release failed for doc %d: %v", m.docID, err)
		}
	}
}

func (m *Manager) consume(events <-chan Event) {
	for ev := range events {
		m.handleEvent(ev)
	}
}

func (m *Manager) handleEvent(ev Event) {
	if m.isClosed() || ev.DocumentID != m.docID {
		return
	}

	// Unlocked is terminal for the session: after a release or takeover no
	// realtime event revives it. Only an explicit Acquire leaves this state.
	m.mu.Lock()
	unlocked := m.state == StateUnlocked
	m.mu.Unlock()
	if unlocked {
		return
	}

	switch ev.Type {
	case EventInsert, EventUpdate:
		if ev.OwnerID == m.selfID {
			m.mu.Lock()
			won := m.acquireSucceeded
			m.mu.Unlock()
			if won {
				// Confirmation of our own acquisition.
				if m.transition(StateAcquired, nil) {
					m.startHeartbeat()
				}
			}
			// Otherwise a stale or foreign echo for our user id; a losing
			// racer must not claim victory.
			return
		}

		m.stopHeartbeat()
		m.mu.Lock()
		m.acquireSucceeded = false
		m.mu.Unlock()
		m.transition(StateLocked, &Holder{ID: ev.OwnerID, Name: m.lookupName(ev.OwnerID)})

	case EventDelete:
		if m.suppressed() {
			return
		}
		m.scheduleReacquire()
	}
}

// scheduleReacquire waits out the delete-debounce window before attempting
// re-acquisition, letting a near-simultaneous INSERT from another racer land
// first.
func (m *Manager) scheduleReacquire() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.deleteTimer != nil {
		m.deleteTimer.Stop()
	}
	m.deleteTimer = time.AfterFunc(m.cfg.DeleteDebounce, func() {
		m.mu.Lock()
		state := m.state
		closed := m.closed
		m.mu.Unlock()

		if closed || state == StateAcquired || state == StateUnlocked {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
		defer cancel()
		m.Acquire(ctx)
	})
}

func (m *Manager) startHeartbeat() {
	m.mu.Lock()
	if m.closed || m.hbStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.hbStop = stop
	m.mu.Unlock()

	go m.heartbeatLoop(stop)
}

func (m *Manager) stopHeartbeat() {
	m.mu.Lock()
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
	m.mu.Unlock()
}

// heartbeatLoop renews the lease while acquired. A failed write is treated as
// transient: drop to checking and run a fresh acquisition, which self-heals
// without assuming the lock was lost.
func (m *Manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
			err := m.store.Heartbeat(ctx, m.docID, m.selfID, time.Now().UTC())
			cancel()
			if err == nil {
				continue
			}

			log.Printf("[EDITLOCK] heartbeat failed for doc %d: %v", m.docID, err)
			m.stopHeartbeat()
			if m.isClosed() {
				return
			}
			if m.transition(StateChecking, nil) {
				acquireCtx, acquireCancel := context.WithTimeout(context.Background(), rpcTimeout)
				m.Acquire(acquireCtx)
				acquireCancel()
			}
			return
		}
	}
}

// transition applies a state change unless the session is closed, then
// notifies the observer outside the lock. Returns false when closed.
func (m *Manager) transition(state State, holder *Holder) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.state = state
	m.lockedBy = holder
	cb := m.onChange
	status := Status{State: m.state, LockedBy: m.lockedBy}
	m.mu.Unlock()

	if cb != nil {
		cb(status)
	}
	return true
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) suppressed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.suppressUntil)
}

func (m *Manager) lookupName(userID uint64) string {
	if m.profiles == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	name, err := m.profiles.DisplayName(ctx, userID)
	if err != nil {
		log.Printf("[EDITLOCK] profile lookup failed for user %d: %v", userID, err)
		return ""
	}
	return name
}
