// File: internal/captcha/registry.go
package captcha

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Method identifies which strategy owns a session. It is fixed at creation
// and never changes for the session's lifetime.
type Method string

const (
	MethodHuman Method = "human"
	MethodAI    Method = "ai"
)

// Status is the resolution state of a session.
type Status string

const (
	StatusPending Status = "pending"
	StatusSolved  Status = "solved"
	StatusFailed  Status = "failed"
)

// Session is one registry entry: a browser session presently or previously
// blocked by a CAPTCHA, keyed by the minion that owns it.
type Session struct {
	SessionID string        `json:"sessionId"`
	MinionID  string        `json:"minionId"`
	Method    Method        `json:"method"`
	Status    Status        `json:"status"`
	Reason    FailureReason `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Terminal reports whether the session reached a final state.
func (s Session) Terminal() bool {
	return s.Status == StatusSolved || s.Status == StatusFailed
}

// Registry is the process-wide table mapping minion IDs to CAPTCHA-resolution
// state. It is shared between the HTTP boundary, the strategies, and the
// polling search pipeline; all access goes through one mutex. Entries are
// never expired implicitly: a caller that forgets Remove leaks the slot for
// the process lifetime, so every exit path of the search pipeline must
// remove its entry.
type Registry struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[string]Session
	// changed is closed and replaced on every mutation so blocked Await
	// callers can re-check without busy-polling.
	changed chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		log:     logger.Named("captcha_registry"),
		entries: make(map[string]Session),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Upsert creates or overwrites the entry for a minion, stamping the current
// time. Repeated notifications for the same minion simply overwrite status.
func (r *Registry) Upsert(minionID, sessionID string, status Status, method Method) Session {
	return r.upsert(minionID, sessionID, status, method, ReasonNone)
}

// Fail records a terminal failure with a reason code for observability.
func (r *Registry) Fail(minionID, sessionID string, method Method, reason FailureReason) Session {
	return r.upsert(minionID, sessionID, StatusFailed, method, reason)
}

func (r *Registry) upsert(minionID, sessionID string, status Status, method Method, reason FailureReason) Session {
	r.mu.Lock()
	entry := Session{
		SessionID: sessionID,
		MinionID:  minionID,
		Method:    method,
		Status:    status,
		Reason:    reason,
		Timestamp: r.now(),
	}
	r.entries[minionID] = entry
	r.broadcastLocked()
	r.mu.Unlock()

	r.log.Debug("Registry entry updated",
		zap.String("minion_id", minionID),
		zap.String("session_id", sessionID),
		zap.String("status", string(status)),
		zap.String("method", string(method)))
	return entry
}

// Notify applies an external resolution signal. It preserves the method of an
// existing entry (a notification never re-binds a session to a different
// strategy) and defaults to human for a minion seen for the first time.
// Notifications arriving after a caller gave up are still recorded; they do
// not resurrect the abandoned search path.
func (r *Registry) Notify(minionID, sessionID string, solved bool) Session {
	status := StatusFailed
	if solved {
		status = StatusSolved
	}

	r.mu.Lock()
	method := MethodHuman
	if existing, ok := r.entries[minionID]; ok {
		method = existing.Method
		if sessionID == "" {
			sessionID = existing.SessionID
		}
	}
	entry := Session{
		SessionID: sessionID,
		MinionID:  minionID,
		Method:    method,
		Status:    status,
		Timestamp: r.now(),
	}
	r.entries[minionID] = entry
	r.broadcastLocked()
	r.mu.Unlock()

	r.log.Info("External resolution notification applied",
		zap.String("minion_id", minionID),
		zap.Bool("solved", solved))
	return entry
}

// Get is a non-blocking lookup. Absence is reported distinctly from pending:
// callers must treat (Session{}, false) as "not yet registered", not failure.
func (r *Registry) Get(minionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[minionID]
	return s, ok
}

// Remove deletes the entry for a minion and reports whether one existed.
func (r *Registry) Remove(minionID string) bool {
	r.mu.Lock()
	_, ok := r.entries[minionID]
	if ok {
		delete(r.entries, minionID)
		r.broadcastLocked()
	}
	r.mu.Unlock()

	if ok {
		r.log.Debug("Registry entry removed", zap.String("minion_id", minionID))
	}
	return ok
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Await blocks until the minion's session reaches a terminal status or the
// context expires. It is the channel-based alternative to boundary polling
// for callers that can afford to block.
func (r *Registry) Await(ctx context.Context, minionID string) (Session, error) {
	for {
		r.mu.Lock()
		s, ok := r.entries[minionID]
		ch := r.changed
		r.mu.Unlock()

		if ok && s.Terminal() {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-ch:
		}
	}
}

// broadcastLocked wakes all Await callers. Must hold r.mu.
func (r *Registry) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
