package session

import (
	"context"
	"errors"
	"sync"

	logx "adsbot/pkg/logx"
)

// Registry maps admin ids to their handshake state and, once authenticated,
// the live session handle.
//
// Locking is per user: one admin's (slow, network-bound) handshake never
// blocks another admin's lookup. The registry-level mutex only guards the
// entry map itself.
type Registry struct {
	transport Transport
	log       logx.Logger

	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	mu      sync.Mutex
	state   State
	pending Pending
	handle  Handle
}

func NewRegistry(transport Transport, log logx.Logger) *Registry {
	return &Registry{
		transport: transport,
		log:       log,
		entries:   map[int64]*entry{},
	}
}

func (r *Registry) entryFor(userID int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[userID]
	if e == nil {
		e = &entry{}
		r.entries[userID] = e
	}
	return e
}

// BeginLogin requests a one-time code for phone. A login while a previous
// handshake is half-open discards the stale pending code. Fails with
// ErrAlreadyAuthenticated when a session already exists (logout first).
func (r *Registry) BeginLogin(ctx context.Context, userID int64, phone string) error {
	e := r.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateAuthenticated {
		return ErrAlreadyAuthenticated
	}
	if e.state == StateAwaitingCode {
		// Restart from scratch; the old code hash is useless now.
		r.transport.Abort(userID)
		e.state = StateIdle
		e.pending = Pending{}
	}

	p, err := r.transport.RequestCode(ctx, userID, phone)
	if err != nil {
		e.state = StateIdle
		e.pending = Pending{}
		r.log.Warn("code request failed", logx.Int64("user_id", userID), logx.Err(err))
		return err
	}

	e.state = StateAwaitingCode
	e.pending = p
	r.log.Info("code requested", logx.Int64("user_id", userID))
	return nil
}

// SubmitCode completes the handshake. An invalid code keeps the handshake
// open with the same phone so the user can retry; restart-class failures
// drop back to idle.
func (r *Registry) SubmitCode(ctx context.Context, userID int64, code string) error {
	e := r.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateAwaitingCode {
		return ErrNoHandshake
	}

	h, err := r.transport.VerifyCode(ctx, e.pending, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			r.log.Warn("invalid code, retry allowed", logx.Int64("user_id", userID))
			return err
		}
		r.transport.Abort(userID)
		e.state = StateIdle
		e.pending = Pending{}
		r.log.Warn("handshake failed", logx.Int64("user_id", userID), logx.Err(err))
		return err
	}

	e.state = StateAuthenticated
	e.pending = Pending{}
	e.handle = h
	r.log.Info("session authenticated", logx.Int64("user_id", userID))
	return nil
}

// Logout revokes the session and discards its persisted artifact. The revoke
// call is best effort: local state is cleared even if the network call fails.
func (r *Registry) Logout(ctx context.Context, userID int64) error {
	e := r.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateAuthenticated || e.handle == nil {
		return ErrNotAuthenticated
	}
	err := e.handle.Logout(ctx)
	e.state = StateIdle
	e.handle = nil
	if err != nil {
		r.log.Warn("logout revoke failed; local session discarded anyway", logx.Int64("user_id", userID), logx.Err(err))
	} else {
		r.log.Info("session logged out", logx.Int64("user_id", userID))
	}
	return nil
}

// Session returns the send capability for userID, if authenticated. It never
// performs network I/O.
func (r *Registry) Session(userID int64) (Sender, bool) {
	e := r.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateAuthenticated || e.handle == nil {
		return nil, false
	}
	return e.handle, true
}

// State reports the current handshake state and the pending phone (empty
// unless awaiting a code). Used for status display.
func (r *Registry) State(userID int64) (State, string) {
	e := r.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.pending.Phone
}
