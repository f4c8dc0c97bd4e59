// Package session owns the delegated messaging sessions: one authenticated
// user-session per admin, established through the phone + one-time-code
// handshake and used by the broadcast tasks to send ads.
package session

import (
	"context"
	"errors"
)

// Handshake state, per admin. Transient: lost on restart, requiring re-login.
type State int

const (
	StateIdle State = iota
	StateAwaitingCode
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "idle"
	}
}

// Classified transport failures. The registry adjusts handshake state based
// on which of these the transport reports.
var (
	ErrRateLimited     = errors.New("transport rate limited")
	ErrInvalidCode     = errors.New("invalid code")
	ErrRestartRequired = errors.New("handshake restart required")
	ErrUnreachable     = errors.New("destination unreachable")

	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNoHandshake          = errors.New("no handshake in progress")
)

// Pending identifies a half-open handshake (code requested, not yet verified).
type Pending struct {
	UserID   int64
	Phone    string
	CodeHash string
}

// Sender is the capability a broadcast task borrows for one send attempt.
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// Handle is a fully authenticated session.
type Handle interface {
	Sender
	// Logout revokes the authorization and discards the persisted session
	// artifact.
	Logout(ctx context.Context) error
}

// Transport performs the actual network handshake and owns the underlying
// client connections. Implementations classify failures into the sentinel
// errors above (wrapped is fine).
type Transport interface {
	RequestCode(ctx context.Context, userID int64, phone string) (Pending, error)
	VerifyCode(ctx context.Context, p Pending, code string) (Handle, error)
	// Abort discards any half-open handshake state for the user.
	Abort(userID int64)
}
