// Package mtproto implements the delegated-session transport on top of gotd.
//
// Each admin gets their own MTProto client with a session file under the
// configured directory. The controlling bot never sends ads itself; all
// broadcast traffic goes through these user sessions.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	tdsession "github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"adsbot/internal/session"
	logx "adsbot/pkg/logx"
)

type Config struct {
	APIID      int
	APIHash    string
	SessionDir string

	// ConnectTimeout bounds how long RequestCode waits for the initial
	// connection. Zero means 15s.
	ConnectTimeout time.Duration
}

// Transport manages one gotd client per admin and implements
// session.Transport.
type Transport struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	clients map[int64]*client
}

// client is a running gotd client. Its Run goroutine lives until cancel.
type client struct {
	userID int64
	tg     *telegram.Client
	sender *message.Sender
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, errors.New("mtproto: api id and hash are required")
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = "./sessions"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
		return nil, err
	}
	return &Transport{cfg: cfg, log: log, clients: map[int64]*client{}}, nil
}

func (t *Transport) sessionPath(userID int64) string {
	return filepath.Join(t.cfg.SessionDir, strconv.FormatInt(userID, 10)+".json")
}

// clientFor returns the running client for userID, starting one if needed.
func (t *Transport) clientFor(ctx context.Context, userID int64) (*client, error) {
	t.mu.Lock()
	if c := t.clients[userID]; c != nil {
		select {
		case <-c.done:
			// Run loop died (network, revoked key); replace it below.
			delete(t.clients, userID)
		default:
			t.mu.Unlock()
			return c, nil
		}
	}
	t.mu.Unlock()

	tgc := telegram.NewClient(t.cfg.APIID, t.cfg.APIHash, telegram.Options{
		SessionStorage: &tdsession.FileStorage{Path: t.sessionPath(userID)},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c := &client{
		userID: userID,
		tg:     tgc,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ready := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		defer close(c.done)
		err := tgc.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && runCtx.Err() == nil {
			t.log.Warn("mtproto client stopped", logx.Int64("user_id", userID), logx.Err(err))
		}
		errc <- err
	}()

	connectTimeout := time.NewTimer(t.cfg.ConnectTimeout)
	defer connectTimeout.Stop()
	select {
	case <-ready:
	case err := <-errc:
		cancel()
		return nil, fmt.Errorf("mtproto connect: %w", classify(err))
	case <-connectTimeout.C:
		cancel()
		return nil, fmt.Errorf("mtproto connect timeout: %w", session.ErrUnreachable)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	c.sender = message.NewSender(tgc.API())

	t.mu.Lock()
	t.clients[userID] = c
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) RequestCode(ctx context.Context, userID int64, phone string) (session.Pending, error) {
	c, err := t.clientFor(ctx, userID)
	if err != nil {
		return session.Pending{}, err
	}

	sent, err := c.tg.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return session.Pending{}, classify(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return session.Pending{}, fmt.Errorf("unexpected sent code type %T: %w", sent, session.ErrRestartRequired)
	}
	return session.Pending{UserID: userID, Phone: phone, CodeHash: code.PhoneCodeHash}, nil
}

func (t *Transport) VerifyCode(ctx context.Context, p session.Pending, code string) (session.Handle, error) {
	c, err := t.clientFor(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := c.tg.Auth().SignIn(ctx, p.Phone, code, p.CodeHash); err != nil {
		if errors.Is(err, auth.ErrPasswordAuthNeeded) {
			// 2FA accounts are out of scope; the user must disable the
			// password or use another account.
			return nil, fmt.Errorf("account requires a 2FA password: %w", session.ErrRestartRequired)
		}
		return nil, classify(err)
	}
	return &handle{t: t, c: c}, nil
}

// Abort tears down any client for userID without touching its session file.
func (t *Transport) Abort(userID int64) {
	t.mu.Lock()
	c := t.clients[userID]
	delete(t.clients, userID)
	t.mu.Unlock()
	if c != nil {
		c.cancel()
	}
}

// Close stops every client. Session files stay so authenticated users can in
// principle resume after a future release adds session restore.
func (t *Transport) Close() {
	t.mu.Lock()
	clients := t.clients
	t.clients = map[int64]*client{}
	t.mu.Unlock()
	for _, c := range clients {
		c.cancel()
		<-c.done
	}
}

// handle is the authenticated capability handed to the session registry.
type handle struct {
	t *Transport
	c *client
}

func (h *handle) Send(ctx context.Context, destination, text string) error {
	select {
	case <-h.c.done:
		return session.ErrNotAuthenticated
	default:
	}
	if _, err := h.c.sender.Resolve(destination).Text(ctx, text); err != nil {
		return classify(err)
	}
	return nil
}

func (h *handle) Logout(ctx context.Context) error {
	_, err := h.c.tg.API().AuthLogOut(ctx)
	h.t.Abort(h.c.userID)
	// The persisted session artifact dies with the logout.
	if rmErr := os.Remove(h.t.sessionPath(h.c.userID)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		h.t.log.Warn("cannot remove session file", logx.Int64("user_id", h.c.userID), logx.Err(rmErr))
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps gotd/Telegram RPC errors onto the session package's sentinel
// taxonomy so the registry and dispatcher can branch on errors.Is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case tgerr.Is(err, "FLOOD_WAIT", "PHONE_PASSWORD_FLOOD", "SMS_CODE_RATE_LIMIT"):
		return fmt.Errorf("%w: %v", session.ErrRateLimited, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		return fmt.Errorf("%w: %v", session.ErrInvalidCode, err)
	case tgerr.Is(err, "PHONE_CODE_EXPIRED", "PHONE_CODE_EMPTY", "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED"):
		return fmt.Errorf("%w: %v", session.ErrRestartRequired, err)
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "SESSION_EXPIRED", "USER_DEACTIVATED"):
		return fmt.Errorf("%w: %v", session.ErrNotAuthenticated, err)
	case tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "PEER_ID_INVALID", "CHANNEL_PRIVATE", "CHAT_WRITE_FORBIDDEN", "USER_IS_BLOCKED"):
		return fmt.Errorf("%w: %v", session.ErrUnreachable, err)
	default:
		return err
	}
}
