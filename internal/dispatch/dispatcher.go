package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"adsbot/internal/ads"
	"adsbot/internal/eventbus"
	"adsbot/internal/session"
	"adsbot/internal/storage"
	logx "adsbot/pkg/logx"
)

// Registry is the slice of the session registry the dispatcher drives.
type Registry interface {
	BeginLogin(ctx context.Context, userID int64, phone string) error
	SubmitCode(ctx context.Context, userID int64, code string) error
	Logout(ctx context.Context, userID int64) error
	State(userID int64) (session.State, string)
}

// Broadcaster is the slice of the task manager the dispatcher drives.
type Broadcaster interface {
	Start(ctx context.Context, userID int64) error
	Stop(ctx context.Context, userID int64) error
	Running(userID int64) bool
}

type Dispatcher struct {
	store    *ads.ConfigStore
	registry Registry
	tasks    Broadcaster
	bus      eventbus.Bus
	log      logx.Logger

	adminMu sync.RWMutex
	admins  map[int64]struct{}

	pendingMu sync.Mutex
	pending   map[int64]Pending
}

// AdminEvent is published for every state-mutating admin action.
type AdminEvent struct {
	ActorID int64
	Action  string
	Target  string
}

func New(store *ads.ConfigStore, registry Registry, tasks Broadcaster, bus eventbus.Bus, admins map[int64]struct{}, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		tasks:    tasks,
		bus:      bus,
		log:      log,
		admins:   admins,
		pending:  map[int64]Pending{},
	}
}

// SetAdmins swaps the allow-list (config hot reload).
func (d *Dispatcher) SetAdmins(admins map[int64]struct{}) {
	d.adminMu.Lock()
	d.admins = admins
	d.adminMu.Unlock()
}

// IsAdmin reports whether userID may use the bot at all.
func (d *Dispatcher) IsAdmin(userID int64) bool {
	d.adminMu.RLock()
	_, ok := d.admins[userID]
	d.adminMu.RUnlock()
	return ok
}

func (d *Dispatcher) setPending(userID int64, p Pending) {
	d.pendingMu.Lock()
	if p == PendingNone {
		delete(d.pending, userID)
	} else {
		d.pending[userID] = p
	}
	d.pendingMu.Unlock()
}

func (d *Dispatcher) pendingFor(userID int64) Pending {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	return d.pending[userID]
}

func (d *Dispatcher) audit(userID int64, action, target string) {
	d.bus.Publish(eventbus.Event{Type: "admin.action", Data: AdminEvent{ActorID: userID, Action: action, Target: target}})
}

// HandleMenu processes a discrete menu choice. Non-admins get a silent reply
// and no state changes anywhere.
func (d *Dispatcher) HandleMenu(ctx context.Context, userID int64, action Action) Reply {
	if !d.IsAdmin(userID) {
		return Reply{}
	}

	// Any menu choice discards a stale in-progress prompt.
	switch action {
	case ActionLogin:
		d.setPending(userID, PendingPhone)
		return Reply{Prompt: PromptPhone}
	case ActionAdd:
		d.setPending(userID, PendingAddDestination)
		return Reply{Prompt: PromptAddDestination}
	case ActionRemove:
		d.setPending(userID, PendingRemoveDestination)
		return Reply{Prompt: PromptRemoveDestination}
	case ActionMessage:
		d.setPending(userID, PendingMessage)
		return Reply{Prompt: PromptMessage}
	case ActionInterval:
		d.setPending(userID, PendingInterval)
		return Reply{Prompt: PromptInterval}
	case ActionLogout:
		d.setPending(userID, PendingNone)
		return d.logout(ctx, userID)
	case ActionStart:
		d.setPending(userID, PendingNone)
		return d.start(ctx, userID)
	case ActionStop:
		d.setPending(userID, PendingNone)
		return d.stop(ctx, userID)
	case ActionStatus:
		d.setPending(userID, PendingNone)
		return d.status(userID)
	default:
		d.log.Debug("unknown menu action", logx.Int64("user_id", userID), logx.String("action", string(action)))
		return Reply{ShowMenu: true}
	}
}

// HandleText processes free text: it is the answer to the pending prompt, if
// any. Text with no pending prompt is ignored.
func (d *Dispatcher) HandleText(ctx context.Context, userID int64, text string) Reply {
	if !d.IsAdmin(userID) {
		return Reply{}
	}
	text = strings.TrimSpace(text)

	switch d.pendingFor(userID) {
	case PendingPhone:
		return d.submitPhone(ctx, userID, text)
	case PendingCode:
		return d.submitCode(ctx, userID, text)
	case PendingMessage:
		d.setPending(userID, PendingNone)
		if _, err := d.store.Update(ctx, userID, func(c *storage.UserConfig) { c.Message = text }); err != nil {
			return d.internalError(userID, "set message", err)
		}
		d.audit(userID, "set_message", "")
		return Reply{Notice: NoticeMessageSaved, ShowMenu: true}
	case PendingInterval:
		return d.submitInterval(ctx, userID, text)
	case PendingAddDestination:
		return d.addDestination(ctx, userID, text)
	case PendingRemoveDestination:
		return d.removeDestination(ctx, userID, text)
	default:
		return Reply{}
	}
}

func (d *Dispatcher) submitPhone(ctx context.Context, userID int64, phone string) Reply {
	if phone == "" {
		// Keep waiting; an empty line is not a phone number.
		return Reply{Prompt: PromptPhone}
	}
	err := d.registry.BeginLogin(ctx, userID, phone)
	switch {
	case err == nil:
		d.setPending(userID, PendingCode)
		d.audit(userID, "login_code_requested", "")
		return Reply{Prompt: PromptCode}
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		d.setPending(userID, PendingNone)
		return Reply{Notice: NoticeAlreadyAuthenticated, ShowMenu: true}
	case errors.Is(err, session.ErrRateLimited):
		d.setPending(userID, PendingNone)
		return Reply{Notice: NoticeRateLimited, ShowMenu: true}
	default:
		d.setPending(userID, PendingNone)
		return Reply{Notice: NoticeLoginFailed, Detail: err.Error(), ShowMenu: true}
	}
}

func (d *Dispatcher) submitCode(ctx context.Context, userID int64, code string) Reply {
	// The original UI asked for codes as "code12345" to dodge Telegram's
	// own-code censoring; accept that form too.
	code = strings.TrimPrefix(strings.ToLower(code), "code")
	err := d.registry.SubmitCode(ctx, userID, strings.TrimSpace(code))
	switch {
	case err == nil:
		d.setPending(userID, PendingNone)
		d.audit(userID, "login", "")
		return Reply{Notice: NoticeLoggedIn, ShowMenu: true}
	case errors.Is(err, session.ErrInvalidCode):
		// Deliberate re-prompt: the handshake stays open with the same phone.
		return Reply{Notice: NoticeInvalidCode, Prompt: PromptCode}
	case errors.Is(err, session.ErrRateLimited):
		d.setPending(userID, PendingNone)
		return Reply{Notice: NoticeRateLimited, ShowMenu: true}
	case errors.Is(err, session.ErrNoHandshake):
		d.setPending(userID, PendingNone)
		return Reply{Notice: NoticeHandshakeRestart, ShowMenu: true}
	default:
		d.setPending(userID, PendingNone)
		return Reply{Notice: NoticeHandshakeRestart, Detail: err.Error(), ShowMenu: true}
	}
}

func (d *Dispatcher) submitInterval(ctx context.Context, userID int64, text string) Reply {
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 {
		// Invalid input re-prompts without clearing the pending state.
		return Reply{Notice: NoticeInvalidInterval, Prompt: PromptInterval}
	}
	d.setPending(userID, PendingNone)
	if _, err := d.store.Update(ctx, userID, func(c *storage.UserConfig) { c.IntervalSeconds = n }); err != nil {
		return d.internalError(userID, "set interval", err)
	}
	d.audit(userID, "set_interval", strconv.Itoa(n))
	return Reply{Notice: NoticeIntervalSet, Detail: strconv.Itoa(n), ShowMenu: true}
}

func (d *Dispatcher) addDestination(ctx context.Context, userID int64, dest string) Reply {
	if dest == "" {
		return Reply{Notice: NoticeInvalidDestination, Prompt: PromptAddDestination}
	}
	d.setPending(userID, PendingNone)
	if _, err := d.store.Update(ctx, userID, func(c *storage.UserConfig) {
		c.Destinations = append(c.Destinations, dest)
	}); err != nil {
		return d.internalError(userID, "add destination", err)
	}
	d.audit(userID, "add_destination", dest)
	return Reply{Notice: NoticeDestinationAdded, Detail: dest, ShowMenu: true}
}

func (d *Dispatcher) removeDestination(ctx context.Context, userID int64, dest string) Reply {
	if dest == "" {
		return Reply{Notice: NoticeInvalidDestination, Prompt: PromptRemoveDestination}
	}
	d.setPending(userID, PendingNone)
	found := false
	if _, err := d.store.Update(ctx, userID, func(c *storage.UserConfig) {
		kept := c.Destinations[:0]
		for _, v := range c.Destinations {
			if v == dest && !found {
				// Remove the first occurrence only; duplicates are permitted.
				found = true
				continue
			}
			kept = append(kept, v)
		}
		c.Destinations = kept
	}); err != nil {
		return d.internalError(userID, "remove destination", err)
	}
	if !found {
		return Reply{Notice: NoticeDestinationMissing, Detail: dest, ShowMenu: true}
	}
	d.audit(userID, "remove_destination", dest)
	return Reply{Notice: NoticeDestinationRemoved, Detail: dest, ShowMenu: true}
}

func (d *Dispatcher) logout(ctx context.Context, userID int64) Reply {
	err := d.registry.Logout(ctx, userID)
	if errors.Is(err, session.ErrNotAuthenticated) {
		return Reply{Notice: NoticeNotAuthenticated, ShowMenu: true}
	}
	if err != nil {
		return d.internalError(userID, "logout", err)
	}
	d.audit(userID, "logout", "")
	return Reply{Notice: NoticeLoggedOut, ShowMenu: true}
}

func (d *Dispatcher) start(ctx context.Context, userID int64) Reply {
	err := d.tasks.Start(ctx, userID)
	switch {
	case err == nil:
		d.audit(userID, "start_ads", "")
		return Reply{Notice: NoticeStarted, ShowMenu: true}
	case errors.Is(err, ads.ErrAlreadyRunning):
		return Reply{Notice: NoticeAlreadyRunning, ShowMenu: true}
	case errors.Is(err, session.ErrNotAuthenticated):
		return Reply{Notice: NoticeNotAuthenticated, ShowMenu: true}
	default:
		return d.internalError(userID, "start ads", err)
	}
}

func (d *Dispatcher) stop(ctx context.Context, userID int64) Reply {
	err := d.tasks.Stop(ctx, userID)
	switch {
	case err == nil:
		d.audit(userID, "stop_ads", "")
		return Reply{Notice: NoticeStopped, ShowMenu: true}
	case errors.Is(err, ads.ErrNotRunning):
		return Reply{Notice: NoticeNotRunning, ShowMenu: true}
	default:
		return d.internalError(userID, "stop ads", err)
	}
}

func (d *Dispatcher) status(userID int64) Reply {
	cfg := d.store.Get(userID)
	state, _ := d.registry.State(userID)
	return Reply{
		Status: &Status{
			Destinations:    cfg.Destinations,
			Message:         cfg.Message,
			IntervalSeconds: cfg.IntervalSeconds,
			Running:         d.tasks.Running(userID),
			SessionState:    state.String(),
		},
		ShowMenu: true,
	}
}

func (d *Dispatcher) internalError(userID int64, op string, err error) Reply {
	d.log.Error("dispatcher operation failed", logx.Int64("user_id", userID), logx.String("op", op), logx.Err(err))
	return Reply{Notice: NoticeInternalError, ShowMenu: true}
}
