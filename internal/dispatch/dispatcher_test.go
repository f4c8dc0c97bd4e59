package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"adsbot/internal/ads"
	"adsbot/internal/eventbus"
	"adsbot/internal/session"
	"adsbot/internal/storage"
	logx "adsbot/pkg/logx"
)

type memStore struct {
	mu    sync.Mutex
	users map[int64]storage.UserConfig
}

func (m *memStore) LoadUsers(ctx context.Context) (map[int64]storage.UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]storage.UserConfig, len(m.users))
	for id, cfg := range m.users {
		out[id] = cfg.Clone()
	}
	return out, nil
}

func (m *memStore) PutUser(ctx context.Context, userID int64, cfg storage.UserConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = map[int64]storage.UserConfig{}
	}
	m.users[userID] = cfg.Clone()
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error { return nil }
func (m *memStore) PruneAudit(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
func (m *memStore) Close() error { return nil }

// fakeRegistry scripts session registry outcomes.
type fakeRegistry struct {
	beginErr  error
	submitErr error
	logoutErr error

	begins  int
	submits int

	lastPhone string
	lastCode  string

	state session.State
	phone string
}

func (f *fakeRegistry) BeginLogin(ctx context.Context, userID int64, phone string) error {
	f.begins++
	f.lastPhone = phone
	return f.beginErr
}

func (f *fakeRegistry) SubmitCode(ctx context.Context, userID int64, code string) error {
	f.submits++
	f.lastCode = code
	return f.submitErr
}

func (f *fakeRegistry) Logout(ctx context.Context, userID int64) error { return f.logoutErr }

func (f *fakeRegistry) State(userID int64) (session.State, string) { return f.state, f.phone }

type fakeBroadcaster struct {
	startErr error
	stopErr  error
	running  bool

	starts int
	stops  int
}

func (f *fakeBroadcaster) Start(ctx context.Context, userID int64) error {
	f.starts++
	if f.startErr == nil {
		f.running = true
	}
	return f.startErr
}

func (f *fakeBroadcaster) Stop(ctx context.Context, userID int64) error {
	f.stops++
	if f.stopErr == nil {
		f.running = false
	}
	return f.stopErr
}

func (f *fakeBroadcaster) Running(userID int64) bool { return f.running }

const admin int64 = 100

func newTestDispatcher(t *testing.T) (*Dispatcher, *ads.ConfigStore, *fakeRegistry, *fakeBroadcaster) {
	t.Helper()
	store, err := ads.NewConfigStore(context.Background(), &memStore{}, logx.Nop())
	if err != nil {
		t.Fatalf("NewConfigStore: %v", err)
	}
	reg := &fakeRegistry{}
	tasks := &fakeBroadcaster{}
	d := New(store, reg, tasks, eventbus.New(), map[int64]struct{}{admin: {}}, logx.Nop())
	return d, store, reg, tasks
}

func TestNonAdminIsSilent(t *testing.T) {
	t.Parallel()
	d, store, reg, tasks := newTestDispatcher(t)
	ctx := context.Background()
	const stranger int64 = 999

	for _, action := range []Action{ActionLogin, ActionAdd, ActionStart, ActionStatus} {
		if r := d.HandleMenu(ctx, stranger, action); !r.Silent() {
			t.Fatalf("menu %q for stranger must be silent, got %+v", action, r)
		}
	}
	if r := d.HandleText(ctx, stranger, "+628123"); !r.Silent() {
		t.Fatalf("text for stranger must be silent, got %+v", r)
	}
	if reg.begins != 0 || tasks.starts != 0 {
		t.Fatal("stranger input must not reach registry or task manager")
	}
	if got := store.Get(stranger); got.Message != "" || len(got.Destinations) != 0 {
		t.Fatalf("stranger input mutated config: %+v", got)
	}
}

func TestLoginFlow(t *testing.T) {
	t.Parallel()
	d, _, reg, _ := newTestDispatcher(t)
	ctx := context.Background()

	if r := d.HandleMenu(ctx, admin, ActionLogin); r.Prompt != PromptPhone {
		t.Fatalf("login menu: %+v", r)
	}
	if r := d.HandleText(ctx, admin, "+628123"); r.Prompt != PromptCode {
		t.Fatalf("phone submit: %+v", r)
	}
	if reg.lastPhone != "+628123" {
		t.Fatalf("phone = %q", reg.lastPhone)
	}
	if r := d.HandleText(ctx, admin, "code12345"); r.Notice != NoticeLoggedIn {
		t.Fatalf("code submit: %+v", r)
	}
	// The "code" prefix is UI armor against Telegram eating the raw code.
	if reg.lastCode != "12345" {
		t.Fatalf("code = %q, want prefix stripped", reg.lastCode)
	}

	// Text after the flow finished is ignored.
	if r := d.HandleText(ctx, admin, "stray text"); !r.Silent() {
		t.Fatalf("stray text: %+v", r)
	}
}

func TestInvalidCodeReprompts(t *testing.T) {
	t.Parallel()
	d, _, reg, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionLogin)
	d.HandleText(ctx, admin, "+628123")

	reg.submitErr = session.ErrInvalidCode
	r := d.HandleText(ctx, admin, "code00000")
	if r.Notice != NoticeInvalidCode || r.Prompt != PromptCode {
		t.Fatalf("invalid code: %+v", r)
	}

	// The pending state survived: the next text is still treated as a code.
	reg.submitErr = nil
	if r := d.HandleText(ctx, admin, "code12345"); r.Notice != NoticeLoggedIn {
		t.Fatalf("retry: %+v", r)
	}
}

func TestRateLimitedLoginAborts(t *testing.T) {
	t.Parallel()
	d, _, reg, _ := newTestDispatcher(t)
	ctx := context.Background()

	reg.beginErr = session.ErrRateLimited
	d.HandleMenu(ctx, admin, ActionLogin)
	if r := d.HandleText(ctx, admin, "+628123"); r.Notice != NoticeRateLimited {
		t.Fatalf("rate limited: %+v", r)
	}
	// Pending phone cleared: further text is ignored.
	if r := d.HandleText(ctx, admin, "+628123"); !r.Silent() {
		t.Fatalf("after abort: %+v", r)
	}
}

func TestEmptyPhoneReprompts(t *testing.T) {
	t.Parallel()
	d, _, reg, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionLogin)
	if r := d.HandleText(ctx, admin, "   "); r.Prompt != PromptPhone {
		t.Fatalf("empty phone: %+v", r)
	}
	if reg.begins != 0 {
		t.Fatal("empty phone must not hit the transport")
	}
}

func TestAddAndRemoveDestination(t *testing.T) {
	t.Parallel()
	d, store, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionAdd)
	if r := d.HandleText(ctx, admin, "@channel1"); r.Notice != NoticeDestinationAdded {
		t.Fatalf("add: %+v", r)
	}
	d.HandleMenu(ctx, admin, ActionAdd)
	d.HandleText(ctx, admin, "@channel2")

	got := store.Get(admin).Destinations
	if len(got) != 2 || got[0] != "@channel1" || got[1] != "@channel2" {
		t.Fatalf("destinations = %v", got)
	}

	d.HandleMenu(ctx, admin, ActionRemove)
	if r := d.HandleText(ctx, admin, "@channel1"); r.Notice != NoticeDestinationRemoved {
		t.Fatalf("remove: %+v", r)
	}
	got = store.Get(admin).Destinations
	if len(got) != 1 || got[0] != "@channel2" {
		t.Fatalf("destinations after remove = %v", got)
	}

	d.HandleMenu(ctx, admin, ActionRemove)
	if r := d.HandleText(ctx, admin, "@nope"); r.Notice != NoticeDestinationMissing {
		t.Fatalf("remove missing: %+v", r)
	}
}

func TestEmptyDestinationReprompts(t *testing.T) {
	t.Parallel()
	d, store, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionAdd)
	d.HandleText(ctx, admin, "@keep")

	// Blank answers re-prompt and keep the pending slot, for add and remove
	// alike.
	d.HandleMenu(ctx, admin, ActionAdd)
	if r := d.HandleText(ctx, admin, "  "); r.Notice != NoticeInvalidDestination || r.Prompt != PromptAddDestination {
		t.Fatalf("empty add: %+v", r)
	}
	if r := d.HandleText(ctx, admin, "@late"); r.Notice != NoticeDestinationAdded {
		t.Fatalf("add after re-prompt: %+v", r)
	}

	d.HandleMenu(ctx, admin, ActionRemove)
	if r := d.HandleText(ctx, admin, ""); r.Notice != NoticeInvalidDestination || r.Prompt != PromptRemoveDestination {
		t.Fatalf("empty remove: %+v", r)
	}
	if r := d.HandleText(ctx, admin, "@late"); r.Notice != NoticeDestinationRemoved {
		t.Fatalf("remove after re-prompt: %+v", r)
	}
	if got := store.Get(admin).Destinations; len(got) != 1 || got[0] != "@keep" {
		t.Fatalf("destinations = %v", got)
	}
}

func TestRemoveDropsFirstOccurrenceOnly(t *testing.T) {
	t.Parallel()
	d, store, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d.HandleMenu(ctx, admin, ActionAdd)
		d.HandleText(ctx, admin, "@dup")
	}
	d.HandleMenu(ctx, admin, ActionRemove)
	d.HandleText(ctx, admin, "@dup")

	if got := store.Get(admin).Destinations; len(got) != 1 {
		t.Fatalf("destinations = %v, want one @dup left", got)
	}
}

func TestSetMessage(t *testing.T) {
	t.Parallel()
	d, store, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionMessage)
	if r := d.HandleText(ctx, admin, "big sale today"); r.Notice != NoticeMessageSaved {
		t.Fatalf("set message: %+v", r)
	}
	if got := store.Get(admin).Message; got != "big sale today" {
		t.Fatalf("message = %q", got)
	}
}

func TestSetInterval(t *testing.T) {
	t.Parallel()
	d, store, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionInterval)
	if r := d.HandleText(ctx, admin, "30"); r.Notice != NoticeIntervalSet {
		t.Fatalf("set interval: %+v", r)
	}
	if got := store.Get(admin).IntervalSeconds; got != 30 {
		t.Fatalf("interval = %d", got)
	}
}

func TestInvalidIntervalReprompts(t *testing.T) {
	t.Parallel()
	d, store, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionInterval)
	for _, bad := range []string{"abc", "0", "-3"} {
		r := d.HandleText(ctx, admin, bad)
		if r.Notice != NoticeInvalidInterval || r.Prompt != PromptInterval {
			t.Fatalf("interval %q: %+v", bad, r)
		}
	}
	// Still pending: a valid answer lands.
	if r := d.HandleText(ctx, admin, "45"); r.Notice != NoticeIntervalSet {
		t.Fatalf("valid after invalid: %+v", r)
	}
	if got := store.Get(admin).IntervalSeconds; got != 45 {
		t.Fatalf("interval = %d", got)
	}
}

func TestStartWithoutSession(t *testing.T) {
	t.Parallel()
	d, store, _, tasks := newTestDispatcher(t)
	ctx := context.Background()

	tasks.startErr = session.ErrNotAuthenticated
	if r := d.HandleMenu(ctx, admin, ActionStart); r.Notice != NoticeNotAuthenticated {
		t.Fatalf("start without session: %+v", r)
	}
	if store.Get(admin).Running {
		t.Fatal("failed start must not flip Running")
	}
}

func TestStartStopNotices(t *testing.T) {
	t.Parallel()
	d, _, _, tasks := newTestDispatcher(t)
	ctx := context.Background()

	if r := d.HandleMenu(ctx, admin, ActionStart); r.Notice != NoticeStarted {
		t.Fatalf("start: %+v", r)
	}
	tasks.startErr = ads.ErrAlreadyRunning
	if r := d.HandleMenu(ctx, admin, ActionStart); r.Notice != NoticeAlreadyRunning {
		t.Fatalf("second start: %+v", r)
	}
	if r := d.HandleMenu(ctx, admin, ActionStop); r.Notice != NoticeStopped {
		t.Fatalf("stop: %+v", r)
	}
	tasks.stopErr = ads.ErrNotRunning
	if r := d.HandleMenu(ctx, admin, ActionStop); r.Notice != NoticeNotRunning {
		t.Fatalf("second stop: %+v", r)
	}
}

func TestMenuChoiceDiscardsStalePrompt(t *testing.T) {
	t.Parallel()
	d, store, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.HandleMenu(ctx, admin, ActionMessage)
	d.HandleMenu(ctx, admin, ActionInterval)
	// The text answers the latest prompt, not the stale one.
	d.HandleText(ctx, admin, "90")
	cfg := store.Get(admin)
	if cfg.Message != "" || cfg.IntervalSeconds != 90 {
		t.Fatalf("cfg = %+v, want interval set and message untouched", cfg)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	d, store, reg, tasks := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := store.Update(ctx, admin, func(c *storage.UserConfig) {
		c.Message = "promo"
		c.Destinations = []string{"@a"}
		c.IntervalSeconds = 42
	}); err != nil {
		t.Fatal(err)
	}
	reg.state = session.StateAuthenticated
	tasks.running = true

	r := d.HandleMenu(ctx, admin, ActionStatus)
	if r.Status == nil {
		t.Fatal("status reply carries no status")
	}
	s := r.Status
	if s.Message != "promo" || s.IntervalSeconds != 42 || !s.Running || s.SessionState != "authenticated" {
		t.Fatalf("status = %+v", s)
	}
}

func TestSetAdminsHotSwap(t *testing.T) {
	t.Parallel()
	d, _, _, _ := newTestDispatcher(t)
	ctx := context.Background()
	const newcomer int64 = 555

	if r := d.HandleMenu(ctx, newcomer, ActionStatus); !r.Silent() {
		t.Fatalf("newcomer before swap: %+v", r)
	}
	d.SetAdmins(map[int64]struct{}{newcomer: {}})
	if r := d.HandleMenu(ctx, newcomer, ActionStatus); r.Silent() {
		t.Fatal("newcomer after swap must be served")
	}
	if r := d.HandleMenu(ctx, admin, ActionStatus); !r.Silent() {
		t.Fatalf("old admin must be dropped by the swap, got %+v", r)
	}
}
