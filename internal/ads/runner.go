package ads

import (
	"context"
	"math/rand"
	"runtime/debug"
	"time"

	"adsbot/internal/eventbus"
	logx "adsbot/pkg/logx"
)

// run is one admin's broadcast loop. It only exits on cancellation; every
// in-loop failure (incomplete config, missing session, per-destination send
// errors) is contained and retried on a later cycle.
func (m *Manager) run(ctx context.Context, userID int64, t *task) {
	defer m.wg.Done()
	defer close(t.done)
	log := m.log.With(logx.Int64("user_id", userID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in broadcast task", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	for {
		// Config is re-read every cycle so edits apply without a restart.
		cfg := m.store.Get(userID)

		if cfg.Message == "" || len(cfg.Destinations) == 0 {
			// Not configured yet; idle instead of dying so the user can start
			// ads before finishing setup.
			if !sleepCtx(ctx, m.cfg.SkipBackoff) {
				return
			}
			continue
		}

		sender, ok := m.sessions.Session(userID)
		if !ok {
			// Revoked or disconnected mid-run: transient, retry next cycle.
			log.Debug("no session; retrying next cycle")
			if !sleepCtx(ctx, m.cfg.SkipBackoff) {
				return
			}
			continue
		}

		sent, failed := 0, 0
		for _, dest := range cfg.Destinations {
			if ctx.Err() != nil {
				return
			}
			if err := sender.Send(ctx, dest, cfg.Message); err != nil {
				failed++
				log.Warn("send failed", logx.String("dest", dest), logx.Err(err))
				continue
			}
			sent++
		}
		log.Debug("cycle done", logx.Int("sent", sent), logx.Int("failed", failed))
		m.bus.Publish(eventbus.Event{Type: "ads.cycle", Data: CycleEvent{UserID: userID, Sent: sent, Failed: failed}})

		// Interval is re-read after the cycle so a mid-cycle edit shapes the
		// very next sleep.
		interval := time.Duration(m.store.Get(userID).IntervalSeconds) * time.Second
		if !sleepCtx(ctx, interval+m.jitter()) {
			return
		}
	}
}

func (m *Manager) jitter() time.Duration {
	if m.cfg.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(m.cfg.JitterMax)))
}

// sleepCtx waits d or until cancellation; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		// Still yield a cancellation point.
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
