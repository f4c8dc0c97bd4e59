// Package router is the chat UI layer: it turns transport updates into
// dispatcher calls and renders the dispatcher's structured replies as
// Telegram messages. All literal prompt and button text lives here.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"adsbot/internal/dispatch"
	kit "adsbot/internal/transport"
	logx "adsbot/pkg/logx"
	"adsbot/pkg/tgui"
)

type Router struct {
	adapter kit.Adapter
	disp    *dispatch.Dispatcher
	log     logx.Logger

	handler HandlerFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	updates chan kit.Update
}

func New(adapter kit.Adapter, disp *dispatch.Dispatcher, log logx.Logger) *Router {
	r := &Router{
		adapter: adapter,
		disp:    disp,
		log:     log,
		updates: make(chan kit.Update, 64),
	}
	r.handler = Chain(r.handle,
		MWPanicRecover(log),
		MWTimeout(30*time.Second),
		MWRequestLog(log),
	)
	return r
}

func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.adapter.Start(rctx, r.updates); err != nil {
		cancel()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-rctx.Done():
				return
			case up := <-r.updates:
				_ = r.handler(rctx, up)
			}
		}
	}()
	return nil
}

func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.adapter.Stop(ctx)
}

func (r *Router) handle(ctx context.Context, up kit.Update) error {
	switch up.Kind {
	case kit.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil
		}
		reply := r.disp.HandleMenu(ctx, cb.FromID, dispatch.Action(cleanCallbackData(cb.Data)))
		if reply.Silent() {
			// Unauthorized: no ack either, the bot stays invisible.
			return nil
		}
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return r.render(ctx, cb.ChatID, reply)

	case kit.UpdateMessage:
		m := up.Message
		if m == nil {
			return nil
		}
		if strings.HasPrefix(m.Text, "/start") {
			if !r.disp.IsAdmin(m.FromID) {
				return nil
			}
			return r.render(ctx, m.ChatID, dispatch.Reply{ShowMenu: true})
		}
		reply := r.disp.HandleText(ctx, m.FromID, m.Text)
		if reply.Silent() {
			return nil
		}
		return r.render(ctx, m.ChatID, reply)
	}
	return nil
}

func (r *Router) render(ctx context.Context, chatID int64, reply dispatch.Reply) error {
	var parts []tgui.H
	if reply.Notice != dispatch.NoticeNone {
		if s := noticeText(reply.Notice, reply.Detail); s != "" {
			parts = append(parts, s)
		}
	}
	if reply.Status != nil {
		parts = append(parts, statusText(reply.Status))
	}
	if reply.Prompt != dispatch.PromptNone {
		if s := promptText(reply.Prompt); s != "" {
			parts = append(parts, s)
		}
	}

	text := tgui.JoinH("\n\n", parts...)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if reply.ShowMenu {
		if text == "" {
			text = panelTitle()
		}
		opt.ReplyMarkupAdapter = menuMarkup()
	}
	if text == "" {
		return nil
	}
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text.String(), opt)
	return err
}

// cleanCallbackData strips telebot's unique-callback framing if present.
func cleanCallbackData(data string) string {
	data = strings.TrimPrefix(data, "\f")
	if i := strings.IndexByte(data, '|'); i >= 0 {
		data = data[:i]
	}
	return strings.TrimSpace(data)
}
