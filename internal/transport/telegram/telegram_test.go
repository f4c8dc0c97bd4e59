package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "adsbot/internal/transport"
)

func TestMessageUpdateMapping(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:     7,
		Chat:   &tele.Chat{ID: 100},
		Sender: &tele.User{ID: 42, Username: "boss"},
		Text:   "hello",
	}
	up, ok := messageUpdate(m)
	if !ok {
		t.Fatal("expected a mapped update")
	}
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		t.Fatalf("update = %+v", up)
	}
	if up.Message.ChatID != 100 || up.Message.FromID != 42 || up.Message.Text != "hello" {
		t.Fatalf("message = %+v", up.Message)
	}
}

func TestMessageUpdateGuards(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		m    *tele.Message
	}{
		{name: "nil message", m: nil},
		{name: "no sender", m: &tele.Message{Chat: &tele.Chat{ID: 1}}},
		{name: "no chat", m: &tele.Message{Sender: &tele.User{ID: 1}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := messageUpdate(tt.m); ok {
				t.Fatal("partial message must be dropped, not mapped")
			}
		})
	}
}

func TestCallbackUpdateMapping(t *testing.T) {
	t.Parallel()
	cb := &tele.Callback{ID: "cb1", Sender: &tele.User{ID: 42}, Data: "\fstatus|x"}
	m := &tele.Message{ID: 9, Chat: &tele.Chat{ID: 100}}
	up, ok := callbackUpdate(cb, m)
	if !ok {
		t.Fatal("expected a mapped update")
	}
	if up.Kind != kit.UpdateCallback || up.Callback == nil {
		t.Fatalf("update = %+v", up)
	}
	c := up.Callback
	if c.ID != "cb1" || c.FromID != 42 || c.ChatID != 100 || c.MessageID != 9 {
		t.Fatalf("callback = %+v", c)
	}
}

func TestCallbackUpdateGuards(t *testing.T) {
	t.Parallel()
	msg := &tele.Message{ID: 9, Chat: &tele.Chat{ID: 100}}
	tests := []struct {
		name string
		cb   *tele.Callback
		m    *tele.Message
	}{
		{name: "nil callback", cb: nil, m: msg},
		{name: "no sender", cb: &tele.Callback{ID: "cb1"}, m: msg},
		{name: "nil message", cb: &tele.Callback{ID: "cb1", Sender: &tele.User{ID: 1}}, m: nil},
		{name: "no chat", cb: &tele.Callback{ID: "cb1", Sender: &tele.User{ID: 1}}, m: &tele.Message{ID: 9}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := callbackUpdate(tt.cb, tt.m); ok {
				t.Fatal("partial callback must be dropped, not mapped")
			}
		})
	}
}
