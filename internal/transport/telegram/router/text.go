package router

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"adsbot/internal/dispatch"
	"adsbot/pkg/tgui"
)

func panelTitle() tgui.H {
	return tgui.B("📣 Ads Panel") + "\n\n" + tgui.Esc("Every admin runs their own schedule, message and target list.")
}

// menuMarkup is the inline keyboard shown under most replies. Callback data
// must match the dispatch.Action values.
func menuMarkup() *tele.ReplyMarkup {
	row := func(btns ...tele.InlineButton) []tele.InlineButton { return btns }
	return &tele.ReplyMarkup{
		InlineKeyboard: [][]tele.InlineButton{
			row(tele.InlineButton{Text: "🔐 Login", Data: string(dispatch.ActionLogin)},
				tele.InlineButton{Text: "🚪 Logout", Data: string(dispatch.ActionLogout)}),
			row(tele.InlineButton{Text: "➕ Add Target", Data: string(dispatch.ActionAdd)},
				tele.InlineButton{Text: "➖ Remove Target", Data: string(dispatch.ActionRemove)}),
			row(tele.InlineButton{Text: "📝 Set Message", Data: string(dispatch.ActionMessage)},
				tele.InlineButton{Text: "⏱ Set Interval", Data: string(dispatch.ActionInterval)}),
			row(tele.InlineButton{Text: "▶ Start Ads", Data: string(dispatch.ActionStart)},
				tele.InlineButton{Text: "⏹ Stop Ads", Data: string(dispatch.ActionStop)}),
			row(tele.InlineButton{Text: "📊 Status", Data: string(dispatch.ActionStatus)}),
		},
	}
}

func promptText(p dispatch.Prompt) tgui.H {
	switch p {
	case dispatch.PromptPhone:
		return tgui.Esc("📱 Send your phone number with country code") + "\nExample: " + tgui.Code("+14155550123")
	case dispatch.PromptCode:
		return tgui.Esc("Enter the one-time code, prefixed with \"code\"") + "\nExample: " + tgui.Code("code12345")
	case dispatch.PromptMessage:
		return tgui.Esc("Send the ad message text")
	case dispatch.PromptInterval:
		return tgui.Esc("Send the interval in seconds (a positive number)")
	case dispatch.PromptAddDestination:
		return tgui.Esc("Send the chat to add (@username or id)")
	case dispatch.PromptRemoveDestination:
		return tgui.Esc("Send the chat to remove")
	default:
		return ""
	}
}

func noticeText(n dispatch.Notice, detail string) tgui.H {
	switch n {
	case dispatch.NoticeLoggedIn:
		return tgui.Esc("✅ Logged in successfully")
	case dispatch.NoticeLoggedOut:
		return tgui.Esc("👋 Logged out, session revoked")
	case dispatch.NoticeAlreadyAuthenticated:
		return tgui.Esc("Already logged in. Logout first to switch accounts.")
	case dispatch.NoticeNotAuthenticated:
		return tgui.Esc("⚠️ Not logged in. Use Login first.")
	case dispatch.NoticeRateLimited:
		return tgui.Esc("⏳ Telegram is rate-limiting this number. Try again later.")
	case dispatch.NoticeInvalidCode:
		return tgui.Esc("❌ Wrong code, try again.")
	case dispatch.NoticeHandshakeRestart:
		return withDetail(tgui.Esc("⚠️ Login failed, start over with Login."), detail)
	case dispatch.NoticeLoginFailed:
		return withDetail(tgui.Esc("⚠️ Could not request a code."), detail)
	case dispatch.NoticeDestinationAdded:
		return "Added " + tgui.Code(detail)
	case dispatch.NoticeDestinationRemoved:
		return "Removed " + tgui.Code(detail)
	case dispatch.NoticeDestinationMissing:
		return tgui.Code(detail) + tgui.Esc(" is not in the list")
	case dispatch.NoticeInvalidDestination:
		return tgui.Esc("That doesn't look like a chat.")
	case dispatch.NoticeMessageSaved:
		return tgui.Esc("Message saved")
	case dispatch.NoticeIntervalSet:
		return tgui.Esc("Interval set to " + detail + "s")
	case dispatch.NoticeInvalidInterval:
		return tgui.Esc("Interval must be a positive number of seconds.")
	case dispatch.NoticeStarted:
		return tgui.Esc("▶ Ads started")
	case dispatch.NoticeStopped:
		return tgui.Esc("⏹ Ads stopped")
	case dispatch.NoticeAlreadyRunning:
		return tgui.Esc("Ads are already running.")
	case dispatch.NoticeNotRunning:
		return tgui.Esc("Ads are not running.")
	case dispatch.NoticeInternalError:
		return tgui.Esc("Something went wrong, check the logs.")
	default:
		return ""
	}
}

func statusText(st *dispatch.Status) tgui.H {
	var b strings.Builder
	b.WriteString(tgui.B("📊 Status").String() + "\n")
	fmt.Fprintf(&b, "Session: %s\n", st.SessionState)
	if st.Running {
		b.WriteString("Ads: running\n")
	} else {
		b.WriteString("Ads: stopped\n")
	}
	fmt.Fprintf(&b, "Interval: %ds\n", st.IntervalSeconds)
	if st.Message == "" {
		b.WriteString("Message: (not set)\n")
	} else {
		b.WriteString("Message: " + tgui.Code(tgui.TruncRunes(st.Message, 120)).String() + "\n")
	}
	if len(st.Destinations) == 0 {
		b.WriteString("Targets: (none)")
	} else {
		b.WriteString("Targets:")
		for _, d := range st.Destinations {
			b.WriteString("\n• " + tgui.Code(d).String())
		}
	}
	return tgui.H(b.String())
}

func withDetail(msg tgui.H, detail string) tgui.H {
	if detail == "" {
		return msg
	}
	return msg + "\n" + tgui.I(tgui.TruncRunes(detail, 200))
}
