// Package dispatch interprets UI events (menu choices, free text) and routes
// them to the config store, session registry or broadcast manager. It owns
// the single pending-input state per admin; all literal prompt and label text
// belongs to the UI layer.
package dispatch

// Action is a discrete menu choice.
type Action string

const (
	ActionLogin    Action = "login"
	ActionLogout   Action = "logout"
	ActionAdd      Action = "add"
	ActionRemove   Action = "remove"
	ActionMessage  Action = "msg"
	ActionInterval Action = "interval"
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionStatus   Action = "status"
)

// Pending is the single "awaiting input" state per admin. Setting a new one
// always discards the previous (prompts never stack).
type Pending int

const (
	PendingNone Pending = iota
	PendingPhone
	PendingCode
	PendingMessage
	PendingInterval
	PendingAddDestination
	PendingRemoveDestination
)

// Prompt tells the UI which question to render next.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptPhone
	PromptCode
	PromptMessage
	PromptInterval
	PromptAddDestination
	PromptRemoveDestination
)

// Notice is an informational outcome the UI turns into a human reply.
type Notice int

const (
	NoticeNone Notice = iota
	NoticeLoggedIn
	NoticeLoggedOut
	NoticeAlreadyAuthenticated
	NoticeNotAuthenticated
	NoticeRateLimited
	NoticeInvalidCode
	NoticeHandshakeRestart
	NoticeLoginFailed
	NoticeDestinationAdded
	NoticeDestinationRemoved
	NoticeDestinationMissing
	NoticeInvalidDestination
	NoticeMessageSaved
	NoticeIntervalSet
	NoticeInvalidInterval
	NoticeStarted
	NoticeStopped
	NoticeAlreadyRunning
	NoticeNotRunning
	NoticeInternalError
)

// Status is the data behind the status view.
type Status struct {
	Destinations    []string
	Message         string
	IntervalSeconds int
	Running         bool
	SessionState    string
}

// Reply is what the UI renders. The zero value means "say nothing" (used for
// unauthorized users, so the bot's presence is never confirmed to strangers).
type Reply struct {
	Prompt   Prompt
	Notice   Notice
	Detail   string
	Status   *Status
	ShowMenu bool
}

// Silent reports whether the reply carries nothing to render.
func (r Reply) Silent() bool {
	return r.Prompt == PromptNone && r.Notice == NoticeNone && r.Status == nil && !r.ShowMenu
}
