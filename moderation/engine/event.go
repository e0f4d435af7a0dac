package engine

import (
	"time"
)

// Inbound text message (or media caption) in a monitored chat.
type MessageEvent struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
	// zero means "now"
	Timestamp time.Time `json:"timestamp"`
	// resolved by the platform wrapper. carried for logging, messages are moderated the same either way
	IsAdminCaller bool `json:"is_admin_caller"`
	// group or supergroup, as opposed to a private chat. only affects stats
	IsGroup bool `json:"is_group"`
}

// A new member joined a chat.
type JoinEvent struct {
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	IsGroup   bool      `json:"is_group"`
}

// Admin or member command, already parsed by the platform wrapper.
type Command struct {
	ChatID   int64 `json:"chat_id"`
	CallerID int64 `json:"caller_id"`
	// resolved by the platform wrapper; how much it is trusted depends on the Authorizer
	IsAdminCaller bool `json:"is_admin_caller"`
	// command name, with or without the leading slash
	Name string   `json:"name"`
	Args []string `json:"args"`
	// author of the message the command replied to. zero if none
	ReplyToUserID int64     `json:"reply_to_user_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	IsGroup       bool      `json:"is_group"`
}
