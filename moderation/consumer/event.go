package consumer

import (
	"github.com/chatwarden/warden/moderation/engine"
)

const (
	KindMessage = "message"
	KindJoin    = "join"
	KindCommand = "command"
)

// Wire format of an inbound event. Exactly one of the payload fields should be set, matching Kind.
type InboundEvent struct {
	Kind    string               `json:"kind"`
	Message *engine.MessageEvent `json:"message,omitempty"`
	Join    *engine.JoinEvent    `json:"join,omitempty"`
	Command *engine.Command      `json:"command,omitempty"`
}

// Wire format of a processed event, produced to the output topic keyed by chat id.
type OutboundDecision struct {
	Kind     string                `json:"kind"`
	ChatID   int64                 `json:"chat_id"`
	Decision *engine.Decision      `json:"decision,omitempty"`
	Result   *engine.CommandResult `json:"result,omitempty"`
	// set for rejected commands and processing failures
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func (evt *InboundEvent) ChatID() int64 {
	switch {
	case evt.Message != nil:
		return evt.Message.ChatID
	case evt.Join != nil:
		return evt.Join.ChatID
	case evt.Command != nil:
		return evt.Command.ChatID
	}
	return 0
}
