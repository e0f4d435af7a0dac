package moderation

import (
	"github.com/chatwarden/warden/moderation/chatstore"
	"github.com/chatwarden/warden/moderation/engine"
)

type Engine = engine.Engine
type Decision = engine.Decision
type Action = engine.Action
type ActionKind = engine.ActionKind
type CommandResult = engine.CommandResult

type MessageEvent = engine.MessageEvent
type JoinEvent = engine.JoinEvent
type Command = engine.Command

type Authorizer = engine.Authorizer
type CallerFlagAuthorizer = engine.CallerFlagAuthorizer
type AdminSetAuthorizer = engine.AdminSetAuthorizer
type CachedAuthorizer = engine.CachedAuthorizer

type Notifier = engine.Notifier
type WebhookNotifier = engine.WebhookNotifier

type Store = chatstore.Store
type ChatConfig = chatstore.ChatConfig
type Backend = chatstore.Backend

var (
	ErrForbidden       = engine.ErrForbidden
	ErrInvalidArgument = engine.ErrInvalidArgument
	ErrUnknownCommand  = engine.ErrUnknownCommand

	NewStore = chatstore.NewStore
)
