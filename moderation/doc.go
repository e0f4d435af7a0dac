// Moderation state engine for group chats.
//
// This package (`github.com/chatwarden/warden/moderation`) tracks per-chat configuration (warning threshold, trigger-word filters, anti-spam and welcome settings) and live per-user counters, and turns inbound messages, joins and admin commands into prescribed actions: delete a message, warn, mute, ban, and so on. Actually performing those actions on a chat platform is left to the caller.
//
// The pieces are layered leaves-first: `chatstore` owns state and durability, `filter`, `flood` and `escalation` are small policy functions over a single chat's state, and `engine` coordinates them per event. See `cmd/warden` for a daemon built on this package.
package moderation
