package engine

import (
	"log/slog"
	"time"

	"github.com/chatwarden/warden/moderation/escalation"
	"github.com/google/uuid"
)

type ActionKind string

const (
	ActionNone          ActionKind = "none"
	ActionDeleteMessage ActionKind = "delete_message"
	ActionWarned        ActionKind = "warned"
	ActionBanned        ActionKind = "banned"
	ActionMuteUser      ActionKind = "mute_user"
	ActionUnmute        ActionKind = "unmute"
	ActionUnban         ActionKind = "unban"
	ActionKick          ActionKind = "kick"
	ActionSetSlowmode   ActionKind = "set_slowmode"
	ActionWelcomeUser   ActionKind = "welcome_user"
)

// One thing the platform wrapper should do. Which fields are meaningful depends on Kind.
type Action struct {
	Kind   ActionKind `json:"kind"`
	UserID int64      `json:"user_id,omitempty"`
	// warned and banned: warning count after the violation, and the chat's threshold
	Count int `json:"count,omitempty"`
	Max   int `json:"max,omitempty"`
	// mute and ban expiry. nil means indefinite
	Until *time.Time `json:"until,omitempty"`
	// slowmode interval; 0 turns slowmode off
	Seconds int `json:"seconds"`
	// welcome text, with the "{mention}" placeholder still in place
	Template string `json:"template,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func verdictAction(userID int64, v escalation.Verdict) Action {
	a := Action{
		Kind:   ActionWarned,
		UserID: userID,
		Count:  v.Count,
		Max:    v.Max,
		Reason: v.Reason,
	}
	if v.Outcome == escalation.Banned {
		a.Kind = ActionBanned
	}
	return a
}

// Outcome of processing a single event. Policy violations are represented here, never as errors.
type Decision struct {
	// random, for correlating logs and notifications
	ID      string    `json:"id"`
	ChatID  int64     `json:"chat_id"`
	UserID  int64     `json:"user_id"`
	Trigger string    `json:"trigger"`
	Actions []Action  `json:"actions"`
	At      time.Time `json:"at"`
}

func newDecision(chatID, userID int64, trigger string, at time.Time) *Decision {
	return &Decision{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		UserID:  userID,
		Trigger: trigger,
		At:      at,
	}
}

func (d *Decision) add(a Action) {
	d.Actions = append(d.Actions, a)
}

// Ensures an empty decision reads as an explicit NoAction.
func (d *Decision) finish() {
	if len(d.Actions) == 0 {
		d.Actions = []Action{{Kind: ActionNone}}
	}
}

func (d *Decision) IsNoAction() bool {
	for _, a := range d.Actions {
		if a.Kind != ActionNone {
			return false
		}
	}
	return true
}

func (d *Decision) Has(kind ActionKind) bool {
	for _, a := range d.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func (d *Decision) Kinds() []string {
	out := make([]string, len(d.Actions))
	for i, a := range d.Actions {
		out[i] = string(a.Kind)
	}
	return out
}

// Whether the decision is worth reporting to the audit channel: anything beyond no-op and welcome.
func (d *Decision) Notable() bool {
	for _, a := range d.Actions {
		switch a.Kind {
		case ActionNone, ActionWelcomeUser:
		default:
			return true
		}
	}
	return false
}

// Logs a single summary line for the decision, in the style of a "canonical log line".
func (d *Decision) CanonicalLogLine(logger *slog.Logger) {
	if d.IsNoAction() {
		logger.Debug("canonical-event-line", "decision", d.ID, "trigger", d.Trigger, "actions", d.Kinds())
		return
	}
	logger.Info("canonical-event-line", "decision", d.ID, "trigger", d.Trigger, "actions", d.Kinds())
}
