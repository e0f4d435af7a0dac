// Conversion of rule violations into warnings, and of accumulated warnings into bans.
//
// The same arithmetic serves both automatic (filter) violations and manual warnings issued by chat admins.
package escalation

import (
	"fmt"

	"github.com/chatwarden/warden/moderation/chatstore"
)

type Outcome int

const (
	Warned Outcome = iota + 1
	Banned
)

func (o Outcome) String() string {
	switch o {
	case Warned:
		return "warned"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

type Verdict struct {
	Outcome Outcome
	// warning count after this violation
	Count int
	// the chat's configured threshold at the time
	Max int
	// opaque, passed through for logging
	Reason string
}

func (v Verdict) String() string {
	return fmt.Sprintf("%s (%d/%d)", v.Outcome, v.Count, v.Max)
}

// Increments the user's warning count. Reaching the chat's MaxWarns yields Banned; anything below yields Warned.
//
// The count is left at or above the threshold on ban. Only Reset lowers it.
func RecordViolation(conf *chatstore.ChatConfig, userID int64, reason string) Verdict {
	if conf.Warns == nil {
		conf.Warns = make(map[int64]int)
	}
	limit := conf.MaxWarns
	if limit < 1 {
		limit = chatstore.DefaultMaxWarns
	}
	n := conf.Warns[userID] + 1
	if n < 1 {
		n = 1
	}
	conf.Warns[userID] = n

	v := Verdict{
		Outcome: Warned,
		Count:   n,
		Max:     limit,
		Reason:  reason,
	}
	if n >= limit {
		v.Outcome = Banned
	}
	violationCount.WithLabelValues(v.Outcome.String()).Inc()
	return v
}

// Clears the user's warning count. Returns the count before reset.
func Reset(conf *chatstore.ChatConfig, userID int64) int {
	prev := conf.Warns[userID]
	if _, ok := conf.Warns[userID]; ok {
		conf.Warns[userID] = 0
	}
	return prev
}
