// Per-user message-rate detection over a fixed window.
//
// The detector is edge-triggered: a burst produces a single Flagged verdict, after which the user's window restarts empty.
package flood

import (
	"time"

	"github.com/chatwarden/warden/moderation/chatstore"
)

const (
	// length of the counting window
	Window = 7 * time.Second
	// messages within one window which flag the sender
	Threshold = 5
	// how long a flagged sender is muted for
	MuteDuration = time.Hour
)

type Verdict int

const (
	Ok Verdict = iota
	Flagged
)

func (v Verdict) String() string {
	switch v {
	case Ok:
		return "ok"
	case Flagged:
		return "flagged"
	default:
		return "unknown"
	}
}

// Counts one message from userID at now, updating conf.Flood in place. The caller is responsible for persisting.
//
// A window older than Window (or a missing one) restarts at count 1. When the count reaches Threshold the result is Flagged and the window is reset to count 0 starting at now.
func Check(conf *chatstore.ChatConfig, userID int64, now time.Time) Verdict {
	if conf.Flood == nil {
		conf.Flood = make(map[int64]*chatstore.FloodWindow)
	}
	fw, ok := conf.Flood[userID]
	if !ok || fw == nil || now.Sub(fw.WindowStart) > Window {
		fw = &chatstore.FloodWindow{Count: 1, WindowStart: now}
		conf.Flood[userID] = fw
	} else {
		fw.Count++
	}

	if fw.Count >= Threshold {
		fw.Count = 0
		fw.WindowStart = now
		floodFlagCount.Inc()
		return Flagged
	}
	return Ok
}
