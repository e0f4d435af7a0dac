// Matching of message text against a chat's configured trigger words.
//
// Matching is a case-folded substring containment test, not a token match: a filter on "spam" also matches "spammy".
package filter

import (
	"strings"

	"github.com/chatwarden/warden/moderation/chatstore"
)

// A filter which fired against a message.
type Result struct {
	// trigger word, as stored (case-folded)
	Word string
	// whether the match should also count as a warning
	Warn bool
}

// Returns the first filter, in insertion order, whose word is contained in the text. Has no side effects.
func Match(conf *chatstore.ChatConfig, text string) (Result, bool) {
	if conf == nil || conf.Filters.Len() == 0 || text == "" {
		return Result{}, false
	}
	folded := chatstore.FoldWord(text)
	for _, e := range conf.Filters.Entries() {
		if e.Word == "" {
			continue
		}
		if strings.Contains(folded, e.Word) {
			return Result{Word: e.Word, Warn: e.Spec.Warn}, true
		}
	}
	return Result{}, false
}
