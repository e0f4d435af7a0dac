package chatstore

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	DefaultMaxWarns    = 3
	DefaultWelcomeText = "Welcome, {mention}!"
)

// Moderation configuration and live counters for a single chat.
//
// JSON field names match the legacy data file layout, so documents written by earlier deployments load unchanged.
type ChatConfig struct {
	// number of warnings which triggers an automatic ban. always >= 1 once normalized
	MaxWarns int `json:"max_warns"`
	// welcome message for new members. contains a "{mention}" placeholder, rendered by the platform wrapper
	WelcomeEnabled bool   `json:"welcome_on"`
	WelcomeText    string `json:"welcome_text"`
	// link deletion and flood detection
	AntispamEnabled bool `json:"antispam_on"`
	// seconds between a user's messages, enforced by the platform. 0 is off
	Slowmode int `json:"slowmode"`

	Filters *FilterSet             `json:"filters"`
	Warns   map[int64]int          `json:"warns"`
	Flood   map[int64]*FloodWindow `json:"flood"`
}

// Number of qualifying messages a user sent since WindowStart.
type FloodWindow struct {
	Count       int
	WindowStart time.Time
}

func DefaultChatConfig() *ChatConfig {
	return &ChatConfig{
		MaxWarns:        DefaultMaxWarns,
		WelcomeEnabled:  true,
		WelcomeText:     DefaultWelcomeText,
		AntispamEnabled: true,
		Slowmode:        0,
		Filters:         NewFilterSet(),
		Warns:           make(map[int64]int),
		Flood:           make(map[int64]*FloodWindow),
	}
}

// Fills in anything a partial or hand-edited document left out.
func (c *ChatConfig) normalize() {
	if c.MaxWarns < 1 {
		c.MaxWarns = DefaultMaxWarns
	}
	if c.Slowmode < 0 {
		c.Slowmode = 0
	}
	if c.Filters == nil {
		c.Filters = NewFilterSet()
	}
	if c.Warns == nil {
		c.Warns = make(map[int64]int)
	}
	for uid, n := range c.Warns {
		if n < 0 {
			c.Warns[uid] = 0
		}
	}
	if c.Flood == nil {
		c.Flood = make(map[int64]*FloodWindow)
	}
	for uid, fw := range c.Flood {
		if fw == nil {
			delete(c.Flood, uid)
		}
	}
}

// Deep copy. Mutations are always applied to a clone, so readers holding an earlier copy never observe partial updates.
func (c *ChatConfig) Clone() *ChatConfig {
	out := *c
	out.Filters = c.Filters.Clone()
	out.Warns = make(map[int64]int, len(c.Warns))
	for k, v := range c.Warns {
		out.Warns[k] = v
	}
	out.Flood = make(map[int64]*FloodWindow, len(c.Flood))
	for k, v := range c.Flood {
		fw := *v
		out.Flood[k] = &fw
	}
	return &out
}

// current warning count for a user (zero if never warned)
func (c *ChatConfig) WarnCount(userID int64) int {
	return c.Warns[userID]
}

func (c *ChatConfig) UnmarshalJSON(b []byte) error {
	// start from defaults so that keys missing from older documents take default values
	type rawConfig ChatConfig
	raw := rawConfig(*DefaultChatConfig())
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = ChatConfig(raw)
	c.normalize()
	return nil
}

type floodWindowJSON struct {
	Count int             `json:"count"`
	TS    json.RawMessage `json:"ts"`
}

func (fw FloodWindow) MarshalJSON() ([]byte, error) {
	ts, err := json.Marshal(fw.WindowStart.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return json.Marshal(floodWindowJSON{Count: fw.Count, TS: ts})
}

// Accepts "ts" either as an RFC3339 string, or as fractional unix seconds (legacy documents).
func (fw *FloodWindow) UnmarshalJSON(b []byte) error {
	var raw floodWindowJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fw.Count = raw.Count
	fw.WindowStart = time.Time{}
	if len(raw.TS) == 0 || string(raw.TS) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.TS, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parsing flood window timestamp: %w", err)
		}
		fw.WindowStart = t
		return nil
	}
	var secs float64
	if err := json.Unmarshal(raw.TS, &secs); err != nil {
		return fmt.Errorf("unexpected flood window timestamp: %s", string(raw.TS))
	}
	whole, frac := math.Modf(secs)
	fw.WindowStart = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}

// The full persisted state: every chat's configuration, plus the stats sets.
type Document struct {
	Chats  map[int64]*ChatConfig `json:"chats"`
	Users  map[int64]bool        `json:"users"`
	Groups map[int64]bool        `json:"groups"`
}

func NewDocument() *Document {
	return &Document{
		Chats:  make(map[int64]*ChatConfig),
		Users:  make(map[int64]bool),
		Groups: make(map[int64]bool),
	}
}

func (d *Document) normalize() {
	if d.Chats == nil {
		d.Chats = make(map[int64]*ChatConfig)
	}
	for id, conf := range d.Chats {
		if conf == nil {
			delete(d.Chats, id)
			continue
		}
		conf.normalize()
	}
	if d.Users == nil {
		d.Users = make(map[int64]bool)
	}
	if d.Groups == nil {
		d.Groups = make(map[int64]bool)
	}
}

func ParseDocument(b []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	doc.normalize()
	return &doc, nil
}
