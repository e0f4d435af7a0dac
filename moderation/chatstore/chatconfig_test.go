package chatstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChatConfig(t *testing.T) {
	assert := assert.New(t)

	c := DefaultChatConfig()
	assert.Equal(3, c.MaxWarns)
	assert.True(c.WelcomeEnabled)
	assert.Equal("Welcome, {mention}!", c.WelcomeText)
	assert.True(c.AntispamEnabled)
	assert.Equal(0, c.Slowmode)
	assert.Equal(0, c.Filters.Len())
	assert.Empty(c.Warns)
	assert.Empty(c.Flood)
}

func TestChatConfigCloneIsDeep(t *testing.T) {
	assert := assert.New(t)

	c := DefaultChatConfig()
	c.Filters.Put("spam", FilterSpec{Warn: true})
	c.Warns[42] = 1
	c.Flood[42] = &FloodWindow{Count: 2, WindowStart: time.Unix(1000, 0)}

	d := c.Clone()
	d.Filters.Put("scam", FilterSpec{})
	d.Warns[42] = 2
	d.Flood[42].Count = 3
	d.MaxWarns = 5

	assert.Equal(1, c.Filters.Len())
	assert.Equal(1, c.Warns[42])
	assert.Equal(2, c.Flood[42].Count)
	assert.Equal(3, c.MaxWarns)
}

func TestDocumentRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := time.Date(2024, 3, 9, 12, 30, 15, 123456789, time.UTC)

	full := DefaultChatConfig()
	full.MaxWarns = 5
	full.WelcomeEnabled = false
	full.WelcomeText = "hi {mention}"
	full.AntispamEnabled = false
	full.Slowmode = 30
	full.Filters.Put("zebra", FilterSpec{Warn: true})
	full.Filters.Put("apple", FilterSpec{Warn: false})
	full.Warns[7] = 2
	full.Warns[8] = 0
	full.Flood[7] = &FloodWindow{Count: 4, WindowStart: ts}

	doc := NewDocument()
	doc.Chats[-1001] = full
	doc.Chats[-1002] = DefaultChatConfig()
	doc.Users[7] = true
	doc.Groups[-1001] = true

	raw, err := json.Marshal(doc)
	require.NoError(err)

	out, err := ParseDocument(raw)
	require.NoError(err)
	require.Len(out.Chats, 2)

	got := out.Chats[-1001]
	assert.Equal(5, got.MaxWarns)
	assert.False(got.WelcomeEnabled)
	assert.Equal("hi {mention}", got.WelcomeText)
	assert.False(got.AntispamEnabled)
	assert.Equal(30, got.Slowmode)
	assert.Equal([]FilterEntry{
		{Word: "zebra", Spec: FilterSpec{Warn: true}},
		{Word: "apple", Spec: FilterSpec{Warn: false}},
	}, got.Filters.Entries())
	assert.Equal(map[int64]int{7: 2, 8: 0}, got.Warns)
	require.Contains(got.Flood, int64(7))
	assert.Equal(4, got.Flood[7].Count)
	assert.True(ts.Equal(got.Flood[7].WindowStart))

	empty := out.Chats[-1002]
	assert.Equal(0, empty.Filters.Len())
	assert.NotNil(empty.Warns)
	assert.Empty(empty.Warns)
	assert.NotNil(empty.Flood)
	assert.Empty(empty.Flood)

	assert.Equal(map[int64]bool{7: true}, out.Users)
	assert.Equal(map[int64]bool{-1001: true}, out.Groups)
}

func TestParseLegacyDocument(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// as written by the original deployment: string keys, float timestamps, some keys missing
	raw := []byte(`{
	  "chats": {
	    "-100200": {
	      "max_warns": 4,
	      "welcome_on": true,
	      "welcome_text": "Welcome, {mention}!",
	      "antispam_on": true,
	      "filters": {"Casino": {"warn": true}, "crypto": {"warn": false}},
	      "warns": {"55": 1},
	      "flood": {"55": {"count": 2, "ts": 1700000000.5}},
	      "slowmode": 0
	    },
	    "-100300": {"antispam_on": false}
	  },
	  "users": {"55": true}
	}`)

	doc, err := ParseDocument(raw)
	require.NoError(err)

	c := doc.Chats[-100200]
	require.NotNil(c)
	assert.Equal(4, c.MaxWarns)
	assert.Equal(1, c.WarnCount(55))
	assert.Equal([]FilterEntry{
		{Word: "casino", Spec: FilterSpec{Warn: true}},
		{Word: "crypto", Spec: FilterSpec{Warn: false}},
	}, c.Filters.Entries())
	require.NotNil(c.Flood[55])
	assert.Equal(2, c.Flood[55].Count)
	assert.True(time.Unix(1700000000, 500_000_000).Equal(c.Flood[55].WindowStart))

	// missing keys take defaults
	partial := doc.Chats[-100300]
	require.NotNil(partial)
	assert.False(partial.AntispamEnabled)
	assert.Equal(DefaultMaxWarns, partial.MaxWarns)
	assert.True(partial.WelcomeEnabled)
	assert.NotNil(partial.Warns)

	assert.True(doc.Users[55])
	assert.NotNil(doc.Groups)
}

func TestParseDocumentCorrupt(t *testing.T) {
	assert := assert.New(t)

	_, err := ParseDocument([]byte(`{"chats": {"1": {"max_warns": `))
	assert.Error(err)

	_, err = ParseDocument([]byte(`{"chats": {"1": {"filters": ["not", "an", "object"]}}}`))
	assert.Error(err)
}
