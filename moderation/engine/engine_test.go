package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chatwarden/warden/moderation/chatstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupChat(t *testing.T, eng *Engine, chatID int64, fn func(c *chatstore.ChatConfig)) {
	_, err := eng.Store.Mutate(context.Background(), chatID, func(c *chatstore.ChatConfig) error {
		fn(c)
		return nil
	})
	require.NoError(t, err)
}

func TestFilterMatchEscalatesToBan(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, notifier, _ := EngineTestFixture()
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.MaxWarns = 3
		c.Filters.Put("spam", chatstore.FilterSpec{Warn: true})
		c.Warns[42] = 2
	})

	dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "buy SPAMMY stuff"})
	require.NoError(err)
	require.Len(dec.Actions, 2)
	assert.Equal(ActionDeleteMessage, dec.Actions[0].Kind)
	assert.Equal(ActionBanned, dec.Actions[1].Kind)
	assert.Equal(3, dec.Actions[1].Count)
	assert.Equal(3, dec.Actions[1].Max)
	assert.Equal(int64(42), dec.Actions[1].UserID)
	assert.Equal("filter", dec.Trigger)
	assert.NotEmpty(dec.ID)

	// count stays at the threshold until an explicit reset
	assert.Equal(3, eng.Store.Get(-1).WarnCount(42))
	assert.Equal(1, notifier.Count())
}

func TestFilterMatchWarns(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.Filters.Put("spam", chatstore.FilterSpec{Warn: true})
	})

	dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "spam"})
	require.NoError(err)
	require.Len(dec.Actions, 2)
	assert.Equal(ActionWarned, dec.Actions[1].Kind)
	assert.Equal(1, dec.Actions[1].Count)
	assert.Equal(3, dec.Actions[1].Max)
}

func TestFilterMatchWithoutWarn(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.Filters.Put("casino", chatstore.FilterSpec{Warn: false})
	})

	dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "Online CASINO"})
	require.NoError(err)
	assert.Equal([]string{"delete_message"}, dec.Kinds())
	assert.Equal(0, eng.Store.Get(-1).WarnCount(42))
}

func TestFilterShortCircuitsFlood(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, clock := EngineTestFixture()
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.Filters.Put("casino", chatstore.FilterSpec{})
	})

	for i := 0; i < 8; i++ {
		dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "casino", Timestamp: clock.Now()})
		require.NoError(err)
		assert.False(dec.Has(ActionMuteUser))
	}
	assert.Empty(eng.Store.Get(-1).Flood)
}

func TestFloodScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, notifier, _ := EngineTestFixture()
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// five messages within three seconds
	for i := 0; i < 4; i++ {
		dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "hello", Timestamp: start.Add(time.Duration(i) * 750 * time.Millisecond)})
		require.NoError(err)
		assert.True(dec.IsNoAction())
	}
	fifth := start.Add(3 * time.Second)
	dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "hello", Timestamp: fifth})
	require.NoError(err)
	require.Len(dec.Actions, 1)
	assert.Equal(ActionMuteUser, dec.Actions[0].Kind)
	require.NotNil(dec.Actions[0].Until)
	assert.True(fifth.Add(3600 * time.Second).Equal(*dec.Actions[0].Until))

	// the window restarted, so the next message is fine
	dec, err = eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "hello", Timestamp: fifth.Add(500 * time.Millisecond)})
	require.NoError(err)
	assert.True(dec.IsNoAction())
	assert.Equal([]string{"none"}, dec.Kinds())
	assert.Equal(1, eng.Store.Get(-1).Flood[42].Count)

	assert.Equal(1, notifier.Count())
}

func TestLinksDeletedWithoutEscalation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	for _, text := range []string{"see https://example.com", "HTTP://x.y", "join t.me/somechannel", "telegram.me/foo"} {
		dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: text})
		require.NoError(err)
		assert.Equal([]string{"delete_message"}, dec.Kinds(), text)
		assert.Equal("link", dec.Trigger)
	}
	conf := eng.Store.Get(-1)
	assert.Equal(0, conf.WarnCount(42))
	// link messages never reach the flood detector
	assert.Empty(conf.Flood)
}

func TestAntispamDisabled(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, clock := EngineTestFixture()
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.AntispamEnabled = false
	})

	for i := 0; i < 10; i++ {
		dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "https://example.com", Timestamp: clock.Now()})
		require.NoError(err)
		assert.True(dec.IsNoAction())
	}
	assert.Empty(eng.Store.Get(-1).Flood)

	// filters still apply with anti-spam off
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.Filters.Put("scam", chatstore.FilterSpec{Warn: true})
	})
	dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "total scam"})
	require.NoError(err)
	assert.Equal([]string{"delete_message", "warned"}, dec.Kinds())
	dec, err = eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "https://example.com"})
	require.NoError(err)
	assert.True(dec.IsNoAction())
}

func TestMessageUsesClockWithoutTimestamp(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, clock := EngineTestFixture()
	dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "hi", IsGroup: true})
	require.NoError(err)
	assert.True(clock.Now().Equal(dec.At))
	assert.True(clock.Now().Equal(eng.Store.Get(-1).Flood[42].WindowStart))
	assert.Equal(chatstore.StoreStats{Chats: 1, Users: 1, Groups: 1}, eng.Store.Stats())
}

func TestConcurrentViolationsNeverUndercount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.MaxWarns = 1000
		c.Filters.Put("bad", chatstore.FilterSpec{Warn: true})
	})

	n := 30
	var mu sync.Mutex
	counts := []int{}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "bad"})
			if !assert.NoError(err) {
				return
			}
			mu.Lock()
			counts = append(counts, dec.Actions[1].Count)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(n, eng.Store.Get(-1).WarnCount(42))
	sort.Ints(counts)
	for i, c := range counts {
		assert.Equal(i+1, c)
	}
}

func TestConcurrentViolationsBanAtThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.Filters.Put("bad", chatstore.FilterSpec{Warn: true})
	})

	var mu sync.Mutex
	kinds := map[ActionKind]int{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "bad"})
			if !assert.NoError(err) {
				return
			}
			mu.Lock()
			kinds[dec.Actions[1].Kind]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(10, eng.Store.Get(-1).WarnCount(42))
	assert.Equal(2, kinds[ActionWarned])
	assert.Equal(8, kinds[ActionBanned])
}

func TestProcessJoin(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, notifier, _ := EngineTestFixture()
	dec, err := eng.ProcessJoin(ctx, JoinEvent{ChatID: -1, UserID: 42, IsGroup: true})
	require.NoError(err)
	require.Len(dec.Actions, 1)
	assert.Equal(ActionWelcomeUser, dec.Actions[0].Kind)
	assert.Equal("Welcome, {mention}!", dec.Actions[0].Template)
	// welcomes are not audit-worthy
	assert.Equal(0, notifier.Count())

	setupChat(t, eng, -1, func(c *chatstore.ChatConfig) {
		c.WelcomeEnabled = false
	})
	dec, err = eng.ProcessJoin(ctx, JoinEvent{ChatID: -1, UserID: 43})
	require.NoError(err)
	assert.True(dec.IsNoAction())
}

type panicNotifier struct{}

func (panicNotifier) Notify(ctx context.Context, dec *Decision) error {
	panic("boom")
}

func TestProcessMessageRecoversPanics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng, _, _ := EngineTestFixture()
	eng.Notifier = panicNotifier{}
	var dec *Decision
	var err error
	assert.NotPanics(func() {
		dec, err = eng.ProcessMessage(ctx, MessageEvent{ChatID: -1, UserID: 42, Text: "https://example.com"})
	})
	assert.Error(err)
	assert.Nil(dec)
}
