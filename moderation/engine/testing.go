package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwarden/warden/moderation/chatstore"
)

// Collects notifications in memory.
type MemNotifier struct {
	mu        sync.Mutex
	Decisions []*Decision
}

func (n *MemNotifier) Notify(ctx context.Context, dec *Decision) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Decisions = append(n.Decisions, dec)
	return nil
}

func (n *MemNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Decisions)
}

// Manually advanced clock.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Engine backed by an in-memory store, trusting the caller admin flag, with a memory notifier and a fixed clock.
func EngineTestFixture() (*Engine, *MemNotifier, *TestClock) {
	notifier := &MemNotifier{}
	clock := NewTestClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	eng := Engine{
		Logger:     slog.Default(),
		Store:      chatstore.NewStore(chatstore.NullBackend{}, slog.Default()),
		Authorizer: CallerFlagAuthorizer{},
		Notifier:   notifier,
		Now:        clock.Now,
	}
	return &eng, notifier, clock
}
