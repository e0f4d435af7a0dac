package chatstore

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type chatEntry struct {
	// serializes read-modify-write-persist cycles for this chat
	mu sync.Mutex
	// latest committed configuration. never mutated in place, only replaced
	conf atomic.Pointer[ChatConfig]
}

// In-process owner of all moderation state.
//
// Mutations against the same chat are serialized, and each one is persisted before the per-chat lock is released. Mutations against different chats proceed concurrently.
type Store struct {
	Logger *slog.Logger

	backend Backend
	chats   *xsync.MapOf[int64, *chatEntry]

	seenMu sync.Mutex
	users  map[int64]bool
	groups map[int64]bool

	// set when in-memory state has changed since the last successful persist
	dirty atomic.Bool
	// serializes snapshot+save, so an older snapshot never lands after a newer one
	persistMu sync.Mutex
}

type StoreStats struct {
	Chats  int `json:"chats"`
	Users  int `json:"users"`
	Groups int `json:"groups"`
}

func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = NullBackend{}
	}
	return &Store{
		Logger:  logger.With("component", "chatstore"),
		backend: backend,
		chats:   xsync.NewMapOf[int64, *chatEntry](),
		users:   make(map[int64]bool),
		groups:  make(map[int64]bool),
	}
}

func (s *Store) entry(chatID int64) *chatEntry {
	e, _ := s.chats.LoadOrCompute(chatID, func() *chatEntry {
		ne := &chatEntry{}
		ne.conf.Store(DefaultChatConfig())
		s.dirty.Store(true)
		chatsTracked.Inc()
		return ne
	})
	return e
}

// Returns a copy of the chat's configuration, creating it with defaults if this is the first reference to the chat.
func (s *Store) Get(chatID int64) *ChatConfig {
	return s.entry(chatID).conf.Load().Clone()
}

// Applies fn to the chat's configuration, atomically with respect to other mutations of the same chat.
//
// fn operates on a private copy. If fn returns an error nothing is committed or persisted, and the error is returned as-is. Otherwise the copy is committed and the full store is persisted before Mutate returns. Persist failures are logged, not returned: moderation never blocks on storage.
func (s *Store) Mutate(ctx context.Context, chatID int64, fn func(conf *ChatConfig) error) (*ChatConfig, error) {
	e := s.entry(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.conf.Load().Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	e.conf.Store(next)
	s.dirty.Store(true)

	if err := s.PersistAll(ctx); err != nil {
		s.Logger.Error("failed to persist state after mutation", "chat", chatID, "err", err)
	}
	return next.Clone(), nil
}

// Records that a user (and, for group chats, the chat) has been seen. Only affects stats; persisted with the next write or flush.
func (s *Store) Touch(userID, chatID int64, isGroup bool) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if userID != 0 && !s.users[userID] {
		s.users[userID] = true
		s.dirty.Store(true)
	}
	if isGroup && chatID != 0 && !s.groups[chatID] {
		s.groups[chatID] = true
		s.dirty.Store(true)
	}
}

func (s *Store) Stats() StoreStats {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return StoreStats{
		Chats:  s.chats.Size(),
		Users:  len(s.users),
		Groups: len(s.groups),
	}
}

// Chat IDs currently held by the store, in ascending order.
func (s *Store) ChatIDs() []int64 {
	out := make([]int64, 0, s.chats.Size())
	s.chats.Range(func(id int64, _ *chatEntry) bool {
		out = append(out, id)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) snapshot() *Document {
	doc := NewDocument()
	s.chats.Range(func(id int64, e *chatEntry) bool {
		// committed configs are immutable, so sharing the pointer is safe
		doc.Chats[id] = e.conf.Load()
		return true
	})
	s.seenMu.Lock()
	for id := range s.users {
		doc.Users[id] = true
	}
	for id := range s.groups {
		doc.Groups[id] = true
	}
	s.seenMu.Unlock()
	return doc
}

// Serializes the full store to the backend. Never retried here; on failure the store stays dirty so the next write or flush tries again with fresh state.
func (s *Store) PersistAll(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	start := time.Now()
	s.dirty.Store(false)
	doc := s.snapshot()
	if err := s.backend.Save(ctx, doc); err != nil {
		s.dirty.Store(true)
		persistErrorCount.Inc()
		return err
	}
	persistDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Persists only if something changed since the last successful persist.
func (s *Store) FlushIfDirty(ctx context.Context) error {
	if !s.dirty.Load() {
		return nil
	}
	return s.PersistAll(ctx)
}

// Restores state from the backend, replacing anything in memory. A missing or unreadable document results in an empty store; the failure is logged, never returned.
//
// Intended to run once at startup, before any mutations.
func (s *Store) LoadAll(ctx context.Context) {
	doc, err := s.backend.Load(ctx)
	if errors.Is(err, ErrNoDocument) {
		s.Logger.Info("no persisted moderation state, starting empty")
		doc = NewDocument()
	} else if err != nil {
		loadErrorCount.Inc()
		s.Logger.Error("failed to load moderation state, starting empty", "err", err)
		doc = NewDocument()
	}
	doc.normalize()

	s.chats.Clear()
	for id, conf := range doc.Chats {
		e := &chatEntry{}
		e.conf.Store(conf)
		s.chats.Store(id, e)
	}
	chatsTracked.Set(float64(len(doc.Chats)))

	s.seenMu.Lock()
	s.users = doc.Users
	s.groups = doc.Groups
	s.seenMu.Unlock()
	s.dirty.Store(false)

	s.Logger.Info("loaded moderation state", "chats", len(doc.Chats), "users", len(doc.Users), "groups", len(doc.Groups))
}

func (s *Store) Close() error {
	return s.backend.Close()
}
