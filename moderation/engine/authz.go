package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Answers "is this user an admin of this chat". Called once per admin-only command, before any chat state is read.
type Authorizer interface {
	IsAdmin(ctx context.Context, chatID, userID int64, callerFlag bool) (bool, error)
}

// Trusts the admin flag resolved by the platform wrapper.
type CallerFlagAuthorizer struct{}

func (CallerFlagAuthorizer) IsAdmin(ctx context.Context, chatID, userID int64, callerFlag bool) (bool, error) {
	return callerFlag, nil
}

// Static admin lists, keyed by chat. The key "*" lists users who are admins of every chat.
//
// Ignores the caller flag entirely.
type AdminSetAuthorizer struct {
	mu     sync.RWMutex
	admins map[string]map[int64]bool
}

func NewAdminSetAuthorizer() *AdminSetAuthorizer {
	return &AdminSetAuthorizer{
		admins: make(map[string]map[int64]bool),
	}
}

func (a *AdminSetAuthorizer) Add(chatKey string, userIDs ...int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.admins[chatKey]
	if !ok {
		set = make(map[int64]bool, len(userIDs))
		a.admins[chatKey] = set
	}
	for _, uid := range userIDs {
		set[uid] = true
	}
}

func (a *AdminSetAuthorizer) IsAdmin(ctx context.Context, chatID, userID int64, callerFlag bool) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.admins["*"][userID] {
		return true, nil
	}
	return a.admins[strconv.FormatInt(chatID, 10)][userID], nil
}

// Loads admin lists from a JSON file shaped like:
//
//	{"-1001234": [111, 222], "*": [333]}
func (a *AdminSetAuthorizer) LoadFromFileJSON(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var lists map[string][]int64
	if err := json.Unmarshal(raw, &lists); err != nil {
		return fmt.Errorf("parsing admin list file: %w", err)
	}
	for key, l := range lists {
		if key != "*" {
			if _, err := strconv.ParseInt(key, 10, 64); err != nil {
				return fmt.Errorf("admin list key is not a chat id: %q", key)
			}
		}
		a.Add(key, l...)
	}
	return nil
}

// Caches answers from another Authorizer for a short time, for inner implementations which make network calls.
type CachedAuthorizer struct {
	Inner Authorizer
	cache *expirable.LRU[string, bool]
}

func NewCachedAuthorizer(inner Authorizer, capacity int, ttl time.Duration) *CachedAuthorizer {
	return &CachedAuthorizer{
		Inner: inner,
		cache: expirable.NewLRU[string, bool](capacity, nil, ttl),
	}
}

func (a *CachedAuthorizer) IsAdmin(ctx context.Context, chatID, userID int64, callerFlag bool) (bool, error) {
	key := fmt.Sprintf("%d/%d/%t", chatID, userID, callerFlag)
	if v, ok := a.cache.Get(key); ok {
		return v, nil
	}
	v, err := a.Inner.IsAdmin(ctx, chatID, userID, callerFlag)
	if err != nil {
		// errors are not cached
		return false, err
	}
	a.cache.Add(key, v)
	return v, nil
}

// Drops any cached answers for a user in a chat, eg after a promotion or demotion.
func (a *CachedAuthorizer) Purge(chatID, userID int64) {
	for _, flag := range []bool{true, false} {
		a.cache.Remove(fmt.Sprintf("%d/%d/%t", chatID, userID, flag))
	}
}
