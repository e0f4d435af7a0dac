package chatstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var redisChatsKey = "warden/chats"
var redisUsersKey = "warden/users"
var redisGroupsKey = "warden/groups"

// Persists state in redis: each chat's configuration is a JSON field in a single hash, and the stats sets are redis sets.
type RedisBackend struct {
	Client *redis.Client
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisBackend{
		Client: rdb,
	}, nil
}

func (b *RedisBackend) Load(ctx context.Context) (*Document, error) {
	chats, err := b.Client.HGetAll(ctx, redisChatsKey).Result()
	if err != nil {
		return nil, err
	}
	users, err := b.Client.SMembers(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, err
	}
	groups, err := b.Client.SMembers(ctx, redisGroupsKey).Result()
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 && len(users) == 0 && len(groups) == 0 {
		return nil, ErrNoDocument
	}

	doc := NewDocument()
	for field, raw := range chats {
		chatID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected chat key in redis: %q", field)
		}
		var conf ChatConfig
		if err := json.Unmarshal([]byte(raw), &conf); err != nil {
			return nil, fmt.Errorf("parsing chat %d from redis: %w", chatID, err)
		}
		doc.Chats[chatID] = &conf
	}
	if err := parseIDSet(users, doc.Users); err != nil {
		return nil, err
	}
	if err := parseIDSet(groups, doc.Groups); err != nil {
		return nil, err
	}
	doc.normalize()
	return doc, nil
}

func (b *RedisBackend) Save(ctx context.Context, doc *Document) error {
	chatFields := make(map[string]any, len(doc.Chats))
	for chatID, conf := range doc.Chats {
		raw, err := json.Marshal(conf)
		if err != nil {
			return fmt.Errorf("encoding chat %d: %w", chatID, err)
		}
		chatFields[strconv.FormatInt(chatID, 10)] = string(raw)
	}

	// replace everything in a single MULTI/EXEC round-trip, so fields missing from the document don't linger
	_, err := b.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisChatsKey, redisUsersKey, redisGroupsKey)
		if len(chatFields) > 0 {
			pipe.HSet(ctx, redisChatsKey, chatFields)
		}
		if ids := formatIDSet(doc.Users); len(ids) > 0 {
			pipe.SAdd(ctx, redisUsersKey, ids...)
		}
		if ids := formatIDSet(doc.Groups); len(ids) > 0 {
			pipe.SAdd(ctx, redisGroupsKey, ids...)
		}
		return nil
	})
	return err
}

func (b *RedisBackend) Close() error {
	return b.Client.Close()
}

func parseIDSet(vals []string, out map[int64]bool) error {
	for _, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("unexpected id in redis set: %q", v)
		}
		out[id] = true
	}
	return nil
}

func formatIDSet(set map[int64]bool) []any {
	out := make([]any, 0, len(set))
	for id := range set {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}
