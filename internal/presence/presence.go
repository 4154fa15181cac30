// Package presence tracks which usernames are online in each hub. The
// backing store is a redis set per hub so presence survives process
// restarts and is shared across server instances.
package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	Add(ctx context.Context, hubId int, username string) error
	Remove(ctx context.Context, hubId int, username string) error
	Members(ctx context.Context, hubId int) ([]string, error)
}

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func presenceKey(hubId int) string {
	return fmt.Sprintf("hub:%d:online", hubId)
}

// Add marks username online in the hub. Re-adding a present username
// is a no-op, so concurrent connections from one user collapse to a
// single entry.
func (s *RedisStore) Add(ctx context.Context, hubId int, username string) error {
	return s.rdb.SAdd(ctx, presenceKey(hubId), username).Err()
}

// Remove marks username offline. Removing an absent entry is not an
// error: a disconnect may race a connect that never registered.
func (s *RedisStore) Remove(ctx context.Context, hubId int, username string) error {
	return s.rdb.SRem(ctx, presenceKey(hubId), username).Err()
}

func (s *RedisStore) Members(ctx context.Context, hubId int) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, presenceKey(hubId)).Result()
	if err != nil {
		return nil, err
	}

	sort.Strings(members)
	return members, nil
}
