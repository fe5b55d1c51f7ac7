package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Close() error { return s.rdb.Close() }

const settingPrefix = "setting:"

// GetSetting returns redis.Nil via error when the key is not cached.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	return s.rdb.Get(ctx, settingPrefix+key).Result()
}

func (s *Store) SetSetting(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, settingPrefix+key, value, ttl).Err()
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, settingPrefix+key).Err()
}
