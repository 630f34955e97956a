package cursors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/stream"
	"github.com/redis/go-redis/v9"
)

const cursorTTL = 7 * 24 * time.Hour

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore persists per-channel resume cursors so restarts resume
// from the last delivered sequence instead of replaying the stream.
func NewRedisStore(conf *config.Config) (stream.CursorStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &redisStore{
		client: client,
		prefix: conf.Redis.KeyPrefix,
	}, nil
}

func (s *redisStore) key(channel string) string {
	return s.prefix + ":cursor:" + channel
}

func (s *redisStore) Load(ctx context.Context, channel string) (uint64, error) {
	val, err := s.client.Get(ctx, s.key(channel)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}

	seq, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %q: %w", val, err)
	}
	return seq, nil
}

func (s *redisStore) Save(ctx context.Context, channel string, seq uint64) error {
	if err := s.client.Set(ctx, s.key(channel), strconv.FormatUint(seq, 10), cursorTTL).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
