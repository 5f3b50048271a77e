// Package redisstore backs resumable streams: every outbound chunk of a
// live turn is appended to a Redis list under its stream id so a
// reconnecting client can replay what it missed.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "chat:stream:"
	streamTTL = 10 * time.Minute
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

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Append pushes one chunk onto the stream buffer and refreshes its TTL.
func (s *Store) Append(ctx context.Context, streamID, chunk string) error {
	key := keyPrefix + streamID
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, chunk)
	pipe.Expire(ctx, key, streamTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Read returns the buffered chunks starting at offset.
func (s *Store) Read(ctx context.Context, streamID string, offset int64) ([]string, error) {
	return s.rdb.LRange(ctx, keyPrefix+streamID, offset, -1).Result()
}
