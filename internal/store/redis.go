package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps snapshots as string values under a key prefix, with a
// set of names for listing.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage connects to url and checks the connection.
func NewRedisStorage(url, prefix string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStorage{client: client, prefix: prefix}, nil
}

func (rs *RedisStorage) key(name string) string {
	return rs.prefix + "snapshot:" + name
}

func (rs *RedisStorage) index() string {
	return rs.prefix + "snapshots"
}

func (rs *RedisStorage) Save(ctx context.Context, s *Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.key(s.Name), data, 0)
	pipe.SAdd(ctx, rs.index(), s.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (rs *RedisStorage) Load(ctx context.Context, name string) (*Snapshot, error) {
	data, err := rs.client.Get(ctx, rs.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return decode(data)
}

func (rs *RedisStorage) List(ctx context.Context) ([]string, error) {
	names, err := rs.client.SMembers(ctx, rs.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (rs *RedisStorage) Delete(ctx context.Context, name string) error {
	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, rs.key(name))
	pipe.SRem(ctx, rs.index(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
