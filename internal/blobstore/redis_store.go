package blobstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. It uses a simple key structure:
//
//	<prefix>obj:<key>  => raw snapshot bytes
//	<prefix>idx        => SET of all stored keys
//
// The index set is updated atomically with the object via a transaction
// pipeline, so List never observes a key whose object is missing.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "floe:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "floe:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyObject(key string) string {
	return s.prefix + "obj:" + key
}

func (s *RedisStore) keyIndex() string {
	return s.prefix + "idx"
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keyObject(key), data, 0)
		pipe.SAdd(ctx, s.keyIndex(), key)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.keyObject(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, k := range members {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keyObject(key))
		pipe.SRem(ctx, s.keyIndex(), key)
		return nil
	})
	return err
}
