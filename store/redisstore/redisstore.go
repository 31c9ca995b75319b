// Package redisstore backs the broker store with Redis. Each record lives
// in a hash holding the serialized record plus its refresh secret, so the
// compare-and-swap rotation can run server-side as one Lua script.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/store"
	"github.com/hack-ink/oauth2-broker/token"
)

const (
	backendName   = "redis"
	defaultPrefix = "oauth2broker:"

	fieldRecord  = "record"
	fieldRefresh = "refresh"
)

// casScript compares the stored refresh secret and swaps the record in one
// atomic step. Returns 1 on swap, 0 on mismatch, -1 when absent. The
// refresh comparison is a plain Lua string inequality, not a constant-time
// compare.
var casScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("HGET", KEYS[1], "refresh") ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "record", ARGV[2], "refresh", ARGV[3])
return 1
`)

// Store implements store.Store on a go-redis client.
type Store struct {
	client redis.Cmdable
	prefix string
}

var _ store.Store = (*Store)(nil)

// Option adjusts the store.
type Option func(*Store)

// WithKeyPrefix overrides the key prefix used to namespace records.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New wraps an existing Redis client.
func New(client redis.Cmdable, options ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) redisKey(key identity.StoreKey) string {
	return s.prefix + key.String()
}

// Fetch implements store.Store.
func (s *Store) Fetch(ctx context.Context, key identity.StoreKey) (*token.Record, error) {
	raw, err := s.client.HGet(ctx, s.redisKey(key), fieldRecord).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, store.NewError(backendName, "fetch", err)
	}

	record, err := decodeRecord([]byte(raw))
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, key identity.StoreKey, record token.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return store.NewError(backendName, "serialize", err)
	}

	err = s.client.HSet(ctx, s.redisKey(key),
		fieldRecord, raw,
		fieldRefresh, record.RefreshToken.Expose(),
	).Err()
	if err != nil {
		return store.NewError(backendName, "save", err)
	}
	return nil
}

// Revoke implements store.Store.
func (s *Store) Revoke(ctx context.Context, key identity.StoreKey) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return store.NewError(backendName, "revoke", err)
	}
	return nil
}

// CompareAndSwapRefresh implements store.Store.
func (s *Store) CompareAndSwapRefresh(ctx context.Context, key identity.StoreKey, expectedRefresh string, replacement token.Record) (store.CASResult, error) {
	raw, err := json.Marshal(replacement)
	if err != nil {
		return store.CASResult{}, store.NewError(backendName, "serialize", err)
	}

	outcome, err := casScript.Run(ctx, s.client, []string{s.redisKey(key)},
		expectedRefresh, raw, replacement.RefreshToken.Expose(),
	).Int()
	if err != nil {
		return store.CASResult{}, store.NewError(backendName, "cas", err)
	}

	switch outcome {
	case 1:
		return store.CASResult{Outcome: store.CASSwapped}, nil
	case -1:
		return store.CASResult{Outcome: store.CASAbsent}, nil
	}

	observed, err := s.Fetch(ctx, key)
	if err != nil {
		return store.CASResult{}, err
	}
	if observed == nil {
		// The record vanished between the script and the read-back.
		return store.CASResult{Outcome: store.CASAbsent}, nil
	}
	return store.CASResult{Outcome: store.CASMismatch, Observed: observed}, nil
}

func decodeRecord(raw []byte) (*token.Record, error) {
	var record token.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, store.NewError(backendName, "parse", err)
	}
	if err := record.RestoreScope(); err != nil {
		return nil, store.NewError(backendName, "parse", fmt.Errorf("record scope: %w", err))
	}
	return &record, nil
}
