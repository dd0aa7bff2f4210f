package cloudstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces every key written by RedisStore.
const redisKeyPrefix = "cloudstore:"

// redisScanCount is the batch size hint used when listing keys.
const redisScanCount = 100

// RedisStore is a Store backed by a redis server, with one key namespace per
// cloud account.
type RedisStore struct {
	client redis.Cmdable
}

// A compile time check to ensure RedisStore implements the Store interface.
var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value stored under key.
//
// NOTE: This is part of the Store interface.
func (r *RedisStore) Get(ctx context.Context, acct Account,
	key string) (fn.Option[string], error) {

	value, err := r.client.Get(ctx, redisKey(acct, key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return fn.None[string](), nil

	case err != nil:
		return fn.None[string](), classifyRedisError(OpGet, key, err)
	}

	return fn.Some(value), nil
}

// Set stores value under key without expiry.
//
// NOTE: This is part of the Store interface.
func (r *RedisStore) Set(ctx context.Context, acct Account, key,
	value string) error {

	err := r.client.Set(ctx, redisKey(acct, key), value, 0).Err()
	if err != nil {
		return classifyRedisError(OpSet, key, err)
	}

	return nil
}

// Remove deletes key.
//
// NOTE: This is part of the Store interface.
func (r *RedisStore) Remove(ctx context.Context, acct Account,
	key string) error {

	if err := r.client.Del(ctx, redisKey(acct, key)).Err(); err != nil {
		return classifyRedisError(OpRemove, key, err)
	}

	return nil
}

// ListKeys scans the account's namespace.
//
// NOTE: This is part of the Store interface.
func (r *RedisStore) ListKeys(ctx context.Context,
	acct Account) ([]string, error) {

	prefix := redisKey(acct, "")
	match := escapeRedisPattern(prefix) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, match, redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, classifyRedisError(OpListKeys, "", err)
	}
	sort.Strings(keys)

	return keys, nil
}

// redisKey maps an account scoped key into the shared redis keyspace.
func redisKey(acct Account, key string) string {
	return redisKeyPrefix + acct.ID + ":" + key
}

// escapeRedisPattern escapes the glob characters understood by SCAN MATCH.
func escapeRedisPattern(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}

	return b.String()
}

// classifyRedisError wraps a redis failure, attaching rectification data
// where the server reports a condition the user can fix.
func classifyRedisError(op Op, key string, err error) *CloudError {
	cloudErr := &CloudError{
		Op:            op,
		Key:           key,
		Err:           err,
		Rectification: fn.None[Rectification](),
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "OOM"):
		cloudErr.Rectification = fn.Some(Rectification{
			Kind: RectifyQuota,
		})

	case strings.HasPrefix(msg, "NOAUTH"),
		strings.HasPrefix(msg, "WRONGPASS"):

		cloudErr.Rectification = fn.Some(Rectification{
			Kind: RectifySignIn,
		})

	case strings.HasPrefix(msg, "NOPERM"):
		cloudErr.Rectification = fn.Some(Rectification{
			Kind: RectifyPermission,
		})
	}

	return cloudErr
}
