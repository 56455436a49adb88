package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

// DefaultRedisPrefix is used when a store spec names no key prefix.
const DefaultRedisPrefix = "featureflow"

// fieldSeparator splits a hash field into group and timestamp.
const fieldSeparator = "\x1f"

// RedisBackend keeps one hash per identity, with one field per group and
// timestamp. Reading a whole identity is a single HGETALL.
type RedisBackend struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisBackend wraps client. Keys are written under prefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{
		client:  client,
		prefix:  prefix,
		timeout: 5 * time.Second,
	}
}

// NewRedisClient builds a client from a comma separated address list.
func NewRedisClient(addrs, username, password string, db int) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(addrs, ","),
		Username: username,
		Password: password,
		DB:       db,
	})
}

// Kind implements Backend.
func (b *RedisBackend) Kind() string {
	return "redis"
}

func (b *RedisBackend) hashKey(identity string) string {
	return b.prefix + ":" + identity
}

func hashField(key Key) string {
	return key.Group + fieldSeparator + timestampColumn(key)
}

func (b *RedisBackend) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// Load implements Backend.
func (b *RedisBackend) Load(key Key) (Record, bool, error) {
	ctx, cancel := b.context()
	defer cancel()

	payload, err := b.client.HGet(ctx, b.hashKey(key.Identity), hashField(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, redisError("load", err)
	}
	rec, err := Unmarshal(payload)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Put implements Backend.
func (b *RedisBackend) Put(key Key, rec Record) error {
	payload, err := Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := b.context()
	defer cancel()

	if err := b.client.HSet(ctx, b.hashKey(key.Identity), hashField(key), payload).Err(); err != nil {
		return redisError("save", err)
	}
	return nil
}

// Remove implements Backend.
func (b *RedisBackend) Remove(key Key) error {
	ctx, cancel := b.context()
	defer cancel()

	if err := b.client.HDel(ctx, b.hashKey(key.Identity), hashField(key)).Err(); err != nil {
		return redisError("delete", err)
	}
	return nil
}

// Scan implements Backend. Listing every identity walks the keyspace
// with SCAN.
func (b *RedisBackend) Scan(identity, group string) ([]Entry, error) {
	ctx, cancel := b.context()
	defer cancel()

	identities := []string{identity}
	if identity == "" {
		var err error
		if identities, err = b.identities(ctx); err != nil {
			return nil, err
		}
	}

	var entries []Entry
	for _, id := range identities {
		fields, err := b.client.HGetAll(ctx, b.hashKey(id)).Result()
		if err != nil {
			return nil, redisError("scan", err)
		}
		for field, payload := range fields {
			grp, ts, ok := strings.Cut(field, fieldSeparator)
			if !ok {
				return nil, fmt.Errorf("redis scan: malformed field %q in %s", field, b.hashKey(id))
			}
			if group != "" && grp != group {
				continue
			}
			key := Key{Identity: id, Group: grp}
			if key.Timestamp, err = parseTimestampColumn(ts); err != nil {
				return nil, err
			}
			rec, err := Unmarshal([]byte(payload))
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Key: key, Record: rec})
		}
	}
	return entries, nil
}

func (b *RedisBackend) identities(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	match := b.prefix + ":*"
	for {
		keys, next, err := b.client.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, redisError("scan keys", err)
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, b.prefix+":"))
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func redisError(op string, err error) error {
	return &fferrors.BackendError{
		Backend:   "redis",
		Op:        op,
		Temporary: isTransientRedisErr(err),
		Err:       err,
	}
}

func isTransientRedisErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "LOADING") || strings.HasPrefix(msg, "TRYAGAIN") || strings.HasPrefix(msg, "CLUSTERDOWN")
}
