package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// Redis is a Store backed by a Redis server. Logical keys are stored under an
// optional namespace so several deployments can share one database.
type Redis struct {
	client    *redis.Client
	namespace string
}

// OpenRedis connects to the Redis server at url (redis://…) and verifies the
// connection.
func OpenRedis(ctx context.Context, url, namespace string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, namespace: namespace}, nil
}

func (r *Redis) key(k string) string { return r.namespace + k }

// Client exposes the underlying connection for components that share it.
func (r *Redis) Client() *redis.Client { return r.client }

// Namespace returns the key namespace.
func (r *Redis) Namespace() string { return r.namespace }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	pattern := globEscape(r.key(prefix)) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}

	out := make(map[string][]byte, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		vals, err := r.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("mget %q: %w", prefix, err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				// Deleted between SCAN and MGET.
				continue
			}
			out[strings.TrimPrefix(keys[start+i], r.namespace)] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Apply(ctx context.Context, ops ...Op) error {
	var watched []string
	for _, op := range ops {
		if op.Guarded() {
			watched = append(watched, r.key(op.Key))
		}
	}

	txf := func(tx *redis.Tx) error {
		for _, op := range ops {
			if !op.Guarded() {
				continue
			}
			cur, err := tx.Get(ctx, r.key(op.Key)).Bytes()
			exists := true
			if errors.Is(err, redis.Nil) {
				exists = false
			} else if err != nil {
				return fmt.Errorf("read %q: %w", op.Key, err)
			}
			if !op.Check(cur, exists) {
				return ErrConflict
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range ops {
				if op.Delete {
					pipe.Del(ctx, r.key(op.Key))
					continue
				}
				pipe.Set(ctx, r.key(op.Key), op.Value, 0)
			}
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("apply batch: %w", err)
	}
	return err
}

func (r *Redis) Close() error { return r.client.Close() }

// globEscape quotes the characters SCAN MATCH treats as wildcards.
func globEscape(s string) string {
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
