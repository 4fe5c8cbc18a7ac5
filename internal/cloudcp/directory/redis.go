package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisKeyPrefix = "clubcloud:directory:"

// RedisConfig configures the Redis-backed directory.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisDirectory stores one key per subdomain. Each value is a JSON entry so
// the orphan sweep can see when a registration was made.
type RedisDirectory struct {
	client *redis.Client
	prefix string
}

// NewRedisDirectory connects to Redis.
func NewRedisDirectory(cfg RedisConfig) *RedisDirectory {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisDirectoryWithClient(client, cfg.KeyPrefix)
}

// NewRedisDirectoryWithClient wraps an existing client.
func NewRedisDirectoryWithClient(client *redis.Client, prefix string) *RedisDirectory {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisDirectory{client: client, prefix: prefix}
}

func (d *RedisDirectory) key(subdomain string) string {
	return d.prefix + strings.ToLower(strings.TrimSpace(subdomain))
}

// Register implements Directory. SETNX makes the claim atomic across
// control plane replicas.
func (d *RedisDirectory) Register(ctx context.Context, subdomain, tenantID string) error {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain == "" || tenantID == "" {
		return fmt.Errorf("directory register: subdomain and tenant id are required")
	}

	value, err := json.Marshal(Entry{Subdomain: subdomain, TenantID: tenantID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal directory entry: %w", err)
	}
	ok, err := d.client.SetNX(ctx, d.key(subdomain), value, 0).Result()
	if err != nil {
		return fmt.Errorf("directory register %q: %w", subdomain, err)
	}
	if ok {
		return nil
	}

	existing, err := d.Resolve(ctx, subdomain)
	if err != nil {
		return err
	}
	if existing != tenantID {
		return ErrSubdomainTaken
	}
	return nil
}

// Resolve implements Directory.
func (d *RedisDirectory) Resolve(ctx context.Context, subdomain string) (string, error) {
	e, err := d.get(ctx, d.key(subdomain))
	if err != nil {
		return "", err
	}
	return e.TenantID, nil
}

func (d *RedisDirectory) get(ctx context.Context, key string) (Entry, error) {
	raw, err := d.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("directory resolve: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode directory entry %q: %w", key, err)
	}
	return e, nil
}

// Remove implements Directory. The key is deleted only while it still names
// tenantID; WATCH aborts the delete if another writer touched it first.
func (d *RedisDirectory) Remove(ctx context.Context, subdomain, tenantID string) error {
	key := d.key(subdomain)
	err := d.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decode directory entry %q: %w", key, err)
		}
		if e.TenantID != tenantID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("directory remove: %w", err)
	}
	return nil
}

// List implements Directory.
func (d *RedisDirectory) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		e, err := d.get(ctx, iter.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("directory list: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Subdomain < entries[j].Subdomain })
	return entries, nil
}

// Ping implements Directory.
func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close implements Directory.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}
