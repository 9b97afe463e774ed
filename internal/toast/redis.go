package toast

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores each toast under its own key with a TTL, so every API
// instance sees the same set.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// OpenRedis connects to the server at url (redis://...) and pings it.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedis(rdb), nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func toastKey(userID, id string) string {
	return fmt.Sprintf("toast:%s:%s", userID, id)
}

func (r *Redis) Add(ctx context.Context, t Toast) error {
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, toastKey(t.UserID, t.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store toast: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, userID, id string) error {
	n, err := r.rdb.Del(ctx, toastKey(userID, id)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove toast: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, userID string) ([]Toast, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, toastKey(userID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list toasts: %w", err)
	}
	if len(keys) == 0 {
		return []Toast{}, nil
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read toasts: %w", err)
	}
	out := make([]Toast, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var t Toast
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
