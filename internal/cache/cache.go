// Package cache is the middle tier: room snapshots in Redis with a TTL.
// Everything here is best-effort. A miss or a Redis outage never fails a
// request on its own; callers fall through to the persistent tier.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
)

const keyPrefix = "collab:room:"

// Connect opens and pings a Redis client.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(roomID string) string { return keyPrefix + roomID }

// SetSnapshot writes the snapshot under the room's key, refreshing the TTL.
func (c *Cache) SetSnapshot(ctx context.Context, snap *room.Snapshot) error {
	return c.rdb.Set(ctx, key(snap.RoomID), snap, c.ttl).Err()
}

// GetSnapshot returns the cached snapshot, or (nil, nil) on a miss. A
// non-nil error means the tier itself failed.
func (c *Cache) GetSnapshot(ctx context.Context, roomID string) (*room.Snapshot, error) {
	var snap room.Snapshot
	err := c.rdb.Get(ctx, key(roomID)).Scan(&snap)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// DeleteSnapshot drops the room's cache entry.
func (c *Cache) DeleteSnapshot(ctx context.Context, roomID string) error {
	return c.rdb.Del(ctx, key(roomID)).Err()
}
