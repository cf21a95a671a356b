// Package cache mirrors ephemeral room liveness into Redis so that stats and
// operators can observe it. It is strictly an observability surface: the
// in-memory registry, not Redis, decides membership, and a missing heartbeat
// never evicts anyone.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomPresenceKey = "room:%s:presence:%s" // heartbeat key per (roomCode, memberID)
	roomOnlineSet   = "room:%s:online_users"
	presenceTTL     = 90 * time.Second // three missed heartbeats
	roomTTL         = 24 * time.Hour
)

// Presence tracks per-room heartbeat freshness in Redis.
type Presence struct {
	client *redis.Client
}

// NewPresence wraps a connected Redis client.
func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client}
}

// Update refreshes a member's heartbeat key and keeps it in the room's
// online set.
func (p *Presence) Update(ctx context.Context, roomCode, memberID string) error {
	if p.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	presenceKey := fmt.Sprintf(roomPresenceKey, roomCode, memberID)
	onlineSetKey := fmt.Sprintf(roomOnlineSet, roomCode)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKey, time.Now().UnixMilli(), presenceTTL)
	pipe.SAdd(ctx, onlineSetKey, memberID)
	pipe.Expire(ctx, onlineSetKey, roomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove drops a member's heartbeat state.
func (p *Presence) Remove(ctx context.Context, roomCode, memberID string) error {
	if p.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	presenceKey := fmt.Sprintf(roomPresenceKey, roomCode, memberID)
	onlineSetKey := fmt.Sprintf(roomOnlineSet, roomCode)

	pipe := p.client.Pipeline()
	pipe.Del(ctx, presenceKey)
	pipe.SRem(ctx, onlineSetKey, memberID)
	_, err := pipe.Exec(ctx)
	return err
}

// ActiveCount returns how many members of a room have a fresh heartbeat.
// Members whose heartbeat key expired are pruned from the online set as a
// side effect.
func (p *Presence) ActiveCount(ctx context.Context, roomCode string) (int64, error) {
	if p.client == nil {
		return 0, fmt.Errorf("redis client not initialized")
	}

	onlineSetKey := fmt.Sprintf(roomOnlineSet, roomCode)
	members, err := p.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, err
	}

	var active int64
	for _, memberID := range members {
		presenceKey := fmt.Sprintf(roomPresenceKey, roomCode, memberID)
		exists, err := p.client.Exists(ctx, presenceKey).Result()
		if err != nil {
			continue
		}
		if exists > 0 {
			active++
		} else {
			p.client.SRem(ctx, onlineSetKey, memberID)
		}
	}
	return active, nil
}

// ClearRoom removes all presence state for a room.
func (p *Presence) ClearRoom(ctx context.Context, roomCode string) error {
	if p.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	onlineSetKey := fmt.Sprintf(roomOnlineSet, roomCode)
	members, err := p.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := p.client.Pipeline()
	for _, memberID := range members {
		pipe.Del(ctx, fmt.Sprintf(roomPresenceKey, roomCode, memberID))
	}
	pipe.Del(ctx, onlineSetKey)
	_, err = pipe.Exec(ctx)
	return err
}
