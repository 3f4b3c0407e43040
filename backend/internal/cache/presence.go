package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache mirrors room occupancy into Redis so that tooling outside
// this process can see which sheets are live. The hub's in-process
// membership map stays authoritative for user counts; presence failures
// are logged by callers and never affect editing.
type PresenceCache interface {
	AddMember(ctx context.Context, sheetID, connID string, ttl time.Duration) error
	RemoveMember(ctx context.Context, sheetID, connID string) error
	CountMembers(ctx context.Context, sheetID string) (int64, error)
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// AddMember registers (or TTL-refreshes) a connection in a room. The ZSet
// score is the expiry as Unix seconds, so stale members age out even if
// RemoveMember is never reached.
func (p *redisPresence) AddMember(ctx context.Context, sheetID, connID string, ttl time.Duration) error {
	expireAt := time.Now().Add(ttl).Unix()
	return p.rdb.ZAdd(ctx, roomKey(sheetID), redis.Z{
		Score:  float64(expireAt),
		Member: connID,
	}).Err()
}

func (p *redisPresence) RemoveMember(ctx context.Context, sheetID, connID string) error {
	return p.rdb.ZRem(ctx, roomKey(sheetID), connID).Err()
}

// CountMembers prunes expired members, then counts the rest.
func (p *redisPresence) CountMembers(ctx context.Context, sheetID string) (int64, error) {
	now := time.Now().Unix()
	if err := p.rdb.ZRemRangeByScore(ctx, roomKey(sheetID),
		"-inf", strconv.FormatInt(now, 10)).Err(); err != nil && err != redis.Nil {
		return 0, err
	}
	n, err := p.rdb.ZCount(ctx, roomKey(sheetID),
		"("+strconv.FormatInt(now, 10), "+inf").Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return n, nil
}
