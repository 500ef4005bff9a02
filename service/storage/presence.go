package storage

import (
	"context"
	"strconv"
	"time"

	"PBoard/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PresenceConfig controls key naming and expiry of presence entries.
type PresenceConfig struct {
	NodeID string        // prefixed to members so nodes never collide
	TTL    time.Duration // a member not renewed within TTL counts as gone
	Prefix string        // default "board:presence"
}

// Each user owns one sorted set. Members are "<node>:<connID>", scored by
// the unix second they expire at.

// KEYS[1] = user set
// ARGV[1] = member, ARGV[2] = nowUnix, ARGV[3] = expAt, ARGV[4] = key ttl
const luaTouch = `
local userZ = KEYS[1]
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", tonumber(ARGV[2]))
redis.call("ZADD", userZ, tonumber(ARGV[3]), ARGV[1])
redis.call("EXPIRE", userZ, tonumber(ARGV[4]))
return redis.call("ZCARD", userZ)
`

// KEYS[1] = user set
// ARGV[1] = member
// returns 1 when the member existed
const luaOfflineOne = `
local userZ = KEYS[1]
local existed = redis.call("ZREM", userZ, ARGV[1])
if redis.call("ZCARD", userZ) == 0 then
  redis.call("DEL", userZ)
end
return existed
`

// KEYS[1] = user set
// ARGV[1] = nowUnix
// returns the number of live members
const luaCountActive = `
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", now)
return redis.call("ZCOUNT", userZ, now + 1, "+inf")
`

// PresenceStore records which users hold a live connection on any node.
type PresenceStore struct {
	rdb  redis.UniversalClient
	conf PresenceConfig
	now  func() time.Time

	luaTouch       *redis.Script
	luaOfflineOne  *redis.Script
	luaCountActive *redis.Script
}

func NewPresenceStore(rdb redis.UniversalClient, conf PresenceConfig) *PresenceStore {
	if conf.TTL <= 0 {
		conf.TTL = 2 * time.Minute
	}
	if conf.Prefix == "" {
		conf.Prefix = "board:presence"
	}
	if conf.NodeID == "" {
		conf.NodeID = "node"
	}
	return &PresenceStore{
		rdb:            rdb,
		conf:           conf,
		now:            time.Now,
		luaTouch:       redis.NewScript(luaTouch),
		luaOfflineOne:  redis.NewScript(luaOfflineOne),
		luaCountActive: redis.NewScript(luaCountActive),
	}
}

// ===== keys =====

// userKey wraps the id in a hash tag so every script touches one slot.
func (s *PresenceStore) userKey(userID int64) string {
	return s.conf.Prefix + ":{" + strconv.FormatInt(userID, 10) + "}"
}

func (s *PresenceStore) member(connID string) string {
	return s.conf.NodeID + ":" + connID
}

// ===== operations =====

// Online adds or renews connID for userID.
func (s *PresenceStore) Online(ctx context.Context, userID int64, connID string) error {
	if userID <= 0 || connID == "" {
		return errs.ErrArgs.WrapMsg("presence needs a user and a connection")
	}
	now := s.now()
	ttl := int64(s.conf.TTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	err := s.luaTouch.Run(ctx, s.rdb,
		[]string{s.userKey(userID)},
		s.member(connID), now.Unix(), now.Unix()+ttl, ttl*2,
	).Err()
	return errors.Wrap(err, "presence online")
}

// Offline removes connID; removing an absent member is not an error.
func (s *PresenceStore) Offline(ctx context.Context, userID int64, connID string) error {
	err := s.luaOfflineOne.Run(ctx, s.rdb, []string{s.userKey(userID)}, s.member(connID)).Err()
	return errors.Wrap(err, "presence offline")
}

// Count reports how many live connections userID holds.
func (s *PresenceStore) Count(ctx context.Context, userID int64) (int64, error) {
	n, err := s.luaCountActive.Run(ctx, s.rdb, []string{s.userKey(userID)}, s.now().Unix()).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "presence count")
	}
	return n, nil
}

func (s *PresenceStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := s.Count(ctx, userID)
	return n > 0, err
}

// Client exposes the underlying connection for other Redis users.
func (s *PresenceStore) Client() redis.UniversalClient { return s.rdb }

func (s *PresenceStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *PresenceStore) Close() error {
	return s.rdb.Close()
}
