package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "brain:session:"
	indexKey   = "brain:sessions"
	defaultTTL = 7 * 24 * time.Hour
)

// Redis is a Registry kept in Redis hashes, one per session, with a set
// indexing live session keys.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis wraps rdb. Sessions idle for longer than ttl expire; zero means
// seven days.
func NewRedis(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}
}

func sessionKey(id string) string { return keyPrefix + id }

func (r *Redis) Resolve(ctx context.Context, channel, externalID string) (Session, error) {
	id := ID(channel, externalID)
	key := sessionKey(id)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	pipe := r.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "id", id)
	pipe.HSetNX(ctx, key, "channel", channel)
	pipe.HSetNX(ctx, key, "external_id", externalID)
	pipe.HSetNX(ctx, key, "created_at", now)
	pipe.HIncrBy(ctx, key, "messages", 1)
	pipe.HSet(ctx, key, "last_seen", now)
	pipe.Expire(ctx, key, r.ttl)
	pipe.SAdd(ctx, indexKey, key)
	get := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Session{}, fmt.Errorf("resolve session %s: %w", id, err)
	}
	return decodeSession(get.Val()), nil
}

func (r *Redis) Clear(ctx context.Context, channel, externalID string) (bool, error) {
	key := sessionKey(ID(channel, externalID))
	pipe := r.rdb.TxPipeline()
	del := pipe.Del(ctx, key)
	pipe.SRem(ctx, indexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("clear session: %w", err)
	}
	return del.Val() > 0, nil
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	sessions, err := r.Active(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// Active reads every indexed session and prunes index entries whose hash
// has expired.
func (r *Redis) Active(ctx context.Context) ([]Session, error) {
	keys, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}

	var out []Session
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, keys[i])
			continue
		}
		out = append(out, decodeSession(fields))
	}
	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, indexKey, stale...).Err(); err != nil {
			r.logger.Warn("prune expired sessions", zap.Error(err))
		}
	}
	sortByLastSeen(out)
	return out, nil
}

func decodeSession(f map[string]string) Session {
	s := Session{ID: f["id"], Channel: f["channel"], ExternalID: f["external_id"]}
	s.Messages, _ = strconv.Atoi(f["messages"])
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, f["created_at"])
	s.LastSeen, _ = time.Parse(time.RFC3339Nano, f["last_seen"])
	return s
}
