package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/user/bankdesk/internal/types"
)

// RedisStore implements types.SessionStore on Redis. Each session record is
// a JSON string whose TTL is refreshed on every write, so idle sessions
// expire on their own even when no sweeper runs.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore pings the server and returns a store using the given key
// prefix. ttl <= 0 disables expiry.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) (*RedisStore, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if prefix == "" {
		prefix = "bankdesk"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisStore) sessionKey(id types.SessionID) string {
	return r.prefix + ":session:" + string(id)
}

func (r *RedisStore) channelKey(key types.SessionKey) string {
	return r.prefix + ":key:" + string(key)
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":sessions"
}

func (r *RedisStore) expiry() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	return r.ttl
}

// Create stores a new session and claims its channel key.
func (r *RedisStore) Create(ctx context.Context, session *types.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if session.Key != "" {
		ok, err := r.client.SetNX(ctx, r.channelKey(session.Key), string(session.ID), r.expiry()).Result()
		if err != nil {
			return fmt.Errorf("claim session key: %w", err)
		}
		if !ok {
			// The claim may be stale if its session already expired
			owner, err := r.client.Get(ctx, r.channelKey(session.Key)).Result()
			if err == nil {
				if n, _ := r.client.Exists(ctx, r.sessionKey(types.SessionID(owner))).Result(); n > 0 {
					return fmt.Errorf("%w: %s", ErrKeyInUse, session.Key)
				}
			}
			if err := r.client.Set(ctx, r.channelKey(session.Key), string(session.ID), r.expiry()).Err(); err != nil {
				return fmt.Errorf("claim session key: %w", err)
			}
		}
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(session.ID), data, r.expiry())
	pipe.ZAdd(ctx, r.indexKey(), &redis.Z{
		Score:  float64(session.LastActiveAt.UnixMicro()),
		Member: string(session.ID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get returns the session with the given ID.
func (r *RedisStore) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(data)
}

// FindByKey returns the session owning the given channel key.
func (r *RedisStore) FindByKey(ctx context.Context, key types.SessionKey) (*types.Session, error) {
	id, err := r.client.Get(ctx, r.channelKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: key %s", types.ErrSessionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session key: %w", err)
	}
	return r.Get(ctx, types.SessionID(id))
}

// Update replaces the stored record and refreshes its TTL.
func (r *RedisStore) Update(ctx context.Context, session *types.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// SET XX only succeeds when the session still exists
	ok, err := r.client.SetXX(ctx, r.sessionKey(session.ID), data, r.expiry()).Result()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrSessionNotFound, session.ID)
	}

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, r.indexKey(), &redis.Z{
		Score:  float64(session.LastActiveAt.UnixMicro()),
		Member: string(session.ID),
	})
	if session.Key != "" && r.ttl > 0 {
		pipe.Expire(ctx, r.channelKey(session.Key), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// Delete removes the session, its key claim and its index entry.
func (r *RedisStore) Delete(ctx context.Context, id types.SessionID) error {
	session, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	pipe.ZRem(ctx, r.indexKey(), string(id))
	if session.Key != "" {
		pipe.Del(ctx, r.channelKey(session.Key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns all live sessions, most recently active first. Index
// entries whose record has expired are pruned along the way.
func (r *RedisStore) List(ctx context.Context) ([]*types.Session, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(types.SessionID(id))
	}
	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	var stale []any
	sessions := make([]*types.Session, 0, len(results))
	for i, result := range results {
		raw, ok := result.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		session, err := decodeSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		r.client.ZRem(ctx, r.indexKey(), stale...)
	}
	return sessions, nil
}
