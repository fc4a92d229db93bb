// internal/dirserver/redis.go
package dirserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blockfriends/partylink/internal/directory"
)

const (
	sessionKeyPrefix = "session:"
	codeKeyPrefix    = "code:"
	indexKey         = "sessions"
)

// RedisStore keeps sessions as JSON values with a TTL; Redis's own expiry is
// the zombie-session collector. A set of live ids backs List, and members
// whose value has expired are pruned on the way through.
type RedisStore struct {
	rdb *redis.Client
}

// ConnectRedis builds a RedisStore against addr and verifies the connection.
func ConnectRedis(addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (r *RedisStore) Put(ctx context.Context, s *directory.Session, ttl time.Duration) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("dirserver: failed to marshal session: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+s.ID, buf, ttl)
	pipe.Set(ctx, codeKeyPrefix+s.Code, s.ID, ttl)
	pipe.SAdd(ctx, indexKey, s.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (*directory.Session, error) {
	buf, err := r.rdb.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err == redis.Nil {
		r.rdb.SRem(ctx, indexKey, id)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s directory.Session
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("dirserver: corrupt session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) GetByCode(ctx context.Context, code string) (*directory.Session, error) {
	id, err := r.rdb.Get(ctx, codeKeyPrefix+code).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.Del(ctx, codeKeyPrefix+s.Code)
	pipe.SRem(ctx, indexKey, id)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) List(ctx context.Context) ([]*directory.Session, error) {
	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	var out []*directory.Session
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Expire(ctx, sessionKeyPrefix+id, ttl)
	pipe.Expire(ctx, codeKeyPrefix+s.Code, ttl)
	_, err = pipe.Exec(ctx)
	return err
}
