package session

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/josedab/prflow/internal/errs"
)

// redisStore backs sessions with a Redis string per session id, value
// JSON-encoded and expiring via SETEX on write and refreshed via GETEX
// on read (spec §4.5: "a session's TTL is refreshed on every access").
// Keys is backed by a companion set so a full TTL scan (SCAN/KEYS) is
// never needed on the hot path.
type redisStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisStore returns a Store backed by Redis key expiry.
func NewRedisStore(client *goredis.Client, ttl time.Duration) Store {
	return &redisStore{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "prflow:session:" + id }

const sessionIndexKey = "prflow:session:index"

func (s *redisStore) Create(session *Session) error {
	ctx := context.Background()
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	payload, err := json.Marshal(session)
	if err != nil {
		return errs.Wrap(errs.KindValidation, err, "marshaling session")
	}

	pipe := s.client.TxPipeline()
	pipe.SetEx(ctx, sessionKey(session.ID), payload, s.ttl)
	pipe.SAdd(ctx, sessionIndexKey, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Wrap(errs.KindProviderError, err, "creating session")
	}
	return nil
}

func (s *redisStore) Get(id string) (*Session, error) {
	ctx := context.Background()
	raw, err := s.client.GetEx(ctx, sessionKey(id), s.ttl).Bytes()
	if err == goredis.Nil {
		s.client.SRem(ctx, sessionIndexKey, id)
		return nil, errs.NotFound("session not found or expired: " + id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindProviderError, err, "fetching session")
	}
	var out Session
	if jsonErr := json.Unmarshal(raw, &out); jsonErr != nil {
		return nil, errs.Wrap(errs.KindProviderError, jsonErr, "decoding session")
	}
	return &out, nil
}

func (s *redisStore) Update(id string, fn func(*Session)) error {
	session, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(session)
	session.UpdatedAt = time.Now()

	ctx := context.Background()
	payload, err := json.Marshal(session)
	if err != nil {
		return errs.Wrap(errs.KindValidation, err, "marshaling session")
	}
	if err := s.client.SetEx(ctx, sessionKey(id), payload, s.ttl).Err(); err != nil {
		return errs.Wrap(errs.KindProviderError, err, "updating session")
	}
	return nil
}

func (s *redisStore) Delete(id string) error {
	ctx := context.Background()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, sessionIndexKey, id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return errs.Wrap(errs.KindProviderError, err, "deleting session")
	}
	return nil
}

func (s *redisStore) Keys() ([]string, error) {
	ctx := context.Background()
	ids, err := s.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, errs.Wrap(errs.KindProviderError, err, "listing sessions")
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, err := s.client.Exists(ctx, sessionKey(id)).Result(); err == nil && n > 0 {
			live = append(live, id)
		} else {
			s.client.SRem(ctx, sessionIndexKey, id)
		}
	}
	return live, nil
}

// Close is a no-op: a Redis-backed store has no in-process janitor to
// stop, expiry is handled by the server.
func (s *redisStore) Close() {}
