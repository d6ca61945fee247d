// Package redis provides a Redis-backed storage.SessionStore. Users and
// linked accounts stay in the relational store; only sessions move here.
//
// Layout under the configured prefix:
//
//	session:<hash>        JSON record, TTL until expiry
//	session-id:<id>       token digest, same TTL
//	user-sessions:<uid>   sorted set of digests scored by insertion sequence
//	session-expiry        sorted set of digests scored by expiry (unix ms)
//	session-seq           insertion counter
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/authcore/pkg/api"
	"github.com/rhuss/authcore/pkg/device"
	"github.com/rhuss/authcore/pkg/storage"
)

// DefaultPrefix is used when Config.Prefix is empty.
const DefaultPrefix = "authcore:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store is a Redis-backed storage.SessionStore.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ storage.SessionStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client. Prefix may be empty.
func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) sessionKey(hash string) string { return s.prefix + "session:" + hash }
func (s *Store) idKey(id string) string { return s.prefix + "session-id:" + id }
func (s *Store) userKey(userID string) string { return s.prefix + "user-sessions:" + userID }
func (s *Store) expiryKey() string { return s.prefix + "session-expiry" }
func (s *Store) seqKey() string { return s.prefix + "session-seq" }

// maxTxRetries bounds optimistic retries of watched transactions.
const maxTxRetries = 10

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	MGet(ctx context.Context, keys ...string) *goredis.SliceCmd
}

// record is the stored form of a session.
type record struct {
	ID         string    `json:"id"`
	TokenHash  string    `json:"token_hash"`
	TokenHint  string    `json:"token_hint"`
	UserID     string    `json:"user_id"`
	DeviceType string    `json:"device_type"`
	DeviceName string    `json:"device_name"`
	UserAgent  string    `json:"user_agent"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func toRecord(sess *api.Session) record {
	return record{
		ID:         sess.ID,
		TokenHash:  sess.TokenHash,
		TokenHint:  sess.TokenHint,
		UserID:     sess.UserID,
		DeviceType: string(sess.DeviceType),
		DeviceName: sess.DeviceName,
		UserAgent:  sess.UserAgent,
		IPAddress:  sess.IPAddress,
		CreatedAt:  sess.CreatedAt,
		ExpiresAt:  sess.ExpiresAt,
	}
}

func (r record) session() *api.Session {
	return &api.Session{
		ID:         r.ID,
		TokenHash:  r.TokenHash,
		TokenHint:  r.TokenHint,
		UserID:     r.UserID,
		DeviceType: device.Type(r.DeviceType),
		DeviceName: r.DeviceName,
		UserAgent:  r.UserAgent,
		IPAddress:  r.IPAddress,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

// ttl derives the key TTL from the session expiry, with a floor so Redis
// never receives a non-positive expiration.
func ttl(expiresAt time.Time) time.Duration {
	d := time.Until(expiresAt)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// load reads a session record. A missing key yields ErrNotFound.
func (s *Store) load(ctx context.Context, c getter, hash string) (*record, error) {
	b, err := c.Get(ctx, s.sessionKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &r, nil
}

// queueInsert adds the writes for a new session to pipe.
func (s *Store) queueInsert(ctx context.Context, pipe goredis.Pipeliner, sess *api.Session, b []byte, seq int64) {
	exp := ttl(sess.ExpiresAt)
	pipe.Set(ctx, s.sessionKey(sess.TokenHash), b, exp)
	pipe.Set(ctx, s.idKey(sess.ID), sess.TokenHash, exp)
	pipe.ZAdd(ctx, s.userKey(sess.UserID), goredis.Z{Score: float64(seq), Member: sess.TokenHash})
	pipe.ZAdd(ctx, s.expiryKey(), goredis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: sess.TokenHash})
}

// queueRemove adds the writes that delete r to pipe.
func (s *Store) queueRemove(ctx context.Context, pipe goredis.Pipeliner, r *record) {
	pipe.Del(ctx, s.sessionKey(r.TokenHash), s.idKey(r.ID))
	pipe.ZRem(ctx, s.userKey(r.UserID), r.TokenHash)
	pipe.ZRem(ctx, s.expiryKey(), r.TokenHash)
}

// CreateSession inserts a session. The digest key is watched so two
// inserts of the same digest cannot both succeed.
func (s *Store) CreateSession(ctx context.Context, sess *api.Session) error {
	b, err := json.Marshal(toRecord(sess))
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}

	key := s.sessionKey(sess.TokenHash)
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("checking session: %w", err)
		}
		if n > 0 {
			return storage.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.queueInsert(ctx, pipe, sess, b, seq)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return storage.ErrConflict
	}
	return err
}

// GetSessionByHash returns the live session with the given digest.
func (s *Store) GetSessionByHash(ctx context.Context, tokenHash string, now time.Time) (*api.Session, error) {
	r, err := s.load(ctx, s.client, tokenHash)
	if err != nil {
		return nil, err
	}
	if !now.Before(r.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return r.session(), nil
}

// RotateSession replaces the session identified by oldHash with next in
// one MULTI/EXEC. A concurrent writer touching either key aborts the
// transaction, which is reported as ErrNotFound: the old token has been
// consumed by someone else.
func (s *Store) RotateSession(ctx context.Context, oldHash string, next *api.Session, now time.Time) error {
	b, err := json.Marshal(toRecord(next))
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}

	oldKey, newKey := s.sessionKey(oldHash), s.sessionKey(next.TokenHash)
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		old, err := s.load(ctx, tx, oldHash)
		if err != nil {
			return err
		}
		if !now.Before(old.ExpiresAt) || old.UserID != next.UserID {
			return storage.ErrNotFound
		}
		n, err := tx.Exists(ctx, newKey).Result()
		if err != nil {
			return fmt.Errorf("checking session: %w", err)
		}
		if n > 0 {
			return storage.ErrConflict
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.queueRemove(ctx, pipe, old)
			s.queueInsert(ctx, pipe, next, b, seq)
			return nil
		})
		return err
	}, oldKey, newKey)
	if errors.Is(err, goredis.TxFailedErr) {
		return storage.ErrNotFound
	}
	return err
}

// DeleteSessionByHash removes a session if present.
func (s *Store) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	r, err := s.load(ctx, s.client, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		s.queueRemove(ctx, pipe, r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteSessionByID removes a session owned by userID.
func (s *Store) DeleteSessionByID(ctx context.Context, userID, sessionID string) error {
	idKey := s.idKey(sessionID)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		hash, err := tx.Get(ctx, idKey).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("resolving session id: %w", err)
		}
		r, err := s.load(ctx, tx, hash)
		if err != nil {
			return err
		}
		if r.UserID != userID {
			return storage.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.queueRemove(ctx, pipe, r)
			return nil
		})
		return err
	}, idKey)
	if errors.Is(err, goredis.TxFailedErr) {
		return storage.ErrNotFound
	}
	return err
}

// DeleteUserSessions removes every session of userID. The user index is
// watched for the whole read-then-delete, so a session inserted or rotated
// in between aborts the transaction and the removal is retried against the
// new index contents.
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	for range maxTxRetries {
		var removed int
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			hashes, err := tx.ZRange(ctx, userKey, 0, -1).Result()
			if err != nil {
				return fmt.Errorf("listing user sessions: %w", err)
			}
			if len(hashes) == 0 {
				return nil
			}
			records, err := s.loadMany(ctx, tx, hashes)
			if err != nil {
				return err
			}

			sessionKeys := make([]string, 0, len(records))
			idKeys := make([]string, 0, len(records))
			for _, r := range records {
				sessionKeys = append(sessionKeys, s.sessionKey(r.TokenHash))
				idKeys = append(idKeys, s.idKey(r.ID))
			}
			members := make([]any, len(hashes))
			for i, h := range hashes {
				members[i] = h
			}

			var deleted *goredis.IntCmd
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				if len(records) > 0 {
					deleted = pipe.Del(ctx, sessionKeys...)
					pipe.Del(ctx, idKeys...)
				}
				pipe.ZRem(ctx, userKey, members...)
				pipe.ZRem(ctx, s.expiryKey(), members...)
				return nil
			})
			if err == nil && deleted != nil {
				removed = int(deleted.Val())
			}
			return err
		}, userKey)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("deleting user sessions: %w", err)
		}
		return removed, nil
	}
	return 0, fmt.Errorf("deleting user sessions: %w", goredis.TxFailedErr)
}

// ListUserSessions returns live sessions of userID in creation order.
func (s *Store) ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*api.Session, error) {
	hashes, err := s.client.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing user sessions: %w", err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	records, err := s.loadMany(ctx, s.client, hashes)
	if err != nil {
		return nil, err
	}
	var sessions []*api.Session
	for _, r := range records {
		if now.Before(r.ExpiresAt) {
			sessions = append(sessions, r.session())
		}
	}
	return sessions, nil
}

// loadMany reads the records for hashes, preserving order and skipping
// digests whose key has already expired.
func (s *Store) loadMany(ctx context.Context, c getter, hashes []string) ([]*record, error) {
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = s.sessionKey(h)
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}

	records := make([]*record, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("decoding session: %w", err)
		}
		records = append(records, &r)
	}
	return records, nil
}

// DeleteExpiredSessions removes sessions whose expiry is not after now.
// Redis drops the record keys on its own; this also trims the indexes.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	hashes, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing expired sessions: %w", err)
	}

	removed := 0
	for _, h := range hashes {
		r, err := s.load(ctx, s.client, h)
		if errors.Is(err, storage.ErrNotFound) {
			s.client.ZRem(ctx, s.expiryKey(), h)
			continue
		}
		if err != nil {
			return removed, err
		}
		if now.Before(r.ExpiresAt) {
			continue
		}
		_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.queueRemove(ctx, pipe, r)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("deleting expired session: %w", err)
		}
		removed++
	}
	return removed, nil
}
