// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store implements the session repository over a redis-compatible
// key-value store. Each session is a JSON blob at session:<id> with a TTL
// refreshed on every write; membership in the active_sessions set marks a
// session as live. No cross-key transactions are required: drift between the
// set and the records is tolerated and repaired by CleanupOrphanedSessions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/domain/session/model"
)

const (
	sessionKeyPrefix = "session:"
	activeSetKey     = "active_sessions"
)

// ErrNotFound is returned when a session id has no record.
var ErrNotFound = errors.New("session not found")

// Config holds redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TTL applied to every session key on write. Defaults to 24h.
	SessionTTL time.Duration
}

// Store is the redis-backed session repository.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to session store")

	return NewWithClient(client, cfg.SessionTTL, logger), nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Save writes the session blob and synchronises active-set membership.
// The per-key TTL is refreshed on every write.
func (s *Store) Save(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if sess.Active {
		if err := s.client.SAdd(ctx, activeSetKey, sess.SessionID).Err(); err != nil {
			return fmt.Errorf("redis sadd: %w", err)
		}
	} else {
		if err := s.client.SRem(ctx, activeSetKey, sess.SessionID).Err(); err != nil {
			return fmt.Errorf("redis srem: %w", err)
		}
	}
	return nil
}

// FindByID loads a single session record.
func (s *Store) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

// Exists reports whether a record is present for the id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// FindAllActiveSessionIDs returns the members of the active index.
func (s *Store) FindAllActiveSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return ids, nil
}

// FindAllActiveSessions loads every session referenced by the active index.
// Index entries whose record has expired are skipped, not errors; the reaper
// repairs the drift.
func (s *Store) FindAllActiveSessions(ctx context.Context) ([]*model.Session, error) {
	ids, err := s.FindAllActiveSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// FindAll scans every session record in the store.
func (s *Store) FindAll(ctx context.Context) ([]*model.Session, error) {
	var out []*model.Session
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}
		var sess model.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.logger.Warn().Err(err).Str("key", iter.Val()).Msg("skipping corrupt session record")
			continue
		}
		out = append(out, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

// FindAllInactiveSessions returns records that are not in the active index.
func (s *Store) FindAllInactiveSessions(ctx context.Context) ([]*model.Session, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Session, 0, len(all))
	for _, sess := range all {
		if !sess.Active {
			out = append(out, sess)
		}
	}
	return out, nil
}

// DeleteByID removes the record and its active-index entry.
// Returns ErrNotFound if no record existed.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if err := s.client.SRem(ctx, activeSetKey, id).Err(); err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes a batch of sessions, continuing past individual misses.
func (s *Store) DeleteAll(ctx context.Context, ids []string) (int, error) {
	removed := 0
	for _, id := range ids {
		err := s.DeleteByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// CleanupOrphanedSessions repairs drift between the active index and the
// records: index members without a record are dropped, records claiming
// active=true without index membership are re-indexed.
func (s *Store) CleanupOrphanedSessions(ctx context.Context) (int, error) {
	repaired := 0

	ids, err := s.FindAllActiveSessionIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return repaired, err
		}
		if !exists {
			if err := s.client.SRem(ctx, activeSetKey, id).Err(); err != nil {
				return repaired, fmt.Errorf("redis srem: %w", err)
			}
			s.logger.Warn().Str("session_id", id).Msg("dropped orphaned active index entry")
			repaired++
		}
	}

	all, err := s.FindAll(ctx)
	if err != nil {
		return repaired, err
	}
	for _, sess := range all {
		if !sess.Active {
			continue
		}
		member, err := s.client.SIsMember(ctx, activeSetKey, sess.SessionID).Result()
		if err != nil {
			return repaired, fmt.Errorf("redis sismember: %w", err)
		}
		if !member {
			if err := s.client.SAdd(ctx, activeSetKey, sess.SessionID).Err(); err != nil {
				return repaired, fmt.Errorf("redis sadd: %w", err)
			}
			s.logger.Warn().Str("session_id", sess.SessionID).Msg("restored missing active index entry")
			repaired++
		}
	}

	return repaired, nil
}

// CleanupOldInactiveSessionsByTTL deletes inactive records whose last
// heartbeat is older than maxAge. The store TTL is the hard ceiling; this is
// the explicit cleanup trigger.
func (s *Store) CleanupOldInactiveSessionsByTTL(ctx context.Context, maxAge time.Duration) (int, error) {
	inactive, err := s.FindAllInactiveSessions(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	var ids []string
	for _, sess := range inactive {
		if sess.LastHeartbeat.Before(cutoff) {
			ids = append(ids, sess.SessionID)
		}
	}
	return s.DeleteAll(ctx, ids)
}

// HealthCheck pings the store.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
