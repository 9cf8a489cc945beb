// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/recfleet/recfleet/internal/domain/session/model"
)

// maxUpdateAttempts bounds the optimistic retry loop before ErrConflict.
const maxUpdateAttempts = 3

// ErrConflict is returned when an optimistic read-modify-write loses the race
// on every attempt.
var ErrConflict = errors.New("concurrent session update conflict")

// ErrAlreadyExists is returned by Create when a record the caller declined to
// replace is present under the id.
var ErrAlreadyExists = errors.New("session record already exists")

// Create writes a new record under a WATCH guard so two racing creates of the
// same id cannot both succeed. An existing record is offered to replace; a
// false answer aborts with ErrAlreadyExists and leaves it untouched.
func (s *Store) Create(ctx context.Context, sess *model.Session, replace func(*model.Session) bool) error {
	key := sessionKey(sess.SessionID)
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get: %w", err)
		}
		if err == nil {
			var existing model.Session
			if jsonErr := json.Unmarshal(raw, &existing); jsonErr == nil {
				if replace == nil || !replace(&existing) {
					return ErrAlreadyExists
				}
			}
			// A corrupt record under the key is overwritten.
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if sess.Active {
				pipe.SAdd(ctx, activeSetKey, sess.SessionID)
			} else {
				pipe.SRem(ctx, activeSetKey, sess.SessionID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, re-check and retry
		}
		return err
	}
	return ErrConflict
}

// UpdateSession applies mutate under a WATCH-guarded read-modify-write.
// The mutation is re-validated against a fresh read on every attempt; after
// maxUpdateAttempts lost races the caller receives ErrConflict.
func (s *Store) UpdateSession(ctx context.Context, id string, mutate func(*model.Session) error) (*model.Session, error) {
	key := sessionKey(id)
	var result *model.Session

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		var sess model.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("unmarshal session %s: %w", id, err)
		}

		if err := mutate(&sess); err != nil {
			return err
		}

		out, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			if sess.Active {
				pipe.SAdd(ctx, activeSetKey, sess.SessionID)
			} else {
				pipe.SRem(ctx, activeSetKey, sess.SessionID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = &sess
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, re-read and retry
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrConflict
}
