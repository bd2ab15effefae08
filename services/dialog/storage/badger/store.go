// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// =============================================================================
// Key Schema
// =============================================================================

// Key layout. Record kinds are prefix-isolated; turn keys embed a
// zero-padded index so BadgerDB's lexicographic iteration yields turns in
// order.
const (
	sessionPrefix = "session:"
	turnPrefix    = "turn:"
	intentPrefix  = "intent:"
	cachePrefix   = "cache:"
)

func sessionKey(sessionID string) []byte {
	return []byte(sessionPrefix + sessionID)
}

func turnKey(sessionID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%016d", turnPrefix, sessionID, index))
}

func intentKey(name string) []byte {
	return []byte(intentPrefix + name)
}

func cacheKey(key string) []byte {
	return []byte(cachePrefix + key)
}

// storeFault wraps a backend error as transient so callers may retry it.
// Context errors pass through untouched: they are the caller's deadline,
// not a storage failure.
func storeFault(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return faults.Wrapf(err, faults.CodeStorageTransient, "badger: %s", op)
}

// =============================================================================
// Sessions
// =============================================================================

// GetSession loads a session record. Missing sessions return
// storage.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var session datatypes.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	case err != nil:
		return nil, storeFault(err, "get session")
	}
	return &session, nil
}

// PutSession writes the authoritative session record.
func (s *Store) PutSession(ctx context.Context, session *datatypes.Session) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if session == nil || session.ID == "" {
		return faults.New(faults.CodeStorage, "badger: session requires an id")
	}

	buf, err := json.Marshal(session)
	if err != nil {
		return faults.Wrap(err, faults.CodeStorage, "badger: encode session")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(session.ID), buf)
	})
	if err != nil {
		return storeFault(err, "put session")
	}
	return nil
}

// =============================================================================
// Turn Log
// =============================================================================

// AppendTurn persists one turn under its session. The turn index keys the
// record, so re-appending the same index overwrites rather than duplicates.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn datatypes.Turn) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if sessionID == "" {
		return faults.New(faults.CodeStorage, "badger: turn requires a session id")
	}

	buf, err := json.Marshal(&turn)
	if err != nil {
		return faults.Wrap(err, faults.CodeStorage, "badger: encode turn")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(turnKey(sessionID, turn.TurnIndex), buf)
	})
	if err != nil {
		return storeFault(err, "append turn")
	}
	return nil
}

// =============================================================================
// Catalog
// =============================================================================

// LoadIntent loads one persisted catalog intent by name. Missing intents
// return storage.ErrNotFound.
func (s *Store) LoadIntent(ctx context.Context, name string) (*datatypes.Intent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var intent datatypes.Intent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(intentKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &intent)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, fmt.Errorf("intent %s: %w", name, storage.ErrNotFound)
	case err != nil:
		return nil, storeFault(err, "load intent")
	}
	return &intent, nil
}

// ReloadCatalog loads the full persisted intent set, ordered by name.
// A store that never had a catalog saved yields an empty slice; catalog
// validation rejects that downstream.
func (s *Store) ReloadCatalog(ctx context.Context) ([]datatypes.Intent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var intents []datatypes.Intent
	prefix := []byte(intentPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var intent datatypes.Intent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &intent)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", string(it.Item().Key()), err)
			}
			intents = append(intents, intent)
		}
		return nil
	})
	if err != nil {
		return nil, storeFault(err, "reload catalog")
	}
	return intents, nil
}

// SaveCatalog persists a published catalog, replacing whatever was there:
// intents no longer in the set are deleted so a reload cannot resurrect
// them. One transaction, so readers see either the old catalog or the new.
func (s *Store) SaveCatalog(ctx context.Context, intents []datatypes.Intent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	encoded := make(map[string][]byte, len(intents))
	for i := range intents {
		if intents[i].Name == "" {
			return faults.New(faults.CodeStorage, "badger: intent requires a name")
		}
		buf, err := json.Marshal(&intents[i])
		if err != nil {
			return faults.Wrapf(err, faults.CodeStorage, "badger: encode intent %s", intents[i].Name)
		}
		encoded[intents[i].Name] = buf
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		// Collect stale intent keys first; the iterator must be closed
		// before the writes below.
		prefix := []byte(intentPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := encoded[string(key[len(prefix):])]; !ok {
				stale = append(stale, key)
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for name, buf := range encoded {
			if err := txn.Set(intentKey(name), buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeFault(err, "save catalog")
	}

	s.logger.Info("storage.badger: catalog saved",
		slog.Int("intents", len(intents)))
	return nil
}
