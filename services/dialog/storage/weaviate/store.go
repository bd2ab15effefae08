// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

// catalogListLimit bounds the catalog listing. Catalogs are tens of
// intents; hitting this limit means something else is writing the class.
const catalogListLimit = 500

// =============================================================================
// Sessions
// =============================================================================

// GetSession loads a session record. Missing sessions return
// storage.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	props, err := s.getObjectProps(ctx, sessionClassName, objectID("session", sessionID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	case err != nil:
		return nil, storeFault(err, "get session")
	}

	raw, err := recordOf(props, "record")
	if err != nil {
		return nil, storeFault(err, "get session")
	}
	var session datatypes.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, faults.Wrap(err, faults.CodeStorage, "weaviate: decode session")
	}
	return &session, nil
}

// PutSession writes the authoritative session record.
func (s *Store) PutSession(ctx context.Context, session *datatypes.Session) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if session == nil || session.ID == "" {
		return faults.New(faults.CodeStorage, "weaviate: session requires an id")
	}

	props, err := sessionProps(session)
	if err != nil {
		return err
	}
	err = s.putObject(ctx, sessionClassName, objectID("session", session.ID), props)
	if err != nil {
		return storeFault(err, "put session")
	}
	return nil
}

// sessionProps renders the object properties for a session.
func sessionProps(session *datatypes.Session) (map[string]interface{}, error) {
	record, err := json.Marshal(session)
	if err != nil {
		return nil, faults.Wrap(err, faults.CodeStorage, "weaviate: encode session")
	}
	return map[string]interface{}{
		"session_id":   session.ID,
		"user_id":      session.UserID,
		"state":        string(session.State),
		"last_seen_at": session.LastSeenAt.UnixMilli(),
		"version":      session.Version,
		"record":       string(record),
	}, nil
}

// =============================================================================
// Turn Log
// =============================================================================

// AppendTurn persists one turn under its session. The object ID derives
// from session and index, so retried appends stay idempotent.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn datatypes.Turn) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if sessionID == "" {
		return faults.New(faults.CodeStorage, "weaviate: turn requires a session id")
	}

	record, err := json.Marshal(&turn)
	if err != nil {
		return faults.Wrap(err, faults.CodeStorage, "weaviate: encode turn")
	}
	props := map[string]interface{}{
		"session_id": sessionID,
		"turn_index": turn.TurnIndex,
		"intent":     turn.RecognizedIntent,
		"status":     turn.Status,
		"timestamp":  turn.Timestamp.UnixMilli(),
		"record":     string(record),
	}

	id := objectID("turn", fmt.Sprintf("%s:%016d", sessionID, turn.TurnIndex))
	if err := s.putObject(ctx, turnClassName, id, props); err != nil {
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

	props, err := s.getObjectProps(ctx, intentClassName, objectID("intent", name))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("intent %s: %w", name, storage.ErrNotFound)
	case err != nil:
		return nil, storeFault(err, "load intent")
	}

	return intentFromProps(props)
}

// intentFromProps decodes the definition JSON of one intent object.
func intentFromProps(props map[string]interface{}) (*datatypes.Intent, error) {
	raw, err := recordOf(props, "definition")
	if err != nil {
		return nil, storeFault(err, "load intent")
	}
	var intent datatypes.Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, faults.Wrap(err, faults.CodeStorage, "weaviate: decode intent")
	}
	return &intent, nil
}

// ReloadCatalog loads the full persisted intent set, ordered by name.
// A store that never had a catalog saved yields an empty slice.
func (s *Store) ReloadCatalog(ctx context.Context) ([]datatypes.Intent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	objects, err := s.client.Data().ObjectsGetter().
		WithClassName(intentClassName).
		WithLimit(catalogListLimit).
		Do(ctx)
	if err != nil {
		return nil, storeFault(err, "reload catalog")
	}

	intents := make([]datatypes.Intent, 0, len(objects))
	for _, obj := range objects {
		props, ok := obj.Properties.(map[string]interface{})
		if !ok {
			continue
		}
		intent, err := intentFromProps(props)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *intent)
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i].Name < intents[j].Name })
	return intents, nil
}

// SaveCatalog persists a published catalog, replacing whatever was there:
// intents no longer in the set are deleted so a reload cannot resurrect
// them. Weaviate has no transactions, so a reader racing a save may see a
// partially replaced catalog; the catalog manager validates before
// publishing either way.
func (s *Store) SaveCatalog(ctx context.Context, intents []datatypes.Intent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(intents))
	for i := range intents {
		if intents[i].Name == "" {
			return faults.New(faults.CodeStorage, "weaviate: intent requires a name")
		}
		keep[intents[i].Name] = struct{}{}
	}

	// Delete stale intents first so a racing reload shrinks rather than
	// resurrects.
	existing, err := s.client.Data().ObjectsGetter().
		WithClassName(intentClassName).
		WithLimit(catalogListLimit).
		Do(ctx)
	if err != nil {
		return storeFault(err, "save catalog")
	}
	for _, obj := range existing {
		props, ok := obj.Properties.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := props["name"].(string)
		if _, ok := keep[name]; ok {
			continue
		}
		err := s.client.Data().Deleter().
			WithClassName(intentClassName).
			WithID(string(obj.ID)).
			Do(ctx)
		if err != nil && !isNotFound(err) {
			return storeFault(err, "save catalog")
		}
	}

	for i := range intents {
		definition, err := json.Marshal(&intents[i])
		if err != nil {
			return faults.Wrapf(err, faults.CodeStorage, "weaviate: encode intent %s", intents[i].Name)
		}
		props := map[string]interface{}{
			"name":          intents[i].Name,
			"function_name": intents[i].FunctionName,
			"definition":    string(definition),
		}
		id := objectID("intent", intents[i].Name)
		if err := s.putObject(ctx, intentClassName, id, props); err != nil {
			return storeFault(err, "save catalog")
		}
	}

	s.logger.Info("storage.weaviate: catalog saved",
		slog.Int("intents", len(intents)))
	return nil
}
