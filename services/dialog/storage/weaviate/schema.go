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
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Class names. Prefixed so the store can share a Weaviate instance with
// other tenants without colliding.
const (
	sessionClassName = "DialogSession"
	turnClassName    = "DialogTurn"
	intentClassName  = "DialogIntent"
)

// sessionClass describes the authoritative session record. The full state
// lives in the record property as JSON; the rest are denormalized
// dimensions so operators can filter sessions without decoding records.
func sessionClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       sessionClassName,
		Description: "Authoritative dialog session state.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for the dialog session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Owner of the session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "state",
				DataType:        []string{"text"},
				Description:     "Session lifecycle state (active, collecting, closed, ...).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "last_seen_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds of the last turn. Used to find stale sessions.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "version",
				DataType:        []string{"int"},
				Description:     "Session record version, incremented on every flush.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "record",
				DataType:    []string{"text"},
				Description: "Full session state as JSON.",
			},
		},
	}
}

// turnClass describes one turn of the append-only turn log.
func turnClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       turnClassName,
		Description: "One turn of a dialog session, append-only.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The session this turn belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "turn_index",
				DataType:        []string{"int"},
				Description:     "Position of the turn within its session.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "intent",
				DataType:        []string{"text"},
				Description:     "Intent recognized on this turn, if any.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "status",
				DataType:        []string{"text"},
				Description:     "Turn outcome status.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds of the turn.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "record",
				DataType:    []string{"text"},
				Description: "Full turn as JSON.",
			},
		},
	}
}

// intentClass describes a persisted catalog intent.
func intentClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       intentClassName,
		Description: "A published catalog intent definition.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "name",
				DataType:        []string{"text"},
				Description:     "Intent name, unique within the catalog.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "function_name",
				DataType:        []string{"text"},
				Description:     "Backend function the intent dispatches to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "definition",
				DataType:    []string{"text"},
				Description: "Full intent definition as JSON.",
			},
		},
	}
}

// ensureSchema creates any missing classes. Existing classes are left
// untouched; property drift is an operator concern, not a startup one.
func ensureSchema(ctx context.Context, client *weaviate.Client, logger *slog.Logger) error {
	classes := []*models.Class{sessionClass(), turnClass(), intentClass()}

	for _, class := range classes {
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			logger.Debug("storage.weaviate: class exists", slog.String("class", class.Class))
			continue
		}
		// The client errors on absent classes; create it.
		logger.Info("storage.weaviate: creating class", slog.String("class", class.Class))
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create class %s: %w", class.Class, err)
		}
	}
	return nil
}
