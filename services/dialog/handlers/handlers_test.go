// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDialog/pkg/extensions"
	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/conversation"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/dispatch"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/middleware"
	"github.com/AleutianAI/AleutianDialog/services/dialog/nlu"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Store Fixture
// =============================================================================

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*datatypes.Session
	catalog  []datatypes.Intent
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*datatypes.Session)}
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*datatypes.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sess.Clone(), nil
}

func (f *fakeStore) PutSession(_ context.Context, sess *datatypes.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess.Clone()
	return nil
}

func (f *fakeStore) AppendTurn(context.Context, string, datatypes.Turn) error { return nil }

func (f *fakeStore) LoadIntent(context.Context, string) (*datatypes.Intent, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ReloadCatalog(context.Context) ([]datatypes.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.catalog, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) stored(id string) *datatypes.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

// =============================================================================
// NLU Fixture
// =============================================================================

// scriptedNLU answers from a fixed utterance table; anything else is an
// empty understanding.
type scriptedNLU struct {
	results map[string]*nlu.Result
}

func (s *scriptedNLU) Classify(_ context.Context, req nlu.Request) (*nlu.Result, error) {
	if r, ok := s.results[req.Utterance]; ok {
		return r, nil
	}
	return &nlu.Result{}, nil
}

func (s *scriptedNLU) Name() string { return "scripted" }

func cand(name string, conf float64) datatypes.IntentCandidate {
	return datatypes.IntentCandidate{IntentName: name, Confidence: conf}
}

func ext(value string, conf float64) nlu.Extraction {
	return nlu.Extraction{Extracted: value, Confidence: conf}
}

// =============================================================================
// Environment
// =============================================================================

// testEnv bundles the collaborators one handler router needs. The engine
// is only wired when a classifier is supplied.
type testEnv struct {
	store    *fakeStore
	sessions *session.Manager
	catalog  *catalog.Manager
	graphs   *depgraph.Cache
	auditor  *extensions.MemoryAuditor
	engine   *conversation.Engine
	logger   *slog.Logger
}

func newTestEnv(t *testing.T, classifier nlu.Classifier) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newFakeStore()
	cache := memory.New(memory.DefaultConfig())
	sessions := session.NewManager(store, cache, session.DefaultConfig(), logger)
	graphs := depgraph.NewCache(depgraph.DefaultCacheSize)

	cat := catalog.NewManager(graphs, logger)
	_, err := cat.Replace(catalog.Default(), "test")
	require.NoError(t, err)

	env := &testEnv{
		store:    store,
		sessions: sessions,
		catalog:  cat,
		graphs:   graphs,
		auditor:  extensions.NewMemoryAuditor(64),
		logger:   logger,
	}

	if classifier != nil {
		disp := dispatch.New(dispatch.DemoRegistry(),
			faults.NewBreaker("backend", faults.DefaultBreakerConfig()), logger)
		env.engine, err = conversation.New(conversation.Deps{
			Catalog:    cat,
			Classifier: classifier,
			Sessions:   sessions,
			Store:      store,
			Graphs:     graphs,
			Dispatcher: disp,
			Logger:     logger,
		})
		require.NoError(t, err)
	}
	return env
}

// chatDeps returns deps with the open-source defaults for every
// extension point and the shared in-memory auditor.
func (e *testEnv) chatDeps() ChatDeps {
	return ChatDeps{
		Engine:     e.engine,
		Filter:     extensions.NopMessageFilter{},
		Classifier: extensions.NopDataClassifier{},
		Auditor:    e.auditor,
		Logger:     e.logger,
	}
}

// =============================================================================
// Router Helpers
// =============================================================================

// authAs injects an authenticated caller the way the auth middleware
// would, without token plumbing.
func authAs(userID string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetAuthInfo(c, &extensions.AuthInfo{UserID: userID, Roles: roles})
		c.Next()
	}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doRaw(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) datatypes.ErrorResponse {
	t.Helper()
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
