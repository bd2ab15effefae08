// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation runs one dialogue turn end to end: acquire the
// session, understand the utterance, resolve the intent, advance the slot
// table, and either ask the next question or dispatch the completed task.
//
// The engine owns turn ordering and state transitions; everything else is
// delegated. Understanding, inheritance, validation, question generation,
// and dispatch each live in their own package, and the engine wires their
// outputs into the session under the exclusive per-session lock held for
// the duration of the turn. A turn that fails is rolled back wholesale by
// the session manager; a turn that succeeds commits its mutations and its
// transcript entry together.
package conversation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianDialog/services/dialog/catalog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
	"github.com/AleutianAI/AleutianDialog/services/dialog/depgraph"
	"github.com/AleutianAI/AleutianDialog/services/dialog/dispatch"
	"github.com/AleutianAI/AleutianDialog/services/dialog/faults"
	"github.com/AleutianAI/AleutianDialog/services/dialog/followup"
	"github.com/AleutianAI/AleutianDialog/services/dialog/inherit"
	"github.com/AleutianAI/AleutianDialog/services/dialog/intent"
	"github.com/AleutianAI/AleutianDialog/services/dialog/nlu"
	"github.com/AleutianAI/AleutianDialog/services/dialog/observability"
	"github.com/AleutianAI/AleutianDialog/services/dialog/question"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/slots"
	"github.com/AleutianAI/AleutianDialog/services/dialog/storage"
)

var tracer = otel.Tracer("aleutian.dialog.conversation")

// =============================================================================
// Extension points
// =============================================================================

// ProfileProvider supplies durable per-user attributes (home city, phone)
// for inheritance rules. Implementations must tolerate unknown users by
// returning a nil map.
type ProfileProvider interface {
	Fetch(ctx context.Context, userID string) (map[string]string, error)
}

// TurnEvent is the analytics record emitted after a committed turn.
type TurnEvent struct {
	SessionID    string
	UserID       string
	Intent       string
	Status       string
	ResponseType string
	TurnIndex    int
	InputRunes   int
	Duration     time.Duration
	Timestamp    time.Time
}

// Recorder receives committed turns for offline analysis. Implementations
// must not block; the engine calls RecordTurn on the request path.
type Recorder interface {
	RecordTurn(ev TurnEvent)
}

// =============================================================================
// Engine
// =============================================================================

// Deps carries the engine's collaborators. Catalog, Classifier, Sessions,
// Dispatcher, Graphs, and Store are required; the rest default to working
// implementations.
type Deps struct {
	Catalog    *catalog.Manager
	Classifier nlu.Classifier
	Sessions   *session.Manager
	Store      storage.Store
	Graphs     *depgraph.Cache
	Dispatcher *dispatch.Dispatcher

	Resolver  *intent.Resolver
	Inherit   *inherit.Engine
	Questions *question.Generator
	Followups *followup.Analyzer

	// Profiles feeds user-profile inheritance; nil disables it.
	Profiles ProfileProvider
	// Recorder receives committed turns; nil disables analytics.
	Recorder Recorder

	SlotConfig slots.Config
	Logger     *slog.Logger
}

// Engine processes chat turns. Safe for concurrent use; per-session
// exclusivity comes from the session manager.
type Engine struct {
	catalog    *catalog.Manager
	classifier nlu.Classifier
	sessions   *session.Manager
	store      storage.Store
	graphs     *depgraph.Cache
	dispatcher *dispatch.Dispatcher
	resolver   *intent.Resolver
	inherit    *inherit.Engine
	questions  *question.Generator
	followups  *followup.Analyzer
	profiles   ProfileProvider
	recorder   Recorder
	slotConfig slots.Config
	logger     *slog.Logger

	now func() time.Time
}

// New wires an Engine from its dependencies. Missing required
// dependencies are a configuration fault.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Catalog == nil:
		return nil, faults.New(faults.CodeConfiguration, "conversation engine needs a catalog manager")
	case deps.Classifier == nil:
		return nil, faults.New(faults.CodeConfiguration, "conversation engine needs an NLU classifier")
	case deps.Sessions == nil:
		return nil, faults.New(faults.CodeConfiguration, "conversation engine needs a session manager")
	case deps.Store == nil:
		return nil, faults.New(faults.CodeConfiguration, "conversation engine needs a store")
	case deps.Graphs == nil:
		return nil, faults.New(faults.CodeConfiguration, "conversation engine needs a dependency graph cache")
	case deps.Dispatcher == nil:
		return nil, faults.New(faults.CodeConfiguration, "conversation engine needs a dispatcher")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		catalog:    deps.Catalog,
		classifier: deps.Classifier,
		sessions:   deps.Sessions,
		store:      deps.Store,
		graphs:     deps.Graphs,
		dispatcher: deps.Dispatcher,
		resolver:   deps.Resolver,
		inherit:    deps.Inherit,
		questions:  deps.Questions,
		followups:  deps.Followups,
		profiles:   deps.Profiles,
		recorder:   deps.Recorder,
		slotConfig: deps.SlotConfig,
		logger:     logger,
		now:        time.Now,
	}
	if e.resolver == nil {
		e.resolver = intent.NewResolver(intent.DefaultConfig(), logger)
	}
	if e.inherit == nil {
		e.inherit = inherit.New(logger)
	}
	if e.questions == nil {
		e.questions = question.New(logger)
	}
	if e.followups == nil {
		e.followups = followup.New(logger)
	}
	return e, nil
}

// turnContext carries one turn's working set through the pipeline stages.
type turnContext struct {
	requestID string
	req       *datatypes.ChatRequest
	locale    string
	snap      *catalog.Snapshot
	und       *understanding
	data      *datatypes.ChatData
	started   time.Time

	// suspendedPrevious is set when this turn parked an in-flight intent
	// to start a new one; replies then lead with a hand-over note.
	suspendedPrevious string
}

// understanding is the parallel read phase's result: the NLU reading, the
// user profile, and the merged request context overlay.
type understanding struct {
	result  *nlu.Result
	profile map[string]string
	overlay *datatypes.UserContext
}

// =============================================================================
// Turn lifecycle
// =============================================================================

// Process runs one turn. The returned ChatData is the committed outcome;
// a non-nil error means the turn was rolled back and the caller should
// build an error envelope from it.
func (e *Engine) Process(ctx context.Context, requestID string, req *datatypes.ChatRequest) (*datatypes.ChatData, error) {
	started := e.now()
	req.EnsureDefaults()
	if fe := req.Validate(); fe != nil {
		e.observeError(fe)
		return nil, fe
	}
	locale := req.Locale()

	ctx, span := tracer.Start(ctx, "conversation.Turn", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("locale", locale),
	))
	defer span.End()

	acquireStart := e.now()
	sess, release, err := e.sessions.Acquire(ctx, req.SessionID, req.UserID)
	e.stage("acquire", acquireStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session acquisition failed")
		e.observeError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))

	data, err := e.runTurn(ctx, requestID, req, sess, locale, started)
	release(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(faults.CodeOf(err)))
		e.observeError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("turn.status", string(data.Status)),
		attribute.Int("turn.index", data.ConversationTurn),
	)
	e.observeTurn(data, started)
	e.logger.Info("conversation.engine: turn committed",
		"request_id", requestID,
		"session_id", data.SessionID,
		"turn", data.ConversationTurn,
		"intent", intentLabel(data),
		"status", string(data.Status),
		"duration_ms", e.now().Sub(started).Milliseconds(),
	)
	if e.recorder != nil {
		e.recorder.RecordTurn(TurnEvent{
			SessionID:    data.SessionID,
			UserID:       req.UserID,
			Intent:       intentLabel(data),
			Status:       string(data.Status),
			ResponseType: string(data.ResponseType),
			TurnIndex:    data.ConversationTurn,
			InputRunes:   len([]rune(req.Input)),
			Duration:     e.now().Sub(started),
			Timestamp:    started,
		})
	}
	return data, nil
}

// runTurn executes the pipeline under the session lock. Any error unwinds
// the whole turn; the session manager restores the pre-turn checkpoint.
func (e *Engine) runTurn(ctx context.Context, requestID string, req *datatypes.ChatRequest, sess *datatypes.Session, locale string, started time.Time) (*datatypes.ChatData, error) {
	snap := e.catalog.Current()
	if snap == nil || snap.Len() == 0 {
		return nil, faults.New(faults.CodeConfiguration, "no intent catalog published")
	}

	sess.TurnCount++
	sess.Locale = locale
	data := &datatypes.ChatData{
		SessionID:        sess.ID,
		ConversationTurn: sess.TurnCount,
		Status:           datatypes.StatusIncomplete,
		ResponseType:     datatypes.ResponseSlotPrompt,
		NextAction:       nextActionProvideSlot,
	}
	data.SetIntent(sess.CurrentIntent)

	und, err := e.understand(ctx, sess, req, snap, locale)
	if err != nil {
		return nil, err
	}
	applyOverlay(sess, und.overlay)

	t := &turnContext{
		requestID: requestID,
		req:       req,
		locale:    locale,
		snap:      snap,
		und:       und,
		data:      data,
		started:   started,
	}
	if err := e.route(ctx, sess, t); err != nil {
		return nil, err
	}

	if data.Slots == nil {
		data.Slots = sess.CollectedSlots.WireSlots()
	}
	e.persistTurn(ctx, sess, t)
	return data, nil
}

// understand runs the read-side of the turn in parallel: classification,
// profile fetch, and the request-context overlay. Only cancellation is
// fatal; a failed classifier degrades to an empty reading and the turn
// proceeds on session state alone.
func (e *Engine) understand(ctx context.Context, sess *datatypes.Session, req *datatypes.ChatRequest, snap *catalog.Snapshot, locale string) (*understanding, error) {
	und := &understanding{result: &nlu.Result{}}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := e.now()
		res, err := e.classifier.Classify(gctx, nlu.Request{
			Utterance:      req.Input,
			Locale:         locale,
			CurrentIntent:  sess.CurrentIntent,
			CatalogVersion: snap.Version(),
			Intents:        snap.Intents(),
		})
		e.stage("nlu", start)
		if err != nil {
			if gctx.Err() != nil {
				return faults.Wrap(err, faults.CodeTimeout, "understanding canceled")
			}
			e.observeError(err)
			e.logger.Warn("conversation.engine: classification failed, continuing without it",
				"session_id", sess.ID,
				"error_code", string(faults.CodeOf(err)),
			)
			return nil
		}
		if res != nil {
			und.result = res
		}
		return nil
	})

	g.Go(func() error {
		if e.profiles == nil || sess.UserID == "" {
			return nil
		}
		profile, err := e.profiles.Fetch(gctx, sess.UserID)
		if err != nil {
			e.logger.Debug("conversation.engine: profile fetch failed",
				"session_id", sess.ID, "error", err)
			return nil
		}
		und.profile = profile
		return nil
	})

	g.Go(func() error {
		overlay, err := e.sessions.Overlay(gctx, sess.UserID, req.Context)
		if err != nil {
			e.logger.Debug("conversation.engine: context overlay failed",
				"session_id", sess.ID, "error", err)
			return nil
		}
		und.overlay = overlay
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return und, nil
}

// applyOverlay folds pacing preferences from the request-context overlay
// into the session. "engagement" and "time_pressure" entries override the
// session defaults for this and later turns, clamped to [0,1].
func applyOverlay(sess *datatypes.Session, overlay *datatypes.UserContext) {
	if overlay == nil {
		return
	}
	if v, ok := overlayMetric(overlay.TempPreferences, "engagement"); ok {
		sess.Engagement = v
	}
	if v, ok := overlayMetric(overlay.TempPreferences, "time_pressure"); ok {
		sess.TimePressure = v
	}
}

func overlayMetric(prefs map[string]any, key string) (float64, bool) {
	v, ok := prefs[key].(float64)
	if !ok {
		return 0, false
	}
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return v, true
}

// =============================================================================
// Routing
// =============================================================================

// route decides what the utterance is: a conversation command, a
// disambiguation pick, or input for intent resolution.
func (e *Engine) route(ctx context.Context, sess *datatypes.Session, t *turnContext) error {
	cmd := commandFor(t.req.Input)

	if sess.CurrentIntent != "" && cmd != cmdNone {
		return e.handleCommand(ctx, sess, t, cmd)
	}
	if sess.CurrentIntent == "" {
		if cmd == cmdResume && len(sess.IntentStack) > 0 {
			return e.resumeFromStack(ctx, sess, t)
		}
		if cmd == cmdCancel && len(sess.PendingCandidates) > 0 {
			sess.PendingCandidates = nil
			e.buildPendingCancelled(t.data)
			return nil
		}
	}

	// A pending disambiguation consumes the reply as a selection first.
	if len(sess.PendingCandidates) > 0 {
		if chosen, ok := e.resolver.ResolveSelection(sess, t.req.Input, t.snap); ok {
			sess.PendingCandidates = nil
			return e.activate(ctx, sess, t, chosen, 1.0)
		}
	}

	resolveStart := e.now()
	decision := e.resolver.Resolve(sess, t.und.result.Candidates, t.snap)
	e.stage("resolve", resolveStart)
	e.logger.Debug("conversation.engine: intent resolved",
		"session_id", sess.ID,
		"kind", string(decision.Kind),
		"reason", decision.Reason,
		"turn", sess.TurnCount,
	)

	switch decision.Kind {
	case intent.Ambiguous:
		sess.PendingCandidates = decision.Candidates
		e.buildDisambiguation(t.data, decision.Candidates)
		return nil

	case intent.NewIntent:
		return e.activate(ctx, sess, t, decision.Intent, decision.Confidence)

	case intent.ContinueIntent:
		t.data.Confidence = decision.Confidence
		return e.advance(ctx, sess, t, false)

	default:
		if sess.CurrentIntent != "" {
			// Mid-intent, an unrecognized utterance is still a reply to
			// the open question.
			return e.advance(ctx, sess, t, false)
		}
		if len(sess.PendingCandidates) > 0 {
			// Still choosing; repeat the listing.
			e.buildDisambiguation(t.data, sess.PendingCandidates)
			return nil
		}
		e.buildUnknown(t.data, t.snap)
		return nil
	}
}

// activate makes def the session's current intent, parking any different
// in-flight intent first, and seeds its slots through inheritance.
func (e *Engine) activate(ctx context.Context, sess *datatypes.Session, t *turnContext, def *datatypes.Intent, confidence float64) error {
	if cur := sess.CurrentIntent; cur != "" && cur != def.Name {
		if prev, _ := t.snap.Intent(cur); prev != nil {
			t.suspendedPrevious = prev.DisplayName
		} else {
			t.suspendedPrevious = cur
		}
		if dropped := sess.SuspendCurrent(e.now()); dropped != nil {
			e.logger.Info("conversation.engine: intent stack full, dropping oldest",
				"session_id", sess.ID, "dropped_intent", dropped.IntentName)
			e.noteDroppedFrame(t, dropped)
		}
	}

	if sess.CurrentIntent != def.Name {
		sess.StartIntent(def.Name)

		inheritStart := e.now()
		audit := e.inherit.Apply(def, sess, t.und.profile)
		e.stage("inherit", inheritStart)
		if m := observability.Default; m != nil {
			for _, src := range audit.Sources {
				m.InheritedSlotsTotal.WithLabelValues(string(src)).Inc()
			}
		}
		if len(audit.Applied) > 0 {
			e.logger.Debug("conversation.engine: inheritance applied",
				"session_id", sess.ID,
				"intent", def.Name,
				"slots", audit.TargetNames(),
			)
		}
	}

	t.data.SetIntent(def.Name)
	t.data.Confidence = confidence
	return e.advance(ctx, sess, t, true)
}

// =============================================================================
// Turn persistence and metrics
// =============================================================================

// persistTurn appends the turn to the durable transcript, then mirrors it
// into the session's history ring. The ring is only updated after the
// store accepts the turn, so replayed history never references turns the
// transcript does not have.
func (e *Engine) persistTurn(ctx context.Context, sess *datatypes.Session, t *turnContext) {
	turn := datatypes.Turn{
		TurnIndex:        t.data.ConversationTurn,
		RequestID:        t.requestID,
		UserText:         t.req.Input,
		RecognizedIntent: intentLabel(t.data),
		Confidence:       t.data.Confidence,
		SlotsSnapshot:    t.data.Slots,
		ReplyText:        t.data.Response,
		ReplyKind:        string(t.data.ResponseType),
		Status:           string(t.data.Status),
		DurationMS:       e.now().Sub(t.started).Milliseconds(),
		Timestamp:        e.now(),
	}

	start := e.now()
	if err := e.store.AppendTurn(ctx, sess.ID, turn); err != nil {
		e.logger.Warn("conversation.engine: transcript append failed",
			"session_id", sess.ID,
			"turn", turn.TurnIndex,
			"error", err,
		)
	} else {
		sess.AppendTurn(turn)
	}
	e.stage("persist", start)
}

func (e *Engine) stage(name string, start time.Time) {
	if m := observability.Default; m != nil {
		m.StageDurationSeconds.WithLabelValues(name).Observe(e.now().Sub(start).Seconds())
	}
}

func (e *Engine) observeTurn(data *datatypes.ChatData, started time.Time) {
	if m := observability.Default; m != nil {
		m.TurnsTotal.WithLabelValues(string(data.Status), intentLabel(data)).Inc()
		m.TurnDurationSeconds.WithLabelValues(string(data.Status)).Observe(e.now().Sub(started).Seconds())
	}
}

func (e *Engine) observeError(err error) {
	if m := observability.Default; m != nil {
		code := faults.CodeOf(err)
		m.ErrorsTotal.WithLabelValues(string(code), string(code.Category())).Inc()
	}
}

func intentLabel(data *datatypes.ChatData) string {
	if data.Intent == nil || *data.Intent == "" {
		return "none"
	}
	return *data.Intent
}
