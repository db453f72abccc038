package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/ingest"
	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/metrics"
)

// Failure reasons written by the engine.
const (
	reasonWorkerFailed  = "worker reported failure"
	reasonUserCanceled  = "stopped by user"
	reasonZombieCleanup = "stale session cleanup"
)

// Notifier receives every applied session mutation for fan-out.
type Notifier interface {
	SessionChanged(sess lead.Session)
}

// Dispatcher posts the launch request to the external scraping worker.
type Dispatcher interface {
	Launch(ctx context.Context, sess lead.Session) error
}

// Outcome reports how a callback was processed.
type Outcome struct {
	Session lead.Session
	// Applied is false for stale or duplicate callbacks, which are
	// acknowledged but change nothing.
	Applied      bool
	ResultsCount int
	EmailsFound  int
	Inserted     int
	// IngestErr surfaces a partial failure: the status transition was
	// applied but the lead batch was not (fully) persisted.
	IngestErr error
}

// Engine is the session state machine. It is stateless and re-entrant; all
// state lives in the stores, and idempotent ingestion substitutes for
// locking under at-least-once, possibly-reordered delivery.
type Engine struct {
	sessions   lead.SessionStore
	ingestor   *ingest.Ingestor
	profiles   lead.ProfileStore
	blobs      lead.BlobStore
	dispatcher Dispatcher
	notifier   Notifier
	clock      lead.Clock
	ids        lead.IDGenerator
	logger     *zap.Logger
}

// Config carries the engine's collaborators. Profiles, blobs, dispatcher,
// and notifier are optional; the engine degrades gracefully without them.
type Config struct {
	Sessions   lead.SessionStore
	Ingestor   *ingest.Ingestor
	Profiles   lead.ProfileStore
	Blobs      lead.BlobStore
	Dispatcher Dispatcher
	Notifier   Notifier
	Clock      lead.Clock
	IDs        lead.IDGenerator
	Logger     *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sessions:   cfg.Sessions,
		ingestor:   cfg.Ingestor,
		profiles:   cfg.Profiles,
		blobs:      cfg.Blobs,
		dispatcher: cfg.Dispatcher,
		notifier:   cfg.Notifier,
		clock:      cfg.Clock,
		ids:        cfg.IDs,
		logger:     logger,
	}
}

// Launch creates a session in pending status and hands it to the worker. A
// dispatch failure immediately fails the session so it never lingers as a
// zombie.
func (e *Engine) Launch(ctx context.Context, userID uuid.UUID, params lead.SearchParams) (lead.Session, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return lead.Session{}, fmt.Errorf("generate session id: %w", err)
	}
	now := e.clock.Now()
	sess := lead.Session{
		ID:        id,
		UserID:    userID,
		Params:    params,
		Status:    lead.StatusPending,
		StartedAt: &now,
		CreatedAt: now,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return lead.Session{}, fmt.Errorf("create session: %w", err)
	}
	if e.dispatcher != nil {
		if err := e.dispatcher.Launch(ctx, sess); err != nil {
			reason := fmt.Sprintf("worker dispatch failed: %v", err)
			failed, _ := e.fail(ctx, sess.ID, reason)
			e.emit(failed)
			return failed, fmt.Errorf("dispatch session %s: %w", sess.ID, err)
		}
	}
	metrics.SessionLaunched()
	e.emit(sess)
	return sess, nil
}

// HandleCallback applies one worker callback. Transitions are ordered by
// lifecycle rank, not arrival time: a callback is applied only while the
// session is not terminal, so stale deliveries degrade to acknowledged
// no-ops and terminal counters stay frozen.
func (e *Engine) HandleCallback(ctx context.Context, payload CallbackPayload) (Outcome, error) {
	sessionID, err := uuid.Parse(payload.SessionID)
	if payload.SessionID == "" || err != nil {
		return Outcome{}, ErrBadPayload
	}

	items, itemsErr := payload.Items()
	counters := ingest.Count(items, payload.Count)
	target := payload.TargetStatus()
	now := e.clock.Now()

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	patch := e.buildPatch(target, counters, payload, now)
	if len(items) > 0 {
		if uri := e.archiveSnapshot(ctx, sessionID, payload, now); uri != "" {
			patch.SnapshotURI = &uri
		}
	}

	updated, applied, err := e.sessions.Apply(ctx, sessionID, patch, transitionSources())
	if err != nil {
		return Outcome{}, fmt.Errorf("apply transition: %w", err)
	}
	metrics.CallbackProcessed(string(target), applied)

	out := Outcome{
		Session:      updated,
		Applied:      applied,
		ResultsCount: counters.Count,
		EmailsFound:  counters.EmailsFound,
		IngestErr:    itemsErr,
	}
	if !applied {
		e.logger.Info("stale callback ignored",
			zap.String("session_id", sessionID.String()),
			zap.String("current_status", string(sess.Status)),
			zap.String("target_status", string(target)),
		)
		return out, nil
	}

	if itemsErr != nil {
		e.logger.Error("scraped batch unreadable; session updated without leads",
			zap.String("session_id", sessionID.String()),
			zap.Error(itemsErr),
		)
		metrics.IngestFailed()
	} else if len(items) > 0 {
		merged, mergeErr := e.ingestor.Merge(ctx, sessionID, updated.UserID, items)
		if mergeErr != nil {
			// The transition already stands; this is the recoverable
			// inconsistency the fallback poll lets clients detect.
			e.logger.Error("lead ingestion failed after status transition",
				zap.String("session_id", sessionID.String()),
				zap.String("status", string(updated.Status)),
				zap.Error(mergeErr),
			)
			metrics.IngestFailed()
			out.IngestErr = mergeErr
		} else {
			out.Inserted = merged.Inserted
			metrics.LeadsIngested(merged.Inserted, merged.Skipped)
		}
	}

	if target == lead.StatusCompleted && e.profiles != nil {
		if err := e.profiles.BumpScrapingStats(ctx, updated.UserID, counters.Count, now); err != nil {
			e.logger.Warn("profile aggregate update failed",
				zap.String("user_id", updated.UserID.String()),
				zap.Error(err),
			)
		}
	}

	e.emit(updated)
	return out, nil
}

// Cancel is the user-initiated transition to failed. Completion wins over a
// concurrent cancellation: the guard matches nothing once the session is
// terminal. It also force-fails any other in_progress session of the same
// owner so a reload that lost its session id cannot leave zombies behind.
func (e *Engine) Cancel(ctx context.Context, sessionID uuid.UUID) (lead.Session, bool, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return lead.Session{}, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	updated, applied, err := e.applyFailure(ctx, sessionID, reasonUserCanceled)
	if err != nil {
		return lead.Session{}, false, err
	}
	if applied {
		metrics.SessionCanceled()
		e.emit(updated)
	}

	swept, err := e.sessions.FailAllInProgress(ctx, sess.UserID, reasonZombieCleanup, e.clock.Now())
	if err != nil {
		e.logger.Warn("zombie session sweep failed",
			zap.String("user_id", sess.UserID.String()),
			zap.Error(err),
		)
	} else if swept > 0 {
		e.logger.Info("force-failed stale sessions",
			zap.String("user_id", sess.UserID.String()),
			zap.Int64("count", swept),
		)
	}
	return updated, applied, nil
}

// Delete removes a session and, by cascade, its leads.
func (e *Engine) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Get loads one session.
func (e *Engine) Get(ctx context.Context, sessionID uuid.UUID) (lead.Session, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return lead.Session{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ListByUser returns the user's sessions, newest first.
func (e *Engine) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]lead.Session, error) {
	sessions, err := e.sessions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions for user %s: %w", userID, err)
	}
	return sessions, nil
}

func (e *Engine) buildPatch(
	target lead.SessionStatus,
	counters ingest.Counters,
	payload CallbackPayload,
	now time.Time,
) lead.SessionPatch {
	patch := lead.SessionPatch{
		Status:    &target,
		StartedAt: &now,
	}
	if counters.Count > 0 {
		patch.ActualResults = &counters.Count
		patch.EmailsFound = &counters.EmailsFound
	}
	if payload.SheetURL != "" {
		patch.SheetURL = &payload.SheetURL
	}
	if payload.SheetName != "" {
		patch.SheetName = &payload.SheetName
	}
	switch target {
	case lead.StatusCompleted:
		full := 100
		patch.ProgressPercentage = &full
		patch.CompletedAt = &now
	case lead.StatusFailed:
		reason := reasonWorkerFailed
		patch.ErrorMessage = &reason
		patch.CompletedAt = &now
	}
	return patch
}

func (e *Engine) fail(ctx context.Context, sessionID uuid.UUID, reason string) (lead.Session, bool) {
	sess, applied, err := e.applyFailure(ctx, sessionID, reason)
	if err != nil {
		e.logger.Error("mark session failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return sess, false
	}
	return sess, applied
}

func (e *Engine) applyFailure(ctx context.Context, sessionID uuid.UUID, reason string) (lead.Session, bool, error) {
	failed := lead.StatusFailed
	now := e.clock.Now()
	patch := lead.SessionPatch{
		Status:       &failed,
		ErrorMessage: &reason,
		CompletedAt:  &now,
	}
	sess, applied, err := e.sessions.Apply(ctx, sessionID, patch, transitionSources())
	if err != nil {
		return lead.Session{}, false, fmt.Errorf("apply failure: %w", err)
	}
	return sess, applied, nil
}

func (e *Engine) archiveSnapshot(ctx context.Context, sessionID uuid.UUID, payload CallbackPayload, now time.Time) string {
	if e.blobs == nil || len(payload.ScrapedJSON) == 0 {
		return ""
	}
	path := fmt.Sprintf("sessions/%s/callbacks/%d.json", sessionID, now.UnixNano())
	uri, err := e.blobs.PutObject(ctx, path, "application/json", []byte(payload.ScrapedJSON))
	if err != nil {
		e.logger.Warn("snapshot archive failed",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (e *Engine) emit(sess lead.Session) {
	if e.notifier != nil {
		e.notifier.SessionChanged(sess)
	}
}

// transitionSources lists the statuses a callback may transition away from.
// Terminal statuses are excluded, which is the whole rank guard: every
// reachable target outranks or equals both non-terminal states.
func transitionSources() []lead.SessionStatus {
	return []lead.SessionStatus{lead.StatusPending, lead.StatusInProgress}
}
