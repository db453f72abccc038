package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/estimate"
	"github.com/maximeroux/leadforge/internal/lead"
)

// Update is one observer-facing view of a session, combining the persisted
// snapshot with the derived display progress.
type Update struct {
	Session           lead.Session  `json:"session"`
	DisplayPercentage int           `json:"display_percentage"`
	Step              estimate.Step `json:"current_step"`
	RemainingSeconds  int           `json:"remaining_seconds"`
	RemainingLabel    string        `json:"remaining_label"`
}

// Terminal reports whether this update ends the stream.
func (u Update) Terminal() bool {
	return u.Session.Status.Terminal()
}

// WatcherConfig tunes the observable-session stream.
type WatcherConfig struct {
	// PollInterval is the fallback re-fetch cadence masking missed push
	// deliveries (default 3s).
	PollInterval time.Duration
	// TickInterval drives time-based progress advances between store
	// changes (default 1s).
	TickInterval time.Duration
	Clock        lead.Clock
	Logger       *zap.Logger
}

// Watcher is the observable-session abstraction: one push subscription plus
// a fixed-interval fallback poll, behind a single stream. Callers cannot
// tell which path delivered an update, and every independent watcher
// converges to the same terminal state.
type Watcher struct {
	sessions lead.SessionStore
	hub      *Hub
	cfg      WatcherConfig
	logger   *zap.Logger
}

// NewWatcher wires the session store and hub.
func NewWatcher(sessions lead.SessionStore, hub *Hub, cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{sessions: sessions, hub: hub, cfg: cfg, logger: logger}
}

// Snapshot is the explicit refresh path: one store read rendered as an
// observer update.
func (w *Watcher) Snapshot(ctx context.Context, sessionID uuid.UUID) (Update, error) {
	sess, err := w.sessions.Get(ctx, sessionID)
	if err != nil {
		return Update{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return w.render(sess, -1), nil
}

// Watch streams updates for one session until ctx ends or a terminal state
// has been delivered, then closes the channel. Each call is an independent
// observation stream whose display percentage never regresses.
func (w *Watcher) Watch(ctx context.Context, sessionID uuid.UUID) (<-chan Update, error) {
	sess, err := w.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	push, cancelPush := w.hub.Subscribe(sessionID)
	out := make(chan Update, 1)
	go w.loop(ctx, sessionID, sess, push, cancelPush, out)
	return out, nil
}

func (w *Watcher) loop(
	ctx context.Context,
	sessionID uuid.UUID,
	sess lead.Session,
	push <-chan lead.Session,
	cancelPush func(),
	out chan<- Update,
) {
	defer close(out)
	defer cancelPush()

	lastPct := -1
	send := func(snapshot lead.Session) bool {
		sess = snapshot
		u := w.render(snapshot, lastPct)
		lastPct = u.DisplayPercentage
		select {
		case out <- u:
		case <-ctx.Done():
			return true
		}
		return u.Terminal()
	}

	if send(sess) {
		return
	}

	tick := time.NewTicker(w.cfg.TickInterval)
	defer tick.Stop()
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-push:
			if !ok {
				return
			}
			if send(snapshot) {
				return
			}
		case <-poll.C:
			snapshot, err := w.sessions.Get(ctx, sessionID)
			if err != nil {
				// Transient store errors are masked by the next poll.
				w.logger.Warn("fallback poll failed",
					zap.String("session_id", sessionID.String()),
					zap.Error(err),
				)
				continue
			}
			if send(snapshot) {
				return
			}
		case <-tick.C:
			// No store change, but wall-clock time moved the estimate.
			if send(sess) {
				return
			}
		}
	}
}

// render derives the display fields. The floor keeps a single observation
// stream monotonic even if the store briefly serves a stale row.
func (w *Watcher) render(sess lead.Session, floor int) Update {
	now := w.now()
	pct := estimate.Display(sess.Status, sess.ProgressPercentage, sess.StartedAt, sess.Params.LimitResults, now)
	if pct < floor {
		pct = floor
	}
	remaining := time.Duration(0)
	if !sess.Status.Terminal() {
		remaining = estimate.Remaining(sess.StartedAt, sess.Params.LimitResults, now)
	}
	return Update{
		Session:           sess,
		DisplayPercentage: pct,
		Step:              estimate.StepFor(pct),
		RemainingSeconds:  int(remaining.Seconds()),
		RemainingLabel:    estimate.FormatRemaining(remaining),
	}
}

func (w *Watcher) now() time.Time {
	if w.cfg.Clock != nil {
		return w.cfg.Clock.Now()
	}
	return time.Now().UTC()
}
