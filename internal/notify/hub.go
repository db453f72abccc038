package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maximeroux/leadforge/internal/lead"
	"github.com/maximeroux/leadforge/internal/metrics"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - SubscriberBuffer: per-subscriber channel size (default 8).
//   - MaxBatchEvents: flush sinks once this many events queue (default 64).
//   - MaxBatchWait: flush sinks after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize       int
	SubscriberBuffer int
	MaxBatchEvents   int
	MaxBatchWait     time.Duration
	SinkTimeout      time.Duration
	BaseContext      context.Context
	Logger           *zap.Logger
}

const (
	defaultBufferSize       = 1024
	defaultSubscriberBuffer = 8
	defaultMaxBatchEvents   = 64
	defaultMaxBatchWait     = 500 * time.Millisecond
	defaultSinkTimeout      = 10 * time.Second
	dropLogInterval         = 5 * time.Second
)

// Hub routes session change events to per-session subscribers and to the
// registered sinks. Delivery is best-effort: it is safe for concurrent use
// and never blocks callers, dropping under backpressure instead. Observers
// mask any missed delivery with the Watcher's fallback poll.
type Hub struct {
	cfg         Config
	sinks       []Sink
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	subMu   sync.RWMutex
	subs    map[uuid.UUID]map[uint64]chan lead.Session
	nextSub uint64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background fan-out goroutine with
// the supplied sinks. The returned Hub is immediately ready.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
		subs:        make(map[uuid.UUID]map[uint64]chan lead.Session),
	}
	go h.run()
	return h
}

// SessionChanged enqueues the snapshot for fan-out. It never blocks; if the
// buffer is full the event is dropped and a rate-limited warning is logged.
func (h *Hub) SessionChanged(sess lead.Session) {
	if h == nil || h.closed.Load() {
		return
	}
	evt := Event{Session: sess, At: time.Now().UTC()}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid session event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		metrics.NotifyEventDropped()
		if h.dropLimiter.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("session events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Subscribe registers an observer for one session. The returned cancel
// function must be called to release the subscription.
func (h *Hub) Subscribe(sessionID uuid.UUID) (<-chan lead.Session, func()) {
	ch := make(chan lead.Session, h.cfg.SubscriberBuffer)
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]chan lead.Session)
	}
	h.subs[sessionID][id] = ch
	h.subMu.Unlock()
	metrics.IncActiveWatchers()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subMu.Lock()
			if set, ok := h.subs[sessionID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
			h.subMu.Unlock()
			metrics.DecActiveWatchers()
		})
	}
	return ch, cancel
}

// Close drains remaining events, flushes sinks, and blocks until the
// background goroutine exits. Safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case evt := <-h.events:
			h.deliver(evt)
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
				h.stopTimer(timer, &timerActive)
			} else {
				h.resetTimer(timer, &timerActive)
			}
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			h.drain(batch, timer, &timerActive)
			return
		}
	}
}

// deliver pushes the snapshot to every live subscriber of the session
// without blocking; a full subscriber loses the event and self-heals via
// its fallback poll.
func (h *Hub) deliver(evt Event) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, ch := range h.subs[evt.Session.ID] {
		select {
		case ch <- evt.Session:
		default:
			metrics.NotifyEventDropped()
		}
	}
}

func (h *Hub) drain(batch []Event, timer *time.Timer, timerActive *bool) {
	h.stopTimer(timer, timerActive)
	for {
		select {
		case evt := <-h.events:
			h.deliver(evt)
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.flush(batch)
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) resetTimer(timer *time.Timer, timerActive *bool) {
	if h.cfg.MaxBatchWait <= 0 {
		return
	}
	if *timerActive {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(h.cfg.MaxBatchWait)
	*timerActive = true
}

func (h *Hub) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]Event(nil), batch...)
	baseCtx := h.cfg.BaseContext
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx := baseCtx
		cancel := func() {}
		if h.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(baseCtx, h.cfg.SinkTimeout)
		}
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("notify sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("notify sink close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
