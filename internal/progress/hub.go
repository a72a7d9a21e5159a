package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the event queue (default 4096).
//   - MaxBatchEvents: deliver once this many lookup events are pending (default 1000).
//   - MaxBatchWait: deliver a partial batch this long after its first event (default 500ms).
//   - SinkTimeout: per-sink deadline for one delivery (default 10s).
//   - SettleTimeout: how long Emit of a run end waits for delivery (default 30s).
//   - BaseContext: parent context for sink calls (default context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	SettleTimeout  time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	defaultSettleTimeout  = 30 * time.Second
	dropLogInterval       = 5 * time.Second
)

// queued wraps an event on its way to the sinks. settled is non-nil for run
// end events and is closed once the batch holding the event was delivered.
type queued struct {
	evt     Event
	settled chan struct{}
}

// Hub collects the events of annotation runs and delivers them to sinks in
// batches. Lookup events never block the worker that emits them and are
// dropped under backpressure. Run start events queue the same way. A run end
// event is a barrier: Emit returns only after every sink has seen it and all
// lookups queued before it, so the bar and the run ledger are final when the
// run returns.
type Hub struct {
	cfg     Config
	sinks   []Sink
	queue   chan queued
	stop    chan struct{}
	stopped chan struct{}
	logger  *zap.Logger

	dropped     atomic.Int64
	lastDropLog atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks. It accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
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
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		queue:   make(chan queued, cfg.BufferSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Run end events block until delivered; all
// other stages return at once and are dropped when the queue is full.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if evt.Stage.Final() {
		h.settle(evt)
		return
	}
	select {
	case h.queue <- queued{evt: evt}:
	default:
		h.noteDrop(evt)
	}
}

func (h *Hub) settle(evt Event) {
	item := queued{evt: evt, settled: make(chan struct{})}
	deadline := time.NewTimer(h.cfg.SettleTimeout)
	defer deadline.Stop()

	select {
	case h.queue <- item:
	case <-h.stop:
		return
	case <-deadline.C:
		h.logger.Warn("progress hub queue stayed full for run end",
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		)
		return
	}
	select {
	case <-item.settled:
	case <-h.stopped:
	case <-deadline.C:
		h.logger.Warn("progress sinks did not settle run end in time",
			zap.String("run_id", evt.RunUUID().String()),
			zap.Duration("timeout", h.cfg.SettleTimeout),
		)
	}
}

func (h *Hub) noteDrop(evt Event) {
	h.dropped.Add(1)
	now := time.Now().UnixNano()
	last := h.lastDropLog.Load()
	if now-last < dropLogInterval.Nanoseconds() || !h.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", h.dropped.Swap(0)),
		zap.String("run_id", evt.RunUUID().String()),
	)
}

// Close delivers everything still queued, closes the sinks and waits for the
// delivery goroutine to exit. Calls after the first only wait.
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
		close(h.stop)
	})
	select {
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.stopped)
	var (
		pending []queued
		due     <-chan time.Time
	)
	for {
		select {
		case item := <-h.queue:
			pending = append(pending, item)
			switch {
			case item.settled != nil, len(pending) >= h.cfg.MaxBatchEvents:
				pending = h.deliver(pending)
				due = nil
			case due == nil:
				due = time.After(h.cfg.MaxBatchWait)
			}
		case <-due:
			pending = h.deliver(pending)
			due = nil
		case <-h.stop:
			h.drain(pending)
			return
		}
	}
}

func (h *Hub) drain(pending []queued) {
	for {
		select {
		case item := <-h.queue:
			pending = append(pending, item)
		default:
			h.deliver(pending)
			h.closeSinks()
			return
		}
	}
}

// deliver hands pending to every sink, releases any run end waiting on it and
// returns pending emptied for reuse.
func (h *Hub) deliver(pending []queued) []queued {
	if len(pending) == 0 {
		return pending
	}
	batch := make([]Event, len(pending))
	for i, item := range pending {
		batch[i] = item.evt
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err), zap.Int("events", len(batch)))
		}
		cancel()
	}
	for _, item := range pending {
		if item.settled != nil {
			close(item.settled)
		}
	}
	return pending[:0]
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
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
