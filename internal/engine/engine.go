package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"siem-detect/internal/dedup"
	derrors "siem-detect/internal/errors"
	"siem-detect/internal/registry"
	"siem-detect/internal/schema"

	"golang.org/x/sync/errgroup"
)

// AlertHandler is called for every decision that crossed its threshold.
type AlertHandler func(context.Context, *Decision) error

// EngineConfig configures the streaming engine.
type EngineConfig struct {
	QueueSize      int           `yaml:"queue_size"`       // Buffered events awaiting a worker
	AlertQueueSize int           `yaml:"alert_queue_size"` // Buffered alerts awaiting handlers
	WorkerCount    int           `yaml:"worker_count"`     // Number of evaluation workers
	SweepInterval  time.Duration `yaml:"sweep_interval"`   // How often expired dedup windows are dropped
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QueueSize:      10000,
		AlertQueueSize: 1000,
		WorkerCount:    4,
		SweepInterval:  30 * time.Second,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.AlertQueueSize <= 0 {
		c.AlertQueueSize = d.AlertQueueSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

type sweeper interface {
	Sweep(now time.Time) int
}

type sizer interface {
	Len() int
}

// Engine evaluates events against the rules in a registry and feeds matches
// through the dedup tracker. Events can be processed synchronously with
// Process and ProcessBatch, or streamed through ProcessEvent after Start.
type Engine struct {
	config    EngineConfig
	registry  *registry.Registry
	tracker   dedup.Tracker
	evaluator *Evaluator
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.RWMutex
	handlers []AlertHandler

	eventCh  chan *schema.Event
	alertCh  chan *Decision
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Highest event time seen, in unix nanoseconds. Dedup windows are swept
	// against it rather than the wall clock.
	watermark atomic.Int64

	processed atomic.Int64
	alerts    atomic.Int64
	signals   atomic.Int64
	dropped   atomic.Int64
}

// NewEngine creates an engine over reg. A nil tracker is replaced by an
// in-memory tracker.
func NewEngine(config EngineConfig, reg *registry.Registry, tracker dedup.Tracker, opts ...EvaluatorOption) *Engine {
	config = config.withDefaults()
	if tracker == nil {
		tracker = dedup.NewMemoryTracker()
	}
	ev := NewEvaluator(opts...)
	return &Engine{
		config:    config,
		registry:  reg,
		tracker:   tracker,
		evaluator: ev,
		logger:    ev.logger,
		metrics:   ev.metrics,
		eventCh:   make(chan *schema.Event, config.QueueSize),
		alertCh:   make(chan *Decision, config.AlertQueueSize),
		stopCh:    make(chan struct{}),
	}
}

// AddHandler adds an alert handler.
func (e *Engine) AddHandler(handler AlertHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// Process evaluates every applicable rule against event and records matches
// with the tracker. It returns the decisions of rules that evaluated the
// event, with Alerted set on those that crossed their threshold. Alert
// handlers are not called.
//
// A tracker failure for one rule leaves that decision unalerted and does not
// stop the remaining rules; the failures are joined into the returned error.
// Rules with CreateAlert unset are tracked but never alert.
func (e *Engine) Process(ctx context.Context, event *schema.Event) ([]*Decision, error) {
	if event == nil {
		return nil, nil
	}
	e.processed.Add(1)
	e.advanceWatermark(event.Timestamp)

	var (
		decisions []*Decision
		errs      []error
	)
	for _, r := range e.registry.ForLogType(event.LogType) {
		if err := ctx.Err(); err != nil {
			return decisions, errors.Join(append(errs, err)...)
		}

		d := e.evaluator.evaluate(ctx, r, event)
		if d == nil {
			continue
		}
		decisions = append(decisions, d)
		if !d.Matched {
			continue
		}

		obs, err := e.tracker.Observe(ctx,
			dedup.Key{RuleID: r.ID, DedupKey: d.DedupKey},
			dedup.Policy{Threshold: r.Threshold, Window: r.DedupPeriod},
			d.Timestamp)
		if err != nil {
			e.logger.Error("dedup tracking failed",
				"rule_id", r.ID,
				"error", derrors.SafeMessage(err))
			errs = append(errs, fmt.Errorf("rule %q: %w", r.ID, err))
			continue
		}
		d.Count = obs.Count
		if !obs.Alert {
			continue
		}
		if !r.CreateAlert {
			d.Signal = true
			e.signals.Add(1)
			e.metrics.recordSignal(ctx, r.ID)
			continue
		}
		d.Alerted = true
		e.alerts.Add(1)
		e.metrics.recordAlert(ctx, r.ID)
	}
	return decisions, errors.Join(errs...)
}

// ProcessBatch processes events concurrently with up to WorkerCount workers
// and returns the decisions in event order. Processing stops at the first
// tracker error or when ctx is cancelled; tracker state stays consistent
// because each observation is atomic.
func (e *Engine) ProcessBatch(ctx context.Context, events []*schema.Event) ([]*Decision, error) {
	results := make([][]*Decision, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.WorkerCount)
	for i, event := range events {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			decisions, err := e.Process(gctx, event)
			results[i] = decisions
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	var out []*Decision
	for _, ds := range results {
		out = append(out, ds...)
	}
	return out, err
}

// ProcessEvent queues an event for the streaming workers. It reports false
// when the queue is full and the event was dropped.
func (e *Engine) ProcessEvent(event *schema.Event) bool {
	select {
	case e.eventCh <- event:
		return true
	default:
		e.dropped.Add(1)
		e.metrics.recordDrop(context.Background())
		e.logger.Warn("detection event queue full, dropping event")
		return false
	}
}

// Start starts the workers, the alert dispatcher and the tracker sweep.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.config.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}

	e.wg.Add(1)
	go e.alertDispatcher(ctx)

	if _, ok := e.tracker.(sweeper); ok {
		e.wg.Add(1)
		go e.sweepLoop(ctx)
	}

	e.logger.Info("detection engine started",
		"workers", e.config.WorkerCount,
		"rules", e.registry.Len())
}

// Stop stops the engine and waits for its goroutines. Queued events that
// have not been picked up are discarded.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.logger.Info("detection engine stopped")
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case event := <-e.eventCh:
			decisions, err := e.Process(ctx, event)
			if err != nil {
				e.logger.Error("event processing failed",
					"event_id", event.ID,
					"error", derrors.SafeMessage(err))
			}
			for _, d := range decisions {
				if d.Alerted {
					e.enqueueAlert(d)
				}
			}
		}
	}
}

func (e *Engine) enqueueAlert(d *Decision) {
	select {
	case e.alertCh <- d:
	default:
		e.logger.Warn("alert queue full, dropping alert", "rule_id", d.RuleID)
	}
}

func (e *Engine) alertDispatcher(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case d := <-e.alertCh:
			e.dispatch(ctx, d)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, d *Decision) {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, d); err != nil {
			e.logger.Error("alert handler failed",
				"error", derrors.SafeMessage(err),
				"rule_id", d.RuleID)
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep drops dedup windows that have expired relative to the newest event
// time seen. It returns the number of windows dropped.
func (e *Engine) Sweep() int {
	s, ok := e.tracker.(sweeper)
	if !ok {
		return 0
	}
	wm := e.watermark.Load()
	if wm == 0 {
		return 0
	}
	n := s.Sweep(time.Unix(0, wm))
	if n > 0 {
		e.logger.Debug("swept dedup windows", "count", n)
	}
	return n
}

func (e *Engine) advanceWatermark(t time.Time) {
	ts := t.UnixNano()
	for {
		cur := e.watermark.Load()
		if ts <= cur || e.watermark.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Stats returns engine statistics.
func (e *Engine) Stats() map[string]any {
	e.mu.RLock()
	handlers := len(e.handlers)
	e.mu.RUnlock()

	stats := map[string]any{
		"rules_count":    e.registry.Len(),
		"event_queue":    len(e.eventCh),
		"alert_queue":    len(e.alertCh),
		"handler_count":  handlers,
		"events_total":   e.processed.Load(),
		"alerts_total":   e.alerts.Load(),
		"signals_total":  e.signals.Load(),
		"dropped_events": e.dropped.Load(),
	}
	if s, ok := e.tracker.(sizer); ok {
		stats["active_windows"] = s.Len()
	}
	return stats
}
