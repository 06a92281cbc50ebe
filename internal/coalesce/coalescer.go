package coalesce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rescuefusion/internal/config"
	"rescuefusion/internal/model"
)

// DispatchFunc processes one coalesced message. Errors are logged per message and
// never stop the rest of the batch.
type DispatchFunc func(ctx context.Context, msg model.WifiMessage) error

// RateSink receives per-sensor rate snapshots after every flush.
type RateSink interface {
	UpdateSensor(rate model.SensorRate, at time.Time)
}

type Options struct {
	FlushInterval time.Duration
	StatsInterval time.Duration
	Workers       int
	RateWindow    time.Duration
}

func OptionsFromConfig(cfg config.CoalescerConfig) Options {
	return Options{
		FlushInterval: cfg.FlushInterval,
		StatsInterval: cfg.StatsInterval,
		Workers:       cfg.Workers,
		RateWindow:    cfg.RateWindow,
	}
}

// Coalescer keeps only the latest unflushed message per sensor. Producers call
// Submit from any goroutine; a single ticker goroutine swaps the pending map out
// and dispatches the captured messages.
type Coalescer struct {
	dispatch DispatchFunc
	opts     Options
	logger   *slog.Logger
	rates    *RateTracker
	sink     RateSink
	now      func() time.Time

	mu      sync.Mutex
	pending map[int64]model.WifiMessage

	flushing   atomic.Bool
	accepted   atomic.Int64
	discarded  atomic.Int64
	dispatched atomic.Int64
	failed     atomic.Int64
	flushes    atomic.Int64
	skipped    atomic.Int64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(dispatch DispatchFunc, opts Options, logger *slog.Logger, sink RateSink) *Coalescer {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 100 * time.Millisecond
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 10 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Coalescer{
		dispatch: dispatch,
		opts:     opts,
		logger:   logger,
		rates:    NewRateTracker(opts.RateWindow),
		sink:     sink,
		now:      time.Now,
		pending:  make(map[int64]model.WifiMessage),
	}
}

// Submit buffers msg, replacing any unflushed message from the same sensor.
func (c *Coalescer) Submit(msg model.WifiMessage) error {
	if msg.SensorID <= 0 {
		return model.Validationf("wifi message without sensor id")
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = c.now()
	}
	c.mu.Lock()
	_, replaced := c.pending[msg.SensorID]
	c.pending[msg.SensorID] = msg
	c.mu.Unlock()

	c.accepted.Add(1)
	if replaced {
		c.discarded.Add(1)
	}
	c.rates.Record(msg.SensorID, msg.ReceivedAt, replaced)
	return nil
}

// Flush dispatches everything buffered so far and returns the batch size. A call
// that overlaps a running flush returns 0 without doing anything.
func (c *Coalescer) Flush(ctx context.Context) int {
	if !c.flushing.CompareAndSwap(false, true) {
		c.skipped.Add(1)
		return 0
	}
	defer c.flushing.Store(false)

	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[int64]model.WifiMessage, len(batch))
	c.mu.Unlock()
	if len(batch) == 0 {
		return 0
	}
	c.flushes.Add(1)

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for _, msg := range batch {
		msg := msg
		g.Go(func() error {
			c.dispatchOne(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	c.publishRates(batch)
	return len(batch)
}

func (c *Coalescer) dispatchOne(ctx context.Context, msg model.WifiMessage) {
	c.dispatched.Add(1)
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			if c.logger != nil {
				c.logger.Error("wifi dispatch panicked", "sensor_id", msg.SensorID, "panic", fmt.Sprint(r))
			}
		}
	}()
	if c.dispatch == nil {
		return
	}
	if err := c.dispatch(ctx, msg); err != nil {
		c.failed.Add(1)
		if c.logger != nil {
			c.logger.Warn("wifi dispatch failed", "sensor_id", msg.SensorID, "survivor_detected", msg.SurvivorDetected, "error", err)
		}
	}
}

func (c *Coalescer) publishRates(batch map[int64]model.WifiMessage) {
	if c.sink == nil {
		return
	}
	now := c.now()
	for id := range batch {
		if rate, ok := c.rates.Snapshot(id, now); ok {
			c.sink.UpdateSensor(rate, now)
		}
	}
}

// Run flushes on every tick until ctx is done or Stop is called, then performs a
// final flush.
func (c *Coalescer) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.runMu.Unlock()

	defer func() {
		close(doneCh)
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
	}()

	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()
	stats := time.NewTicker(c.opts.StatsInterval)
	defer stats.Stop()

	var lastDiscarded int64
	for {
		select {
		case <-ctx.Done():
			c.Flush(context.WithoutCancel(ctx))
			return nil
		case <-stopCh:
			c.Flush(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			c.Flush(ctx)
		case <-stats.C:
			total := c.discarded.Load()
			if delta := total - lastDiscarded; delta > 0 && c.logger != nil {
				c.logger.Info("coalesced stale wifi messages", "discarded", delta, "interval", c.opts.StatsInterval.String(), "total", total)
			}
			lastDiscarded = total
		}
	}
}

// Stop ends Run and waits for the final flush. Safe to call more than once.
func (c *Coalescer) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	doneCh := c.doneCh
	c.runMu.Unlock()
	<-doneCh
}

func (c *Coalescer) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

func (c *Coalescer) Stats() model.CoalescerStats {
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()
	return model.CoalescerStats{
		Pending:    pending,
		Accepted:   c.accepted.Load(),
		Discarded:  c.discarded.Load(),
		Dispatched: c.dispatched.Load(),
		Failed:     c.failed.Load(),
		Flushes:    c.flushes.Load(),
		Skipped:    c.skipped.Load(),
	}
}
