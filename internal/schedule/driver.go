package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/streamgraph/corepipeline/pkg/logging"
)

// DefaultTickInterval is the evaluation loop's default polling period.
const DefaultTickInterval = 60 * time.Second

// TickFunc is invoked once per evaluation tick with the rule ids due at
// that moment. It runs on the driver's own goroutine; callers that need
// to touch shared state elsewhere must synchronize themselves.
type TickFunc func(ctx context.Context, due []string)

// Driver runs the scheduler's single evaluation loop: on each tick it
// computes due_rules and hands them to the configured TickFunc. All
// scheduler mutation (sync, record_trigger) is expected to happen inside
// or just before this loop runs, so state changes are confined to the
// tick boundary.
type Driver struct {
	scheduler *Scheduler
	interval  time.Duration
	onTick    TickFunc
	log       *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDriver builds a driver around an existing scheduler. A zero interval
// uses DefaultTickInterval.
func NewDriver(scheduler *Scheduler, interval time.Duration, onTick TickFunc, log *logging.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if log == nil {
		log = logging.NewDefault("rule-scheduler")
	}
	return &Driver{scheduler: scheduler, interval: interval, onTick: onTick, log: log}
}

// Start begins the background polling loop. Calling Start twice is a
// no-op until Stop is called.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("rule scheduler started")
}

// Stop halts the polling loop and waits for the in-flight tick, if any,
// to finish.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("rule scheduler stopped")
	return nil
}

func (d *Driver) tick(ctx context.Context) {
	now := time.Now()
	due := d.scheduler.DueRules(now)
	if len(due) == 0 || d.onTick == nil {
		return
	}
	d.onTick(ctx, due)
}
