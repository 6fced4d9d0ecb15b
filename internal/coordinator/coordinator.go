package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the polling interval used when Config.Interval is zero.
const DefaultInterval = 10 * time.Second

// UpdateFunc fetches a new snapshot. full requests a complete refresh.
type UpdateFunc[T any] func(ctx context.Context, full bool) (T, error)

// Logger defines the logging interface for the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds coordinator settings.
type Config[T any] struct {
	// Name identifies the coordinator in logs.
	Name string

	// Interval between scheduled fetches (default 10s).
	Interval time.Duration

	// Update is the data source. Required.
	Update UpdateFunc[T]

	// Logger receives outage and recovery messages. Optional.
	Logger Logger
}

// Stats is a point-in-time view of the coordinator counters.
type Stats struct {
	SuccessfulPolls     uint64    `json:"successful_polls"`
	FailedPolls         uint64    `json:"failed_polls"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	LastUpdateSuccess   bool      `json:"last_update_success"`
	LastUpdateTime      time.Time `json:"last_update_time,omitempty"`
	LastSuccessTime     time.Time `json:"last_success_time,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

type snapshot[T any] struct {
	value T
}

// Coordinator periodically fetches data and notifies listeners.
type Coordinator[T any] struct {
	name     string
	interval time.Duration
	update   UpdateFunc[T]
	logger   Logger

	// fetchMu serialises fetches.
	fetchMu sync.Mutex

	data        atomic.Pointer[snapshot[T]]
	lastSuccess atomic.Bool

	mu                  sync.RWMutex
	lastUpdate          time.Time
	lastSuccessAt       time.Time
	lastErr             error
	successfulPolls     uint64
	failedPolls         uint64
	consecutiveFailures uint64

	listenerMu sync.Mutex
	listeners  map[uint64]func()
	nextID     uint64
}

// New creates a coordinator. No fetch happens until Run or Refresh.
//
// Parameters:
//   - cfg: coordinator settings; Update is required
//
// Returns:
//   - *Coordinator[T]: ready to run
//   - error: ErrNoUpdateFunc if cfg.Update is nil
func New[T any](cfg Config[T]) (*Coordinator[T], error) {
	if cfg.Update == nil {
		return nil, ErrNoUpdateFunc
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Coordinator[T]{
		name:      cfg.Name,
		interval:  cfg.Interval,
		update:    cfg.Update,
		logger:    cfg.Logger,
		listeners: make(map[uint64]func()),
	}, nil
}

// Name returns the coordinator name.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// Interval returns the polling interval.
func (c *Coordinator[T]) Interval() time.Duration {
	return c.interval
}

// Run fetches immediately and then on every interval until ctx is cancelled.
// Fetch errors are recorded, not returned; the next tick retries.
func (c *Coordinator[T]) Run(ctx context.Context) {
	c.Refresh(ctx) //nolint:errcheck // recorded in state, retried next tick

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx) //nolint:errcheck // recorded in state, retried next tick
		}
	}
}

// Refresh performs one fetch now and then notifies listeners.
// Concurrent calls are serialised. Listeners run after the fetch lock is
// released, so a listener may call Refresh itself.
//
// Returns:
//   - error: the data source error wrapped with ErrUpdateFailed, or nil
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	err := c.fetch(ctx)
	c.notify()
	return err
}

func (c *Coordinator[T]) fetch(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	full := !c.lastSuccess.Load() || c.data.Load() == nil

	value, err := c.update(ctx, full)
	now := time.Now()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUpdateFailed, err)
		c.recordFailure(now, err)
		return err
	}

	c.data.Store(&snapshot[T]{value: value})
	c.recordSuccess(now)
	return nil
}

func (c *Coordinator[T]) recordFailure(now time.Time, err error) {
	c.mu.Lock()
	c.lastUpdate = now
	c.lastErr = err
	c.failedPolls++
	c.consecutiveFailures++
	consecutive := c.consecutiveFailures
	c.mu.Unlock()

	c.lastSuccess.Store(false)

	if consecutive == 1 {
		c.logger.Warn("update failed", "coordinator", c.name, "error", err)
	} else {
		c.logger.Debug("update still failing",
			"coordinator", c.name,
			"consecutive_failures", consecutive,
			"error", err,
		)
	}
}

func (c *Coordinator[T]) recordSuccess(now time.Time) {
	c.mu.Lock()
	c.lastUpdate = now
	c.lastSuccessAt = now
	c.lastErr = nil
	c.successfulPolls++
	failures := c.consecutiveFailures
	c.consecutiveFailures = 0
	c.mu.Unlock()

	c.lastSuccess.Store(true)

	if failures > 0 {
		c.logger.Info("update recovered", "coordinator", c.name, "failed_polls", failures)
	}
}

// notify calls every listener outside the listener lock.
func (c *Coordinator[T]) notify() {
	c.listenerMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		c.safeCall(fn)
	}
}

func (c *Coordinator[T]) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", "coordinator", c.name, "panic", r)
		}
	}()
	fn()
}

// AddListener registers fn to be called after every fetch attempt.
// The returned function removes the listener; calling it twice is harmless.
func (c *Coordinator[T]) AddListener(fn func()) (remove func()) {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

// Data returns the latest successful snapshot.
// ok is false until the first successful fetch.
func (c *Coordinator[T]) Data() (value T, ok bool) {
	s := c.data.Load()
	if s == nil {
		return value, false
	}
	return s.value, true
}

// LastUpdateSuccess reports whether the most recent fetch succeeded.
func (c *Coordinator[T]) LastUpdateSuccess() bool {
	return c.lastSuccess.Load()
}

// LastUpdateTime returns when the most recent fetch finished.
func (c *Coordinator[T]) LastUpdateTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// LastError returns the error of the most recent fetch, or nil.
func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Stats returns the poll counters.
func (c *Coordinator[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		SuccessfulPolls:     c.successfulPolls,
		FailedPolls:         c.failedPolls,
		ConsecutiveFailures: c.consecutiveFailures,
		LastUpdateSuccess:   c.lastSuccess.Load(),
		LastUpdateTime:      c.lastUpdate,
		LastSuccessTime:     c.lastSuccessAt,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
