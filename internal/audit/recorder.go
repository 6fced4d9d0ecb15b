package audit

import (
	"context"
	"sync"
	"time"
)

// defaultQueueSize bounds the entries waiting to be written.
const defaultQueueSize = 256

// writeTimeout bounds a single entry write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes audit entries asynchronously, one at a time.
//
// Record never blocks: when the queue is full the entry is dropped and a
// warning is logged. Run drains the queue until its context is cancelled
// and then writes whatever is still queued.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger

	mu      sync.RWMutex
	dropped uint64
}

// NewRecorder creates a recorder over repo. A queueSize of zero or less
// uses the default of 256.
func NewRecorder(repo Repository, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for write failures.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record queues an entry for writing.
func (r *Recorder) Record(e Entry) {
	select {
	case r.queue <- &e:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("audit queue full, dropping entry", "action", e.Action)
	}
}

// List reads entries from the repository.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Run writes queued entries until ctx is cancelled, then drains the queue.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e *Entry) {
	// Writes outlive the Run context so the final drain still lands.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit log write failed", "action", e.Action, "error", err)
	}
}
