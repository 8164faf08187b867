// Package throttle coalesces bursts of reload requests per name.
//
// The first request for a name schedules its job after the debounce delay.
// Requests arriving while that job is pending or running are dropped. Once
// the job finishes, the next request schedules a fresh one.
package throttle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"watchcache/internal/logging"
	"watchcache/internal/metrics"
)

const DefaultDebounce = 50 * time.Millisecond

var ErrClosed = errors.New("throttler is closed")

type Options struct {
	Debounce time.Duration
	Logger   *logging.Logger
	Metrics  *metrics.Registry
}

type Throttler struct {
	debounce time.Duration
	logger   *logging.Logger
	metrics  *metrics.Registry

	pending sync.Map
	closeMu sync.RWMutex
	closed  bool
	running sync.WaitGroup
}

func New() *Throttler {
	return NewWithOptions(Options{})
}

func NewWithOptions(options Options) *Throttler {
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Throttler{
		debounce: debounce,
		logger:   logger,
		metrics:  options.Metrics,
	}
}

func (throttler *Throttler) Debounce() time.Duration {
	if throttler == nil {
		return DefaultDebounce
	}
	return throttler.debounce
}

// Request schedules job for name unless one is already pending. It reports
// whether a new job was scheduled. It never blocks on the job.
func (throttler *Throttler) Request(name string, job func()) (bool, error) {
	if throttler == nil {
		return false, ErrClosed
	}
	if job == nil {
		return false, errors.New("job is required")
	}

	throttler.closeMu.RLock()
	defer throttler.closeMu.RUnlock()
	if throttler.closed {
		return false, ErrClosed
	}

	if _, loaded := throttler.pending.LoadOrStore(name, struct{}{}); loaded {
		throttler.metrics.IncCoalesced(name)
		return false, nil
	}

	throttler.running.Add(1)
	throttler.metrics.AddPending(1)
	time.AfterFunc(throttler.debounce, func() {
		throttler.run(name, job)
	})
	return true, nil
}

func (throttler *Throttler) run(name string, job func()) {
	defer throttler.running.Done()
	defer throttler.metrics.AddPending(-1)
	defer throttler.pending.Delete(name)
	defer func() {
		if recovered := recover(); recovered != nil {
			throttler.logger.Error("reload panicked", map[string]string{
				"name":  name,
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	job()
}

// Pending reports whether a job for name is scheduled or running.
func (throttler *Throttler) Pending(name string) bool {
	if throttler == nil {
		return false
	}
	_, ok := throttler.pending.Load(name)
	return ok
}

func (throttler *Throttler) PendingCount() int {
	if throttler == nil {
		return 0
	}
	count := 0
	throttler.pending.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Close rejects further requests and waits for scheduled jobs to finish.
func (throttler *Throttler) Close() {
	if throttler == nil {
		return
	}
	throttler.closeMu.Lock()
	throttler.closed = true
	throttler.closeMu.Unlock()
	throttler.running.Wait()
}
