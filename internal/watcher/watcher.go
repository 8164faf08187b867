package watcher

import (
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"watchcache/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Watcher with custom options.
func NewWithOptions(options Options) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	instance := &Watcher{
		watcher:       watcher,
		subscriptions: make(map[uint64]*subscription),
		dirs:          make(map[string]int),
		events:        make(chan fsnotify.Event, 64),
		errors:        make(chan error, 4),
		done:          make(chan struct{}),
		logger:        logger,
		errorHandler:  options.ErrorHandler,
	}

	instance.startForwarder(watcher)
	go instance.run()
	return instance, nil
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	watcher.subscriptions = make(map[uint64]*subscription)
	watcher.dirs = make(map[string]int)
	source := watcher.watcher
	watcher.mutex.Unlock()

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMutex.Unlock()

	close(watcher.done)
	if source == nil {
		return nil
	}
	return source.Close()
}

func (watcher *Watcher) run() {
	for {
		select {
		case event := <-watcher.events:
			watcher.handleEvent(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func (watcher *Watcher) handleEvent(raw fsnotify.Event) {
	op := translateOp(raw.Op)
	if op == 0 {
		return
	}
	path := filepath.Clean(raw.Name)
	isDir := false
	if info, err := os.Stat(path); err == nil {
		isDir = info.IsDir()
	}

	if isDir && op.Has(OpCreated) {
		watcher.expandNewDir(path)
	}
	watcher.dispatch(path, op, isDir, time.Now())
}

// dispatch delivers an event to every matching subscription. Callbacks run
// without the watcher lock held.
func (watcher *Watcher) dispatch(path string, op Op, isDir bool, timestamp time.Time) {
	type delivery struct {
		callback func(Event)
		event    Event
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	deliveries := make([]delivery, 0, len(watcher.subscriptions))
	for _, sub := range watcher.subscriptions {
		name, ok := sub.match(path, isDir)
		if !ok {
			continue
		}
		deliveries = append(deliveries, delivery{
			callback: sub.callback,
			event: Event{
				Name:      name,
				Path:      path,
				Op:        op,
				IsDir:     isDir,
				Timestamp: timestamp,
			},
		})
	}
	watcher.mutex.Unlock()

	for _, item := range deliveries {
		atomic.AddUint64(&watcher.eventsDelivered, 1)
		item.callback(item.event)
	}
}

func translateOp(op fsnotify.Op) Op {
	var translated Op
	if op.Has(fsnotify.Create) {
		translated |= OpCreated
	}
	if op.Has(fsnotify.Write) {
		translated |= OpChanged
	}
	if op.Has(fsnotify.Rename) {
		translated |= OpRenamed
	}
	return translated
}

// SetErrorHandler configures a callback for unrecoverable watcher failures.
func (watcher *Watcher) SetErrorHandler(handler func(error)) {
	if watcher == nil {
		return
	}
	watcher.mutex.Lock()
	watcher.errorHandler = handler
	watcher.mutex.Unlock()
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Warn(message, withWatcherFields(fields))
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	fields := map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	}
	watcher.logger.Debug(message, withWatcherFields(fields))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["watchcache.category"] = "watcher"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	subscriptions := len(watcher.subscriptions)
	active := len(watcher.dirs)
	watcher.mutex.Unlock()
	watcher.restartMutex.Lock()
	restartAttempts := watcher.restartAttempts
	watcher.restartMutex.Unlock()
	return Metrics{
		Subscriptions:   subscriptions,
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: restartAttempts,
	}
}
