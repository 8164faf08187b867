package filecache

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"watchcache/internal/logging"
)

type watchSettings[T any] struct {
	release func(T) error
}

// WatchOption configures a single Watch registration.
type WatchOption[T any] func(*watchSettings[T])

// WithRelease sets how replaced values are released. Without it, values
// implementing io.Closer are closed.
func WithRelease[T any](release func(T) error) WatchOption[T] {
	return func(settings *watchSettings[T]) {
		settings.release = release
	}
}

type typedEntry[T any] struct {
	name     string
	fullPath string
	parser   Parser[T]
	release  func(T) error
	value    atomic.Pointer[T]
	loaded   atomic.Bool
	ready    chan struct{}
	counters counters
	handle   *Handle[T]
}

func newTypedEntry[T any](cache *Cache, name string, parser Parser[T], def T, settings watchSettings[T]) *typedEntry[T] {
	created := &typedEntry[T]{
		name:     name,
		fullPath: cache.pathFor(name),
		parser:   parser,
		release:  settings.release,
		ready:    make(chan struct{}),
	}
	created.value.Store(&def)
	created.handle = &Handle[T]{cache: cache, entry: created}
	return created
}

func (e *typedEntry[T]) key() string  { return e.name }
func (e *typedEntry[T]) path() string { return e.fullPath }

func (e *typedEntry[T]) typeName() string {
	return reflect.TypeFor[T]().String()
}

func (e *typedEntry[T]) get() T {
	return *e.value.Load()
}

func (e *typedEntry[T]) current() any {
	return e.get()
}

func (e *typedEntry[T]) hasValue() bool {
	return e.loaded.Load()
}

func (e *typedEntry[T]) stats() (int64, int64, time.Time) {
	return e.counters.snapshot()
}

// install swaps in value and then releases the value it replaced, so a
// reader never observes a released value.
func (e *typedEntry[T]) install(logger *logging.Logger, value T) {
	next := value
	previous := e.value.Swap(&next)
	e.loaded.Store(true)
	e.counters.loadedAt.Store(time.Now().UnixNano())
	if previous != nil && !sameValue(*previous, value) {
		releaseValue(logger, e.name, *previous, e.release)
	}
}

func (e *typedEntry[T]) load(logger *logging.Logger) error {
	value, err := loadFile(logger, e.name, e.fullPath, e.parser)
	if err != nil {
		e.counters.failures.Add(1)
		return err
	}
	e.install(logger, value)
	return nil
}

// reload runs after the initial load from Watch has finished, so the first
// value never overwrites a newer one.
func (e *typedEntry[T]) reload(cache *Cache) {
	<-e.ready
	if err := e.load(cache.logger); err != nil {
		cache.metrics.IncReload(e.name, "failure")
		cache.publish(Event{Kind: EventEntryReloadFailed, Name: e.name, Path: e.fullPath, Error: err.Error()})
		return
	}
	e.counters.reloads.Add(1)
	cache.metrics.IncReload(e.name, "success")
	cache.publish(Event{Kind: EventEntryReloaded, Name: e.name, Path: e.fullPath})
}

func (e *typedEntry[T]) releaseCurrent(logger *logging.Logger) {
	current := e.value.Load()
	if current == nil {
		return
	}
	releaseValue(logger, e.name, *current, e.release)
}

// Handle is a typed accessor for one watched entry.
type Handle[T any] struct {
	cache *Cache
	entry *typedEntry[T]
}

func (h *Handle[T]) Name() string {
	if h == nil || h.entry == nil {
		return ""
	}
	return h.entry.name
}

// Get returns the current value.
func (h *Handle[T]) Get() (T, error) {
	var zero T
	if h == nil || h.entry == nil {
		return zero, ErrNotWatched
	}
	if h.cache.isClosed() {
		return zero, ErrClosed
	}
	return h.entry.get(), nil
}

func (h *Handle[T]) Info() EntryInfo {
	if h == nil || h.entry == nil {
		return EntryInfo{}
	}
	return h.cache.infoFor(h.entry)
}

// Watch registers name, resolved below the cache root, and loads it once.
// A missing file or a failed first load leaves def as the value. Calling
// Watch again for a registered name returns the existing handle and ignores
// parser and def.
func Watch[T any](cache *Cache, name string, parser Parser[T], def T, options ...WatchOption[T]) (*Handle[T], error) {
	if cache == nil {
		return nil, ErrClosed
	}
	if parser == nil {
		return nil, fmt.Errorf("watch %s: parser is required", name)
	}
	key, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	cache.closeMu.RLock()
	defer cache.closeMu.RUnlock()
	if cache.isClosed() {
		return nil, ErrClosed
	}

	settings := watchSettings[T]{}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}
	candidate := newTypedEntry(cache, key, parser, def, settings)
	stored, loaded := cache.store.insertIfAbsent(key, candidate)
	if loaded {
		existing, ok := stored.(*typedEntry[T])
		if !ok {
			return nil, fmt.Errorf("%w: %s is registered as %s", ErrTypeMismatch, key, stored.typeName())
		}
		<-existing.ready
		return existing.handle, nil
	}

	defer close(candidate.ready)
	if !fileExists(candidate.fullPath) {
		cache.logger.Debug("watched file missing, using default", map[string]string{
			"name": key,
			"path": candidate.fullPath,
		})
		return candidate.handle, nil
	}
	if err := candidate.load(cache.logger); err == nil {
		cache.metrics.IncReload(key, "initial")
	}
	return candidate.handle, nil
}

// Get returns the current value of a registered name.
func Get[T any](cache *Cache, name string) (T, error) {
	var zero T
	if cache == nil || cache.isClosed() {
		return zero, ErrClosed
	}
	key, err := cleanName(name)
	if err != nil {
		return zero, err
	}
	stored, ok := cache.store.get(key)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotWatched, key)
	}
	typed, ok := stored.(*typedEntry[T])
	if !ok {
		return zero, fmt.Errorf("%w: %s is registered as %s", ErrTypeMismatch, key, stored.typeName())
	}
	return typed.get(), nil
}
