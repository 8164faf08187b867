// Package filecache serves parsed file contents that are refreshed when the
// files change on disk.
//
// A Cache watches one root directory, which may not exist yet. Entries are
// registered by name with Watch and read with Get. Change notifications are
// debounced per name and at most one reload runs for a name at a time. A
// failed reload keeps the previous value.
package filecache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"watchcache/internal/binder"
	"watchcache/internal/event"
	"watchcache/internal/logging"
	"watchcache/internal/metrics"
	"watchcache/internal/throttle"
	"watchcache/internal/watcher"
)

var (
	ErrNotWatched   = errors.New("name is not watched")
	ErrTypeMismatch = errors.New("entry type mismatch")
	ErrClosed       = errors.New("cache is closed")
	ErrInvalidName  = errors.New("invalid entry name")
)

const eventHistorySize = 64

type Options struct {
	Logger   *logging.Logger
	Debounce time.Duration
	// Source delivers change notifications. When nil the cache creates and
	// owns an fsnotify watcher.
	Source  watcher.Source
	Metrics *metrics.Registry
	// Bus receives cache events. When nil the cache creates and owns one.
	Bus *event.Bus[Event]
}

type Cache struct {
	name      string
	root      string
	logger    *logging.Logger
	metrics   *metrics.Registry
	bus       *event.Bus[Event]
	ownsBus   bool
	owned     *watcher.Watcher
	binder    *binder.Binder
	throttler *throttle.Throttler
	store     *store

	closeMu sync.RWMutex
	closed  atomic.Bool
}

func New(name, root string) (*Cache, error) {
	return NewWithOptions(name, root, Options{})
}

// NewWithOptions creates a cache for files below root and starts watching.
// A root that cannot be watched at all is logged, not returned: the cache
// still serves defaults.
func NewWithOptions(name, root string, options Options) (*Cache, error) {
	if root == "" {
		return nil, errors.New("root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(map[string]string{"cache": name})

	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	cache := &Cache{
		name:    name,
		root:    absRoot,
		logger:  logger,
		metrics: registry,
		bus:     options.Bus,
		store:   newStore(),
	}
	if cache.bus == nil {
		cache.bus = event.NewBus[Event](context.Background(), event.BusOptions{
			Name:        "cache",
			HistorySize: eventHistorySize,
			Registry:    registry,
		})
		cache.ownsBus = true
	}

	source := options.Source
	if source == nil {
		owned, err := watcher.NewWithOptions(watcher.Options{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		cache.owned = owned
		source = owned
	}

	cache.throttler = throttle.NewWithOptions(throttle.Options{
		Debounce: options.Debounce,
		Logger:   logger,
		Metrics:  registry,
	})

	cache.binder, err = binder.New(binder.Options{
		Root:         absRoot,
		Source:       source,
		Logger:       logger,
		OnEvent:      cache.dispatch,
		OnTransition: cache.handleTransition,
		Metrics:      registry,
	})
	if err != nil {
		_ = cache.owned.Close()
		return nil, err
	}
	cache.binder.Bind()
	return cache, nil
}

func (c *Cache) Name() string {
	return c.name
}

func (c *Cache) Root() string {
	return c.root
}

// Binding reports the directory currently observed.
func (c *Cache) Binding() binder.Binding {
	return c.binder.Current()
}

func (c *Cache) Debounce() time.Duration {
	return c.throttler.Debounce()
}

// Value returns the current value of name without a type check.
func (c *Cache) Value(name string) (any, error) {
	found, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return found.current(), nil
}

func (c *Cache) Info(name string) (EntryInfo, error) {
	found, err := c.lookup(name)
	if err != nil {
		return EntryInfo{}, err
	}
	return c.infoFor(found), nil
}

func (c *Cache) Status(name string) (Status, error) {
	info, err := c.Info(name)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// Entries lists every watched entry sorted by name.
func (c *Cache) Entries() []EntryInfo {
	if c == nil {
		return nil
	}
	entries := c.store.list()
	infos := make([]EntryInfo, 0, len(entries))
	for _, item := range entries {
		infos = append(infos, c.infoFor(item))
	}
	return infos
}

func (c *Cache) Names() []string {
	if c == nil {
		return nil
	}
	entries := c.store.list()
	names := make([]string, 0, len(entries))
	for _, item := range entries {
		names = append(names, item.key())
	}
	return names
}

// Subscribe streams cache events until cancel is called or the cache closes.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	return c.bus.Subscribe()
}

// RecentEvents returns the most recent cache events, oldest first.
func (c *Cache) RecentEvents() []Event {
	return c.bus.History()
}

// Close detaches from the directory, waits for running reloads and releases
// every stored value. The cache is unusable afterwards.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.closeMu.Lock()
	if c.closed.Load() {
		c.closeMu.Unlock()
		return nil
	}
	c.closed.Store(true)
	c.closeMu.Unlock()

	var errs []error
	if err := c.binder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("detach binder: %w", err))
	}
	c.throttler.Close()
	if c.owned != nil {
		if err := c.owned.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close watcher: %w", err))
		}
	}
	for _, item := range c.store.list() {
		item.releaseCurrent(c.logger)
	}
	if c.ownsBus {
		c.bus.Close()
	}
	return errors.Join(errs...)
}

func (c *Cache) isClosed() bool {
	return c.closed.Load()
}

func (c *Cache) lookup(name string) (entry, error) {
	if c == nil || c.isClosed() {
		return nil, ErrClosed
	}
	key, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	found, ok := c.store.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWatched, key)
	}
	return found, nil
}

func (c *Cache) infoFor(item entry) EntryInfo {
	reloads, failures, loadedAt := item.stats()
	status := StatusRegistered
	if item.hasValue() {
		status = StatusLoaded
	}
	if c.throttler.Pending(item.key()) {
		status = StatusReloadPending
	}
	return EntryInfo{
		Name:     item.key(),
		Path:     item.path(),
		Type:     item.typeName(),
		Status:   status,
		Reloads:  reloads,
		Failures: failures,
		LoadedAt: loadedAt,
	}
}

// dispatch routes a change notification to the entry it names.
func (c *Cache) dispatch(change watcher.Event) {
	if change.IsDir || c.isClosed() {
		return
	}
	found, ok := c.store.get(change.Name)
	if !ok {
		return
	}
	if change.Op == watcher.OpRenamed && !fileExists(found.path()) {
		c.logger.Debug("skipping renamed-away file", map[string]string{
			"name": found.key(),
		})
		return
	}
	c.requestReload(found)
}

func (c *Cache) requestReload(item entry) {
	announced := make(chan struct{})
	defer close(announced)
	scheduled, err := c.throttler.Request(item.key(), func() {
		<-announced
		item.reload(c)
	})
	if err != nil {
		if !errors.Is(err, throttle.ErrClosed) {
			c.logger.Warn("reload request failed", map[string]string{
				"name":  item.key(),
				"error": err.Error(),
			})
		}
		return
	}
	if scheduled {
		c.publish(Event{Kind: EventEntryReloadScheduled, Name: item.key(), Path: item.path()})
	}
}

// handleTransition publishes binding changes. Attaching to the root also
// reloads every existing entry, since files may have been written before
// the subscription was in place.
func (c *Cache) handleTransition(binding binder.Binding) {
	c.publish(Event{
		Kind:  EventBindingChanged,
		Path:  binding.Dir,
		State: binding.State.String(),
	})
	if binding.State != binder.StateBoundToTarget || c.isClosed() {
		return
	}
	for _, item := range c.store.list() {
		if fileExists(item.path()) {
			c.requestReload(item)
		}
	}
}

func (c *Cache) publish(change Event) {
	change.Cache = c.name
	if change.OccurredAt.IsZero() {
		change.OccurredAt = time.Now().UTC()
	}
	c.bus.Publish(change)
}

func (c *Cache) pathFor(name string) string {
	return filepath.Join(c.root, filepath.FromSlash(name))
}

// cleanName normalizes an entry name to a slash separated path below the root.
func cleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(filepath.ToSlash(name))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if path.IsAbs(trimmed) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s is absolute", ErrInvalidName, name)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s leaves the root", ErrInvalidName, name)
	}
	return cleaned, nil
}
