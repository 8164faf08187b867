// Package binder keeps a notification subscription attached to a directory
// that may not exist yet.
//
// While the target is missing the binder watches the nearest existing
// ancestor for the next missing path component and walks back down as the
// directories appear.
package binder

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"watchcache/internal/logging"
	"watchcache/internal/metrics"
	"watchcache/internal/watcher"
)

// maxBindAttempts bounds how often a single Bind call restarts its walk when
// directories change underneath it.
const maxBindAttempts = 64

type State int

const (
	StateUnbound State = iota
	StateBoundToAncestor
	StateBoundToTarget
	StateFailed
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUnbound:
		return "unbound"
	case StateBoundToAncestor:
		return "bound_to_ancestor"
	case StateBoundToTarget:
		return "bound_to_target"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Binding describes the directory currently observed.
type Binding struct {
	State State
	// Dir is the observed directory: the root itself or its nearest existing ancestor.
	Dir string
	// Child is the missing path component watched for inside Dir.
	Child string
	// Level counts how far Dir sits above the root.
	Level int
}

type Options struct {
	Root   string
	Source watcher.Source
	Logger *logging.Logger
	// OnEvent receives changes below the root once it is bound.
	OnEvent func(watcher.Event)
	// OnTransition is called after every state change, outside the binder lock.
	OnTransition func(Binding)
	Stat         func(string) (os.FileInfo, error)
	Metrics      *metrics.Registry
}

type Binder struct {
	root         string
	source       watcher.Source
	logger       *logging.Logger
	onEvent      func(watcher.Event)
	onTransition func(Binding)
	stat         func(string) (os.FileInfo, error)
	metrics      *metrics.Registry

	mutex      sync.Mutex
	handle     watcher.Handle
	generation atomic.Uint64
	current    atomic.Pointer[Binding]
}

func New(options Options) (*Binder, error) {
	if options.Source == nil {
		return nil, errors.New("notification source is required")
	}
	if options.Root == "" {
		return nil, errors.New("root is required")
	}
	root, err := filepath.Abs(options.Root)
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	stat := options.Stat
	if stat == nil {
		stat = os.Stat
	}

	binder := &Binder{
		root:         root,
		source:       options.Source,
		logger:       logger,
		onEvent:      options.OnEvent,
		onTransition: options.OnTransition,
		stat:         stat,
		metrics:      options.Metrics,
	}
	binder.current.Store(&Binding{State: StateUnbound})
	return binder, nil
}

func (binder *Binder) Root() string {
	if binder == nil {
		return ""
	}
	return binder.root
}

// Current returns the active binding.
func (binder *Binder) Current() Binding {
	if binder == nil {
		return Binding{State: StateClosed}
	}
	return *binder.current.Load()
}

// Bind attaches to the root, or to its nearest existing ancestor when the
// root is missing. It replaces any previous subscription.
func (binder *Binder) Bind() Binding {
	if binder == nil {
		return Binding{State: StateClosed}
	}
	binder.mutex.Lock()
	if binder.current.Load().State == StateClosed {
		binder.mutex.Unlock()
		return Binding{State: StateClosed}
	}
	binding := binder.bindLocked()
	binder.mutex.Unlock()

	binder.notify(binding)
	return binding
}

// Close detaches the active subscription. Later notifications are ignored.
func (binder *Binder) Close() error {
	if binder == nil {
		return nil
	}
	binder.mutex.Lock()
	if binder.current.Load().State == StateClosed {
		binder.mutex.Unlock()
		return nil
	}
	err := binder.detachLocked()
	binding := Binding{State: StateClosed}
	binder.current.Store(&binding)
	binder.mutex.Unlock()

	binder.notify(binding)
	return err
}

func (binder *Binder) bindLocked() Binding {
	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		_ = binder.detachLocked()
		binding, retry := binder.attachLocked()
		if retry {
			continue
		}
		binder.current.Store(&binding)
		return binding
	}
	binder.logger.Fatal("Fail to watch "+binder.root, map[string]string{
		"reason": "directory tree kept changing",
	})
	binding := Binding{State: StateFailed}
	binder.current.Store(&binding)
	return binding
}

// attachLocked performs one upward walk. retry is set when the tree changed
// while subscribing.
func (binder *Binder) attachLocked() (binding Binding, retry bool) {
	dir := binder.root
	child := ""
	level := 0
	for {
		if binder.isDir(dir) {
			break
		}
		if level == 0 {
			binder.logger.Warn("Cannot find path "+binder.root, nil)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			binder.logger.Fatal("Fail to watch "+binder.root, nil)
			return Binding{State: StateFailed}, false
		}
		child = filepath.Base(dir)
		dir = parent
		level++
	}

	generation := binder.generation.Add(1)
	if level == 0 {
		handle, err := binder.source.Watch(dir, watcher.WatchOptions{Recursive: true}, func(event watcher.Event) {
			binder.handleTargetEvent(generation, event)
		})
		if err != nil {
			return binder.subscribeFailed(dir, err)
		}
		binder.handle = handle
		binder.logger.Info("Start watching "+dir, nil)
		return Binding{State: StateBoundToTarget, Dir: dir}, false
	}

	options := watcher.WatchOptions{Filter: child, DirsOnly: true}
	handle, err := binder.source.Watch(dir, options, func(event watcher.Event) {
		binder.handleAppeared(generation, event)
	})
	if err != nil {
		return binder.subscribeFailed(dir, err)
	}
	binder.handle = handle

	// The child may have been created between the stat and the subscription.
	if binder.isDir(filepath.Join(dir, child)) {
		return Binding{}, true
	}
	binder.logger.Debug("waiting for directory", map[string]string{
		"dir":   dir,
		"child": child,
		"level": strconv.Itoa(level),
	})
	return Binding{State: StateBoundToAncestor, Dir: dir, Child: child, Level: level}, false
}

func (binder *Binder) subscribeFailed(dir string, err error) (Binding, bool) {
	binder.logger.Error("watch subscribe failed", map[string]string{
		"dir":   dir,
		"error": err.Error(),
	})
	if !binder.isDir(dir) {
		return Binding{}, true
	}
	binder.logger.Fatal("Fail to watch "+binder.root, map[string]string{
		"error": err.Error(),
	})
	return Binding{State: StateFailed}, false
}

func (binder *Binder) detachLocked() error {
	binder.generation.Add(1)
	if binder.handle == nil {
		return nil
	}
	err := binder.handle.Close()
	binder.handle = nil
	return err
}

func (binder *Binder) handleTargetEvent(generation uint64, event watcher.Event) {
	if binder.generation.Load() != generation || binder.onEvent == nil {
		return
	}
	binder.onEvent(event)
}

func (binder *Binder) handleAppeared(generation uint64, event watcher.Event) {
	binder.mutex.Lock()
	if binder.generation.Load() != generation || binder.current.Load().State == StateClosed {
		binder.mutex.Unlock()
		return
	}
	binder.logger.Info("Found "+event.Path, nil)
	binding := binder.bindLocked()
	binder.mutex.Unlock()

	binder.notify(binding)
}

func (binder *Binder) notify(binding Binding) {
	binder.metrics.IncBinding(binding.State.String())
	if binder.onTransition != nil {
		binder.onTransition(binding)
	}
}

func (binder *Binder) isDir(path string) bool {
	info, err := binder.stat(path)
	return err == nil && info.IsDir()
}
