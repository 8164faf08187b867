package binder

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"watchcache/internal/logging"
	"watchcache/internal/watcher"
)

type fakeSubscription struct {
	dir      string
	options  watcher.WatchOptions
	callback func(watcher.Event)
	closed   bool
}

type fakeHandle struct {
	source *fakeSource
	sub    *fakeSubscription
}

func (handle *fakeHandle) Close() error {
	handle.source.mutex.Lock()
	handle.sub.closed = true
	handle.source.mutex.Unlock()
	return nil
}

type fakeSource struct {
	mutex sync.Mutex
	subs  []*fakeSubscription
	err   error
}

func (source *fakeSource) Watch(dir string, options watcher.WatchOptions, callback func(watcher.Event)) (watcher.Handle, error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	if source.err != nil {
		return nil, source.err
	}
	sub := &fakeSubscription{dir: dir, options: options, callback: callback}
	source.subs = append(source.subs, sub)
	return &fakeHandle{source: source, sub: sub}, nil
}

func (source *fakeSource) active() []*fakeSubscription {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	active := []*fakeSubscription{}
	for _, sub := range source.subs {
		if !sub.closed {
			active = append(active, sub)
		}
	}
	return active
}

func (source *fakeSource) all() []*fakeSubscription {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return append([]*fakeSubscription(nil), source.subs...)
}

func newTestBinder(t *testing.T, root string, source watcher.Source, onEvent func(watcher.Event)) (*Binder, *logging.LogBuffer) {
	t.Helper()
	logger := logging.Discard()
	binder, err := New(Options{
		Root:    root,
		Source:  source,
		Logger:  logger,
		OnEvent: onEvent,
	})
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}
	t.Cleanup(func() {
		_ = binder.Close()
	})
	return binder, logger.Buffer()
}

func TestBindExistingRoot(t *testing.T) {
	root := t.TempDir()
	source := &fakeSource{}
	binder, logs := newTestBinder(t, root, source, nil)

	binding := binder.Bind()
	if binding.State != StateBoundToTarget || binding.Dir != root || binding.Level != 0 {
		t.Fatalf("unexpected binding %+v", binding)
	}
	active := source.active()
	if len(active) != 1 || !active[0].options.Recursive || active[0].dir != root {
		t.Fatalf("expected one recursive subscription on root, got %+v", active)
	}
	if len(logs.Filter(logging.LevelInfo, "Start watching "+root)) != 1 {
		t.Fatal("expected start watching log entry")
	}
}

func TestBindWalksUpToExistingAncestor(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "a", "b", "c")
	source := &fakeSource{}
	binder, logs := newTestBinder(t, root, source, nil)

	binding := binder.Bind()
	if binding.State != StateBoundToAncestor {
		t.Fatalf("expected bound to ancestor, got %s", binding.State)
	}
	if binding.Dir != base || binding.Child != "a" || binding.Level != 3 {
		t.Fatalf("unexpected binding %+v", binding)
	}
	active := source.active()
	if len(active) != 1 {
		t.Fatalf("expected one subscription, got %d", len(active))
	}
	if active[0].options.Filter != "a" || !active[0].options.DirsOnly || active[0].options.Recursive {
		t.Fatalf("unexpected ancestor options %+v", active[0].options)
	}
	if len(logs.Filter(logging.LevelWarning, "Cannot find path "+root)) != 1 {
		t.Fatal("expected missing path warning")
	}
}

func TestBindDescendsAsDirectoriesAppear(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "a", "b")
	source := &fakeSource{}

	var transitions []Binding
	var mutex sync.Mutex
	binder, err := New(Options{
		Root:   root,
		Source: source,
		Logger: logging.Discard(),
		OnTransition: func(binding Binding) {
			mutex.Lock()
			transitions = append(transitions, binding)
			mutex.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}
	defer binder.Close()

	binder.Bind()

	if err := os.Mkdir(filepath.Join(base, "a"), 0o755); err != nil {
		t.Fatalf("mkdir a: %v", err)
	}
	first := source.active()[0]
	first.callback(watcher.Event{Name: "a", Path: filepath.Join(base, "a"), Op: watcher.OpCreated, IsDir: true})

	binding := binder.Current()
	if binding.State != StateBoundToAncestor || binding.Dir != filepath.Join(base, "a") || binding.Child != "b" {
		t.Fatalf("unexpected binding after first level %+v", binding)
	}
	if !first.closed {
		t.Fatal("expected ancestor subscription to be detached")
	}

	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir b: %v", err)
	}
	second := source.active()[0]
	second.callback(watcher.Event{Name: "b", Path: root, Op: watcher.OpCreated, IsDir: true})

	binding = binder.Current()
	if binding.State != StateBoundToTarget || binding.Dir != root {
		t.Fatalf("expected bound to target, got %+v", binding)
	}
	if active := source.active(); len(active) != 1 || active[0].dir != root {
		t.Fatalf("expected single target subscription, got %+v", active)
	}

	mutex.Lock()
	defer mutex.Unlock()
	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}
}

func TestBindRechecksChildAfterSubscribing(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "late")
	calls := 0
	stat := func(path string) (os.FileInfo, error) {
		calls++
		// The first stat of the root reports it missing, later ones see it.
		if path == root && calls == 1 {
			return nil, os.ErrNotExist
		}
		return os.Stat(path)
	}
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	source := &fakeSource{}
	binder, err := New(Options{Root: root, Source: source, Logger: logging.Discard(), Stat: stat})
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}
	defer binder.Close()

	binding := binder.Bind()
	if binding.State != StateBoundToTarget {
		t.Fatalf("expected bound to target, got %+v", binding)
	}
	if all := source.all(); len(all) != 2 || !all[0].closed {
		t.Fatalf("expected ancestor subscription to be replaced, got %d subscriptions", len(all))
	}
}

func TestBindFailsWithoutAncestor(t *testing.T) {
	stat := func(string) (os.FileInfo, error) {
		return nil, os.ErrNotExist
	}
	source := &fakeSource{}
	logger := logging.Discard()
	binder, err := New(Options{Root: "/nowhere/at/all", Source: source, Logger: logger, Stat: stat})
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}

	binding := binder.Bind()
	if binding.State != StateFailed {
		t.Fatalf("expected failed, got %s", binding.State)
	}
	if len(source.all()) != 0 {
		t.Fatal("expected no subscriptions")
	}
	if len(logger.Buffer().Filter(logging.LevelFatal, "Fail to watch /nowhere/at/all")) != 1 {
		t.Fatal("expected fatal log entry")
	}
}

func TestBindSubscribeErrorFails(t *testing.T) {
	root := t.TempDir()
	source := &fakeSource{err: errors.New("too many watches")}
	binder, _ := newTestBinder(t, root, source, nil)

	if binding := binder.Bind(); binding.State != StateFailed {
		t.Fatalf("expected failed, got %s", binding.State)
	}
}

func TestStaleHandlersAreIgnored(t *testing.T) {
	root := t.TempDir()
	source := &fakeSource{}
	events := 0
	binder, _ := newTestBinder(t, root, source, func(watcher.Event) {
		events++
	})

	binder.Bind()
	stale := source.active()[0]
	binder.Bind()

	stale.callback(watcher.Event{Name: "x", Op: watcher.OpChanged})
	if events != 0 {
		t.Fatalf("expected stale event to be ignored, got %d", events)
	}
	source.active()[0].callback(watcher.Event{Name: "x", Op: watcher.OpChanged})
	if events != 1 {
		t.Fatalf("expected 1 event, got %d", events)
	}
}

func TestCloseDetaches(t *testing.T) {
	root := t.TempDir()
	source := &fakeSource{}
	binder, _ := newTestBinder(t, root, source, nil)

	binder.Bind()
	if err := binder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(source.active()) != 0 {
		t.Fatal("expected subscription to be closed")
	}
	if state := binder.Bind().State; state != StateClosed {
		t.Fatalf("expected closed binder to stay closed, got %s", state)
	}
}

func TestBindWithRealWatcher(t *testing.T) {
	source, err := watcher.New()
	if err != nil {
		t.Skipf("skipping watcher test (fsnotify unavailable): %v", err)
	}
	defer source.Close()

	base := t.TempDir()
	root := filepath.Join(base, "x", "y")
	binder, _ := newTestBinder(t, root, source, nil)

	if binding := binder.Bind(); binding.State != StateBoundToAncestor {
		t.Fatalf("expected bound to ancestor, got %s", binding.State)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if binder.Current().State == StateBoundToTarget {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected bound to target, got %+v", binder.Current())
}
