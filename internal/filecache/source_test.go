package filecache

import (
	"path/filepath"
	"sync"

	"watchcache/internal/watcher"
)

type fakeSubscription struct {
	dir      string
	options  watcher.WatchOptions
	callback func(watcher.Event)
	closed   bool
}

type fakeSource struct {
	mutex sync.Mutex
	subs  []*fakeSubscription
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

func (source *fakeSource) Watch(dir string, options watcher.WatchOptions, callback func(watcher.Event)) (watcher.Handle, error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	sub := &fakeSubscription{dir: dir, options: options, callback: callback}
	source.subs = append(source.subs, sub)
	return &fakeHandle{source: source, sub: sub}, nil
}

// emit delivers a change for path to every open subscription on dir.
func (source *fakeSource) emit(dir, path string, op watcher.Op, isDir bool) {
	source.mutex.Lock()
	targets := []*fakeSubscription{}
	for _, sub := range source.subs {
		if !sub.closed && sub.dir == dir {
			targets = append(targets, sub)
		}
	}
	source.mutex.Unlock()

	rel, _ := filepath.Rel(dir, path)
	for _, sub := range targets {
		sub.callback(watcher.Event{
			Name:  filepath.ToSlash(rel),
			Path:  path,
			Op:    op,
			IsDir: isDir,
		})
	}
}

func (source *fakeSource) openCount() int {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	count := 0
	for _, sub := range source.subs {
		if !sub.closed {
			count++
		}
	}
	return count
}
