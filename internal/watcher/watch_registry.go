package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var ErrClosed = errors.New("watcher is closed")

type subscription struct {
	id       uint64
	root     string
	options  WatchOptions
	callback func(Event)
	dirs     map[string]struct{}
}

// match reports whether path belongs to the subscription and returns its
// relative name.
func (sub *subscription) match(path string, isDir bool) (string, bool) {
	if path == sub.root {
		return "", false
	}
	if sub.options.Recursive {
		if !isWithinPath(sub.root, path) {
			return "", false
		}
	} else if filepath.Dir(path) != sub.root {
		return "", false
	}
	rel, err := filepath.Rel(sub.root, path)
	if err != nil {
		return "", false
	}
	name := filepath.ToSlash(rel)
	if sub.options.Filter != "" && name != sub.options.Filter {
		return "", false
	}
	if sub.options.DirsOnly && !isDir {
		return "", false
	}
	return name, true
}

type watchHandle struct {
	watcher *Watcher
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeSubscription(handle.id)
	})
	return err
}

// Watch subscribes callback to changes below dir. The directory must exist.
func (watcher *Watcher) Watch(dir string, options WatchOptions, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if dir == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	nested := []string{}
	if options.Recursive {
		nested, err = collectRecursiveDirs(root)
		if err != nil {
			return nil, err
		}
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	watcher.nextID++
	sub := &subscription{
		id:       watcher.nextID,
		root:     root,
		options:  options,
		callback: callback,
		dirs:     make(map[string]struct{}),
	}
	watcher.subscriptions[sub.id] = sub
	watcher.mutex.Unlock()

	if err := watcher.addSubscriptionDir(sub, root); err != nil {
		_ = watcher.removeSubscription(sub.id)
		return nil, err
	}
	for _, path := range nested {
		// Subdirectories may vanish between the walk and the add.
		_ = watcher.addSubscriptionDir(sub, path)
	}

	return &watchHandle{watcher: watcher, id: sub.id}, nil
}

// WatchContext is Watch with the subscription released when ctx is done.
func (watcher *Watcher) WatchContext(ctx context.Context, dir string, options WatchOptions, callback func(Event)) (Handle, error) {
	handle, err := watcher.Watch(dir, options, callback)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		return handle, nil
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = handle.Close()
		case <-watcher.done:
		}
	}()
	return handle, nil
}

func (watcher *Watcher) addSubscriptionDir(sub *subscription, path string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrClosed
	}
	if _, ok := watcher.subscriptions[sub.id]; !ok {
		watcher.mutex.Unlock()
		return nil
	}
	if _, ok := sub.dirs[path]; ok {
		watcher.mutex.Unlock()
		return nil
	}
	sub.dirs[path] = struct{}{}
	watcher.dirs[path]++
	needsAdd := watcher.dirs[path] == 1
	source := watcher.watcher
	activeCount := len(watcher.dirs)
	watcher.mutex.Unlock()

	if !needsAdd || source == nil {
		return nil
	}
	if err := source.Add(path); err != nil {
		watcher.mutex.Lock()
		delete(sub.dirs, path)
		watcher.releaseDirLocked(path)
		watcher.mutex.Unlock()
		watcher.logWarn("watch add failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return err
	}
	watcher.logDebug("watch added", path, activeCount)
	return nil
}

func (watcher *Watcher) removeSubscription(id uint64) error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	sub, ok := watcher.subscriptions[id]
	if !ok {
		watcher.mutex.Unlock()
		return nil
	}
	delete(watcher.subscriptions, id)
	removable := make([]string, 0, len(sub.dirs))
	for path := range sub.dirs {
		if watcher.releaseDirLocked(path) {
			removable = append(removable, path)
		}
	}
	source := watcher.watcher
	activeCount := len(watcher.dirs)
	watcher.mutex.Unlock()

	if source == nil {
		return nil
	}
	var firstErr error
	for _, path := range removable {
		if err := source.Remove(path); err != nil {
			// Deleted directories drop their watch on their own.
			if errors.Is(err, fsnotify.ErrNonExistentWatch) || errors.Is(err, fsnotify.ErrClosed) {
				continue
			}
			watcher.logWarn("watch remove failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		watcher.logDebug("watch removed", path, activeCount)
	}
	return firstErr
}

// releaseDirLocked drops one reference and reports whether the directory has
// no subscribers left.
func (watcher *Watcher) releaseDirLocked(path string) bool {
	count := watcher.dirs[path]
	if count > 1 {
		watcher.dirs[path] = count - 1
		return false
	}
	delete(watcher.dirs, path)
	return count == 1
}

func isWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
