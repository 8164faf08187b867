package watcher

import (
	"io/fs"
	"path/filepath"
	"time"
)

func collectRecursiveDirs(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// expandNewDir attaches recursive subscriptions to a directory that just
// appeared and reports its existing contents, which were written before the
// watch was in place.
func (watcher *Watcher) expandNewDir(path string) {
	watcher.mutex.Lock()
	subs := make([]*subscription, 0, len(watcher.subscriptions))
	for _, sub := range watcher.subscriptions {
		if sub.options.Recursive && sub.root != path && isWithinPath(sub.root, path) {
			subs = append(subs, sub)
		}
	}
	watcher.mutex.Unlock()
	if len(subs) == 0 {
		return
	}

	nested, _ := collectRecursiveDirs(path)
	dirs := append([]string{path}, nested...)
	for _, sub := range subs {
		for _, dir := range dirs {
			_ = watcher.addSubscriptionDir(sub, dir)
		}
	}

	now := time.Now()
	_ = filepath.WalkDir(path, func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil || entryPath == path {
			return nil
		}
		watcher.dispatch(entryPath, OpCreated, entry.IsDir(), now)
		return nil
	})
}
