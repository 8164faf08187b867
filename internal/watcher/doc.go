// Package watcher wraps fsnotify with per-directory subscriptions.
//
// Events are best-effort: a single logical change may surface as several
// events and nothing is guaranteed about ordering. Callers should treat an
// event as "this path may have changed" and refresh accordingly.
package watcher
