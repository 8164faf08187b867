package watcher

import (
	"strings"
	"sync"
	"time"

	"watchcache/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Op describes the kind of change an Event reports.
type Op uint32

const (
	OpCreated Op = 1 << iota
	OpChanged
	OpRenamed
)

func (op Op) Has(other Op) bool {
	return op&other != 0
}

func (op Op) String() string {
	parts := make([]string, 0, 3)
	if op.Has(OpCreated) {
		parts = append(parts, "created")
	}
	if op.Has(OpChanged) {
		parts = append(parts, "changed")
	}
	if op.Has(OpRenamed) {
		parts = append(parts, "renamed")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event represents a single filesystem change below a subscribed directory.
type Event struct {
	// Name is the path relative to the subscribed directory, slash separated.
	Name      string
	Path      string
	Op        Op
	IsDir     bool
	Timestamp time.Time
}

// Handle releases a subscription.
type Handle interface {
	Close() error
}

// WatchOptions narrows which events a subscription receives.
type WatchOptions struct {
	Recursive bool
	// Filter, when set, only passes events whose Name equals it.
	Filter   string
	DirsOnly bool
}

// Source delivers change notifications for a directory.
type Source interface {
	Watch(dir string, options WatchOptions, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger       *logging.Logger
	ErrorHandler func(error)
}

// Metrics reports watcher counters.
type Metrics struct {
	Subscriptions   int
	ActiveWatches   int
	EventsDelivered uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher is the fsnotify-backed Source.
type Watcher struct {
	watcher       *fsnotify.Watcher
	mutex         sync.Mutex
	subscriptions map[uint64]*subscription
	dirs          map[string]int
	nextID        uint64
	events        chan fsnotify.Event
	errors        chan error
	done          chan struct{}
	closed        bool
	logger        *logging.Logger
	errorHandler  func(error)

	eventsDelivered uint64
	errorCount      uint64

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int
}

var _ Source = (*Watcher)(nil)
