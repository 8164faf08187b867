package filecache

import "time"

const (
	EventEntryReloadScheduled = "entry_reload_scheduled"
	EventEntryReloaded        = "entry_reloaded"
	EventEntryReloadFailed    = "entry_reload_failed"
	EventBindingChanged       = "binding_changed"
)

// Event reports a change in the cache.
type Event struct {
	Kind       string    `json:"type"`
	Cache      string    `json:"cache"`
	Name       string    `json:"name,omitempty"`
	Path       string    `json:"path,omitempty"`
	State      string    `json:"state,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}

func (e Event) Type() string {
	return e.Kind
}

func (e Event) Timestamp() time.Time {
	return e.OccurredAt
}
