package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"watchcache/internal/binder"
	"watchcache/internal/filecache"
	"watchcache/internal/logging"
	"watchcache/internal/parse"
	"watchcache/internal/refresh"
)

const entriesIndexKey = "entries"

type RestHandler struct {
	Cache  *filecache.Cache
	Logger *logging.Logger

	index *refresh.Cache[[]filecache.EntryInfo]
}

type bindingSummary struct {
	State string `json:"state"`
	Dir   string `json:"dir,omitempty"`
	Child string `json:"child,omitempty"`
	Level int    `json:"level"`
}

type entriesResponse struct {
	Cache   string                `json:"cache"`
	Root    string                `json:"root"`
	Binding bindingSummary        `json:"binding"`
	Entries []filecache.EntryInfo `json:"entries"`
}

type entryResponse struct {
	filecache.EntryInfo
	Value json.RawMessage `json:"value"`
}

func (h *RestHandler) requireCache() *apiError {
	if h.Cache == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "cache unavailable"}
	}
	return nil
}

// watchIndex drops the cached index on every cache event, including a
// scheduled reload.
func (h *RestHandler) watchIndex() {
	if h.Cache == nil {
		return
	}
	events, _ := h.Cache.Subscribe()
	go func() {
		for range events {
			h.index.Invalidate(entriesIndexKey)
		}
	}()
}

func (h *RestHandler) handleEntries(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireCache(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	entries, err := h.index.GetOrCreate(entriesIndexKey, func() ([]filecache.EntryInfo, error) {
		return h.Cache.Entries(), nil
	})
	if err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to list entries"}
	}
	writeJSON(w, http.StatusOK, entriesResponse{
		Cache:   h.Cache.Name(),
		Root:    h.Cache.Root(),
		Binding: summarizeBinding(h.Cache.Binding()),
		Entries: h.withLiveStatus(entries),
	})
	return nil
}

// withLiveStatus copies the cached index and replaces each status with the
// current one. A reload marker is cleared after its final event, so a cached
// status can lag behind.
func (h *RestHandler) withLiveStatus(cached []filecache.EntryInfo) []filecache.EntryInfo {
	entries := make([]filecache.EntryInfo, len(cached))
	copy(entries, cached)
	for i := range entries {
		if status, err := h.Cache.Status(entries[i].Name); err == nil {
			entries[i].Status = status
		}
	}
	return entries
}

func (h *RestHandler) handleEntry(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireCache(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	name := r.PathValue("name")
	info, err := h.Cache.Info(name)
	if err != nil {
		return lookupError(err)
	}
	value, err := h.Cache.Value(name)
	if err != nil {
		return lookupError(err)
	}
	encoded, err := parse.MarshalJSON(value)
	if err != nil {
		h.Logger.Warn("encode entry failed", map[string]string{
			"name":  info.Name,
			"error": err.Error(),
		})
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to encode entry"}
	}
	writeJSON(w, http.StatusOK, entryResponse{EntryInfo: info, Value: json.RawMessage(encoded)})
	return nil
}

func lookupError(err error) *apiError {
	switch {
	case errors.Is(err, filecache.ErrNotWatched):
		return &apiError{Status: http.StatusNotFound, Message: "entry not found"}
	case errors.Is(err, filecache.ErrInvalidName):
		return &apiError{Status: http.StatusBadRequest, Message: "invalid entry name"}
	case errors.Is(err, filecache.ErrClosed):
		return &apiError{Status: http.StatusServiceUnavailable, Message: "cache closed"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}

func summarizeBinding(binding binder.Binding) bindingSummary {
	return bindingSummary{
		State: binding.State.String(),
		Dir:   binding.Dir,
		Child: binding.Child,
		Level: binding.Level,
	}
}

type logQuery struct {
	Level logging.Level
	Since *time.Time
	Limit int
}
