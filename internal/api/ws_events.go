package api

import (
	"net/http"
	"strconv"
	"strings"

	"watchcache/internal/filecache"
	"watchcache/internal/logging"

	"github.com/gorilla/websocket"
)

// cacheEventsHandler streams cache events over a websocket.
//
// Query parameters:
//
//	type     only forward events of this type (repeatable)
//	name     only forward events for this entry
//	history  replay buffered events first when true
type cacheEventsHandler struct {
	Cache          *filecache.Cache
	Logger         *logging.Logger
	AllowedOrigins []string
}

type eventFilter struct {
	types map[string]struct{}
	name  string
}

func (f eventFilter) match(change filecache.Event) bool {
	if len(f.types) > 0 {
		if _, ok := f.types[change.Kind]; !ok {
			return false
		}
	}
	if f.name != "" && change.Name != f.name {
		return false
	}
	return true
}

func (h *cacheEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeWSError(w, r, h.Logger, wsError{
			Status:  http.StatusServiceUnavailable,
			Message: "cache unavailable",
		})
		return
	}

	values := r.URL.Query()
	filter := eventFilter{name: strings.TrimSpace(values.Get("name"))}
	for _, kind := range values["type"] {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		if filter.types == nil {
			filter.types = make(map[string]struct{})
		}
		filter.types[kind] = struct{}{}
	}
	replay := false
	if raw := strings.TrimSpace(values.Get("history")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeWSError(w, r, h.Logger, wsError{
				Status:  http.StatusBadRequest,
				Message: "invalid history flag",
				Err:     err,
			})
			return
		}
		replay = parsed
	}

	output, cancel := h.Cache.Subscribe()
	defer cancel()

	var preWrite func(*websocket.Conn) error
	if replay {
		preWrite = func(conn *websocket.Conn) error {
			for _, change := range h.Cache.RecentEvents() {
				if !filter.match(change) {
					continue
				}
				if err := conn.WriteJSON(change); err != nil {
					return err
				}
			}
			return nil
		}
	}

	serveWSStream(w, r, wsStreamConfig[filecache.Event]{
		AllowedOrigins: h.AllowedOrigins,
		Output:         output,
		Logger:         h.Logger,
		PreWrite:       preWrite,
		BuildPayload: func(change filecache.Event) (any, bool) {
			return change, filter.match(change)
		},
	})
}
