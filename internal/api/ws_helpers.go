package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"watchcache/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
)

type wsStreamConfig[T any] struct {
	AllowedOrigins []string
	Output         <-chan T
	// BuildPayload converts a value into a frame. Returning false skips it.
	BuildPayload func(T) (any, bool)
	WriteTimeout time.Duration
	Logger       *logging.Logger
	// PreWrite runs on the upgraded connection before streaming starts.
	PreWrite func(*websocket.Conn) error
}

type wsError struct {
	Status    int
	CloseCode int
	Message   string
	Err       error
}

var errWSNilOutput = errors.New("websocket output channel is nil")

type wsWriteLoop struct {
	Conn     *websocket.Conn
	stopOnce sync.Once
	done     chan struct{}
}

func (loop *wsWriteLoop) Stop() {
	if loop == nil {
		return
	}
	loop.stopOnce.Do(func() {
		close(loop.done)
	})
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	var header http.Header
	if id := w.Header().Get(requestIDHeader); id != "" {
		header = http.Header{requestIDHeader: []string{id}}
	}
	return upgrader.Upgrade(w, r, header)
}

func startWSWriteLoop[T any](w http.ResponseWriter, r *http.Request, config wsStreamConfig[T]) (*wsWriteLoop, error) {
	if config.Output == nil {
		return nil, errWSNilOutput
	}

	conn, err := upgradeWebSocket(w, r, config.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	if config.PreWrite != nil {
		if err := config.PreWrite(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = wsWriteTimeout
	}

	buildPayload := config.BuildPayload
	if buildPayload == nil {
		buildPayload = func(value T) (any, bool) {
			return value, true
		}
	}

	loop := &wsWriteLoop{
		Conn: conn,
		done: make(chan struct{}),
	}

	go func() {
		for {
			select {
			case value, ok := <-config.Output:
				if !ok {
					writeWSClose(conn, websocket.CloseGoingAway, "stream closed")
					return
				}
				payload, ok := buildPayload(value)
				if !ok {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					return
				}
			case <-loop.done:
				return
			}
		}
	}()

	return loop, nil
}

// serveWSStream upgrades the request and forwards Output until either side
// goes away. Incoming frames are read and discarded.
func serveWSStream[T any](w http.ResponseWriter, r *http.Request, config wsStreamConfig[T]) {
	if config.Output == nil {
		return
	}

	loop, err := startWSWriteLoop(w, r, config)
	if err != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer loop.Stop()

	conn := loop.Conn
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeWSError reports a failure before the upgrade as a plain HTTP error.
func writeWSError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, wsErr wsError) {
	status := wsErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	reason := strings.TrimSpace(wsErr.Message)
	if reason == "" {
		reason = http.StatusText(status)
	}
	logWSError(logger, r, wsError{
		Status:  status,
		Message: reason,
		Err:     wsErr.Err,
	})
	http.Error(w, reason, status)
}

func writeWSClose(conn *websocket.Conn, closeCode int, reason string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, truncateCloseReason(reason)), deadline)
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	if logger == nil || r == nil {
		return
	}

	closeCode := wsErr.CloseCode
	if closeCode == 0 {
		closeCode = closeCodeForStatus(wsErr.Status)
	}

	fields := map[string]string{
		"path":       r.URL.Path,
		"status":     strconv.Itoa(wsErr.Status),
		"close_code": strconv.Itoa(closeCode),
		"message":    wsErr.Message,
		"request_id": requestIDFrom(r.Context()),
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if wsErr.Err != nil {
		fields["error"] = wsErr.Err.Error()
	}

	if wsErr.Status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
	} else {
		logger.Warn("websocket error", fields)
	}
}

func closeCodeForStatus(status int) int {
	switch {
	case status == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

func truncateCloseReason(reason string) string {
	const maxReasonBytes = 123
	if len(reason) <= maxReasonBytes {
		return reason
	}
	return reason[:maxReasonBytes]
}
