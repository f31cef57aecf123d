package handlers

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/pkg/logging"
	"golang.org/x/net/websocket"
)

type liveCallLister interface {
	List(ctx context.Context) ([]calls.LiveCall, error)
}

// CallStreamHandler pushes live call snapshots to dashboard websocket
// clients. A snapshot is sent on connect and whenever the set of live calls
// changes; clients may send {"type":"ping"} keepalives.
type CallStreamHandler struct {
	live     liveCallLister
	interval time.Duration
	logger   *logging.Logger
}

func NewCallStreamHandler(live liveCallLister, logger *logging.Logger) *CallStreamHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallStreamHandler{
		live:     live,
		interval: 2 * time.Second,
		logger:   logger.Component("call-stream"),
	}
}

// StreamMessage is one websocket frame sent to the dashboard.
type StreamMessage struct {
	Type      string           `json:"type"` // "snapshot", "pong", "error"
	Calls     []calls.LiveCall `json:"calls,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
}

type streamClientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades GET /admin/calls/stream to a websocket.
func (h *CallStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, r)
	}).ServeHTTP(w, r)
}

func (h *CallStreamHandler) serve(conn *websocket.Conn, r *http.Request) {
	defer conn.Close()
	ctx := r.Context()

	// Drain client frames so keepalives do not back up the connection.
	go func() {
		for {
			var msg streamClientMessage
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				_ = websocket.JSON.Send(conn, StreamMessage{Type: "pong"})
			}
		}
	}()

	var last []calls.LiveCall
	send := func(force bool) bool {
		snapshot, err := h.live.List(ctx)
		if err != nil {
			h.logger.Error("live call snapshot failed", "error", err)
			_ = websocket.JSON.Send(conn, StreamMessage{Type: "error"})
			return true
		}
		if !force && reflect.DeepEqual(snapshot, last) {
			return true
		}
		last = snapshot
		if snapshot == nil {
			snapshot = []calls.LiveCall{}
		}
		return websocket.JSON.Send(conn, StreamMessage{
			Type:      "snapshot",
			Calls:     snapshot,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}) == nil
	}

	if !send(true) {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send(false) {
				return
			}
		}
	}
}
