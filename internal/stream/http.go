package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Handler serves the event stream over HTTP.
type Handler struct {
	hub       *Hub
	keepAlive time.Duration
	buffer    int
}

// NewHandler creates stream handlers. keepAlive is the idle interval
// between keep-alive signals; buffer is each subscriber's capacity.
func NewHandler(hub *Hub, keepAlive time.Duration, buffer int) *Handler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Handler{hub: hub, keepAlive: keepAlive, buffer: buffer}
}

// ServeNDJSON writes one JSON event per line until the client goes away.
// An empty line is written whenever the stream has been idle for the
// keep-alive interval.
func (h *Handler) ServeNDJSON(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Warn("event stream cannot flush", "error", err)
		return
	}

	sub := h.hub.Subscribe(h.buffer)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case payload, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			ticker.Reset(h.keepAlive)

		case <-ticker.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// ServeWebSocket upgrades the connection and sends each event as a text
// frame. Pings are sent every keep-alive interval.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := h.hub.Subscribe(h.buffer)
	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump drains client frames so control messages are processed and
// ends the subscription when the client disconnects.
func (h *Handler) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer sub.Unsubscribe()

	pongWait := 2*h.keepAlive + writeWait
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(h.keepAlive)
	defer func() {
		ticker.Stop()
		sub.Unsubscribe()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
