package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vzahanych/detection-dashboard/internal/dashboard"
	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/notify"
	"github.com/vzahanych/detection-dashboard/internal/selection"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 64
	maxClientInput = 512
)

// Upgrader upgrades /ws requests; the dashboard is served to the local network
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is one render call pushed to browsers
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type fileInfoPayload struct {
	Kind selection.Kind `json:"kind"`
	Name string         `json:"name,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub is the browser implementation of dashboard.View. Render calls are
// broadcast to every connected page as JSON; stream frames go to MJPEG
// subscribers. No method blocks on a slow client.
type Hub struct {
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	clients   map[*client]struct{}
	frameSubs map[chan []byte]struct{}
	streaming bool
	closed    bool
}

var _ dashboard.View = (*Hub)(nil)

func NewHub(log *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:    log,
		metrics:   m,
		clients:   make(map[*client]struct{}),
		frameSubs: make(map[chan []byte]struct{}),
	}
}

func (h *Hub) ShowFileInfo(kind selection.Kind, name string) {
	h.broadcast("file_info", fileInfoPayload{Kind: kind, Name: name})
}

func (h *Hub) HideFileInfo(kind selection.Kind) {
	h.broadcast("file_info_hidden", fileInfoPayload{Kind: kind})
}

func (h *Hub) ShowResult(r dashboard.ResultView) {
	h.broadcast("result", r)
}

func (h *Hub) HideResult() {
	h.broadcast("result_hidden", nil)
}

func (h *Hub) ShowStats(s dashboard.StatsView) {
	h.broadcast("stats", s)
}

func (h *Hub) SetLoading(on bool) {
	h.broadcast("loading", on)
}

func (h *Hub) SetThreshold(value float64) {
	h.broadcast("threshold", value)
}

func (h *Hub) SetTab(tab dashboard.Tab) {
	h.broadcast("tab", tab)
}

func (h *Hub) ShowNotification(n notify.Notification) {
	h.broadcast("notification", n)
}

func (h *Hub) UpdateNotification(n notify.Notification) {
	h.broadcast("notification_update", n)
}

func (h *Hub) RemoveNotification(id string) {
	h.broadcast("notification_removed", id)
}

// SetStreaming tells pages to show or hide the stream. Going idle ends
// every MJPEG response.
func (h *Hub) SetStreaming(on bool) {
	h.mu.Lock()
	h.streaming = on
	if !on {
		for ch := range h.frameSubs {
			close(ch)
			delete(h.frameSubs, ch)
		}
	}
	h.mu.Unlock()

	h.broadcast("streaming", on)
}

// ShowFrame hands the frame to every MJPEG subscriber. A subscriber that
// has not consumed the previous frame skips this one.
func (h *Hub) ShowFrame(jpeg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.frameSubs {
		select {
		case ch <- jpeg:
		default:
		}
	}
}

// subscribeFrames registers an MJPEG consumer. ok is false while idle.
func (h *Hub) subscribeFrames() (frames <-chan []byte, cancel func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.streaming || h.closed {
		return nil, nil, false
	}

	ch := make(chan []byte, 1)
	h.frameSubs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.frameSubs[ch]; ok {
			delete(h.frameSubs, ch)
			close(ch)
		}
	}, true
}

func (h *Hub) frameSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.frameSubs)
}

// ClientCount returns the number of connected pages
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(kind string, payload interface{}) {
	data, err := json.Marshal(Message{Type: kind, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to encode view message", "type", kind, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("View client is not keeping up, dropping message", "client", c.id, "type", kind)
		}
	}
}

// ServeWS upgrades the request and keeps the page subscribed until it
// disconnects. The first message carries the client id.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error", "error", err)
		return
	}

	cl := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(cl) {
		conn.Close()
		return
	}

	go h.writePump(cl)
	h.readPump(cl)
}

func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	hello, _ := json.Marshal(Message{Type: "hello", Payload: gin.H{"client_id": cl.id}})
	cl.send <- hello
	h.clients[cl] = struct{}{}
	h.metrics.SetViewClients(len(h.clients))
	h.logger.Info("View client connected", "client", cl.id, "total", len(h.clients))
	return true
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
	h.metrics.SetViewClients(len(h.clients))
	h.logger.Info("View client disconnected", "client", cl.id, "total", len(h.clients))
}

// readPump discards page input and detects disconnects
func (h *Hub) readPump(cl *client) {
	defer h.unregister(cl)

	cl.conn.SetReadLimit(maxClientInput)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("View client read error", "client", cl.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every page and ends every MJPEG response
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		close(cl.send)
		delete(h.clients, cl)
	}
	for ch := range h.frameSubs {
		close(ch)
		delete(h.frameSubs, ch)
	}
	h.metrics.SetViewClients(0)
}
