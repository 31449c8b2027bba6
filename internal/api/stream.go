package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/scenegen/internal/events"
)

const (
	streamSendBuffer   = 64
	streamWriteTimeout = 10 * time.Second
)

// streamClient is one websocket subscriber. Only its writer goroutine writes
// to conn.
type streamClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *streamClient) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// StreamHub fans run events out to websocket subscribers of each run.
// It implements events.EventHandler; HandleEvent never blocks, and a
// subscriber whose buffer is full is disconnected.
type StreamHub struct {
	runs     RunManager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]map[*streamClient]struct{}
	closed  bool
}

var _ events.EventHandler = (*StreamHub)(nil)

// NewStreamHub creates a StreamHub.
func NewStreamHub(runs RunManager, logger *slog.Logger) *StreamHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHub{
		runs:   runs,
		logger: logger.With("component", "stream_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]map[*streamClient]struct{}),
	}
}

// HandleEvent implements events.EventHandler.
func (h *StreamHub) HandleEvent(ctx context.Context, event *events.RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers := h.clients[event.RunID]
	for c := range subscribers {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow stream subscriber", "run_id", event.RunID)
			delete(subscribers, c)
			c.closeSend()
			continue
		}
		if event.Terminal() {
			delete(subscribers, c)
			c.closeSend()
		}
	}
	if len(subscribers) == 0 {
		delete(h.clients, event.RunID)
	}
	return nil
}

// HandleStream handles GET /api/runs/{id}/stream. The first message is the
// current run view; every later message is a run event until the run finishes.
func (h *StreamHub) HandleStream(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "Invalid run ID")
		return
	}
	view, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get run")
		return
	}
	initial, err := events.NewRunEvent(events.TypeRunSnapshot, id, view.Status, view)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to encode run")
		return
	}
	data, err := json.Marshal(initial)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to encode run")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade stream connection", "run_id", id, "error", err)
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}
	client.send <- data
	if !view.State.Terminal() && h.subscribe(id, client) {
		h.logger.Debug("stream subscriber connected", "run_id", id)
		h.closeIfFinished(r.Context(), id, client)
	} else {
		client.closeSend()
	}

	go h.writeLoop(client)
	h.readLoop(id, client)
}

func (h *StreamHub) subscribe(id uuid.UUID, c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[id] == nil {
		h.clients[id] = make(map[*streamClient]struct{})
	}
	h.clients[id][c] = struct{}{}
	return true
}

// closeIfFinished handles a run that finished between the first GetRun and
// subscribe, whose terminal event was emitted before c was registered. The
// client gets a final snapshot and is closed.
func (h *StreamHub) closeIfFinished(ctx context.Context, id uuid.UUID, c *streamClient) {
	view, err := h.runs.GetRun(ctx, id)
	if err == nil && !view.State.Terminal() {
		return
	}

	var data []byte
	if err == nil {
		if final, eventErr := events.NewRunEvent(events.TypeRunSnapshot, id, view.Status, view); eventErr == nil {
			data, _ = json.Marshal(final)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers := h.clients[id]
	if _, ok := subscribers[c]; !ok {
		// HandleEvent already delivered the terminal event and closed c.
		return
	}
	delete(subscribers, c)
	if len(subscribers) == 0 {
		delete(h.clients, id)
	}
	if data != nil {
		select {
		case c.send <- data:
		default:
		}
	}
	c.closeSend()
}

func (h *StreamHub) unsubscribe(id uuid.UUID, c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subscribers, ok := h.clients[id]; ok {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.clients, id)
		}
	}
	c.closeSend()
}

// readLoop discards client messages until the connection fails.
func (h *StreamHub) readLoop(id uuid.UUID, c *streamClient) {
	defer h.unsubscribe(id, c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("stream read failed", "run_id", id, "error", err)
			}
			return
		}
	}
}

// writeLoop drains the send buffer, then closes the connection.
func (h *StreamHub) writeLoop(c *streamClient) {
	defer func() { _ = c.conn.Close() }()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("stream write failed", "error", err)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

// Close disconnects every subscriber and rejects new ones.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, subscribers := range h.clients {
		for c := range subscribers {
			c.closeSend()
		}
		delete(h.clients, id)
	}
}
