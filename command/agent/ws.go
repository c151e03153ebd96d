package agent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/scheduler"
	"github.com/pixelfleet/pixeld/version"
)

const (
	wsWriteTimeout = 10 * time.Second

	// wsSendDepth bounds the per-client outbound queue; slow clients
	// drop frames rather than stall the broker subscription.
	wsSendDepth = 64

	// wsRosterInterval drives the periodic full-roster refresh.
	wsRosterInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from anywhere on the LAN.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the envelope for every server-to-client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type wsInitPayload struct {
	Version string          `json:"version"`
	Devices []deviceSummary `json:"devices"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// offer enqueues without blocking; a full queue drops the frame.
func (c *wsClient) offer(m wsMessage) bool {
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

// wsHub fans daemon events out to connected UI clients.
type wsHub struct {
	srv    *HTTPServer
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newWSHub(srv *HTTPServer) *wsHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsHub{
		srv:     srv,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *wsHub) close() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

func (h *wsHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.srv.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{
		conn: conn,
		send: make(chan wsMessage, wsSendDepth),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	c.offer(wsMessage{Type: "init", Payload: wsInitPayload{
		Version: version.GetVersion().VersionNumber(),
		Devices: h.roster(),
	}})

	sub := h.srv.agent.broker.Subscribe("", 0)
	go h.writeLoop(c)
	go h.pumpEvents(c, sub)
	go h.readLoop(c, sub)
}

func (h *wsHub) roster() []deviceSummary {
	devices := h.srv.agent.registry.List()
	out := make([]deviceSummary, 0, len(devices))
	for _, dev := range devices {
		out = append(out, h.srv.summarize(dev))
	}
	return out
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop handles client frames; the only expected one is ping.
func (h *wsHub) readLoop(c *wsClient, sub *event.Subscription) {
	defer func() {
		sub.Unsubscribe()
		h.remove(c)
	}()
	for {
		var m wsMessage
		if err := c.conn.ReadJSON(&m); err != nil {
			return
		}
		if m.Type == "ping" {
			c.offer(wsMessage{Type: "pong"})
		}
	}
}

func (h *wsHub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsRosterInterval)
	defer ticker.Stop()
	for {
		select {
		case m := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(m); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.offer(wsMessage{Type: "devices_update", Payload: h.roster()})
		case <-c.done:
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// pumpEvents maps broker events to UI frames. A completed switch shows
// up as scene_switch in addition to the routine device_update.
func (h *wsHub) pumpEvents(c *wsClient, sub *event.Subscription) {
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			switch e.Type {
			case event.TypeState:
				c.offer(wsMessage{Type: "device_update", Payload: e.State})
				if e.State != nil && e.State.Status == string(scheduler.StatusRunning) &&
					e.State.ActiveScene == e.State.TargetScene && e.State.ActiveScene != "" {
					c.offer(wsMessage{Type: "scene_switch", Payload: e.State})
				}
			case event.TypeMetrics:
				c.offer(wsMessage{Type: "metrics_update", Payload: e.Metrics})
			case event.TypeError:
				c.offer(wsMessage{Type: "device_update", Payload: e.Error})
			}
		case <-c.done:
			return
		case <-h.ctx.Done():
			return
		}
	}
}

func contextWithGrace(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
