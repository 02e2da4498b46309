package messaging

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	// writeWait bounds a single frame write to a subscriber.
	writeWait = 10 * time.Second
	// sendBuffer is how many events a subscriber may fall behind before
	// it is dropped.
	sendBuffer = 16
)

// client owns one websocket connection. Only its writer goroutine writes
// to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func (c *client) writeLoop() {
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("chat write failed", "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close stops the writer and closes the connection, which also ends the
// read loop in Serve.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type hub struct {
	requestID string
	clients   map[*client]bool
	mu        sync.Mutex
}

// broadcast queues evt for every subscriber without blocking. A subscriber
// whose buffer is full is disconnected.
func (h *hub) broadcast(evt wsEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("encoding chat event", "showing_request_id", h.requestID, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slog.Warn("dropping slow chat subscriber", "showing_request_id", h.requestID)
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

// Hubs fans chat events out to websocket subscribers, one hub per
// showing request.
type Hubs struct {
	mu       sync.Mutex
	hubs     map[string]*hub
	upgrader websocket.Upgrader
}

func NewHubs() *Hubs {
	return &Hubs{
		hubs: make(map[string]*hub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (hs *Hubs) attach(requestID string, c *client) *hub {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h, ok := hs.hubs[requestID]
	if !ok {
		h = &hub{requestID: requestID, clients: make(map[*client]bool)}
		hs.hubs[requestID] = h
	}
	h.register(c)
	return h
}

func (hs *Hubs) release(requestID string, h *hub, c *client) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if h.unregister(c) == 0 && hs.hubs[requestID] == h {
		delete(hs.hubs, requestID)
	}
}

func (hs *Hubs) publish(requestID, typ string, data any) {
	hs.mu.Lock()
	h, ok := hs.hubs[requestID]
	hs.mu.Unlock()
	if !ok {
		return
	}
	h.broadcast(wsEvent{Type: typ, Data: data})
}

// Serve upgrades the connection and streams events for requestID until
// the client goes away. Client frames are read and discarded.
func (hs *Hubs) Serve(w http.ResponseWriter, r *http.Request, requestID, accountID string) error {
	ws, err := hs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newClient(ws)
	go c.writeLoop()
	h := hs.attach(requestID, c)
	h.broadcast(wsEvent{Type: "presence_join", Data: map[string]string{"account_id": accountID}})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	hs.release(requestID, h, c)
	c.close()
	hs.publish(requestID, "presence_leave", map[string]string{"account_id": accountID})
	return nil
}
