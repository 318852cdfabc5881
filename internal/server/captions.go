package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quizquest/internal/speech/playback"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one caption update pushed to websocket clients.
type Event struct {
	Type       string `json:"type"` // play, pause, stop or highlight
	CreationID string `json:"creationId,omitempty"`
	Offset     int    `json:"offset"`
	Word       string `json:"word,omitempty"`
}

// Hub fans caption events of the local reading session out to every
// connected websocket client.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	last    *Event
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Observer returns playback notifications that publish to the hub.
func (h *Hub) Observer(creationID string, c func() *playback.Controller) playback.Observer {
	offset := func() int {
		if ctrl := c(); ctrl != nil {
			return ctrl.Offset()
		}
		return 0
	}
	return playback.Observer{
		OnPlay:  func() { h.Publish(Event{Type: "play", CreationID: creationID, Offset: offset()}) },
		OnPause: func() { h.Publish(Event{Type: "pause", CreationID: creationID, Offset: offset()}) },
		OnStop:  func() { h.Publish(Event{Type: "stop", CreationID: creationID}) },
		OnHighlightChange: func(hl playback.Highlight) {
			h.Publish(Event{Type: "highlight", CreationID: creationID, Offset: hl.Offset, Word: hl.Word})
		},
	}
}

// Publish sends e to all clients. Clients that cannot keep up are dropped.
func (h *Hub) Publish(e Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		logrus.WithError(err).Warn("Failed to encode caption event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &e
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logrus.Warn("Caption client too slow, disconnecting")
			h.remove(c)
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.remove(c)
	}
}

// remove drops c; callers hold h.mu.
func (h *Hub) remove(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

// serve upgrades the request and streams events until the client leaves.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		// late joiners start from the current word
		if msg, err := json.Marshal(h.last); err == nil {
			c.send <- msg
		}
	}
	h.mu.Unlock()
	logrus.WithField("remote", r.RemoteAddr).Info("Caption client connected")

	go c.writeLoop()

	// reads only detect the close; clients have nothing to say
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	h.remove(c)
	h.mu.Unlock()
	logrus.WithField("remote", r.RemoteAddr).Info("Caption client disconnected")
	return nil
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logrus.WithError(err).Debug("ws write error")
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
