package collaboration

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"notesync/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	maxFrameBytes  = 8 << 20
)

// frame is one outbound websocket message.
type frame struct {
	kind int
	data []byte
}

// Client is one websocket connection attached to a note.
type Client struct {
	*models.Session
	conn *websocket.Conn
	send chan frame
	once sync.Once
}

func NewClient(session *models.Session, conn *websocket.Conn) *Client {
	return &Client{
		Session: session,
		conn:    conn,
		send:    make(chan frame, sendBufferSize),
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// HubImpl owns the live connections and implements Transport over them.
type HubImpl struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *HubImpl {
	return &HubImpl{
		clients: make(map[string]*Client),
		log:     log.Named("hub"),
	}
}

func (h *HubImpl) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug("client registered", zap.String("conn_id", c.ID), zap.String("note_id", c.NoteID), zap.Int("clients", total))
}

// Unregister drops the client and closes its outbound queue, which ends the
// write pump. Safe to call more than once.
func (h *HubImpl) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[connID]; ok {
		delete(h.clients, connID)
		c.closeSend()
	}
}

// Send delivers a JSON control event to one connection.
func (h *HubImpl) Send(connID, event string, payload any) error {
	data, err := json.Marshal(models.Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return h.enqueue(connID, frame{kind: websocket.TextMessage, data: data})
}

// SendBinary delivers a replicated-state update to one connection.
func (h *HubImpl) SendBinary(connID string, data []byte) error {
	return h.enqueue(connID, frame{kind: websocket.BinaryMessage, data: data})
}

// SendNoteUpdate relays a replicated update to connID only when that socket was
// opened on noteID. Sockets that entered the room through a join_note frame
// get presence events, never another note's document bytes.
func (h *HubImpl) SendNoteUpdate(connID, noteID string, data []byte) error {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok && c.NoteID != noteID {
		return nil
	}
	return h.SendBinary(connID, data)
}

// enqueue never blocks: a client whose buffer is full is evicted. Queues are
// only closed under the write lock, so holding the read lock makes the send safe.
func (h *HubImpl) enqueue(connID string, f frame) error {
	h.mu.RLock()
	c, ok := h.clients[connID]
	full := false
	if ok {
		select {
		case c.send <- f:
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	switch {
	case !ok:
		return fmt.Errorf("connection %s is not registered", connID)
	case full:
		h.log.Warn("client send buffer full, dropping connection", zap.String("conn_id", connID))
		h.Unregister(connID)
		return fmt.Errorf("connection %s send buffer full", connID)
	}
	return nil
}

// Clients returns the number of registered connections.
func (h *HubImpl) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connection, which unwinds all pumps.
func (h *HubImpl) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	for _, c := range clients {
		c.closeSend()
	}
	h.mu.Unlock()

	h.log.Info("✓ Hub closed", zap.Int("clients", len(clients)))
}

// ReadPump reads frames until the connection fails or closes. Binary frames
// carry replicated updates; text frames carry JSON envelopes.
func (c *Client) ReadPump(onBinary func([]byte), onControl func(models.Envelope, error)) error {
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.LastActiveAt = time.Now()
		return nil
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
		c.LastActiveAt = time.Now()

		switch kind {
		case websocket.BinaryMessage:
			onBinary(message)
		case websocket.TextMessage:
			var env models.Envelope
			err := json.Unmarshal(message, &env)
			onControl(env, err)
		}
	}
}

// WritePump drains the outbound queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
