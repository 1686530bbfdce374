package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu sync.RWMutex
	subs  map[string]bool
}

// clientMsg is any message a client sends.
type clientMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Since  int64  `json:"since"`
	Ping   int64  `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}
}

func (c *Client) subscribed(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[symbol]
}

func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		if c.hub.OnDrop != nil {
			c.hub.OnDrop()
		}
	}
}

func (c *Client) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: queued envelopes share one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		msg.Symbol = strings.ToUpper(strings.TrimSpace(msg.Symbol))

		switch msg.Type {
		case "subscribe":
			c.handleSubscribe(msg)
		case "unsubscribe":
			c.subMu.Lock()
			delete(c.subs, msg.Symbol)
			c.subMu.Unlock()
		case "realtime":
			if c.subscribed(msg.Symbol) && c.hub.OnCommand != nil {
				c.hub.OnCommand(msg.Symbol, msg.Type)
			}
		default:
			if msg.Ping > 0 {
				c.sendJSON(map[string]any{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": c.hub.clock.Now().UnixMilli(),
				})
			}
		}
	}
}

// handleSubscribe registers the subscription first so no envelope broadcast
// after the snapshot is missed. A client resuming with since gets only the
// envelopes it missed when the replay buffer still covers them.
func (c *Client) handleSubscribe(msg clientMsg) {
	if msg.Symbol == "" {
		c.sendError(msg.Symbol, "symbol is required")
		return
	}

	c.subMu.Lock()
	c.subs[msg.Symbol] = true
	c.subMu.Unlock()

	if msg.Since > 0 {
		if envs, ok := c.hub.Missed(msg.Symbol, msg.Since); ok {
			for _, env := range envs {
				c.enqueue(env)
			}
			log.Printf("[gateway] client resumed %s from seq %d (%d missed)", msg.Symbol, msg.Since, len(envs))
			return
		}
	}

	var env []byte
	ok := false
	if c.hub.Snapshot != nil {
		env, ok = c.hub.Snapshot(msg.Symbol)
	}
	if !ok {
		c.subMu.Lock()
		delete(c.subs, msg.Symbol)
		c.subMu.Unlock()
		c.sendError(msg.Symbol, "unknown symbol")
		return
	}
	c.enqueue(env)
	log.Printf("[gateway] client subscribed: symbol=%s", msg.Symbol)
}

func (c *Client) sendError(symbol, message string) {
	c.sendJSON(map[string]string{"type": "error", "symbol": symbol, "message": message})
}
