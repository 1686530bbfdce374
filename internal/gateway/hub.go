// Package gateway bridges charts to browser clients over WebSocket. Every
// render operation a chart performs is encoded as a JSON envelope and fanned
// out to the clients subscribed to that chart's symbol.
package gateway

import (
	"log"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
)

const defaultReplayCapacity = 500

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages WebSocket clients and per-symbol fan-out.
type Hub struct {
	clock clock.Clock

	mu      sync.RWMutex
	clients map[*Client]bool

	// Per-symbol monotonic sequence numbers for gap detection
	seqs map[string]int64

	// Per-symbol replay buffers for resume after reconnect
	replay    map[string]*ReplayBuffer
	replayCap int

	// Snapshot returns a full-state envelope for symbol, built with
	// SnapshotEnvelope. ok is false for an unknown symbol.
	Snapshot func(symbol string) (env []byte, ok bool)

	// OnCommand receives client commands such as "realtime".
	OnCommand func(symbol, command string)

	// OnClients is called with the client count after every connect or
	// disconnect; OnDrop when a slow client misses an envelope.
	OnClients func(n int)
	OnDrop    func()
}

// NewHub creates a Hub. A nil clock means the wall clock.
func NewHub(clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		clock:     clk,
		clients:   make(map[*Client]bool),
		seqs:      make(map[string]int64),
		replay:    make(map[string]*ReplayBuffer),
		replayCap: defaultReplayCapacity,
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := newClient(h, conn)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClients != nil {
		h.OnClients(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)

	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last sequence number broadcast for symbol.
func (h *Hub) Seq(symbol string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[symbol]
}

// Missed returns the buffered envelopes for symbol after seq since. ok is
// false when the buffer no longer covers the gap and a snapshot is needed.
func (h *Hub) Missed(symbol string, since int64) (envs [][]byte, ok bool) {
	h.mu.RLock()
	rb := h.replay[symbol]
	current := h.seqs[symbol]
	h.mu.RUnlock()

	if since >= current {
		return nil, since == current
	}
	if rb == nil {
		return nil, false
	}
	entries := rb.Range(since+1, current)
	if int64(len(entries)) != current-since {
		return nil, false
	}
	envs = make([][]byte, len(entries))
	for i, e := range entries {
		envs[i] = e.Data
	}
	return envs, true
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
