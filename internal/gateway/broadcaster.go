package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Broadcast encodes payload as a typed envelope for symbol, stores it for
// resume and sends it to every client subscribed to symbol. Slow clients
// drop the envelope rather than block the chart.
func (h *Hub) Broadcast(symbol, typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s for %s: %w", typ, symbol, err)
	}
	now := h.clock.Now().UTC()

	h.mu.Lock()
	h.seqs[symbol]++
	seq := h.seqs[symbol]
	rb, exists := h.replay[symbol]
	if !exists {
		rb = NewReplayBuffer(h.replayCap)
		h.replay[symbol] = rb
	}
	h.mu.Unlock()

	buf := buildEnvelope(typ, symbol, seq, now, data)
	rb.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.subscribed(symbol) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	return nil
}

// SnapshotEnvelope encodes a full-state envelope for symbol stamped with the
// current sequence number. Clients discard envelopes at or below it.
func (h *Hub) SnapshotEnvelope(symbol string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot for %s: %w", symbol, err)
	}
	return buildEnvelope("snapshot", symbol, h.Seq(symbol), h.clock.Now().UTC(), data), nil
}

// buildEnvelope hand-crafts {"type":..,"symbol":..,"seq":N,"ts":..,"data":..}.
// symbol and typ are plain identifiers and are written unescaped.
func buildEnvelope(typ, symbol string, seq int64, now time.Time, data []byte) []byte {
	buf := make([]byte, 0, len(typ)+len(symbol)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","symbol":"`...)
	buf = append(buf, symbol...)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}
