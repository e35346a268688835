package gateway

import (
	"github.com/touchlink/gateway/internal/domain"
	"github.com/touchlink/gateway/internal/metrics"
	"go.uber.org/zap"
)

// BroadcastTopic is the pseudo-topic reported to taps for hub-wide sends.
const BroadcastTopic = "*"

// PublishTap observes every publish after delivery. Taps must not block;
// the telemetry recorder hands the write to a worker pool internally.
type PublishTap func(topic, event string, data any)

// AddTap registers an observer for all publishes.
func (h *Hub) AddTap(tap PublishTap) {
	h.tapMu.Lock()
	h.taps = append(h.taps, tap)
	h.tapMu.Unlock()
}

// joinLocked adds connID to topic. Caller holds h.mu.
func (h *Hub) joinLocked(connID, topic string) {
	members := h.groups[topic]
	if members == nil {
		members = make(map[string]struct{})
		h.groups[topic] = members
		metrics.IncrementActiveGroups()
	}
	members[connID] = struct{}{}
}

// Join adds a registered connection to a topic, creating the group lazily.
func (h *Hub) Join(connID, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return ErrNotRegistered
	}
	h.joinLocked(connID, topic)
	return nil
}

// Leave removes a connection from a topic. Leaving a topic the connection
// never joined is a no-op. Empty groups are dropped immediately.
func (h *Hub) Leave(connID, topic string) {
	h.mu.Lock()
	members, ok := h.groups[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, in := members[connID]; !in {
		h.mu.Unlock()
		return
	}
	delete(members, connID)
	empty := len(members) == 0
	if empty {
		delete(h.groups, topic)
	}
	h.mu.Unlock()

	if empty {
		metrics.DecrementActiveGroups()
	}
}

// Members snapshots the current member connection IDs of a topic.
func (h *Hub) Members(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.groups[topic]))
	for connID := range h.groups[topic] {
		out = append(out, connID)
	}
	return out
}

// Publish delivers event/data to every member of topic as of the moment of
// the call. Delivery is fire-and-forget per member: a failed send tears
// down that member only and never aborts the loop. Returns the number of
// successful deliveries.
func (h *Hub) Publish(topic, event string, data any) int {
	return h.publish(topic, "", event, data)
}

// PublishExcept is Publish minus one connection, typically the sender.
func (h *Hub) PublishExcept(topic, exceptConnID, event string, data any) int {
	return h.publish(topic, exceptConnID, event, data)
}

func (h *Hub) publish(topic, exceptConnID, event string, data any) int {
	h.mu.RLock()
	members := make([]domain.ClientConnection, 0, len(h.groups[topic]))
	for connID := range h.groups[topic] {
		if connID == exceptConnID {
			continue
		}
		if conn, ok := h.conns[connID]; ok {
			members = append(members, conn)
		}
	}
	h.mu.RUnlock()

	delivered := h.deliver(members, topic, event, data)
	h.notifyTaps(topic, event, data)
	return delivered
}

// Broadcast delivers event/data to every live connection, optionally
// skipping one. Presence changes use this.
func (h *Hub) Broadcast(exceptConnID, event string, data any) int {
	h.mu.RLock()
	members := make([]domain.ClientConnection, 0, len(h.conns))
	for connID, conn := range h.conns {
		if connID == exceptConnID {
			continue
		}
		members = append(members, conn)
	}
	h.mu.RUnlock()

	delivered := h.deliver(members, BroadcastTopic, event, data)
	h.notifyTaps(BroadcastTopic, event, data)
	return delivered
}

func (h *Hub) deliver(members []domain.ClientConnection, topic, event string, data any) int {
	delivered := 0
	for _, conn := range members {
		if err := conn.SendEvent(event, data); err != nil {
			metrics.IncrementDeliveryFailures()
			h.log.Debug("Delivery failed, tearing down member",
				zap.String("topic", topic),
				zap.String("event", event),
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
			conn.Close()
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) notifyTaps(topic, event string, data any) {
	h.tapMu.RLock()
	taps := h.taps
	h.tapMu.RUnlock()
	for _, tap := range taps {
		tap(topic, event, data)
	}
}
