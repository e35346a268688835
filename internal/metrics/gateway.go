package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Local counters mirror the Prometheus series so the stats API can read
// current values (Prometheus metrics cannot be read back directly).
var (
	activeConnectionsCount int64
	messagesReceivedCount  int64
	messagesSentCount      int64
	activeGroupsCount      int64
	deliveryFailureCount   int64
	lastMessageTimestamp   int64
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "The number of active WebSocket connections",
	})

	ActiveGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_groups",
		Help: "The number of live room/topic groups",
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_online_users",
		Help: "The number of distinct users with at least one connection",
	})

	OnlineDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_online_devices",
		Help: "The number of devices with an authoritative connection",
	})

	// Message metrics
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_received_total",
		Help: "The total number of messages received from clients",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_sent_total",
		Help: "The total number of messages delivered to clients",
	})

	MessageSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_message_size_bytes",
		Help:    "Size of received messages in bytes",
		Buckets: prometheus.ExponentialBuckets(10, 10, 6),
	})

	// Event metrics
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_received_total",
		Help: "Client events received, labeled by event name",
	}, []string{"event"})

	EventProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_event_processing_duration_seconds",
		Help:    "Time spent handling a client event",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	CommandsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_commands_dispatched_total",
		Help: "Device commands forwarded to device topics",
	})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_delivery_failures_total",
		Help: "Per-member publish deliveries that failed",
	})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_auth_failures_total",
		Help: "Handshake authentication failures, labeled by reason",
	}, []string{"reason"})

	TelemetryWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_telemetry_writes_total",
		Help: "Events durably recorded by the telemetry store",
	})

	HTTPRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "HTTP requests served (non-WebSocket)",
	})
)

func IncrementActiveConnections() {
	ActiveConnections.Inc()
	atomic.AddInt64(&activeConnectionsCount, 1)
}

func DecrementActiveConnections() {
	ActiveConnections.Dec()
	atomic.AddInt64(&activeConnectionsCount, -1)
}

func GetActiveConnectionsCount() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

func IncrementMessagesReceived() {
	MessagesReceived.Inc()
	atomic.AddInt64(&messagesReceivedCount, 1)
	atomic.StoreInt64(&lastMessageTimestamp, time.Now().Unix())
}

func GetMessagesReceivedCount() int64 {
	return atomic.LoadInt64(&messagesReceivedCount)
}

func IncrementMessagesSent() {
	MessagesSent.Inc()
	atomic.AddInt64(&messagesSentCount, 1)
}

func GetMessagesSentCount() int64 {
	return atomic.LoadInt64(&messagesSentCount)
}

func IncrementActiveGroups() {
	ActiveGroups.Inc()
	atomic.AddInt64(&activeGroupsCount, 1)
}

func DecrementActiveGroups() {
	ActiveGroups.Dec()
	atomic.AddInt64(&activeGroupsCount, -1)
}

func GetActiveGroupsCount() int64 {
	return atomic.LoadInt64(&activeGroupsCount)
}

func IncrementDeliveryFailures() {
	DeliveryFailures.Inc()
	atomic.AddInt64(&deliveryFailureCount, 1)
}

func GetDeliveryFailureCount() int64 {
	return atomic.LoadInt64(&deliveryFailureCount)
}

// GetLastMessageTime reports when the gateway last saw client traffic.
func GetLastMessageTime() time.Time {
	ts := atomic.LoadInt64(&lastMessageTimestamp)
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}
