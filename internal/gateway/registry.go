package gateway

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/touchlink/gateway/internal/domain"
	"github.com/touchlink/gateway/internal/logger"
	"github.com/touchlink/gateway/internal/metrics"
	"go.uber.org/zap"
)

// ErrNotRegistered is returned by group operations on unknown connections.
var ErrNotRegistered = errors.New("connection is not registered")

// Hub owns the connection registry, the user/device indexes, and topic
// membership. One RWMutex guards all four maps so that teardown removes a
// connection from everything in a single critical section.
type Hub struct {
	mu          sync.RWMutex
	conns       map[string]domain.ClientConnection
	userIndex   map[string]map[string]struct{} // userID -> connection IDs
	deviceIndex map[string]string              // deviceID -> authoritative connection ID
	groups      map[string]map[string]struct{} // topic -> member connection IDs

	tapMu sync.RWMutex
	taps  []PublishTap

	startTime time.Time
	log       *zap.Logger
}

var _ domain.ConnectionManager = (*Hub)(nil)
var _ domain.SessionDirectory = (*Hub)(nil)
var _ domain.Publisher = (*Hub)(nil)
var _ domain.GroupManager = (*Hub)(nil)
var _ domain.NodeInterface = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:       make(map[string]domain.ClientConnection),
		userIndex:   make(map[string]map[string]struct{}),
		deviceIndex: make(map[string]string),
		groups:      make(map[string]map[string]struct{}),
		startTime:   time.Now(),
		log:         logger.New("hub"),
	}
}

// Register adds an authenticated connection to the registry, indexes it by
// user, auto-joins its user topic, and binds its device when one was
// announced at handshake. Registering the same connection ID twice is a
// no-op.
func (h *Hub) Register(conn domain.ClientConnection) {
	connID := conn.ID()

	h.mu.Lock()
	if _, dup := h.conns[connID]; dup {
		h.mu.Unlock()
		return
	}
	h.conns[connID] = conn

	set := h.userIndex[conn.UserID()]
	if set == nil {
		set = make(map[string]struct{})
		h.userIndex[conn.UserID()] = set
	}
	set[connID] = struct{}{}

	h.joinLocked(connID, UserTopic(conn.UserID()))

	var prev string
	if deviceID := conn.DeviceID(); deviceID != "" {
		prev = h.deviceIndex[deviceID]
		h.deviceIndex[deviceID] = connID
		h.joinLocked(connID, DeviceTopic(deviceID))
	}
	users, devices := len(h.userIndex), len(h.deviceIndex)
	h.mu.Unlock()

	metrics.OnlineUsers.Set(float64(users))
	metrics.OnlineDevices.Set(float64(devices))

	if prev != "" && prev != connID {
		// The newer binding wins the authoritative slot. The older
		// connection stays alive and keeps its device topic membership.
		h.log.Info("Device binding superseded",
			zap.String("device_id", conn.DeviceID()),
			zap.String("previous_conn", prev),
			zap.String("new_conn", connID))
	}

	h.log.Debug("Connection registered",
		zap.String("conn_id", connID),
		zap.String("user_id", conn.UserID()),
		zap.String("device_id", conn.DeviceID()))
}

// Unregister removes the connection from the registry, both indexes, and
// every group it joined, all under one write lock. Unregistering an
// already-removed connection is a silent no-op.
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, connID)

	if set := h.userIndex[conn.UserID()]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.userIndex, conn.UserID())
		}
	}

	// The device slot is released only while this connection still owns
	// it; a superseded binding must not evict the newer owner.
	if deviceID := conn.DeviceID(); deviceID != "" && h.deviceIndex[deviceID] == connID {
		delete(h.deviceIndex, deviceID)
	}

	removedGroups := 0
	for topic, members := range h.groups {
		if _, in := members[connID]; in {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.groups, topic)
				removedGroups++
			}
		}
	}
	users, devices := len(h.userIndex), len(h.deviceIndex)
	h.mu.Unlock()

	for i := 0; i < removedGroups; i++ {
		metrics.DecrementActiveGroups()
	}
	metrics.OnlineUsers.Set(float64(users))
	metrics.OnlineDevices.Set(float64(devices))

	h.log.Debug("Connection unregistered",
		zap.String("conn_id", connID),
		zap.String("user_id", conn.UserID()))
	return true
}

// BindDevice makes connID the authoritative connection for deviceID and
// joins it to the device topic. The previous holder, if any different, is
// returned; it remains registered and keeps its topic memberships.
func (h *Hub) BindDevice(connID, deviceID string) (string, error) {
	h.mu.Lock()
	if _, ok := h.conns[connID]; !ok {
		h.mu.Unlock()
		return "", ErrNotRegistered
	}
	prev := h.deviceIndex[deviceID]
	h.deviceIndex[deviceID] = connID
	h.joinLocked(connID, DeviceTopic(deviceID))
	devices := len(h.deviceIndex)
	h.mu.Unlock()

	metrics.OnlineDevices.Set(float64(devices))
	if prev == connID {
		prev = ""
	}
	return prev, nil
}

// Connection looks up a live connection by ID.
func (h *Hub) Connection(connID string) (domain.ClientConnection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	return conn, ok
}

// ConnectionsForUser snapshots every live connection of a user.
func (h *Hub) ConnectionsForUser(userID string) []domain.ClientConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.ClientConnection, 0, len(h.userIndex[userID]))
	for connID := range h.userIndex[userID] {
		if conn, ok := h.conns[connID]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// OnlineUsers lists users with at least one live connection, sorted for
// stable API output.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.userIndex))
	for userID := range h.userIndex {
		out = append(out, userID)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// OnlineDevices lists devices holding an authoritative connection, sorted.
func (h *Hub) OnlineDevices() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.deviceIndex))
	for deviceID := range h.deviceIndex {
		out = append(out, deviceID)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userIndex[userID]) > 0
}

func (h *Hub) IsDeviceOnline(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.deviceIndex[deviceID]
	return ok
}

// CloseAll tears down every live connection. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]domain.ClientConnection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// domain.ConnectionManager adapters.

func (h *Hub) RegisterConn(conn domain.ClientConnection)   { h.Register(conn) }
func (h *Hub) UnregisterConn(conn domain.ClientConnection) { h.Unregister(conn.ID()) }

// GetConnectionCount reports live registry size. For health checks.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) GetActiveConnectionCount() int64 {
	return int64(h.GetConnectionCount())
}

// GetStartTime reports when the hub came up. For health checks.
func (h *Hub) GetStartTime() time.Time {
	return h.startTime
}
