package domain

import "time"

// NodeInterface defines the core capabilities required by the gateway server.
type NodeInterface interface {
	// Connection management
	RegisterConn(conn ClientConnection)
	UnregisterConn(conn ClientConnection)
	GetActiveConnectionCount() int64
	GetConnectionCount() int // For health checks
	GetStartTime() time.Time // For health checks
}

// SessionDirectory answers presence queries against the live registry.
type SessionDirectory interface {
	OnlineUsers() []string
	OnlineDevices() []string
	IsUserOnline(userID string) bool
	IsDeviceOnline(deviceID string) bool
}
