package domain

// ClientConnection represents a registered device or app connection.
// This abstraction is used by both the gateway and application packages.
type ClientConnection interface {
	// Identity assigned at registration time
	ID() string
	UserID() string
	DeviceID() string

	// Core connection methods
	SendEvent(event string, data any) error
	Close()

	// Remote address for logging/identification
	RemoteAddr() string
}

// ConnectionManager defines the interface for managing client connections.
type ConnectionManager interface {
	RegisterConn(conn ClientConnection)
	UnregisterConn(conn ClientConnection)
}
