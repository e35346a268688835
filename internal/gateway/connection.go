package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/touchlink/gateway/internal/config"
	"github.com/touchlink/gateway/internal/domain"
	"github.com/touchlink/gateway/internal/logger"
	"github.com/touchlink/gateway/internal/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	clientBanList = make(map[string]time.Time)
	banListMutex  sync.Mutex
	// Track rate-limit violations by IP
	clientExceededCount = make(map[string]int)
)

// extractRealClientIP extracts the real client IP from request headers when behind a proxy
func extractRealClientIP(r *http.Request) string {
	// X-Real-IP first (set by the reverse proxy)
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	// X-Forwarded-For carries a comma-separated chain; the first entry is
	// the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	return normalizeIP(r.RemoteAddr)
}

// normalizeIP converts a network address to a normalized IP string
func normalizeIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip != nil {
		if ipv4 := ip.To4(); ipv4 != nil {
			return ipv4.String()
		}
		return ip.String()
	}
	return host
}

// isClientBanned reports whether the IP has an unexpired ban.
func isClientBanned(clientIP string) (time.Time, bool) {
	banListMutex.Lock()
	expiry, banned := clientBanList[clientIP]
	banListMutex.Unlock()
	return expiry, banned && time.Now().Before(expiry)
}

// cleanExpiredBans periodically removes expired bans from the ban list
func cleanExpiredBans(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		banListMutex.Lock()
		now := time.Now()
		var unbanCount int
		for ip, expiry := range clientBanList {
			if now.After(expiry) {
				delete(clientBanList, ip)
				unbanCount++
			}
		}
		remaining := len(clientBanList)
		banListMutex.Unlock()

		if unbanCount > 0 {
			logger.Debug("Ban list cleanup completed",
				zap.Int("unbanned_count", unbanCount),
				zap.Int("remaining_bans", remaining))
		}
	}
}

// WsConnection represents a single authenticated client connection.
type WsConnection struct {
	id       string
	userID   string
	deviceID string

	ws           *websocket.Conn
	hub          *Hub
	dispatcher   *Dispatcher
	realClientIP string
	log          *zap.Logger

	idleTimeout  time.Duration
	writeTimeout time.Duration
	startTime    time.Time
	lastActivity time.Time

	pingTicker *time.Ticker

	writeMu            sync.Mutex
	closeMu            sync.Once
	limiter            *rate.Limiter
	isClosed           atomic.Bool
	metricsDecremented atomic.Bool
	closeReason        string

	backpressureChan chan struct{}

	// Audio streaming session state, owned by the read loop.
	audioStreamID     string
	audioStreamDevice string
}

var _ domain.ClientConnection = (*WsConnection)(nil)

// NewWsConnection initializes an authenticated WebSocket connection.
// deviceID is empty unless the handshake announced one.
func NewWsConnection(
	ws *websocket.Conn,
	hub *Hub,
	dispatcher *Dispatcher,
	cfg config.GatewayConfig,
	userID, deviceID, realClientIP string,
) *WsConnection {
	limiter := rate.NewLimiter(
		rate.Limit(cfg.ThrottlingConfig.RateLimit.MaxMessagesPerSecond),
		cfg.ThrottlingConfig.RateLimit.BurstSize,
	)

	conn := &WsConnection{
		id:               uuid.New().String(),
		userID:           userID,
		deviceID:         deviceID,
		ws:               ws,
		hub:              hub,
		dispatcher:       dispatcher,
		realClientIP:     realClientIP,
		log:              logger.New("connection"),
		idleTimeout:      cfg.IdleTimeout,
		writeTimeout:     cfg.WriteTimeout,
		startTime:        time.Now(),
		lastActivity:     time.Now(),
		pingTicker:       time.NewTicker(15 * time.Second),
		limiter:          limiter,
		backpressureChan: make(chan struct{}, cfg.SendBufferSize),
	}

	ws.EnableWriteCompression(true)
	_ = ws.SetCompressionLevel(2) // nolint:errcheck // compression level is non-critical

	_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second)) // nolint:errcheck // deadline is non-critical
	ws.SetReadLimit(cfg.MaxMessageBytes)

	// Ping handler must echo back the same data
	ws.SetPingHandler(func(appData string) error {
		conn.lastActivity = time.Now()
		conn.writeMu.Lock()
		defer conn.writeMu.Unlock()
		_ = conn.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
		return nil
	})

	return conn
}

func (c *WsConnection) ID() string       { return c.id }
func (c *WsConnection) UserID() string   { return c.userID }
func (c *WsConnection) DeviceID() string { return c.deviceID }

// RemoteAddr returns the client's real remote address (extracted from proxy headers)
func (c *WsConnection) RemoteAddr() string {
	return c.realClientIP
}

// SendEvent marshals and writes one envelope. A write failure closes the
// connection and is reported to the caller so the router can count it.
func (c *WsConnection) SendEvent(event string, data any) error {
	if c.isClosed.Load() {
		return fmt.Errorf("connection %s is closed", c.id)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	// Backpressure: a peer that cannot drain its socket gets closed
	// instead of stalling the hub.
	select {
	case c.backpressureChan <- struct{}{}:
		defer func() { <-c.backpressureChan }()
	default:
		c.closeReason = "send backpressure exceeded"
		c.Close()
		return fmt.Errorf("connection %s backpressure exceeded", c.id)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed.Load() {
		return fmt.Errorf("connection %s is closed", c.id)
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)) // nolint:errcheck // deadline is non-critical
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.closeReason = "write error"
		c.Close()
		return fmt.Errorf("write %s to %s: %w", event, c.id, err)
	}

	metrics.IncrementMessagesSent()
	return nil
}

// sendError emits a client-visible error event. Send failures are already
// handled inside SendEvent.
func (c *WsConnection) sendError(code, message string) {
	_ = c.SendEvent(EventError, ErrorPayload{Code: code, Message: message})
}

// HandleMessages processes incoming envelopes from the client.
func (c *WsConnection) HandleMessages(ctx context.Context, cfg config.GatewayConfig) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("client", c.RemoteAddr()))
		}
		// Always ensure the connection is closed and unregistered
		if c.closeReason == "" {
			c.closeReason = "message handler terminated"
		}
		c.Close()
	}()

	clientIP := c.realClientIP

	lastPong := time.Now()
	c.ws.SetPongHandler(func(string) error {
		c.lastActivity = time.Now()
		lastPong = time.Now()
		return nil
	})

	go c.monitorConnection(ctx)

	connCtx, cancel := context.WithTimeout(ctx, 24*time.Hour)
	defer cancel()

	for {
		select {
		case <-connCtx.Done():
			c.closeReason = "connection context canceled"
			return
		default:
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)) // nolint:errcheck // deadline is non-critical
		if time.Since(lastPong) > 90*time.Second {
			c.closeReason = "no pong response"
			c.log.Debug("No pong response in 90s, closing connection",
				zap.String("client", c.RemoteAddr()))
			return
		}

		_, rawMsg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.closeReason = "client closed connection"
			} else {
				c.closeReason = "read error"
				c.log.Debug("WS read error, disconnecting client",
					zap.Error(err),
					zap.String("client", c.RemoteAddr()))
			}
			return
		}

		metrics.IncrementMessagesReceived()
		metrics.MessageSizeBytes.Observe(float64(len(rawMsg)))

		_ = c.ws.SetReadDeadline(time.Time{}) // nolint:errcheck // deadline reset is non-critical
		c.lastActivity = time.Now()

		if cfg.ThrottlingConfig.RateLimit.Enabled && !c.limiter.Allow() {
			banListMutex.Lock()
			clientExceededCount[clientIP]++
			count := clientExceededCount[clientIP]
			banListMutex.Unlock()

			c.sendError("RATE_LIMITED", "Rate limit exceeded: too many messages")

			if count >= cfg.ThrottlingConfig.BanThreshold {
				banDuration := time.Duration(cfg.ThrottlingConfig.BanDuration) * time.Second
				c.log.Warn("Banning client due to repeated rate limit violations",
					zap.String("client_ip", clientIP),
					zap.Int("violation_count", count),
					zap.Duration("ban_duration", banDuration))

				banListMutex.Lock()
				clientBanList[clientIP] = time.Now().Add(banDuration)
				delete(clientExceededCount, clientIP)
				banListMutex.Unlock()

				c.closeReason = "client banned"
				c.sendError("CLIENT_BANNED", "You have been temporarily banned.")
				return
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(rawMsg, &env); err != nil {
			c.sendError("MALFORMED_MESSAGE", "invalid: malformed JSON from client")
			continue
		}
		if env.Event == "" {
			c.sendError("MALFORMED_MESSAGE", "invalid: missing event name")
			continue
		}

		metrics.EventsReceived.WithLabelValues(env.Event).Inc()

		start := time.Now()
		c.dispatcher.Dispatch(c, env)
		metrics.EventProcessingDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())
	}
}

// monitorConnection drives keepalive pings and the idle timeout.
func (c *WsConnection) monitorConnection(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.pingTicker.C:
			if c.isClosed.Load() {
				return
			}
			if time.Since(c.lastActivity) > c.idleTimeout {
				c.closeReason = "idle timeout"
				c.log.Debug("Closing idle connection",
					zap.String("client", c.RemoteAddr()),
					zap.Duration("idle_timeout", c.idleTimeout))
				c.Close()
				return
			}
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.closeReason = "ping failed"
				c.Close()
				return
			}
		}
	}
}

// Close tears the connection down exactly once: registry and group
// removal, metrics, then a polite close frame.
func (c *WsConnection) Close() {
	c.closeMu.Do(func() {
		c.isClosed.Store(true)

		if c.closeReason != "" {
			c.log.Debug("Connection closed",
				zap.String("reason", c.closeReason),
				zap.String("conn_id", c.id),
				zap.String("client_ip", c.RemoteAddr()),
				zap.Duration("connection_duration", time.Since(c.startTime)))
		}

		if c.pingTicker != nil {
			c.pingTicker.Stop()
		}

		// Registry, indexes and groups in one atomic step.
		c.hub.Unregister(c.id)

		if !c.metricsDecremented.Swap(true) {
			metrics.DecrementActiveConnections()
		}

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason)
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		_ = c.ws.Close()
	})
}
