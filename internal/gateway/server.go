package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/touchlink/gateway/internal/auth"
	"github.com/touchlink/gateway/internal/config"
	"github.com/touchlink/gateway/internal/errors"
	"github.com/touchlink/gateway/internal/logger"
	"github.com/touchlink/gateway/internal/metrics"
	"go.uber.org/zap"
)

// Server accepts WebSocket sessions and serves the HTTP surface of the
// gateway: health, info, stats, and optionally Prometheus metrics on a
// second listener.
type Server struct {
	fullCfg       *config.Config
	cfg           config.GatewayConfig
	hub           *Hub
	dispatcher    *Dispatcher
	verifier      *auth.Verifier
	instanceID    string
	healthHandler http.Handler
	log           *zap.Logger
}

// NewServer constructs a Server. healthHandler may be nil; /health then
// returns a bare 200.
func NewServer(fullCfg *config.Config, hub *Hub, verifier *auth.Verifier, instanceID string, healthHandler http.Handler) *Server {
	return &Server{
		fullCfg:       fullCfg,
		cfg:           fullCfg.Gateway,
		hub:           hub,
		dispatcher:    NewDispatcher(hub),
		verifier:      verifier,
		instanceID:    instanceID,
		healthHandler: healthHandler,
		log:           logger.New("server"),
	}
}

// Handler builds the full HTTP surface: WebSocket upgrade plus the REST
// endpoints. Exposed separately from ListenAndServe for tests.
func (s *Server) Handler(ctx context.Context) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    64 * 1024,
		WriteBufferSize:   64 * 1024,
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: true,
		HandshakeTimeout:  10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPRequests.Inc()

		if isWebSocketRequest(r) {
			s.handleWebSocket(ctx, w, r, upgrader)
			return
		}

		switch r.URL.Path {
		case "/", "/api/info":
			s.handleInfo(w, r)
		case "/api/stats":
			s.handleStats(w, r)
		case "/health":
			if s.healthHandler != nil {
				s.healthHandler.ServeHTTP(w, r)
			} else {
				w.WriteHeader(http.StatusOK)
			}
		default:
			s.log.Warn("Invalid request path",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", r.RemoteAddr),
				zap.String("user_agent", r.Header.Get("User-Agent")))
			http.NotFound(w, r)
		}
	})

	return errors.RecoveryMiddleware(mux)
}

// ListenAndServe runs the gateway listener until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Background task to clean expired bans
	go cleanExpiredBans(ctx)

	httpSrv := &http.Server{
		Addr:         s.cfg.WSAddr,
		Handler:      s.Handler(ctx),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if s.fullCfg.Metrics.Enabled {
		metricsSrv = s.startMetricsServer()
	}

	// Graceful shutdown when context is canceled
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down gateway server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.hub.CloseAll()
		_ = httpSrv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	s.log.Info("Gateway WebSocket server listening",
		zap.String("address", s.cfg.WSAddr),
		zap.String("instance_id", s.instanceID))
	err := httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:        ":" + strconv.Itoa(s.fullCfg.Metrics.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("Metrics server listening", zap.Int("port", s.fullCfg.Metrics.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// handleWebSocket upgrades the connection, authenticates it, and only
// then registers it. A failed handshake leaves no registry footprint.
func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) {
	clientIP := extractRealClientIP(r)

	if expiry, banned := isClientBanned(clientIP); banned {
		banErr := errors.ClientBannedError("excessive messages", time.Until(expiry).String())
		errors.HandleHTTPError(w, r, banErr)
		return
	}

	// Reset exceeded count on new allowed connection
	banListMutex.Lock()
	delete(clientExceededCount, clientIP)
	banListMutex.Unlock()

	if metrics.GetActiveConnectionsCount() >= int64(s.cfg.ThrottlingConfig.MaxConnections) {
		limitErr := errors.ConnectionLimitError(
			int(metrics.GetActiveConnectionsCount()),
			s.cfg.ThrottlingConfig.MaxConnections)
		errors.HandleHTTPError(w, r, limitErr)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed",
			zap.String("client_ip", clientIP),
			zap.Error(err))
		return
	}

	// Authentication gate: the socket exists but nothing is registered
	// until the credential verifies.
	token := auth.ExtractToken(r)
	userID, err := s.verifier.Verify(token)
	if err != nil {
		s.rejectUnauthenticated(wsConn, clientIP, err)
		return
	}

	deviceID := r.URL.Query().Get("deviceId")

	metrics.IncrementActiveConnections()

	conn := NewWsConnection(wsConn, s.hub, s.dispatcher, s.cfg, userID, deviceID, clientIP)
	s.hub.Register(conn)

	_ = conn.SendEvent(EventConnected, ConnectedPayload{
		ConnectionID: conn.ID(),
		UserID:       userID,
		DeviceID:     deviceID,
		InstanceID:   s.instanceID,
	})

	s.log.Debug("WebSocket connection established",
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.Int64("active_connections", metrics.GetActiveConnectionsCount()))

	go conn.HandleMessages(ctx, s.cfg)
}

// rejectUnauthenticated sends a client-visible error event over the fresh
// socket, then closes it. The connection never touches the registry.
func (s *Server) rejectUnauthenticated(wsConn *websocket.Conn, clientIP string, err error) {
	reason := "invalid_token"
	code := "INVALID_TOKEN"
	message := "Authentication failed"
	if appErr, ok := err.(*errors.AppError); ok {
		code = appErr.Code
		if appErr.UserMessage != "" {
			message = appErr.UserMessage
		}
		if code == "UNAUTHENTICATED" {
			reason = "missing_token"
		}
	}
	metrics.AuthFailures.WithLabelValues(reason).Inc()

	s.log.Debug("Rejecting unauthenticated connection",
		zap.String("client_ip", clientIP),
		zap.String("reason", reason))

	raw, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	payload, _ := json.Marshal(Envelope{Event: EventError, Data: raw})
	_ = wsConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = wsConn.WriteMessage(websocket.TextMessage, payload)
	closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code)
	_ = wsConn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	_ = wsConn.Close()
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":        s.cfg.Name,
		"description": s.cfg.Description,
		"contact":     s.cfg.Contact,
		"public_url":  s.cfg.PublicURL,
		"version":     config.Version,
		"instance_id": s.instanceID,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"active_connections": metrics.GetActiveConnectionsCount(),
		"active_groups":      metrics.GetActiveGroupsCount(),
		"online_users":       s.hub.OnlineUsers(),
		"online_devices":     s.hub.OnlineDevices(),
		"messages_received":  metrics.GetMessagesReceivedCount(),
		"messages_sent":      metrics.GetMessagesSentCount(),
		"delivery_failures":  metrics.GetDeliveryFailureCount(),
		"uptime_seconds":     int64(time.Since(s.hub.GetStartTime()).Seconds()),
	})
}

// isWebSocketRequest checks if the request is a WebSocket upgrade request
func isWebSocketRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.ToLower(r.Header.Get("Upgrade")) == "websocket"
}
