package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/touchlink/gateway/internal/auth"
	"github.com/touchlink/gateway/internal/config"
)

const testJWTSecret = "integration-test-secret-key-123"

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			Name:            "test-gateway",
			WSAddr:          ":0",
			IdleTimeout:     time.Minute,
			WriteTimeout:    5 * time.Second,
			SendBufferSize:  64,
			MaxMessageBytes: 1 << 20,
			ThrottlingConfig: config.ThrottlingConfig{
				MaxConnections: 100,
				BanThreshold:   10,
				BanDuration:    60,
				RateLimit:      config.RateLimitConfig{Enabled: false},
			},
		},
		Metrics: config.MetricsConfig{Enabled: false, Port: 8181},
		Auth:    config.AuthConfig{JWTSecret: testJWTSecret},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub, context.CancelFunc) {
	t.Helper()
	cfg := testConfig()
	hub := NewHub()
	verifier := auth.NewVerifier(cfg.Auth)
	srv := NewServer(cfg, hub, verifier, "gw-test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts, hub, cancel
}

func userToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func dial(t *testing.T, ts *httptest.Server, userID, deviceID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + userToken(t, userID)
	if deviceID != "" {
		url += "&deviceId=" + deviceID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func expectEvent(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()
	env := readEvent(t, conn)
	if env.Event != event {
		t.Fatalf("expected event %q, got %q (data: %s)", event, env.Event, env.Data)
	}
	return env
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	msg, _ := json.Marshal(Envelope{Event: event, Data: raw})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expectNoEvent fails if anything arrives within the window.
func expectNoEvent(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(window))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no event, got %s", raw)
	}
}

func TestHandshakeWithoutTokenIsRejected(t *testing.T) {
	ts, hub, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	env := expectEvent(t, conn, EventError)
	var payload ErrorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != "UNAUTHENTICATED" {
		t.Errorf("expected UNAUTHENTICATED, got %q", payload.Code)
	}

	// The socket is closed right after the error event.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed after rejection")
	}

	// Zero registry footprint.
	if got := hub.GetConnectionCount(); got != 0 {
		t.Errorf("rejected handshake must leave no connections, got %d", got)
	}
}

func TestHandshakeWithBadTokenIsRejected(t *testing.T) {
	ts, hub, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=not-a-jwt"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	env := expectEvent(t, conn, EventError)
	var payload ErrorPayload
	_ = json.Unmarshal(env.Data, &payload)
	if payload.Code != "INVALID_TOKEN" {
		t.Errorf("expected INVALID_TOKEN, got %q", payload.Code)
	}
	if got := hub.GetConnectionCount(); got != 0 {
		t.Errorf("rejected handshake must leave no connections, got %d", got)
	}
}

func TestAuthorizationHeaderBeatsQueryToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	// Query token is garbage; the valid header token must win.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=garbage"
	header := http.Header{"Authorization": {"Bearer " + userToken(t, "u-header")}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	env := expectEvent(t, conn, EventConnected)
	var payload ConnectedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal connected payload: %v", err)
	}
	if payload.UserID != "u-header" {
		t.Errorf("expected identity from header token, got %q", payload.UserID)
	}
}

func TestConnectedGreeting(t *testing.T) {
	ts, hub, _ := newTestServer(t)

	conn := dial(t, ts, "u1", "dev1")
	env := expectEvent(t, conn, EventConnected)

	var payload ConnectedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal connected payload: %v", err)
	}
	if payload.UserID != "u1" || payload.DeviceID != "dev1" || payload.ConnectionID == "" {
		t.Errorf("unexpected greeting: %+v", payload)
	}
	if payload.InstanceID != "gw-test" {
		t.Errorf("expected instance id in greeting, got %q", payload.InstanceID)
	}
	if !hub.IsDeviceOnline("dev1") {
		t.Error("deviceId query param should bind the device")
	}
}

func TestCommandRoundtrip(t *testing.T) {
	ts, _, _ := newTestServer(t)

	device := dial(t, ts, "owner", "dev1")
	expectEvent(t, device, EventConnected)

	controller := dial(t, ts, "controller", "")
	expectEvent(t, controller, EventConnected)

	sendEvent(t, controller, EventDeviceCommand, CommandPayload{
		TargetDeviceID: "dev1",
		Command:        "vibrate",
		Params:         json.RawMessage(`{"intensity":80}`),
	})

	// Issuer gets a synchronous ack meaning handed to the topic.
	ackEnv := expectEvent(t, controller, EventDeviceCommandAck)
	var ack CommandAck
	_ = json.Unmarshal(ackEnv.Data, &ack)
	if ack.DeviceID != "dev1" || ack.Command != "vibrate" || ack.Status != "sent" {
		t.Errorf("unexpected ack: %+v", ack)
	}

	// Device receives the command with a server-stamped issuedAt.
	cmdEnv := expectEvent(t, device, EventDeviceCommand)
	var cmd CommandEvent
	if err := json.Unmarshal(cmdEnv.Data, &cmd); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if cmd.DeviceID != "dev1" || cmd.Command != "vibrate" || cmd.FromUser != "controller" {
		t.Errorf("unexpected command: %+v", cmd)
	}
	if cmd.IssuedAt.IsZero() {
		t.Error("issuedAt must be stamped server-side")
	}
}

func TestInvalidCommandOnlyAffectsSender(t *testing.T) {
	ts, _, _ := newTestServer(t)

	device := dial(t, ts, "owner", "dev1")
	expectEvent(t, device, EventConnected)

	controller := dial(t, ts, "controller", "")
	expectEvent(t, controller, EventConnected)

	sendEvent(t, controller, EventDeviceCommand, CommandPayload{
		TargetDeviceID: "  ",
		Command:        "vibrate",
	})

	errEnv := expectEvent(t, controller, EventError)
	var payload ErrorPayload
	_ = json.Unmarshal(errEnv.Data, &payload)
	if payload.Code != "INVALID_COMMAND" {
		t.Errorf("expected INVALID_COMMAND, got %q", payload.Code)
	}

	expectNoEvent(t, device, 300*time.Millisecond)
}

func TestCommandToOfflineDeviceStillAcks(t *testing.T) {
	ts, _, _ := newTestServer(t)

	controller := dial(t, ts, "controller", "")
	expectEvent(t, controller, EventConnected)

	sendEvent(t, controller, EventDeviceCommand, CommandPayload{
		TargetDeviceID: "nobody-home",
		Command:        "vibrate",
	})

	// At-most-once: no queueing, but the ack still reports "sent".
	ackEnv := expectEvent(t, controller, EventDeviceCommandAck)
	var ack CommandAck
	_ = json.Unmarshal(ackEnv.Data, &ack)
	if ack.Status != "sent" {
		t.Errorf("expected status sent, got %q", ack.Status)
	}
}

func TestStoryProgressSyncsToOtherSessions(t *testing.T) {
	ts, _, _ := newTestServer(t)

	phone := dial(t, ts, "reader", "")
	expectEvent(t, phone, EventConnected)
	tablet := dial(t, ts, "reader", "")
	expectEvent(t, tablet, EventConnected)

	sendEvent(t, phone, EventStoryProgress, StoryProgressPayload{
		StoryID:  "story-9",
		Progress: 0.4,
		SceneID:  "scene-2",
	})

	env := expectEvent(t, tablet, EventStoryProgressUpdate)
	var update StoryProgressUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if update.StoryID != "story-9" || update.UserID != "reader" || update.Progress != 0.4 {
		t.Errorf("unexpected update: %+v", update)
	}

	// The sender's own session is skipped.
	expectNoEvent(t, phone, 300*time.Millisecond)
}

func TestPresenceBroadcast(t *testing.T) {
	ts, _, _ := newTestServer(t)

	a := dial(t, ts, "alice", "")
	expectEvent(t, a, EventConnected)
	b := dial(t, ts, "bob", "")
	expectEvent(t, b, EventConnected)

	sendEvent(t, a, EventPresenceUpdate, PresencePayload{Status: "online"})

	env := expectEvent(t, b, EventPresenceChanged)
	var changed PresenceChanged
	_ = json.Unmarshal(env.Data, &changed)
	if changed.UserID != "alice" || changed.Status != "online" {
		t.Errorf("unexpected presence change: %+v", changed)
	}
}

func TestAudioStreamLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	device := dial(t, ts, "owner", "dev1")
	expectEvent(t, device, EventConnected)

	controller := dial(t, ts, "controller", "")
	expectEvent(t, controller, EventConnected)

	sendEvent(t, controller, EventAudioStreamStart, AudioStreamStartPayload{DeviceID: "dev1"})
	readyEnv := expectEvent(t, controller, EventAudioStreamReady)
	var ready AudioStreamReady
	if err := json.Unmarshal(readyEnv.Data, &ready); err != nil {
		t.Fatalf("unmarshal ready: %v", err)
	}
	if ready.StreamID == "" || ready.DeviceID != "dev1" {
		t.Errorf("unexpected ready payload: %+v", ready)
	}
	if ready.SampleRate != defaultSampleRate || ready.Channels != defaultChannels {
		t.Errorf("expected default audio config, got %+v", ready)
	}

	// An audio chunk maps its level onto a vibration command.
	sendEvent(t, controller, EventAudioStreamData, map[string]any{"level": 0.5})
	vibEnv := expectEvent(t, device, EventDeviceVibration)
	var vib VibrationCommand
	_ = json.Unmarshal(vibEnv.Data, &vib)
	if vib.Command != "vibrate" || vib.Intensity != 50 {
		t.Errorf("expected vibrate at 50, got %+v", vib)
	}

	// Stop ends the session and halts the device.
	sendEvent(t, controller, EventAudioStreamStop, AudioStreamStopPayload{})
	stopEnv := expectEvent(t, device, EventDeviceVibration)
	_ = json.Unmarshal(stopEnv.Data, &vib)
	if vib.Command != "stop" {
		t.Errorf("expected stop command, got %+v", vib)
	}
}

func TestUnknownEventReturnsError(t *testing.T) {
	ts, _, _ := newTestServer(t)

	conn := dial(t, ts, "u1", "")
	expectEvent(t, conn, EventConnected)

	sendEvent(t, conn, "no:such:event", map[string]string{})
	env := expectEvent(t, conn, EventError)
	var payload ErrorPayload
	_ = json.Unmarshal(env.Data, &payload)
	if payload.Code != "UNKNOWN_EVENT" {
		t.Errorf("expected UNKNOWN_EVENT, got %q", payload.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	conn := dial(t, ts, "u1", "dev1")
	expectEvent(t, conn, EventConnected)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	users, ok := stats["online_users"].([]any)
	if !ok || len(users) != 1 || users[0] != "u1" {
		t.Errorf("expected online_users [u1], got %v", stats["online_users"])
	}
	devices, ok := stats["online_devices"].([]any)
	if !ok || len(devices) != 1 || devices[0] != "dev1" {
		t.Errorf("expected online_devices [dev1], got %v", stats["online_devices"])
	}
}

func TestInfoEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/info")
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	defer resp.Body.Close()

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info["name"] != "test-gateway" || info["instance_id"] != "gw-test" {
		t.Errorf("unexpected info payload: %v", info)
	}
}

func TestDisconnectCleansUpRegistry(t *testing.T) {
	ts, hub, _ := newTestServer(t)

	conn := dial(t, ts, "u1", "dev1")
	expectEvent(t, conn, EventConnected)
	if !hub.IsUserOnline("u1") {
		t.Fatal("user should be online")
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !hub.IsUserOnline("u1") && !hub.IsDeviceOnline("dev1") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("registry entries should be gone after disconnect")
}
