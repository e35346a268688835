package gateway

import (
	"fmt"
	"sync"
	"testing"
)

// fakeConn is an in-memory ClientConnection for hub tests.
type fakeConn struct {
	id       string
	userID   string
	deviceID string

	mu       sync.Mutex
	sent     []sentEvent
	failSend bool
	closed   bool

	hub *Hub
}

type sentEvent struct {
	event string
	data  any
}

func (f *fakeConn) ID() string         { return f.id }
func (f *fakeConn) UserID() string     { return f.userID }
func (f *fakeConn) DeviceID() string   { return f.deviceID }
func (f *fakeConn) RemoteAddr() string { return "127.0.0.1" }

func (f *fakeConn) SendEvent(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return fmt.Errorf("send to %s failed", f.id)
	}
	f.sent = append(f.sent, sentEvent{event: event, data: data})
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if f.hub != nil {
		f.hub.Unregister(f.id)
	}
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sent))
	copy(out, f.sent)
	return out
}

func newFakeConn(hub *Hub, id, userID, deviceID string) *fakeConn {
	return &fakeConn{id: id, userID: userID, deviceID: deviceID, hub: hub}
}

func TestRegisterIndexesAndAutoJoins(t *testing.T) {
	hub := NewHub()
	conn := newFakeConn(hub, "c1", "u1", "d1")

	hub.Register(conn)

	if !hub.IsUserOnline("u1") {
		t.Error("user should be online after register")
	}
	if !hub.IsDeviceOnline("d1") {
		t.Error("device should be online after register")
	}
	if got := hub.Members(UserTopic("u1")); len(got) != 1 || got[0] != "c1" {
		t.Errorf("expected auto-join of user topic, got %v", got)
	}
	if got := hub.Members(DeviceTopic("d1")); len(got) != 1 || got[0] != "c1" {
		t.Errorf("expected auto-join of device topic, got %v", got)
	}
}

func TestRegisterWithoutDevice(t *testing.T) {
	hub := NewHub()
	hub.Register(newFakeConn(hub, "c1", "u1", ""))

	if hub.IsDeviceOnline("") {
		t.Error("empty device id must not occupy a device slot")
	}
	if got := len(hub.OnlineDevices()); got != 0 {
		t.Errorf("expected no online devices, got %d", got)
	}
}

func TestRegisterDuplicateIsNoop(t *testing.T) {
	hub := NewHub()
	conn := newFakeConn(hub, "c1", "u1", "")
	hub.Register(conn)
	hub.Register(conn)

	if got := hub.GetConnectionCount(); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}
	if got := hub.Members(UserTopic("u1")); len(got) != 1 {
		t.Errorf("expected 1 user topic member, got %d", len(got))
	}
}

func TestUnregisterIsAtomicAndIdempotent(t *testing.T) {
	hub := NewHub()
	conn := newFakeConn(hub, "c1", "u1", "d1")
	hub.Register(conn)
	if err := hub.Join("c1", "audio:d2"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if !hub.Unregister("c1") {
		t.Fatal("first unregister should report removal")
	}
	if hub.IsUserOnline("u1") || hub.IsDeviceOnline("d1") {
		t.Error("indexes must be cleared on unregister")
	}
	for _, topic := range []string{UserTopic("u1"), DeviceTopic("d1"), "audio:d2"} {
		if got := hub.Members(topic); len(got) != 0 {
			t.Errorf("topic %s still has members %v after unregister", topic, got)
		}
	}

	// Double unregister is a silent no-op.
	if hub.Unregister("c1") {
		t.Error("second unregister must be a no-op")
	}
}

func TestDeviceBindingSupersede(t *testing.T) {
	hub := NewHub()
	old := newFakeConn(hub, "c1", "u1", "d1")
	hub.Register(old)
	newer := newFakeConn(hub, "c2", "u2", "d1")
	hub.Register(newer)

	// The most recent bind owns the slot; the older connection stays
	// registered and keeps its device topic membership.
	if !hub.IsDeviceOnline("d1") {
		t.Fatal("device should be online")
	}
	if got := hub.Members(DeviceTopic("d1")); len(got) != 2 {
		t.Errorf("both connections should remain in the device topic, got %v", got)
	}
	if old.isClosed() {
		t.Error("superseded connection must not be closed")
	}

	// Unregistering the superseded connection must not release the slot.
	hub.Unregister("c1")
	if !hub.IsDeviceOnline("d1") {
		t.Error("slot owner was evicted by a stale unregister")
	}

	// Unregistering the owner releases the slot; the old connection does
	// not reclaim it.
	hub.Unregister("c2")
	if hub.IsDeviceOnline("d1") {
		t.Error("device should be offline once the owner disconnects")
	}
}

func TestBindDevice(t *testing.T) {
	hub := NewHub()
	hub.Register(newFakeConn(hub, "c1", "u1", ""))
	hub.Register(newFakeConn(hub, "c2", "u1", ""))

	prev, err := hub.BindDevice("c1", "d9")
	if err != nil || prev != "" {
		t.Fatalf("first bind: prev=%q err=%v", prev, err)
	}
	prev, err = hub.BindDevice("c2", "d9")
	if err != nil || prev != "c1" {
		t.Fatalf("rebind should return previous holder, got prev=%q err=%v", prev, err)
	}
	if _, err := hub.BindDevice("nope", "d9"); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestPresenceListings(t *testing.T) {
	hub := NewHub()
	hub.Register(newFakeConn(hub, "c1", "zoe", "d2"))
	hub.Register(newFakeConn(hub, "c2", "amy", "d1"))
	hub.Register(newFakeConn(hub, "c3", "amy", ""))

	users := hub.OnlineUsers()
	if len(users) != 2 || users[0] != "amy" || users[1] != "zoe" {
		t.Errorf("expected sorted [amy zoe], got %v", users)
	}
	devices := hub.OnlineDevices()
	if len(devices) != 2 || devices[0] != "d1" || devices[1] != "d2" {
		t.Errorf("expected sorted [d1 d2], got %v", devices)
	}

	// amy has two sessions; dropping one keeps her online.
	hub.Unregister("c2")
	if !hub.IsUserOnline("amy") {
		t.Error("user with a remaining session should stay online")
	}
	hub.Unregister("c3")
	if hub.IsUserOnline("amy") {
		t.Error("user with no sessions should be offline")
	}
}

func TestConnectionsForUser(t *testing.T) {
	hub := NewHub()
	hub.Register(newFakeConn(hub, "c1", "u1", ""))
	hub.Register(newFakeConn(hub, "c2", "u1", ""))
	hub.Register(newFakeConn(hub, "c3", "u2", ""))

	if got := hub.ConnectionsForUser("u1"); len(got) != 2 {
		t.Errorf("expected 2 connections for u1, got %d", len(got))
	}
	if got := hub.ConnectionsForUser("missing"); len(got) != 0 {
		t.Errorf("expected no connections for unknown user, got %d", len(got))
	}
}
