package gateway

import (
	"sync"
	"testing"
)

func TestJoinCreatesGroupLazilyAndLeaveDropsIt(t *testing.T) {
	hub := NewHub()
	hub.Register(newFakeConn(hub, "c1", "u1", ""))

	if err := hub.Join("c1", "audio:d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := hub.Members("audio:d1"); len(got) != 1 {
		t.Fatalf("expected 1 member, got %v", got)
	}

	hub.Leave("c1", "audio:d1")
	if got := hub.Members("audio:d1"); len(got) != 0 {
		t.Fatalf("expected empty group to be dropped, got %v", got)
	}

	// Leaving again, or leaving a topic never joined, is a no-op.
	hub.Leave("c1", "audio:d1")
	hub.Leave("c1", "never-joined")
}

func TestJoinRequiresRegistration(t *testing.T) {
	hub := NewHub()
	if err := hub.Join("ghost", "user:u1"); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if got := hub.Members("user:u1"); len(got) != 0 {
		t.Fatalf("failed join must not create the group, got %v", got)
	}
}

func TestPublishDeliversToMembersOnly(t *testing.T) {
	hub := NewHub()
	member1 := newFakeConn(hub, "c1", "u1", "")
	member2 := newFakeConn(hub, "c2", "u2", "")
	outsider := newFakeConn(hub, "c3", "u3", "")
	for _, c := range []*fakeConn{member1, member2, outsider} {
		hub.Register(c)
	}
	_ = hub.Join("c1", "room")
	_ = hub.Join("c2", "room")

	delivered := hub.Publish("room", "ping", map[string]string{"k": "v"})

	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
	if got := len(member1.events()); got != 1 {
		t.Errorf("member1 should receive 1 event, got %d", got)
	}
	if got := len(outsider.events()); got != 0 {
		t.Errorf("outsider should receive nothing, got %d", got)
	}
	if member1.events()[0].event != "ping" {
		t.Errorf("unexpected event name %q", member1.events()[0].event)
	}
}

func TestPublishExceptSkipsOneConnection(t *testing.T) {
	hub := NewHub()
	sender := newFakeConn(hub, "c1", "u1", "")
	other := newFakeConn(hub, "c2", "u1", "")
	hub.Register(sender)
	hub.Register(other)

	delivered := hub.PublishExcept(UserTopic("u1"), "c1", "note", nil)

	if delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", delivered)
	}
	if got := len(sender.events()); got != 0 {
		t.Errorf("sender should be skipped, got %d events", got)
	}
	if got := len(other.events()); got != 1 {
		t.Errorf("other session should receive the event, got %d", got)
	}
}

func TestPublishToUnknownTopicDeliversNothing(t *testing.T) {
	hub := NewHub()
	if got := hub.Publish("no-such-topic", "ping", nil); got != 0 {
		t.Errorf("expected 0 deliveries, got %d", got)
	}
}

func TestDeliveryFailureTearsDownOnlyFailingMember(t *testing.T) {
	hub := NewHub()
	healthy := newFakeConn(hub, "c1", "u1", "")
	broken := newFakeConn(hub, "c2", "u2", "")
	broken.failSend = true
	hub.Register(healthy)
	hub.Register(broken)
	_ = hub.Join("c1", "room")
	_ = hub.Join("c2", "room")

	delivered := hub.Publish("room", "ping", nil)

	if delivered != 1 {
		t.Errorf("expected 1 successful delivery, got %d", delivered)
	}
	if !broken.isClosed() {
		t.Error("failing member should be torn down")
	}
	if healthy.isClosed() {
		t.Error("healthy member must not be affected")
	}
	if hub.IsUserOnline("u2") {
		t.Error("torn-down member should be gone from the registry")
	}
	if members := hub.Members("room"); len(members) != 1 || members[0] != "c1" {
		t.Errorf("room should retain only the healthy member, got %v", members)
	}
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	hub := NewHub()
	a := newFakeConn(hub, "c1", "u1", "")
	b := newFakeConn(hub, "c2", "u2", "")
	hub.Register(a)
	hub.Register(b)

	delivered := hub.Broadcast("", "presence:changed", nil)
	if delivered != 2 {
		t.Errorf("expected broadcast to reach 2 connections, got %d", delivered)
	}

	delivered = hub.Broadcast("c1", "presence:changed", nil)
	if delivered != 1 {
		t.Errorf("expected broadcast-except to reach 1 connection, got %d", delivered)
	}
}

func TestTapsObserveEveryPublish(t *testing.T) {
	hub := NewHub()
	hub.Register(newFakeConn(hub, "c1", "u1", ""))

	var mu sync.Mutex
	var seen []string
	hub.AddTap(func(topic, event string, data any) {
		mu.Lock()
		seen = append(seen, topic+"/"+event)
		mu.Unlock()
	})

	hub.Publish(UserTopic("u1"), "ping", nil)
	hub.Broadcast("", "pong", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 tap notifications, got %v", seen)
	}
	if seen[0] != "user:u1/ping" || seen[1] != "*/pong" {
		t.Errorf("unexpected tap records: %v", seen)
	}
}

func TestPublishSnapshotsMembership(t *testing.T) {
	// A member joining during delivery must not receive the in-flight
	// event; the snapshot is taken at call time.
	hub := NewHub()
	existing := newFakeConn(hub, "c1", "u1", "")
	hub.Register(existing)
	_ = hub.Join("c1", "room")

	late := newFakeConn(hub, "c2", "u2", "")
	hub.Register(late)

	hub.Publish("room", "ping", nil)
	_ = hub.Join("c2", "room")

	if got := len(late.events()); got != 0 {
		t.Errorf("late joiner must not receive earlier publishes, got %d", got)
	}
}
