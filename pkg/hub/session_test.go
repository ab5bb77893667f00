package hub

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
)

func TestOperationsRequireRegistration(t *testing.T) {
	h := newTestHub(t, newMemStore("alice"))
	c := h.connect("c1")

	err := h.send(c, domain.OpSendMessage, map[string]any{"text": "hi"})
	if err == nil {
		t.Fatal("anonymous send succeeded")
	}

	got := c.lastError(t)
	if got.Code != errors.CodeNotRegistered || got.Ref != "req-1" {
		t.Errorf("error = %+v", got)
	}
}

func TestRegisterUserAcksAndBroadcastsPresence(t *testing.T) {
	h := newTestHub(t, newMemStore("alice", "bob"))

	watcher := h.login("w1", "bob")
	watcher.reset()

	c := h.login("c1", "alice")

	acks := c.framesOf(domain.EventRegistered)
	if len(acks) != 1 {
		t.Fatalf("received %d Registered acks", len(acks))
	}
	var ack RegisteredPayload
	if err := acks[0].Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Username != "alice" || ack.ConnectionID != "c1" {
		t.Errorf("ack = %+v", ack)
	}

	if watcher.count(domain.EventUserConnected) != 1 {
		t.Error("other connection missed UserConnected")
	}
	if c.count(domain.EventUserConnected) != 0 {
		t.Error("registering connection was told about itself")
	}

	lists := watcher.framesOf(domain.EventUserList)
	var list UserListPayload
	if err := lists[len(lists)-1].Decode(&list); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(list.Users, []string{"alice", "bob"}) {
		t.Errorf("UserList = %v", list.Users)
	}

	// a second device of alice does not announce her again
	watcher.reset()
	h.login("c2", "alice")
	if watcher.count(domain.EventUserConnected) != 0 {
		t.Error("second device re-announced an online user")
	}
	if watcher.count(domain.EventUserList) != 1 {
		t.Error("UserList was not refreshed")
	}
}

func TestDisconnectAnnouncesOnlyLastConnection(t *testing.T) {
	h := newTestHub(t, newMemStore("alice", "bob"))

	watcher := h.login("w1", "bob")
	h.login("a1", "alice")
	h.login("a2", "alice")
	watcher.reset()

	h.Sessions.Disconnect("a1")
	if watcher.count(domain.EventUserDisconnected) != 0 {
		t.Error("UserDisconnected sent while alice still has a connection")
	}
	if watcher.count(domain.EventUserList) != 1 {
		t.Error("UserList not refreshed after disconnect")
	}

	h.Sessions.Disconnect("a2")
	if watcher.count(domain.EventUserDisconnected) != 1 {
		t.Error("UserDisconnected not sent after the last connection closed")
	}
	if h.Registry.IsOnline("alice") {
		t.Error("alice still online")
	}

	// disconnecting twice is harmless
	h.Sessions.Disconnect("a2")
}

func TestDisconnectDropsGroupMembershipAndTyping(t *testing.T) {
	store := newMemStore("alice", "bob")
	store.addChannelMember(4, "alice")
	store.addChannelMember(4, "bob")
	h := newTestHub(t, store, func(cfg *Config) { cfg.TypingTimeout = time.Minute })

	a := h.login("a1", "alice")
	b := h.login("b1", "bob")
	h.send(a, domain.OpJoinChannel, map[string]any{"channelId": 4})
	h.send(b, domain.OpJoinChannel, map[string]any{"channelId": 4})

	h.send(a, domain.OpTyping, map[string]any{"context": map[string]any{"kind": "channel", "channelId": 4}})
	if b.count(domain.EventUserTyping) != 1 {
		t.Fatal("bob missed UserTyping")
	}

	h.Sessions.Disconnect("a1")

	if b.count(domain.EventUserStopTyping) != 1 {
		t.Error("typing state of a departed user was not cleared")
	}
	if got := h.Router.Groups("a1"); len(got) != 0 {
		t.Errorf("departed connection still in groups %v", got)
	}
	if got := h.Router.Groups("b1"); !reflect.DeepEqual(got, []string{domain.ChannelGroupKey(4)}) {
		t.Errorf("bob's groups = %v", got)
	}
}

func TestTypingUsesSessionIdentity(t *testing.T) {
	store := newMemStore("alice", "bob")
	store.befriend("alice", "bob")
	h := newTestHub(t, store)

	a := h.login("a1", "alice")
	b := h.login("b1", "bob")

	h.send(a, domain.OpTyping, map[string]any{
		"username": "mallory",
		"context":  map[string]any{"kind": "dm", "recipient": "bob"},
	})

	frames := b.framesOf(domain.EventUserTyping)
	if len(frames) != 1 {
		t.Fatalf("bob received %d UserTyping", len(frames))
	}
	var p TypingPayload
	if err := frames[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Username != "alice" {
		t.Errorf("typing relayed as %q", p.Username)
	}
}

func TestTypingRejectsMalformedContext(t *testing.T) {
	h := newTestHub(t, newMemStore("alice"))
	a := h.login("a1", "alice")

	h.send(a, domain.OpTyping, map[string]any{"context": map[string]any{"kind": "room"}})

	if got := a.lastError(t).Code; got != errors.CodeInvalidArgument {
		t.Errorf("error code = %s", got)
	}
}

func TestTypingRequiresAccess(t *testing.T) {
	store := newMemStore("alice", "bob", "mallory")
	store.addChannelMember(4, "alice")
	store.addChannelMember(4, "mallory")
	store.befriend("alice", "bob")
	h := newTestHub(t, store)

	a := h.login("a1", "alice")
	b := h.login("b1", "bob")
	m := h.login("m1", "mallory")
	h.send(a, domain.OpJoinChannel, map[string]any{"channelId": 4})

	tests := []struct {
		name    string
		op      domain.Operation
		context map[string]any
		code    string
	}{
		{"channel not joined", domain.OpTyping, map[string]any{"kind": "channel", "channelId": 4}, errors.CodeForbiddenChannel},
		{"channel stop not joined", domain.OpStopTyping, map[string]any{"kind": "channel", "channelId": 4}, errors.CodeForbiddenChannel},
		{"dm to a stranger", domain.OpTyping, map[string]any{"kind": "dm", "recipient": "bob"}, errors.CodeForbiddenNotFriend},
		{"dm stop to a stranger", domain.OpStopTyping, map[string]any{"kind": "dm", "recipient": "alice"}, errors.CodeForbiddenNotFriend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.send(m, tt.op, map[string]any{"context": tt.context})
			if errors.TypeOf(err) != errors.ErrorTypeForbidden {
				t.Fatalf("error = %v", err)
			}
			if got := m.lastError(t).Code; got != tt.code {
				t.Errorf("error code = %s, want %s", got, tt.code)
			}
		})
	}

	for name, c := range map[string]*recordingClient{"alice": a, "bob": b} {
		if n := c.count(domain.EventUserTyping) + c.count(domain.EventUserStopTyping); n != 0 {
			t.Errorf("%s received %d typing frames from an unauthorized sender", name, n)
		}
	}
	if h.Typing.Active() != 0 {
		t.Errorf("active typing states = %d", h.Typing.Active())
	}
}

func TestTypingIsRateLimited(t *testing.T) {
	store := newMemStore("alice", "bob")
	store.befriend("alice", "bob")
	h := newTestHub(t, store, func(cfg *Config) {
		cfg.TypingLimit = RateLimit{Burst: 3, RefillInterval: time.Hour}
	})
	a := h.login("a1", "alice")
	b := h.login("b1", "bob")

	dm := map[string]any{"context": map[string]any{"kind": "dm", "recipient": "bob"}}
	for i := 0; i < 3; i++ {
		if err := h.send(a, domain.OpTyping, dm); err != nil {
			t.Fatalf("typing %d: %v", i, err)
		}
	}

	if err := h.send(a, domain.OpStopTyping, dm); errors.TypeOf(err) != errors.ErrorTypeRateLimited {
		t.Fatalf("error = %v", err)
	}
	if got := a.lastError(t).Code; got != errors.CodeRateLimited {
		t.Errorf("error code = %s", got)
	}
	if got := b.count(domain.EventUserTyping); got != 3 {
		t.Errorf("bob received %d UserTyping, want 3", got)
	}

	// the send budget is separate
	if err := h.send(a, domain.OpSendDirectMessage, map[string]any{"recipient": "bob", "text": "hi"}); err != nil {
		t.Errorf("send after typing flood: %v", err)
	}
}

func TestReRegisterDropsGroups(t *testing.T) {
	store := newMemStore("alice", "bob", "carol")
	store.addChannelMember(5, "alice")
	store.addChannelMember(5, "carol")
	h := newTestHub(t, store)

	a := h.login("a1", "alice")
	c := h.login("c1", "carol")
	h.send(a, domain.OpJoinChannel, map[string]any{"channelId": 5})
	h.send(c, domain.OpJoinChannel, map[string]any{"channelId": 5})

	if err := h.send(a, domain.OpRegisterUser, map[string]any{"username": "bob"}); err != nil {
		t.Fatal(err)
	}
	if got := h.Router.Groups("a1"); len(got) != 0 {
		t.Fatalf("renamed connection kept groups %v", got)
	}

	a.reset()
	if err := h.send(c, domain.OpSendChannelMessage, map[string]any{"channelId": 5, "text": "members only"}); err != nil {
		t.Fatal(err)
	}
	if a.count(domain.EventReceiveChannelMessage) != 0 {
		t.Error("renamed connection still receives the channel")
	}

	err := h.send(a, domain.OpTyping, map[string]any{"context": map[string]any{"kind": "channel", "channelId": 5}})
	if errors.TypeOf(err) != errors.ErrorTypeForbidden {
		t.Errorf("typing into the old identity's channel = %v", err)
	}
}

func TestSendClearsTyping(t *testing.T) {
	store := newMemStore("A", "B")
	store.befriend("A", "B")
	h := newTestHub(t, store, func(cfg *Config) { cfg.TypingTimeout = time.Minute })

	a := h.login("a1", "A")
	b := h.login("b1", "B")

	h.send(a, domain.OpTyping, map[string]any{"context": map[string]any{"kind": "dm", "recipient": "B"}})
	h.send(a, domain.OpSendDirectMessage, map[string]any{"recipient": "B", "text": "done"})

	if b.count(domain.EventUserStopTyping) != 1 {
		t.Error("sending did not clear the typing indicator")
	}
	if h.Typing.Active() != 0 {
		t.Errorf("active typing states = %d", h.Typing.Active())
	}
}

func TestUnknownOperationAndInvalidFrame(t *testing.T) {
	h := newTestHub(t, newMemStore("alice"))
	c := h.login("c1", "alice")

	h.send(c, domain.Operation("LaunchRockets"), map[string]any{})
	got := c.lastError(t)
	if got.Code != errors.CodeUnknownOperation || got.Ref == "" {
		t.Errorf("unknown op error = %+v", got)
	}

	if err := h.Sessions.Handle(context.Background(), "c1", []byte("{not json")); err == nil {
		t.Fatal("invalid frame accepted")
	}
	if got := c.lastError(t).Code; got != errors.CodeInvalidFrame {
		t.Errorf("invalid frame code = %s", got)
	}

	if err := h.Sessions.Handle(context.Background(), "c1", []byte(`{"id":"x","data":{}}`)); err == nil {
		t.Fatal("frame without type accepted")
	}
}

func TestPrincipalBindsUsername(t *testing.T) {
	h := newTestHub(t, newMemStore("alice", "bob"))

	c := newRecordingClient("c1")
	if err := h.Sessions.Connect(c, "alice"); err != nil {
		t.Fatal(err)
	}

	h.send(c, domain.OpRegisterUser, map[string]any{"username": "bob"})
	if got := c.lastError(t).Code; got != errors.CodeForbiddenIdentity {
		t.Errorf("error code = %s", got)
	}
	if h.Registry.IsOnline("bob") {
		t.Error("connection registered as someone else")
	}

	if err := h.send(c, domain.OpRegisterUser, map[string]any{"username": "Alice"}); err != nil {
		t.Fatalf("register as principal: %v", err)
	}
}

func TestJoinGuildGroupRequiresMembership(t *testing.T) {
	store := newMemStore("alice", "bob")
	store.addGuildMember(8, "alice")
	h := newTestHub(t, store)

	a := h.login("a1", "alice")
	b := h.login("b1", "bob")

	if err := h.send(a, domain.OpJoinGuildGroup, map[string]any{"guildId": 8}); err != nil {
		t.Fatal(err)
	}
	h.send(b, domain.OpJoinGuildGroup, map[string]any{"guildId": 8})
	if got := b.lastError(t).Code; got != errors.CodeForbiddenGuild {
		t.Errorf("error code = %s", got)
	}

	n, err := h.PublishGuildEvent(8, domain.EventGuildChannelCreated, json.RawMessage(`{"channelId":12,"name":"general"}`))
	if err != nil || n != 1 {
		t.Fatalf("PublishGuildEvent = %d, %v", n, err)
	}
	if a.count(domain.EventGuildChannelCreated) != 1 || b.count(domain.EventGuildChannelCreated) != 0 {
		t.Error("guild event reached the wrong audience")
	}

	if _, err := h.PublishGuildEvent(8, domain.EventReceiveChannelMessage, nil); err == nil {
		t.Error("non-guild event was accepted")
	}
}

func TestNotifyUser(t *testing.T) {
	h := newTestHub(t, newMemStore("alice", "bob"))
	a1 := h.login("a1", "alice")
	a2 := h.login("a2", "alice")
	b := h.login("b1", "bob")

	n, err := h.NotifyUser("ALICE", domain.EventGuildInvitationReceived, json.RawMessage(`{"guildId":3}`))
	if err != nil || n != 2 {
		t.Fatalf("NotifyUser = %d, %v", n, err)
	}
	if a1.count(domain.EventGuildInvitationReceived) != 1 || a2.count(domain.EventGuildInvitationReceived) != 1 {
		t.Error("a device missed the invitation")
	}
	if b.count(domain.EventGuildInvitationReceived) != 0 {
		t.Error("invitation reached another user")
	}

	if _, err := h.NotifyUser("alice", domain.EventGuildInvitationReceived, json.RawMessage(`{oops`)); err == nil {
		t.Error("invalid JSON payload was accepted")
	}

	if n, err := h.NotifyUser("carol", domain.EventGuildInvitationReceived, nil); err != nil || n != 0 {
		t.Errorf("NotifyUser to an offline user = %d, %v", n, err)
	}
}

func TestSendOperationsAreRateLimited(t *testing.T) {
	store := newMemStore("alice", "bob")
	store.befriend("alice", "bob")
	h := newTestHub(t, store, func(cfg *Config) {
		cfg.RateLimit = RateLimit{Burst: 2, RefillInterval: time.Hour}
	})
	a := h.login("a1", "alice")

	for i := 0; i < 2; i++ {
		if err := h.send(a, domain.OpSendMessage, map[string]any{"text": "spam"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	err := h.send(a, domain.OpSendMessage, map[string]any{"text": "spam"})
	if errors.TypeOf(err) != errors.ErrorTypeRateLimited {
		t.Fatalf("error type = %v", errors.TypeOf(err))
	}
	if got := a.lastError(t).Code; got != errors.CodeRateLimited {
		t.Errorf("error code = %s", got)
	}

	// typing is not charged against the send budget
	if err := h.send(a, domain.OpTyping, map[string]any{"context": map[string]any{"kind": "dm", "recipient": "bob"}}); err != nil {
		t.Errorf("typing was rate limited: %v", err)
	}
}

func TestStatsCountsMessages(t *testing.T) {
	store := newMemStore("alice")
	h := newTestHub(t, store)
	a := h.login("a1", "alice")

	h.send(a, domain.OpSendMessage, map[string]any{"text": "one"})
	h.send(a, domain.OpSendMessage, map[string]any{"text": "two"})
	first := decodeMessage(t, a.framesOf(domain.EventReceiveMessage)[0])
	h.send(a, domain.OpDeleteMessage, map[string]any{"messageId": first.MessageID})

	// a repeat of an already delivered message is suppressed and counted
	h.Router.BroadcastToConnections([]string{"a1"}, domain.EventReceiveMessage, first)

	s := h.Stats()
	if s.DuplicatesSuppressed != 1 {
		t.Errorf("duplicates suppressed = %d, want 1", s.DuplicatesSuppressed)
	}
	if s.MessagesPersisted != 2 || s.MessagesDeleted != 1 {
		t.Errorf("persisted = %d, deleted = %d", s.MessagesPersisted, s.MessagesDeleted)
	}
	if s.Connections != 1 || s.OnlineUsers != 1 || s.FramesSent == 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestStatsDoNotDependOnTheEventBus(t *testing.T) {
	store := newMemStore("alice")

	// never started, so every async event past the first is dropped
	bus := eventbus.NewInMemoryBus(1)
	hb := NewHub(DefaultConfig(), store.stores(), bus, logging.Discard())
	t.Cleanup(func() { hb.Stop() })
	h := &testHub{Hub: hb, t: t, store: store}

	a := h.login("a1", "alice")
	for _, text := range []string{"one", "two", "three"} {
		if err := h.send(a, domain.OpSendMessage, map[string]any{"text": text}); err != nil {
			t.Fatal(err)
		}
	}
	id := decodeMessage(t, a.framesOf(domain.EventReceiveMessage)[0]).MessageID
	if err := h.send(a, domain.OpDeleteMessage, map[string]any{"messageId": id}); err != nil {
		t.Fatal(err)
	}

	if bus.Dropped() == 0 {
		t.Fatal("expected the bus to drop events")
	}
	s := h.Stats()
	if s.MessagesPersisted != 3 || s.MessagesDeleted != 1 {
		t.Errorf("persisted = %d, deleted = %d", s.MessagesPersisted, s.MessagesDeleted)
	}
}

func TestPassthroughAfterStop(t *testing.T) {
	h := newTestHub(t, newMemStore("alice"))
	h.login("a1", "alice")

	h.Stop()

	_, err := h.NotifyUser("alice", domain.EventGuildInvitationReceived, nil)
	if !errors.Is(err, domain.ErrHubStopped) {
		t.Fatalf("NotifyUser after Stop = %v", err)
	}
	if _, err := h.PublishGuildEvent(1, domain.EventGuildMemberJoined, nil); !errors.Is(err, domain.ErrHubStopped) {
		t.Fatalf("PublishGuildEvent after Stop = %v", err)
	}
}
