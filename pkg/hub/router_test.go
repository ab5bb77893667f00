package hub

import (
	"reflect"
	"testing"
	"time"

	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
)

func newTestRouter(ids ...string) (*GroupRouter, map[string]*recordingClient) {
	router := NewGroupRouter(4, logging.Discard())
	clients := make(map[string]*recordingClient)
	for _, id := range ids {
		c := newRecordingClient(id)
		router.Attach(c)
		clients[id] = c
	}
	return router, clients
}

func TestRouterJoinIsIdempotent(t *testing.T) {
	router, clients := newTestRouter("a", "b")

	router.Join("a", "channel:1")
	router.Join("a", "channel:1")
	router.Join("b", "channel:1")

	if got := router.Groups("a"); !reflect.DeepEqual(got, []string{"channel:1"}) {
		t.Fatalf("Groups(a) = %v", got)
	}

	n := router.BroadcastToGroup("channel:1", domain.EventUserTyping, TypingPayload{Username: "x"})
	if n != 2 {
		t.Errorf("delivered to %d connections, want 2", n)
	}
	if got := clients["a"].count(domain.EventUserTyping); got != 1 {
		t.Errorf("a received %d frames, want 1", got)
	}
}

func TestRouterEmptyGroupIsNoop(t *testing.T) {
	router, _ := newTestRouter("a")

	if n := router.BroadcastToGroup("channel:404", domain.EventUserTyping, TypingPayload{}); n != 0 {
		t.Errorf("empty group delivered %d frames", n)
	}
}

func TestRouterLeaveAndDetach(t *testing.T) {
	router, clients := newTestRouter("a", "b")
	router.Join("a", "guild:1")
	router.Join("a", "channel:2")
	router.Join("b", "channel:2")

	router.Leave("a", "channel:2")
	router.Leave("a", "channel:99")
	if got := router.Groups("a"); !reflect.DeepEqual(got, []string{"guild:1"}) {
		t.Fatalf("Groups(a) = %v", got)
	}

	router.Detach("a")
	if got := router.Groups("a"); len(got) != 0 {
		t.Errorf("detached connection still in groups: %v", got)
	}
	if n := router.BroadcastToGroup("guild:1", domain.EventUserTyping, TypingPayload{}); n != 0 {
		t.Errorf("guild group of a detached connection delivered %d frames", n)
	}

	router.BroadcastToGroup("channel:2", domain.EventUserTyping, TypingPayload{})
	if clients["a"].count(domain.EventUserTyping) != 0 {
		t.Error("detached connection received a frame")
	}
	if clients["b"].count(domain.EventUserTyping) != 1 {
		t.Error("remaining member missed the frame")
	}
}

func TestRouterSwallowsClosedConnections(t *testing.T) {
	router, clients := newTestRouter("a", "b")
	clients["a"].Close()

	n := router.BroadcastToConnections([]string{"a", "b", "ghost"}, domain.EventUserList, UserListPayload{})
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if router.deliveryFailures.Load() != 1 {
		t.Errorf("delivery failures = %d, want 1", router.deliveryFailures.Load())
	}
}

func TestRouterDeliversMessageOncePerConnection(t *testing.T) {
	router, clients := newTestRouter("a", "b")
	router.Join("a", "channel:1")

	payload := MessagePayload{MessageID: 7, Sender: "x", Text: "hi", Timestamp: time.Now()}

	router.BroadcastToGroup("channel:1", domain.EventReceiveChannelMessage, payload)
	router.BroadcastToGroup("channel:1", domain.EventReceiveChannelMessage, payload)
	router.BroadcastToConnections([]string{"a", "a", "b"}, domain.EventReceiveChannelMessage, payload)

	if got := clients["a"].count(domain.EventReceiveChannelMessage); got != 1 {
		t.Errorf("a received message %d times, want 1", got)
	}
	if got := clients["b"].count(domain.EventReceiveChannelMessage); got != 1 {
		t.Errorf("b received message %d times, want 1", got)
	}
	if router.Duplicates() != 2 {
		t.Errorf("duplicates = %d, want 2", router.Duplicates())
	}

	// deletion notices are not message deliveries
	router.BroadcastToGroup("channel:1", domain.EventMessageDeleted, DeletedPayload{MessageID: 7})
	if got := clients["a"].count(domain.EventMessageDeleted); got != 1 {
		t.Errorf("a received %d deletion notices, want 1", got)
	}
}

func TestRouterDedupeWindowIsBounded(t *testing.T) {
	router, clients := newTestRouter("a")

	for id := int64(1); id <= 5; id++ {
		router.SendTo("a", domain.EventReceiveMessage, MessagePayload{MessageID: id})
	}
	// window is 4, so id 1 has been forgotten
	router.SendTo("a", domain.EventReceiveMessage, MessagePayload{MessageID: 1})
	router.SendTo("a", domain.EventReceiveMessage, MessagePayload{MessageID: 5})

	if got := clients["a"].count(domain.EventReceiveMessage); got != 6 {
		t.Errorf("received %d messages, want 6", got)
	}
}

func TestRouterBroadcastAllExcept(t *testing.T) {
	router, clients := newTestRouter("a", "b", "c")

	router.BroadcastAll(domain.EventUserConnected, PresencePayload{Username: "a"}, "a")

	if clients["a"].count(domain.EventUserConnected) != 0 {
		t.Error("excluded connection received the notice")
	}
	if clients["b"].count(domain.EventUserConnected) != 1 || clients["c"].count(domain.EventUserConnected) != 1 {
		t.Error("other connections missed the notice")
	}
}
