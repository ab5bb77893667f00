package chatclient

import (
	"context"
	stderrors "errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/HMasataka/chathub/internal/config"
	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/internal/server"
	"github.com/HMasataka/chathub/internal/store"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/hub"
	"github.com/HMasataka/chathub/pkg/transport/protocol"
)

func startHub(t *testing.T) url.URL {
	t.Helper()

	logger := logging.Discard()
	st, err := store.Open(config.StoreConfig{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	err = st.Apply(context.Background(), &store.Seed{
		Users: []string{"alice", "bob", "mallory"},
		Guilds: []store.SeedGuild{{
			ID: 1, Name: "Lobby", Owner: "alice",
			Channels: []store.SeedChannel{{ID: 3, Name: "general", Members: []string{"bob"}}},
		}},
		Friendships: []store.SeedFriendship{{From: "alice", To: "bob"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := eventbus.NewInMemoryBus(256)
	bus.Start(ctx)

	cfg := hub.DefaultConfig()
	cfg.TypingTimeout = 100 * time.Millisecond
	h := hub.NewHub(cfg, hub.Stores{Users: st, Messages: st, Channels: st, Friends: st, Guilds: st}, bus, logger)
	h.Start(ctx)

	srv := httptest.NewServer(server.New(config.Default(), h, st, bus, logger).Router())
	t.Cleanup(func() {
		h.Stop()
		srv.Close()
		bus.Stop()
		cancel()
	})

	u, _ := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
	return *u
}

func connect(t *testing.T, u url.URL, username string) *Client {
	t.Helper()

	c := New(u, DefaultOptions())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	if _, err := c.Register(context.Background(), username); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return c
}

func collect(c *Client, event domain.Event) <-chan *protocol.Frame {
	ch := make(chan *protocol.Frame, 16)
	c.On(event, func(_ context.Context, frame *protocol.Frame) error {
		ch <- frame
		return nil
	})
	return ch
}

func next(t *testing.T, ch <-chan *protocol.Frame) *protocol.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRegisterAck(t *testing.T) {
	u := startHub(t)
	c := connect(t, u, "Alice")

	if c.Username() != "Alice" || c.ConnectionID() == "" {
		t.Fatalf("username = %q, conn = %q", c.Username(), c.ConnectionID())
	}
}

func TestDirectConversation(t *testing.T) {
	u := startHub(t)
	bob := connect(t, u, "bob")
	inbox := collect(bob, domain.EventReceiveDirectMessage)
	alice := connect(t, u, "alice")

	ctx := context.Background()
	if err := alice.SendDirectMessage(ctx, "bob", "hi bob"); err != nil {
		t.Fatal(err)
	}

	var msg hub.MessagePayload
	if err := next(t, inbox).Decode(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Sender != "alice" || msg.Text != "hi bob" {
		t.Fatalf("message = %+v", msg)
	}

	history, err := alice.OpenDirectChannel(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(history.Messages) != 1 || history.Messages[0].MessageID != msg.MessageID {
		t.Fatalf("history = %+v", history)
	}
}

func TestRequestSurfacesRemoteError(t *testing.T) {
	u := startHub(t)
	mallory := connect(t, u, "mallory")

	_, err := mallory.OpenDirectChannel(context.Background(), "ghost")

	var remote *RemoteError
	if !stderrors.As(err, &remote) {
		t.Fatalf("err = %v", err)
	}
	if remote.Code != "UNKNOWN_RECIPIENT" || remote.Ref == "" {
		t.Fatalf("remote = %+v", remote)
	}

	if _, err := mallory.LoadChannelHistory(context.Background(), 3); !stderrors.As(err, &remote) || remote.Code != "FORBIDDEN_CHANNEL" {
		t.Fatalf("channel history err = %v", err)
	}
}

func TestChannelTypingExpires(t *testing.T) {
	u := startHub(t)
	ctx := context.Background()

	bob := connect(t, u, "bob")
	started := collect(bob, domain.EventUserTyping)
	stopped := collect(bob, domain.EventUserStopTyping)
	if err := bob.JoinChannel(ctx, 3); err != nil {
		t.Fatal(err)
	}

	alice := connect(t, u, "alice")
	if err := alice.JoinChannel(ctx, 3); err != nil {
		t.Fatal(err)
	}
	// the channel's history answers only after the join above was handled
	if _, err := bob.LoadChannelHistory(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.LoadChannelHistory(ctx, 3); err != nil {
		t.Fatal(err)
	}

	if err := alice.Typing(ctx, domain.ChannelTyping{ChannelID: 3}); err != nil {
		t.Fatal(err)
	}

	var typing hub.TypingPayload
	next(t, started).Decode(&typing)
	if typing.Username != "alice" || typing.ChannelID != 3 {
		t.Fatalf("typing = %+v", typing)
	}

	// no StopTyping is sent; the hub expires the indicator itself
	next(t, stopped)
}

func TestCloseEndsConnection(t *testing.T) {
	u := startHub(t)
	c := connect(t, u, "alice")

	c.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	if err := c.SendMessage(context.Background(), "late"); err == nil {
		t.Fatal("send after close succeeded")
	}
}
