package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/chathub/internal/eventbus"
	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/transport/protocol"
)

// recordingClient is a domain.Client that keeps every frame it is sent
type recordingClient struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	frames []*protocol.Frame
	closed bool
}

func newRecordingClient(id string) *recordingClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &recordingClient{id: id, ctx: ctx, cancel: cancel}
}

func (c *recordingClient) ID() string               { return c.id }
func (c *recordingClient) Context() context.Context { return c.ctx }

func (c *recordingClient) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrConnectionClosed
	}

	frame, err := protocol.Unmarshal(data)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cancel()
	return nil
}

func (c *recordingClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// framesOf returns the frames of the given event, in arrival order
func (c *recordingClient) framesOf(event domain.Event) []*protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*protocol.Frame
	for _, f := range c.frames {
		if f.Type == string(event) {
			out = append(out, f)
		}
	}
	return out
}

func (c *recordingClient) count(event domain.Event) int {
	return len(c.framesOf(event))
}

func (c *recordingClient) lastError(t *testing.T) ErrorPayload {
	t.Helper()

	frames := c.framesOf(domain.EventError)
	if len(frames) == 0 {
		t.Fatalf("connection %s received no Error event", c.id)
	}

	var payload ErrorPayload
	if err := frames[len(frames)-1].Decode(&payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return payload
}

// memStore implements every store and policy interface in memory
type memStore struct {
	mu sync.Mutex

	users    map[string]*domain.User
	nextUser int64

	messages  map[int64]*domain.Message
	nextMsg   int64
	appends   int
	appendErr error

	channelMembers map[int64]map[string]bool
	guildMembers   map[int64]map[string]bool
	friends        map[string]bool
}

func newMemStore(usernames ...string) *memStore {
	s := &memStore{
		users:          make(map[string]*domain.User),
		messages:       make(map[int64]*domain.Message),
		channelMembers: make(map[int64]map[string]bool),
		guildMembers:   make(map[int64]map[string]bool),
		friends:        make(map[string]bool),
	}
	for _, name := range usernames {
		s.addUser(name)
	}
	return s
}

func (s *memStore) addUser(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUser++
	s.users[strings.ToLower(name)] = &domain.User{ID: s.nextUser, Username: name, CreatedAt: time.Now()}
}

func (s *memStore) addChannelMember(channelID int64, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channelMembers[channelID] == nil {
		s.channelMembers[channelID] = make(map[string]bool)
	}
	s.channelMembers[channelID][strings.ToLower(username)] = true
}

func (s *memStore) addGuildMember(guildID int64, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guildMembers[guildID] == nil {
		s.guildMembers[guildID] = make(map[string]bool)
	}
	s.guildMembers[guildID][strings.ToLower(username)] = true
}

func (s *memStore) befriend(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[strings.ToLower(a)+"|"+strings.ToLower(b)] = true
}

func (s *memStore) failAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

func (s *memStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

func (s *memStore) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *memStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (s *memStore) Append(_ context.Context, msg *domain.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appends++
	if s.appendErr != nil {
		return 0, s.appendErr
	}

	s.nextMsg++
	stored := *msg
	stored.ID = s.nextMsg
	s.messages[stored.ID] = &stored
	return stored.ID, nil
}

func (s *memStore) Find(_ context.Context, id int64) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *memStore) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return domain.ErrRecordNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *memStore) sorted(keep func(*domain.Message) bool, limit int) []*domain.Message {
	var out []*domain.Message
	for _, m := range s.messages {
		if keep(m) {
			copied := *m
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *memStore) RecentForChannel(_ context.Context, channelID int64, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sorted(func(m *domain.Message) bool {
		return m.Context.Kind == domain.ContextChannel && m.Context.ChannelID == channelID
	}, limit), nil
}

func (s *memStore) ConversationBetween(_ context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.DirectGroupKey(userA, userB)
	return s.sorted(func(m *domain.Message) bool {
		return m.Context.Kind == domain.ContextDirect && m.ConversationKey() == key
	}, limit), nil
}

func (s *memStore) directCount(a, b string) int {
	msgs, _ := s.ConversationBetween(context.Background(), a, b, 1<<20)
	return len(msgs)
}

func (s *memStore) CanPost(_ context.Context, username string, channelID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.channelMembers[channelID]
	if !ok {
		return false, domain.ErrRecordNotFound
	}
	return members[strings.ToLower(username)], nil
}

func (s *memStore) AreFriends(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, b = strings.ToLower(a), strings.ToLower(b)
	return s.friends[a+"|"+b] || s.friends[b+"|"+a], nil
}

func (s *memStore) IsGuildMember(_ context.Context, username string, guildID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.guildMembers[guildID][strings.ToLower(username)], nil
}

func (s *memStore) stores() Stores {
	return Stores{Users: s, Messages: s, Channels: s, Friends: s, Guilds: s}
}

type testHub struct {
	*Hub
	t     *testing.T
	store *memStore
	seq   int
}

func newTestHub(t *testing.T, store *memStore, mutate ...func(*Config)) *testHub {
	t.Helper()

	bus := eventbus.NewInMemoryBus(256)
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)

	cfg := DefaultConfig()
	cfg.TypingTimeout = 50 * time.Millisecond
	cfg.RateLimit = RateLimit{Burst: 1000, RefillInterval: time.Second}
	cfg.TypingLimit = RateLimit{Burst: 1000, RefillInterval: time.Second}
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := NewHub(cfg, store.stores(), bus, logging.Discard())
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() { h.Stop() })

	return &testHub{Hub: h, t: t, store: store}
}

// connect opens an anonymous connection
func (h *testHub) connect(id string) *recordingClient {
	h.t.Helper()

	c := newRecordingClient(id)
	if err := h.Sessions.Connect(c, ""); err != nil {
		h.t.Fatalf("connect %s: %v", id, err)
	}
	return c
}

// login opens a connection and registers it as username
func (h *testHub) login(id, username string) *recordingClient {
	h.t.Helper()

	c := h.connect(id)
	if err := h.send(c, domain.OpRegisterUser, map[string]any{"username": username}); err != nil {
		h.t.Fatalf("register %s as %s: %v", id, username, err)
	}
	return c
}

// send dispatches op on behalf of c and returns the handler error
func (h *testHub) send(c *recordingClient, op domain.Operation, data any) error {
	h.t.Helper()

	h.seq++
	raw, err := json.Marshal(map[string]any{
		"id":   fmt.Sprintf("req-%d", h.seq),
		"type": string(op),
		"data": data,
	})
	if err != nil {
		h.t.Fatalf("marshal frame: %v", err)
	}
	return h.Sessions.Handle(context.Background(), c.ID(), raw)
}

func decodeMessage(t *testing.T, f *protocol.Frame) MessagePayload {
	t.Helper()

	var p MessagePayload
	if err := f.Decode(&p); err != nil {
		t.Fatalf("decode message payload: %v", err)
	}
	return p
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
