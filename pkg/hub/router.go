package hub

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/transport/protocol"
	lru "github.com/hashicorp/golang-lru/v2"
)

const sendTimeout = 5 * time.Second

// deliverable is implemented by payloads that carry a persisted message.
// Such payloads reach each connection at most once.
type deliverable interface {
	DeliveryID() int64
}

// member is a connection attached to the router
type member struct {
	client domain.Client
	seen   *lru.Cache[int64, struct{}]
	groups map[string]struct{}
}

// GroupRouter keeps the live membership of broadcast groups and
// delivers frames to connections.
type GroupRouter struct {
	mu      sync.RWMutex
	members map[string]*member
	groups  map[string]map[string]struct{}

	window int
	codec  protocol.Codec
	logger *logging.Logger

	framesSent       atomic.Int64
	deliveryFailures atomic.Int64
	duplicates       atomic.Int64
}

// NewGroupRouter creates a router. window is the number of recently
// delivered message ids remembered per connection.
func NewGroupRouter(window int, logger *logging.Logger) *GroupRouter {
	if window <= 0 {
		window = 256
	}

	return &GroupRouter{
		members: make(map[string]*member),
		groups:  make(map[string]map[string]struct{}),
		window:  window,
		codec:   protocol.NewJSONCodec(),
		logger:  logger.WithFields(map[string]any{"component": "group_router"}),
	}
}

// Attach makes client reachable by its connection id
func (g *GroupRouter) Attach(client domain.Client) {
	seen, _ := lru.New[int64, struct{}](g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.members[client.ID()] = &member{
		client: client,
		seen:   seen,
		groups: make(map[string]struct{}),
	}
}

// Detach forgets connID and drops every group membership it had
func (g *GroupRouter) Detach(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.members[connID]
	if !ok {
		return
	}

	for key := range m.groups {
		g.removeFromGroup(connID, key)
	}
	delete(g.members, connID)
}

// Join adds connID to groupKey. Joining twice is a no-op.
func (g *GroupRouter) Join(connID, groupKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.members[connID]
	if !ok {
		return false
	}

	set, ok := g.groups[groupKey]
	if !ok {
		set = make(map[string]struct{})
		g.groups[groupKey] = set
	}
	set[connID] = struct{}{}
	m.groups[groupKey] = struct{}{}
	return true
}

// Leave removes connID from groupKey. Leaving a group never joined is a no-op.
func (g *GroupRouter) Leave(connID, groupKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.members[connID]; ok {
		delete(m.groups, groupKey)
	}
	g.removeFromGroup(connID, groupKey)
}

func (g *GroupRouter) removeFromGroup(connID, groupKey string) {
	set, ok := g.groups[groupKey]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(g.groups, groupKey)
	}
}

// Groups returns the groups connID has joined, sorted
func (g *GroupRouter) Groups(connID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m, ok := g.members[connID]
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(m.groups))
	for key := range m.groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BroadcastToGroup delivers event to every connection joined to groupKey.
// An empty group is not an error.
func (g *GroupRouter) BroadcastToGroup(groupKey string, event domain.Event, payload any) int {
	g.mu.RLock()
	targets := make([]*member, 0, len(g.groups[groupKey]))
	for id := range g.groups[groupKey] {
		if m, ok := g.members[id]; ok {
			targets = append(targets, m)
		}
	}
	g.mu.RUnlock()

	return g.deliver(targets, event, payload)
}

// BroadcastToConnections delivers event to the listed connections.
// Duplicate ids are delivered once.
func (g *GroupRouter) BroadcastToConnections(connIDs []string, event domain.Event, payload any) int {
	g.mu.RLock()
	seen := make(map[string]struct{}, len(connIDs))
	targets := make([]*member, 0, len(connIDs))
	for _, id := range connIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if m, ok := g.members[id]; ok {
			targets = append(targets, m)
		}
	}
	g.mu.RUnlock()

	return g.deliver(targets, event, payload)
}

// BroadcastAll delivers event to every attached connection except the listed ones
func (g *GroupRouter) BroadcastAll(event domain.Event, payload any, except ...string) int {
	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}

	g.mu.RLock()
	targets := make([]*member, 0, len(g.members))
	for id, m := range g.members {
		if _, ok := skip[id]; ok {
			continue
		}
		targets = append(targets, m)
	}
	g.mu.RUnlock()

	return g.deliver(targets, event, payload)
}

// SendTo delivers event to a single connection
func (g *GroupRouter) SendTo(connID string, event domain.Event, payload any) bool {
	return g.BroadcastToConnections([]string{connID}, event, payload) == 1
}

// deliver encodes the frame once and enqueues it on every target.
// Send failures are logged and counted, never returned.
func (g *GroupRouter) deliver(targets []*member, event domain.Event, payload any) int {
	if len(targets) == 0 {
		return 0
	}

	frame, err := protocol.NewFrame(string(event), payload)
	if err != nil {
		g.logger.Error("failed to build frame", "event", event, "error", err)
		return 0
	}

	data, err := g.codec.Encode(frame)
	if err != nil {
		g.logger.Error("failed to encode frame", "event", event, "error", err)
		return 0
	}

	var messageID int64
	if d, ok := payload.(deliverable); ok {
		messageID = d.DeliveryID()
	}

	delivered := 0
	for _, m := range targets {
		if messageID != 0 {
			if found, _ := m.seen.ContainsOrAdd(messageID, struct{}{}); found {
				g.duplicates.Add(1)
				continue
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := m.client.Send(ctx, data)
		cancel()

		if err != nil {
			g.deliveryFailures.Add(1)
			g.logger.Debug("failed to send to connection",
				"conn_id", m.client.ID(),
				"event", event,
				"error", err,
			)
			continue
		}

		g.framesSent.Add(1)
		delivered++
	}

	return delivered
}

// ConnectionCount returns the number of attached connections
func (g *GroupRouter) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.members)
}

// CloseAll closes every attached connection
func (g *GroupRouter) CloseAll() {
	g.mu.RLock()
	clients := make([]domain.Client, 0, len(g.members))
	for _, m := range g.members {
		clients = append(clients, m.client)
	}
	g.mu.RUnlock()

	for _, c := range clients {
		if err := c.Close(); err != nil {
			g.logger.Debug("error closing connection", "conn_id", c.ID(), "error", err)
		}
	}
}

// Duplicates returns how many message deliveries were suppressed as repeats
func (g *GroupRouter) Duplicates() int64 {
	return g.duplicates.Load()
}
