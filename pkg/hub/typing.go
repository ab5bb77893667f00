package hub

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/domain"
)

type typingKey struct {
	kind      domain.ContextKind
	contextID string
	username  string
}

type typingState struct {
	context  domain.TypingContext
	username string
	timer    *time.Timer
}

// TypingCoordinator relays typing signals and expires them when the
// sender stops re-asserting within the timeout.
type TypingCoordinator struct {
	registry *ConnectionRegistry
	router   *GroupRouter
	timeout  time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	states  map[typingKey]*typingState
	stopped bool
}

// NewTypingCoordinator creates a coordinator
func NewTypingCoordinator(registry *ConnectionRegistry, router *GroupRouter, timeout time.Duration, logger *logging.Logger) *TypingCoordinator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &TypingCoordinator{
		registry: registry,
		router:   router,
		timeout:  timeout,
		logger:   logger.WithFields(map[string]any{"component": "typing"}),
		states:   make(map[typingKey]*typingState),
	}
}

func keyFor(username string, tc domain.TypingContext) typingKey {
	key := typingKey{kind: tc.Kind(), username: strings.ToLower(username)}
	switch c := tc.(type) {
	case domain.ChannelTyping:
		key.contextID = strconv.FormatInt(c.ChannelID, 10)
	case domain.DirectTyping:
		key.contextID = strings.ToLower(c.Recipient)
	}
	return key
}

// Typing relays UserTyping and (re)arms the expiry of the state
func (t *TypingCoordinator) Typing(username string, tc domain.TypingContext) {
	key := keyFor(username, tc)

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if state, ok := t.states[key]; ok {
		state.timer.Stop()
	}
	state := &typingState{context: tc, username: username}
	state.timer = time.AfterFunc(t.timeout, func() { t.expire(key, state) })
	t.states[key] = state
	t.mu.Unlock()

	t.relay(domain.EventUserTyping, username, tc)
}

// StopTyping clears the state and relays UserStopTyping
func (t *TypingCoordinator) StopTyping(username string, tc domain.TypingContext) {
	t.drop(keyFor(username, tc))
	t.relay(domain.EventUserStopTyping, username, tc)
}

// Clear relays UserStopTyping only if username is currently typing in tc
func (t *TypingCoordinator) Clear(username string, tc domain.TypingContext) {
	if state := t.drop(keyFor(username, tc)); state != nil {
		t.relay(domain.EventUserStopTyping, state.username, state.context)
	}
}

// ClearUser stops every typing state of username
func (t *TypingCoordinator) ClearUser(username string) {
	lower := strings.ToLower(username)

	t.mu.Lock()
	var cleared []*typingState
	for key, state := range t.states {
		if key.username != lower {
			continue
		}
		state.timer.Stop()
		delete(t.states, key)
		cleared = append(cleared, state)
	}
	t.mu.Unlock()

	for _, state := range cleared {
		t.relay(domain.EventUserStopTyping, state.username, state.context)
	}
}

// Active returns the number of live typing states
func (t *TypingCoordinator) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.states)
}

// Stop cancels every pending expiry without relaying
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for key, state := range t.states {
		state.timer.Stop()
		delete(t.states, key)
	}
}

func (t *TypingCoordinator) drop(key typingKey) *typingState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		return nil
	}
	state.timer.Stop()
	delete(t.states, key)
	return state
}

// expire fires from the timer goroutine. A state that was re-armed or
// cleared in the meantime is no longer in the map under this pointer.
func (t *TypingCoordinator) expire(key typingKey, state *typingState) {
	t.mu.Lock()
	if current, ok := t.states[key]; !ok || current != state {
		t.mu.Unlock()
		return
	}
	delete(t.states, key)
	t.mu.Unlock()

	t.logger.Debug("typing expired", "username", state.username, "kind", key.kind)
	t.relay(domain.EventUserStopTyping, state.username, state.context)
}

func (t *TypingCoordinator) relay(event domain.Event, username string, tc domain.TypingContext) {
	payload := TypingPayload{Username: username, Kind: tc.Kind()}

	switch c := tc.(type) {
	case domain.ChannelTyping:
		payload.ChannelID = c.ChannelID
		t.router.BroadcastToGroup(domain.ChannelGroupKey(c.ChannelID), event, payload)
	case domain.DirectTyping:
		payload.Recipient = c.Recipient
		targets := append(t.registry.ConnectionsFor(c.Recipient), t.registry.ConnectionsFor(username)...)
		t.router.BroadcastToConnections(targets, event, payload)
	}
}
