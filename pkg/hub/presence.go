package hub

import "github.com/HMasataka/chathub/pkg/domain"

// PresenceBroadcaster pushes the online-user list derived from the registry
type PresenceBroadcaster struct {
	registry *ConnectionRegistry
	router   *GroupRouter
}

// NewPresenceBroadcaster creates a broadcaster
func NewPresenceBroadcaster(registry *ConnectionRegistry, router *GroupRouter) *PresenceBroadcaster {
	return &PresenceBroadcaster{registry: registry, router: router}
}

// Refresh sends the sorted online users to every connection
func (p *PresenceBroadcaster) Refresh() {
	p.router.BroadcastAll(domain.EventUserList, UserListPayload{Users: p.registry.OnlineUsers()})
}

// Announce notifies every connection except the listed ones of the
// users that crossed the online/offline boundary in t.
func (p *PresenceBroadcaster) Announce(t Transition, except ...string) {
	if t.Offline != "" {
		p.router.BroadcastAll(domain.EventUserDisconnected, PresencePayload{Username: t.Offline}, except...)
	}
	if t.Online != "" {
		p.router.BroadcastAll(domain.EventUserConnected, PresencePayload{Username: t.Online}, except...)
	}
}
