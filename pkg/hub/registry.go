package hub

import (
	"sort"
	"strings"
	"sync"
)

// Transition describes how a registry mutation changed presence.
// Empty fields mean no user crossed that boundary.
type Transition struct {
	// Online is the user that went from zero to one connection
	Online string
	// Offline is the user that went from one to zero connections
	Offline string
}

// ConnectionRegistry maps live connections to usernames.
// Username lookups are case-insensitive.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]string              // connID -> username as registered
	users map[string]map[string]struct{} // lowercased username -> connIDs
	names map[string]string              // lowercased username -> display name
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]string),
		users: make(map[string]map[string]struct{}),
		names: make(map[string]string),
	}
}

// Register associates connID with username, replacing any prior
// association of connID.
func (r *ConnectionRegistry) Register(connID, username string) Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var t Transition

	if previous, ok := r.conns[connID]; ok {
		if strings.EqualFold(previous, username) {
			r.conns[connID] = username
			r.names[strings.ToLower(username)] = username
			return t
		}
		if r.remove(connID, previous) {
			t.Offline = previous
		}
	}

	key := strings.ToLower(username)
	set, ok := r.users[key]
	if !ok {
		set = make(map[string]struct{})
		r.users[key] = set
		t.Online = username
	}
	set[connID] = struct{}{}
	r.conns[connID] = username
	r.names[key] = username

	return t
}

// Unregister removes connID. It reports the username the connection was
// bound to, whether that was the user's last connection, and whether the
// connection was registered at all.
func (r *ConnectionRegistry) Unregister(connID string) (username string, offline bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok = r.conns[connID]
	if !ok {
		return "", false, false
	}

	offline = r.remove(connID, username)
	return username, offline, true
}

// remove drops connID from username's set and reports whether the set
// became empty. Callers hold the write lock.
func (r *ConnectionRegistry) remove(connID, username string) bool {
	delete(r.conns, connID)

	key := strings.ToLower(username)
	set := r.users[key]
	delete(set, connID)
	if len(set) > 0 {
		return false
	}

	delete(r.users, key)
	delete(r.names, key)
	return true
}

// ConnectionsFor returns the connections of username, sorted.
// An unknown user has no connections.
func (r *ConnectionRegistry) ConnectionsFor(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[strings.ToLower(username)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Username returns the user bound to connID
func (r *ConnectionRegistry) Username(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username, ok := r.conns[connID]
	return username, ok
}

// IsOnline reports whether username has at least one connection
func (r *ConnectionRegistry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[strings.ToLower(username)]
	return ok
}

// OnlineUsers returns the distinct registered usernames, sorted
func (r *ConnectionRegistry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.names))
	for _, name := range r.names {
		users = append(users, name)
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i]) < strings.ToLower(users[j])
	})
	return users
}

// ConnectionCount returns the number of registered connections
func (r *ConnectionRegistry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
