package presence

import (
	"sort"
	"sync"

	"tetatet/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
)

const sendBuffer = 100

// Conn is one live transport session bound to a single user. The owner is
// set once after authentication and never reassigned.
type Conn struct {
	ID     string
	UserID string
	send   chan models.ServerEvent
}

func NewConn(id, userID string) *Conn {
	return &Conn{
		ID:     id,
		UserID: userID,
		send:   make(chan models.ServerEvent, sendBuffer),
	}
}

// Events returns the channel the transport drains to deliver events to the
// client. It is closed when the connection is unregistered.
func (c *Conn) Events() <-chan models.ServerEvent {
	return c.send
}

// Registry tracks which users are online and which connections belong to
// them. A user is online while they have at least one registered
// connection; a connection belongs to at most one user.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Conn
	owners map[string]string
	online mapset.Set[string]
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Conn),
		owners: make(map[string]string),
		// Guarded by mu together with the maps, so the unsafe variant is fine.
		online: mapset.NewThreadUnsafeSet[string](),
	}
}

// Register adds the connection to its owner's active set. Idempotent for a
// connection that is already registered. Reports whether the user went from
// offline to online.
func (r *Registry) Register(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[c.UserID]
	if !ok {
		conns = make(map[string]*Conn)
		r.byUser[c.UserID] = conns
	}
	if _, dup := conns[c.ID]; dup {
		return false
	}
	conns[c.ID] = c
	r.owners[c.ID] = c.UserID

	return r.online.Add(c.UserID)
}

// Unregister removes the connection from whichever user's set it belongs
// to and closes its event channel. Reports the owner and whether the user
// went offline. A connection that was never registered (or already removed,
// when disconnect races another event) is a no-op.
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[connID]
	if !ok {
		return "", false
	}
	delete(r.owners, connID)

	conns := r.byUser[userID]
	if c, ok := conns[connID]; ok {
		close(c.send)
		delete(conns, connID)
	}
	if len(conns) > 0 {
		return userID, false
	}
	delete(r.byUser, userID)
	r.online.Remove(userID)
	return userID, true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online.Contains(userID)
}

// ConnectionsOf returns the user's active connections. Empty when offline.
func (r *Registry) ConnectionsOf(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// OnlineSnapshot returns the sorted ids of all currently online users.
func (r *Registry) OnlineSnapshot() []string {
	r.mu.RLock()
	ids := r.online.ToSlice()
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// SendTo delivers the event to every active connection of the user. Events
// to slow consumers are dropped rather than blocking the caller.
func (r *Registry) SendTo(userID string, ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.byUser[userID] {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// SendToConn delivers the event to a single connection, if it is still
// registered. Sends happen under the read lock, so the channel cannot be
// closed out from under us by a concurrent Unregister.
func (r *Registry) SendToConn(connID string, ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.owners[connID]
	if !ok {
		return
	}
	if c, ok := r.byUser[userID][connID]; ok {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// Broadcast delivers the event to every connection of every online user.
func (r *Registry) Broadcast(ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conns := range r.byUser {
		for _, c := range conns {
			select {
			case c.send <- ev:
			default:
			}
		}
	}
}
