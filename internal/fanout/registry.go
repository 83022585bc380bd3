// Package fanout tracks the live push channel of every connected user and
// delivers named JSON events to a user, to every user in a project or to
// everyone.
//
// There is at most one connection per user. Registering a user who is
// already connected closes and discards the previous connection first.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Event names written to clients.
const (
	EventConnected    = "connected"
	EventPing         = "ping"
	EventUpdate       = "update"
	EventNotification = "notification"
)

// DefaultHeartbeatInterval is the ping period used when none is configured.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrRegistryClosed is returned by Register after Close.
var ErrRegistryClosed = errors.New("registry is closed")

// Channel is the write side of one client's push stream. Send must not block
// on a slow client; it returns an error if the frame cannot be queued. Close
// must be idempotent and must not block.
type Channel interface {
	Send(event string, data []byte) error
	Close()
}

// Conn is a registered connection. The pointer identifies this particular
// connection, so a late Unregister of a replaced connection is a no-op.
type Conn struct {
	UserID      string
	ProjectID   string
	ConnectedAt time.Time
	ch          Channel
}

// Stats summarizes the registry.
type Stats struct {
	Total    int            `json:"total"`
	Projects map[string]int `json:"projects"`
}

// Registry maps users to their connection and projects to their connected
// users. Both maps change together under one lock.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*Conn
	projects map[string]map[string]struct{}
	closed   bool

	heartbeat time.Duration
	now       func() time.Time
}

// NewRegistry creates an empty registry. A non-positive heartbeat uses
// DefaultHeartbeatInterval.
func NewRegistry(heartbeat time.Duration) *Registry {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Registry{
		clients:   make(map[string]*Conn),
		projects:  make(map[string]map[string]struct{}),
		heartbeat: heartbeat,
		now:       time.Now,
	}
}

// Register installs ch as the connection of userID in projectID, replacing
// and closing any existing connection of that user. The connected event is
// queued on ch before it becomes visible to pushes.
func (r *Registry) Register(userID, projectID string, ch Channel) (*Conn, error) {
	if err := ch.Send(EventConnected, mustMarshal(map[string]string{"userId": userID})); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to send connected event: %w", err)
	}
	conn := &Conn{UserID: userID, ProjectID: projectID, ConnectedAt: r.now(), ch: ch}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch.Close()
		return nil, ErrRegistryClosed
	}
	old := r.detachLocked(userID)
	if old != nil {
		old.ch.Close()
	}
	r.clients[userID] = conn
	members, ok := r.projects[projectID]
	if !ok {
		members = make(map[string]struct{})
		r.projects[projectID] = members
	}
	members[userID] = struct{}{}
	total := len(r.clients)
	r.mu.Unlock()

	if old != nil {
		log.Printf("[SSE] Replaced existing connection: user=%s project=%s", userID, old.ProjectID)
	}
	log.Printf("[SSE] Client connected: user=%s project=%s total=%d", userID, projectID, total)
	return conn, nil
}

// detachLocked removes userID from both maps and returns its connection.
func (r *Registry) detachLocked(userID string) *Conn {
	conn, ok := r.clients[userID]
	if !ok {
		return nil
	}
	delete(r.clients, userID)
	if members, ok := r.projects[conn.ProjectID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.projects, conn.ProjectID)
		}
	}
	return conn
}

// Remove drops whatever connection userID currently has and closes it.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	conn := r.detachLocked(userID)
	total := len(r.clients)
	r.mu.Unlock()

	if conn != nil {
		conn.ch.Close()
		log.Printf("[SSE] Client disconnected: user=%s total=%d", userID, total)
	}
}

// Unregister removes conn only if it is still the user's current connection.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	if r.clients[conn.UserID] != conn {
		r.mu.Unlock()
		conn.ch.Close()
		return
	}
	r.detachLocked(conn.UserID)
	total := len(r.clients)
	r.mu.Unlock()

	conn.ch.Close()
	log.Printf("[SSE] Client disconnected: user=%s total=%d", conn.UserID, total)
}

// deliver sends one frame and tears the connection down on failure.
func (r *Registry) deliver(conn *Conn, event string, data []byte) bool {
	if err := conn.ch.Send(event, data); err != nil {
		log.Printf("[SSE] Failed to push %q to user %s, dropping connection: %v", event, conn.UserID, err)
		r.Unregister(conn)
		return false
	}
	return true
}

// PushToUser sends event to userID. It is a no-op if the user is not connected.
func (r *Registry) PushToUser(userID, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[SSE] Failed to encode %q for user %s: %v", event, userID, err)
		return
	}

	r.mu.RLock()
	conn := r.clients[userID]
	r.mu.RUnlock()
	if conn == nil {
		return
	}
	r.deliver(conn, event, payload)
}

// PushToProject sends event to every user connected to projectID and returns
// the number of successful deliveries. A failed delivery only affects that
// user's connection.
func (r *Registry) PushToProject(projectID, event string, data any) int {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[SSE] Failed to encode %q for project %s: %v", event, projectID, err)
		return 0
	}

	r.mu.RLock()
	members := r.projects[projectID]
	conns := make([]*Conn, 0, len(members))
	for userID := range members {
		conns = append(conns, r.clients[userID])
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return 0
	}
	log.Printf("[SSE] Pushing %q to %d clients in project %s", event, len(conns), projectID)
	return r.deliverAll(conns, event, payload)
}

// Broadcast sends event to every connection.
func (r *Registry) Broadcast(event string, data any) int {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[SSE] Failed to encode %q for broadcast: %v", event, err)
		return 0
	}
	return r.deliverAll(r.snapshot(), event, payload)
}

func (r *Registry) deliverAll(conns []*Conn, event string, payload []byte) int {
	delivered := 0
	for _, conn := range conns {
		if r.deliver(conn, event, payload) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.clients))
	for _, conn := range r.clients {
		conns = append(conns, conn)
	}
	return conns
}

// Heartbeat writes a ping to every connection.
func (r *Registry) Heartbeat() {
	r.deliverAll(r.snapshot(), EventPing, []byte("{}"))
}

// Run sends heartbeats until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Heartbeat()
		}
	}
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ProjectCount returns the number of users connected to projectID.
func (r *Registry) ProjectCount(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects[projectID])
}

// Stats returns the connection count per project.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{Total: len(r.clients), Projects: make(map[string]int, len(r.projects))}
	for projectID, members := range r.projects {
		stats.Projects[projectID] = len(members)
	}
	return stats
}

// Close closes every connection and rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]*Conn, 0, len(r.clients))
	for _, conn := range r.clients {
		conns = append(conns, conn)
	}
	r.clients = make(map[string]*Conn)
	r.projects = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		conn.ch.Close()
	}
	log.Printf("[SSE] Registry closed, %d connections drained", len(conns))
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
