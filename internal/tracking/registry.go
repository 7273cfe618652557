package tracking

import (
	"sync"
	"time"
)

const sendBufferSize = 64

// Client is one live channel connection. The identity tuple is immutable
// for the connection's lifetime; Send is closed exactly once, by the
// registry, when the client leaves or is evicted.
type Client struct {
	SessionID string
	Role      Role
	UserID    string
	Send      chan []byte
}

func (c *Client) identity() Participant {
	return Participant{Role: c.Role, UserID: c.UserID}
}

type session struct {
	sessionType  SessionType
	lastLocation *Location
	lastUpdate   time.Time
	etaMinutes   *int
	lastPersist  time.Time
	createdAt    time.Time
	participants map[Participant]struct{}
	clients      map[*Client]struct{}
	byIdentity   map[Participant]*Client
}

// Registry is the single source of truth for live session snapshots.
// It is a process-local cache over durable booking state and is owned by
// one Broker instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*session{}}
}

func (r *Registry) getOrCreate(sessionID string, st SessionType) *session {
	sess, ok := r.sessions[sessionID]
	if !ok {
		sess = &session{
			sessionType:  st,
			createdAt:    time.Now().UTC(),
			participants: map[Participant]struct{}{},
			clients:      map[*Client]struct{}{},
			byIdentity:   map[Participant]*Client{},
		}
		r.sessions[sessionID] = sess
	}
	if sess.sessionType == "" {
		sess.sessionType = st
	}
	return sess
}

// AddParticipant records an authorized (role, user) pair, creating the
// session entry if needed. Idempotent.
func (r *Registry) AddParticipant(sessionID string, st SessionType, p Participant) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.getOrCreate(sessionID, st)
	sess.participants[p] = struct{}{}
	return snapshotLocked(sessionID, sess)
}

// Join registers a client under its identity tuple. A prior client with the
// same (session, role, user) identity is evicted: its send channel closes
// and its socket pump tears the old connection down.
func (r *Registry) Join(sessionID string, st SessionType, role Role, userID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Role:      role,
		UserID:    userID,
		Send:      make(chan []byte, sendBufferSize),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.getOrCreate(sessionID, st)
	id := client.identity()
	if old, ok := sess.byIdentity[id]; ok {
		delete(sess.clients, old)
		close(old.Send)
	}
	sess.byIdentity[id] = client
	sess.clients[client] = struct{}{}
	sess.participants[id] = struct{}{}
	return client
}

// Leave deregisters a client. It reports whether this was the last live
// connection, in which case the entry is dropped and the final location
// (if any) is returned for the caller's persistence flush. Idempotent for
// clients already evicted by Join.
func (r *Registry) Leave(client *Client) (last bool, st SessionType, final *Location) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[client.SessionID]
	if !ok {
		return false, "", nil
	}
	if _, ok := sess.clients[client]; !ok {
		return false, "", nil
	}
	delete(sess.clients, client)
	if sess.byIdentity[client.identity()] == client {
		delete(sess.byIdentity, client.identity())
	}
	close(client.Send)

	if len(sess.clients) > 0 {
		return false, sess.sessionType, nil
	}
	delete(r.sessions, client.SessionID)
	return true, sess.sessionType, sess.lastLocation
}

// RecordLocation overwrites the last known location. Persistence cadence is
// the caller's concern.
func (r *Registry) RecordLocation(sessionID string, loc Location) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	sess.lastLocation = &loc
	sess.lastUpdate = time.Now().UTC()
	return true
}

func (r *Registry) RecordETA(sessionID string, etaMinutes int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	sess.etaMinutes = &etaMinutes
	return true
}

// ShouldPersistLocation applies the write-through throttle: it returns true
// and advances the marker when at least interval has passed since the last
// durable write. The marker is distinct from lastUpdate.
func (r *Registry) ShouldPersistLocation(sessionID string, interval time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	now := time.Now()
	if !sess.lastPersist.IsZero() && now.Sub(sess.lastPersist) < interval {
		return false
	}
	sess.lastPersist = now
	return true
}

func (r *Registry) Snapshot(sessionID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(sessionID, sess), true
}

func snapshotLocked(sessionID string, sess *session) Snapshot {
	snap := Snapshot{
		SessionID:    sessionID,
		SessionType:  sess.sessionType,
		ETAMinutes:   sess.etaMinutes,
		Participants: make([]Participant, 0, len(sess.participants)),
		CreatedAt:    sess.createdAt,
	}
	if sess.lastLocation != nil {
		loc := *sess.lastLocation
		snap.LastLocation = &loc
		t := sess.lastUpdate
		snap.LastUpdate = &t
	}
	for p := range sess.participants {
		snap.Participants = append(snap.Participants, p)
	}
	return snap
}

// SendTo delivers a payload to a single client if it is still registered.
// Membership is checked under the lock so a send can never race the close
// of an evicted client's channel.
func (r *Registry) SendTo(client *Client, payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sess.clients[client]; !ok {
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}

// Broadcast fans a payload out to every client of the session except the
// sender. Slow clients are skipped rather than blocking the relay.
func (r *Registry) Broadcast(sessionID string, payload []byte, except *Client) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for client := range sess.clients {
		if client == except {
			continue
		}
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// BroadcastRole delivers a payload to clients of a single role, used for
// server-initiated route_data pushes to customers.
func (r *Registry) BroadcastRole(sessionID string, role Role, payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for client := range sess.clients {
		if client.Role != role {
			continue
		}
		select {
		case client.Send <- payload:
		default:
		}
	}
}
