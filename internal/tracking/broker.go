package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	locationPersistInterval = 30 * time.Second
	persistQueueSize        = 256
	persistWriteTimeout     = 5 * time.Second

	relayChannelPattern = "tracking:*:relay"
)

// Broker coordinates live tracking sessions: it authorizes participants
// against booking ownership, relays updates between the connections of a
// session, and writes periodic snapshots through to durable storage.
// All shared state lives in the injected Registry, so tests can run many
// isolated broker instances.
type Broker struct {
	instanceID string
	registry   *Registry
	auth       Authorizer
	store      Persister
	routes     RouteSource
	redis      *redis.Client

	persistEvery time.Duration
	persistCh    chan persistOp
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

type persistOp struct {
	kind        string // "location" | "eta" | "status"
	sessionID   string
	sessionType SessionType
	loc         Location
	etaMinutes  int
	role        Role
	status      string
}

// NewBroker starts the persistence worker and, when a Redis client is
// supplied, the cross-instance relay subscriber. Callers must Shutdown.
func NewBroker(auth Authorizer, store Persister, routes RouteSource, redisClient *redis.Client) *Broker {
	b := &Broker{
		instanceID:   uuid.NewString(),
		registry:     NewRegistry(),
		auth:         auth,
		store:        store,
		routes:       routes,
		redis:        redisClient,
		persistEvery: locationPersistInterval,
		persistCh:    make(chan persistOp, persistQueueSize),
		done:         make(chan struct{}),
	}

	b.wg.Add(1)
	go b.persistWorker()

	if redisClient != nil {
		go b.subscribeRelay()
	}
	return b
}

// Shutdown stops the persistence worker after draining queued writes.
func (b *Broker) Shutdown() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// Authorize resolves the session type when not supplied and checks the
// caller against booking ownership. On success the participant is recorded
// in the live session entry (created lazily).
func (b *Broker) Authorize(ctx context.Context, sessionID string, st SessionType, role Role, userID string) (SessionType, error) {
	if st == "" {
		resolved, err := b.auth.ResolveType(ctx, sessionID)
		if err != nil {
			return "", err
		}
		st = resolved
	}

	ok, err := b.auth.Authorize(ctx, sessionID, st, role, userID)
	if err != nil {
		return "", fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return "", ErrUnauthorized
	}

	b.registry.AddParticipant(sessionID, st, Participant{Role: role, UserID: userID})
	return st, nil
}

// CreateSession backs the HTTP "create or fetch session" operation.
func (b *Broker) CreateSession(ctx context.Context, sessionID string, st SessionType, role Role, userID string) (Snapshot, error) {
	if _, err := b.Authorize(ctx, sessionID, st, role, userID); err != nil {
		return Snapshot{}, err
	}
	snap, _ := b.registry.Snapshot(sessionID)
	return snap, nil
}

// Snapshot returns the live view of a session, if one exists in memory.
func (b *Broker) Snapshot(sessionID string) (Snapshot, bool) {
	return b.registry.Snapshot(sessionID)
}

// Connect runs the channel-open handshake: authorize, register the client,
// and queue the initial snapshot frames so a new participant does not have
// to wait for the next live update.
func (b *Broker) Connect(ctx context.Context, sessionID string, role Role, userID string) (*Client, error) {
	st, err := b.Authorize(ctx, sessionID, "", role, userID)
	if err != nil {
		return nil, err
	}

	client := b.registry.Join(sessionID, st, role, userID)

	if snap, ok := b.registry.Snapshot(sessionID); ok {
		if snap.LastLocation != nil {
			b.queueTo(client, MsgLocationUpdate, snap.LastLocation)
		}
		if snap.ETAMinutes != nil {
			b.queueTo(client, MsgETAUpdate, ETAUpdate{ETAMinutes: *snap.ETAMinutes})
		}
	}
	if role == RoleCustomer && b.routes != nil {
		if data, err := b.routes.RouteData(ctx, sessionID); err != nil {
			log.Printf("tracking: route lookup for session %s: %v", sessionID, err)
		} else if data != nil {
			b.queueTo(client, MsgRouteData, json.RawMessage(data))
		}
	}
	return client, nil
}

// Disconnect deregisters a client. The last connection of a session
// triggers a final persistence flush with the last known location before
// the in-memory entry is dropped.
func (b *Broker) Disconnect(client *Client) {
	last, st, final := b.registry.Leave(client)
	if last && final != nil {
		b.enqueue(persistOp{kind: "location", sessionID: client.SessionID, sessionType: st, loc: *final})
	}
}

// HandleMessage dispatches one inbound frame from an Active connection.
// Malformed or disallowed frames are dropped with a log line; the
// connection stays open.
func (b *Broker) HandleMessage(client *Client, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("tracking: dropping unparseable frame from %s/%s: %v", client.SessionID, client.UserID, err)
		return
	}

	switch env.Type {
	case MsgLocationUpdate:
		b.handleLocation(client, env.Data, payload)
	case MsgETAUpdate:
		b.handleETA(client, env.Data, payload)
	case MsgStatusUpdate:
		b.handleStatus(client, env.Data, payload)
	default:
		// route_data is server-initiated only; everything else is unknown.
		log.Printf("tracking: dropping frame type %q from %s/%s", env.Type, client.SessionID, client.UserID)
	}
}

func (b *Broker) handleLocation(client *Client, data json.RawMessage, raw []byte) {
	if !client.Role.Provider() {
		log.Printf("tracking: dropping location_update from %s role on session %s", client.Role, client.SessionID)
		return
	}

	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil || !loc.Valid() {
		log.Printf("tracking: dropping invalid location on session %s: %v", client.SessionID, err)
		return
	}

	if !b.registry.RecordLocation(client.SessionID, loc) {
		return
	}
	b.relay(client, raw)

	if b.registry.ShouldPersistLocation(client.SessionID, b.persistEvery) {
		b.enqueue(persistOp{kind: "location", sessionID: client.SessionID, sessionType: b.sessionTypeOf(client.SessionID), loc: loc})
	}
}

func (b *Broker) handleETA(client *Client, data json.RawMessage, raw []byte) {
	if !client.Role.Provider() {
		log.Printf("tracking: dropping eta_update from %s role on session %s", client.Role, client.SessionID)
		return
	}

	var eta ETAUpdate
	if err := json.Unmarshal(data, &eta); err != nil {
		log.Printf("tracking: dropping invalid eta_update on session %s: %v", client.SessionID, err)
		return
	}

	b.registry.RecordETA(client.SessionID, eta.ETAMinutes)
	b.relay(client, raw)
	// ETA changes are infrequent; no throttle.
	b.enqueue(persistOp{kind: "eta", sessionID: client.SessionID, sessionType: b.sessionTypeOf(client.SessionID), etaMinutes: eta.ETAMinutes})
}

func (b *Broker) handleStatus(client *Client, data json.RawMessage, raw []byte) {
	var status StatusUpdate
	if err := json.Unmarshal(data, &status); err != nil || status.Status == "" {
		log.Printf("tracking: dropping invalid status_update on session %s: %v", client.SessionID, err)
		return
	}

	b.relay(client, raw)
	b.enqueue(persistOp{kind: "status", sessionID: client.SessionID, sessionType: b.sessionTypeOf(client.SessionID), role: client.Role, status: status.Status})
}

func (b *Broker) sessionTypeOf(sessionID string) SessionType {
	snap, _ := b.registry.Snapshot(sessionID)
	return snap.SessionType
}

// PushRoute delivers a route descriptor to the customer connections of a
// session, as a server-initiated route_data frame.
func (b *Broker) PushRoute(sessionID string, data json.RawMessage) {
	payload, err := json.Marshal(Envelope{Type: MsgRouteData, Data: data})
	if err != nil {
		return
	}
	b.registry.BroadcastRole(sessionID, RoleCustomer, payload)
}

// PushETA injects an externally computed ETA into a live session: relayed
// to every connection and persisted without throttling.
func (b *Broker) PushETA(sessionID string, etaMinutes int) {
	if !b.registry.RecordETA(sessionID, etaMinutes) {
		return
	}
	raw, err := json.Marshal(ETAUpdate{ETAMinutes: etaMinutes})
	if err != nil {
		return
	}
	payload, err := json.Marshal(Envelope{Type: MsgETAUpdate, Data: raw})
	if err != nil {
		return
	}
	b.registry.Broadcast(sessionID, payload, nil)
	b.enqueue(persistOp{kind: "eta", sessionID: sessionID, sessionType: b.sessionTypeOf(sessionID), etaMinutes: etaMinutes})
}

func (b *Broker) queueTo(client *Client, msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	payload, err := json.Marshal(Envelope{Type: msgType, Data: raw})
	if err != nil {
		return
	}
	b.registry.SendTo(client, payload)
}

// relay fans the frame out locally and mirrors it to other broker
// instances through Redis when configured.
func (b *Broker) relay(client *Client, payload []byte) {
	b.registry.Broadcast(client.SessionID, payload, client)

	if b.redis == nil {
		return
	}
	mirrored, err := json.Marshal(relayFrame{Origin: b.instanceID, Payload: payload})
	if err != nil {
		return
	}
	if err := b.redis.Publish(context.Background(), relayChannel(client.SessionID), mirrored).Err(); err != nil {
		log.Printf("tracking: redis publish error: %v", err)
	}
}

type relayFrame struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func (b *Broker) subscribeRelay() {
	ctx := context.Background()
	pubsub := b.redis.PSubscribe(ctx, relayChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				continue
			}
			if frame.Origin == b.instanceID {
				continue
			}
			b.registry.Broadcast(sessionIDFromChannel(msg.Channel), frame.Payload, nil)
		}
	}
}

func relayChannel(sessionID string) string {
	return "tracking:" + sessionID + ":relay"
}

func sessionIDFromChannel(ch string) string {
	// tracking:{session}:relay
	const prefix = "tracking:"
	const suffix = ":relay"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}

// enqueue hands a write to the background worker without ever blocking the
// relay path. A full queue drops the write; durable state catches up on the
// next throttle window.
func (b *Broker) enqueue(op persistOp) {
	select {
	case b.persistCh <- op:
	default:
		log.Printf("tracking: persistence queue full, dropping %s write for session %s", op.kind, op.sessionID)
	}
}

func (b *Broker) persistWorker() {
	defer b.wg.Done()
	for {
		select {
		case op := <-b.persistCh:
			b.applyPersist(op)
		case <-b.done:
			for {
				select {
				case op := <-b.persistCh:
					b.applyPersist(op)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) applyPersist(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), persistWriteTimeout)
	defer cancel()

	var err error
	switch op.kind {
	case "location":
		err = b.store.WriteLocation(ctx, op.sessionID, op.sessionType, op.loc)
	case "eta":
		err = b.store.WriteETA(ctx, op.sessionID, op.sessionType, op.etaMinutes)
	case "status":
		err = b.store.WriteStatus(ctx, op.sessionID, op.sessionType, op.role, op.status)
	}
	if err != nil {
		log.Printf("tracking: %s write for session %s failed: %v", op.kind, op.sessionID, err)
	}
}
