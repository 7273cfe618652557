package tracking

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrUnauthorized means the caller is not a participant of the backing
	// booking or schedule.
	ErrUnauthorized = errors.New("not a session participant")
	// ErrSessionNotFound means no booking or schedule exists for the id.
	ErrSessionNotFound = errors.New("session not found")
)

// Authorizer confirms a (role, user) pair against durable booking state.
type Authorizer interface {
	// Authorize reports whether userID may join sessionID as role.
	Authorize(ctx context.Context, sessionID string, sessionType SessionType, role Role, userID string) (bool, error)
	// ResolveType probes driver bookings first, then shuttle schedules,
	// returning ErrSessionNotFound when neither record exists.
	ResolveType(ctx context.Context, sessionID string) (SessionType, error)
}

// Persister applies best-effort write-through of live session state.
// Failures are logged by the caller and never abort the relay.
type Persister interface {
	WriteLocation(ctx context.Context, sessionID string, sessionType SessionType, loc Location) error
	WriteETA(ctx context.Context, sessionID string, sessionType SessionType, etaMinutes int) error
	WriteStatus(ctx context.Context, sessionID string, sessionType SessionType, role Role, status string) error
}

// RouteSource provides the route descriptor pushed to customer connections.
// A nil payload with nil error means no route has been stored yet.
type RouteSource interface {
	RouteData(ctx context.Context, sessionID string) (json.RawMessage, error)
}
