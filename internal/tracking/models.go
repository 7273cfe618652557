package tracking

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionType selects which booking record a tracking session is backed by.
type SessionType string

const (
	SessionDriverBooking   SessionType = "driver_booking"
	SessionShuttleSchedule SessionType = "shuttle_schedule"
)

func ParseSessionType(s string) (SessionType, error) {
	switch SessionType(s) {
	case SessionDriverBooking, SessionShuttleSchedule:
		return SessionType(s), nil
	}
	return "", fmt.Errorf("unknown session type %q", s)
}

// Role is the participant category on a channel connection.
type Role string

const (
	RoleDriver   Role = "driver"
	RoleShuttle  Role = "shuttle"
	RoleCustomer Role = "customer"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDriver, RoleShuttle, RoleCustomer:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Provider reports whether the role may publish location updates.
func (r Role) Provider() bool {
	return r == RoleDriver || r == RoleShuttle
}

type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	AccuracyM  float64 `json:"accuracy_m,omitempty"`
	SpeedKmh   float64 `json:"speed_kmh,omitempty"`
	HeadingDeg float64 `json:"heading_deg,omitempty"`
}

func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Participant identifies a (role, user) pair that joined a session.
type Participant struct {
	Role   Role   `json:"role"`
	UserID string `json:"user_id"`
}

// Snapshot is the read-only view of a live session returned over HTTP and
// replayed to newly joined connections.
type Snapshot struct {
	SessionID    string        `json:"id"`
	SessionType  SessionType   `json:"session_type"`
	LastLocation *Location     `json:"last_location,omitempty"`
	LastUpdate   *time.Time    `json:"last_update,omitempty"`
	ETAMinutes   *int          `json:"eta_minutes,omitempty"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Envelope is the wire format in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	MsgLocationUpdate = "location_update"
	MsgRouteData      = "route_data"
	MsgETAUpdate      = "eta_update"
	MsgStatusUpdate   = "status_update"
)

type ETAUpdate struct {
	ETAMinutes int `json:"eta_minutes"`
}

type StatusUpdate struct {
	Status string `json:"status"`
}

// Close codes sent before a connection reaches Active.
const (
	CloseBadRequest   = 4000
	CloseUnauthorized = 4001
	CloseAuthError    = 4002
)
