package route

import "time"

type Waypoint struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Route describes the planned path of a tracked trip, keyed by the
// tracking session id.
type Route struct {
	SessionID          string     `json:"session_id"`
	OriginAddress      string     `json:"origin_address"`
	OriginLat          float64    `json:"origin_lat"`
	OriginLng          float64    `json:"origin_lng"`
	DestinationAddress string     `json:"destination_address"`
	DestinationLat     float64    `json:"destination_lat"`
	DestinationLng     float64    `json:"destination_lng"`
	Waypoints          []Waypoint `json:"waypoints,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
