package route

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/db"
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/shared/geo"
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/tracking"

	"github.com/jackc/pgx/v5"
)

// fallbackSpeedKmh is assumed when the provider has not reported a usable
// speed yet.
const fallbackSpeedKmh = 30.0

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) SetRoute(ctx context.Context, input Route) (Route, error) {
	waypoints, err := json.Marshal(input.Waypoints)
	if err != nil {
		return Route{}, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tracking_routes (session_id, origin_address, origin_lat, origin_lng,
		                             destination_address, destination_lat, destination_lng, waypoints, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (session_id) DO UPDATE SET
			origin_address=EXCLUDED.origin_address, origin_lat=EXCLUDED.origin_lat, origin_lng=EXCLUDED.origin_lng,
			destination_address=EXCLUDED.destination_address, destination_lat=EXCLUDED.destination_lat,
			destination_lng=EXCLUDED.destination_lng, waypoints=EXCLUDED.waypoints, updated_at=now()
		RETURNING updated_at
	`, input.SessionID, input.OriginAddress, input.OriginLat, input.OriginLng,
		input.DestinationAddress, input.DestinationLat, input.DestinationLng, waypoints)
	if err := row.Scan(&input.UpdatedAt); err != nil {
		return Route{}, err
	}
	return input, nil
}

func (s *Service) GetRoute(ctx context.Context, sessionID string) (Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT session_id, origin_address, origin_lat, origin_lng,
		       destination_address, destination_lat, destination_lng, waypoints, updated_at
		FROM tracking_routes WHERE session_id=$1
	`, sessionID)

	var r Route
	var waypoints []byte
	if err := row.Scan(&r.SessionID, &r.OriginAddress, &r.OriginLat, &r.OriginLng,
		&r.DestinationAddress, &r.DestinationLat, &r.DestinationLng, &waypoints, &r.UpdatedAt); err != nil {
		return Route{}, err
	}
	if len(waypoints) > 0 {
		if err := json.Unmarshal(waypoints, &r.Waypoints); err != nil {
			return Route{}, err
		}
	}
	return r, nil
}

// RouteData implements tracking.RouteSource. A missing row is not an
// error: the session simply has no route to push yet.
func (s *Service) RouteData(ctx context.Context, sessionID string) (json.RawMessage, error) {
	r, err := s.GetRoute(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// EstimateETAMinutes computes a straight-line ETA from the last reported
// location to the route destination at the reported speed.
func EstimateETAMinutes(loc tracking.Location, r Route) int {
	distKm := geo.HaversineKm(loc.Latitude, loc.Longitude, r.DestinationLat, r.DestinationLng)
	speed := loc.SpeedKmh
	if speed < 5 {
		speed = fallbackSpeedKmh
	}
	return int(math.Ceil(distKm / speed * 60))
}
