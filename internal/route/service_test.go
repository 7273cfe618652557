package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/tracking"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var pgErr = errors.New("db error")

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestSetAndGetRoute(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	in := Route{
		SessionID:          "sess-1",
		OriginAddress:      "Stasiun Bandung",
		OriginLat:          -6.9147,
		OriginLng:          107.6098,
		DestinationAddress: "Bandara Husein",
		DestinationLat:     -6.9006,
		DestinationLng:     107.5764,
		Waypoints:          []Waypoint{{Name: "Pasteur", Lat: -6.89, Lng: 107.59}},
	}

	updatedAt := time.Now()
	mock.ExpectQuery(`INSERT INTO tracking_routes`).
		WithArgs(in.SessionID, in.OriginAddress, in.OriginLat, in.OriginLng,
			in.DestinationAddress, in.DestinationLat, in.DestinationLng, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(updatedAt))

	saved, err := svc.SetRoute(context.Background(), in)
	if err != nil {
		t.Fatalf("set route: %v", err)
	}
	if !saved.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("expected updated_at from row")
	}

	mock.ExpectQuery(`SELECT session_id, origin_address`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"session_id", "origin_address", "origin_lat", "origin_lng",
			"destination_address", "destination_lat", "destination_lng", "waypoints", "updated_at"}).
			AddRow("sess-1", in.OriginAddress, in.OriginLat, in.OriginLng,
				in.DestinationAddress, in.DestinationLat, in.DestinationLng, []byte(`[{"name":"Pasteur","lat":-6.89,"lng":107.59}]`), updatedAt))

	got, err := svc.GetRoute(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get route: %v", err)
	}
	if len(got.Waypoints) != 1 || got.Waypoints[0].Name != "Pasteur" {
		t.Fatalf("unexpected waypoints: %+v", got.Waypoints)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRouteDataMissingRowIsNil(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectQuery(`SELECT session_id, origin_address`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	data, err := svc.RouteData(context.Background(), "missing")
	if err != nil || data != nil {
		t.Fatalf("expected nil data and nil error, got %v %v", data, err)
	}
}

func TestRouteDataQueryError(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectQuery(`SELECT session_id, origin_address`).
		WithArgs("sess-1").
		WillReturnError(pgErr)

	if _, err := svc.RouteData(context.Background(), "sess-1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEstimateETAMinutes(t *testing.T) {
	r := Route{DestinationLat: -6.9006, DestinationLng: 107.5764}

	// roughly 4 km away at 40 km/h: a handful of minutes
	loc := tracking.Location{Latitude: -6.9147, Longitude: 107.6098, SpeedKmh: 40}
	eta := EstimateETAMinutes(loc, r)
	if eta < 1 || eta > 15 {
		t.Fatalf("unexpected eta: %d", eta)
	}

	// stationary providers fall back to an assumed speed
	slow := tracking.Location{Latitude: -6.9147, Longitude: 107.6098, SpeedKmh: 0}
	if fallbackETA := EstimateETAMinutes(slow, r); fallbackETA < eta {
		t.Fatalf("fallback speed should not beat the reported speed, got %d < %d", fallbackETA, eta)
	}

	// already at the destination
	at := tracking.Location{Latitude: r.DestinationLat, Longitude: r.DestinationLng, SpeedKmh: 40}
	if eta := EstimateETAMinutes(at, r); eta != 0 {
		t.Fatalf("expected zero eta at destination, got %d", eta)
	}
}
