package booking

import (
	"context"
	"fmt"

	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/db"
	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/tracking"

	"github.com/google/uuid"
)

// Store is the durable substrate the tracking broker authorizes against
// and writes live state through to. It implements tracking.Authorizer and
// tracking.Persister.
type Store struct {
	db db.Querier
}

func NewStore(db db.Querier) *Store {
	return &Store{db: db}
}

func (s *Store) CreateBooking(ctx context.Context, input DriverBooking) (DriverBooking, error) {
	input.ID = uuid.NewString()
	if input.Status == "" {
		input.Status = "pending"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO driver_bookings (id, customer_id, driver_id, pickup_address, dropoff_address, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, input.ID, input.CustomerID, input.DriverID, input.PickupAddress, input.DropoffAddress, input.Status)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return DriverBooking{}, err
	}
	return input, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (DriverBooking, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, customer_id, driver_id, pickup_address, dropoff_address, status, COALESCE(eta_minutes,0), created_at
		FROM driver_bookings WHERE id=$1
	`, id)
	var b DriverBooking
	if err := row.Scan(&b.ID, &b.CustomerID, &b.DriverID, &b.PickupAddress, &b.DropoffAddress, &b.Status, &b.ETAMinutes, &b.CreatedAt); err != nil {
		return DriverBooking{}, err
	}
	return b, nil
}

func (s *Store) CreateSchedule(ctx context.Context, input ShuttleSchedule) (ShuttleSchedule, error) {
	input.ID = uuid.NewString()
	if input.Status == "" {
		input.Status = "scheduled"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO shuttle_schedules (id, shuttle_id, origin, destination, departure_at, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, input.ID, input.ShuttleID, input.Origin, input.Destination, input.DepartureAt, input.Status)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return ShuttleSchedule{}, err
	}
	return input, nil
}

func (s *Store) BookSeat(ctx context.Context, input SeatBooking) (SeatBooking, error) {
	input.ID = uuid.NewString()
	if input.Seats <= 0 {
		input.Seats = 1
	}
	if input.Status == "" {
		input.Status = "booked"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO shuttle_seat_bookings (id, schedule_id, customer_id, seats, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, input.ID, input.ScheduleID, input.CustomerID, input.Seats, input.Status)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return SeatBooking{}, err
	}
	return input, nil
}

// Authorize checks ownership of the backing record for each
// (session type, role) combination; pairs with no tracking channel are
// simply not participants.
func (s *Store) Authorize(ctx context.Context, sessionID string, sessionType tracking.SessionType, role tracking.Role, userID string) (bool, error) {
	switch sessionType {
	case tracking.SessionDriverBooking:
		switch role {
		case tracking.RoleDriver:
			return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM driver_bookings WHERE id=$1 AND driver_id=$2)`, sessionID, userID)
		case tracking.RoleCustomer:
			return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM driver_bookings WHERE id=$1 AND customer_id=$2)`, sessionID, userID)
		case tracking.RoleShuttle:
			return false, nil
		}
	case tracking.SessionShuttleSchedule:
		switch role {
		case tracking.RoleShuttle:
			return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM shuttle_schedules WHERE id=$1 AND shuttle_id=$2)`, sessionID, userID)
		case tracking.RoleCustomer:
			return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM shuttle_seat_bookings WHERE schedule_id=$1 AND customer_id=$2)`, sessionID, userID)
		case tracking.RoleDriver:
			return false, nil
		}
	}
	return false, fmt.Errorf("unhandled session type %q", sessionType)
}

// ResolveType probes driver bookings before shuttle schedules; the order
// is the documented precedence for bare session ids.
func (s *Store) ResolveType(ctx context.Context, sessionID string) (tracking.SessionType, error) {
	ok, err := s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM driver_bookings WHERE id=$1)`, sessionID)
	if err != nil {
		return "", err
	}
	if ok {
		return tracking.SessionDriverBooking, nil
	}

	ok, err = s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM shuttle_schedules WHERE id=$1)`, sessionID)
	if err != nil {
		return "", err
	}
	if ok {
		return tracking.SessionShuttleSchedule, nil
	}
	return "", tracking.ErrSessionNotFound
}

func (s *Store) WriteLocation(ctx context.Context, sessionID string, sessionType tracking.SessionType, loc tracking.Location) error {
	_, err := s.db.Exec(ctx, `
		UPDATE `+tableFor(sessionType)+`
		SET current_lat=$2, current_lng=$3, accuracy_m=$4, speed_kmh=$5, heading_deg=$6, location_updated_at=now()
		WHERE id=$1
	`, sessionID, loc.Latitude, loc.Longitude, loc.AccuracyM, loc.SpeedKmh, loc.HeadingDeg)
	return err
}

func (s *Store) WriteETA(ctx context.Context, sessionID string, sessionType tracking.SessionType, etaMinutes int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE `+tableFor(sessionType)+` SET eta_minutes=$2 WHERE id=$1
	`, sessionID, etaMinutes)
	return err
}

// WriteStatus stores the status string as-is; lifecycle names are owned by
// the booking domain, not the broker.
func (s *Store) WriteStatus(ctx context.Context, sessionID string, sessionType tracking.SessionType, role tracking.Role, status string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE `+tableFor(sessionType)+` SET status=$2 WHERE id=$1
	`, sessionID, status)
	return err
}

func tableFor(st tracking.SessionType) string {
	if st == tracking.SessionShuttleSchedule {
		return "shuttle_schedules"
	}
	return "driver_bookings"
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
