package booking

import "time"

// DriverBooking is a point-to-point ride with an assigned driver. Its id
// doubles as the tracking session id.
type DriverBooking struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id"`
	DriverID       string    `json:"driver_id"`
	PickupAddress  string    `json:"pickup_address"`
	DropoffAddress string    `json:"dropoff_address"`
	Status         string    `json:"status"`
	ETAMinutes     int       `json:"eta_minutes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ShuttleSchedule is a scheduled shuttle run; customers attach to it
// through seat bookings.
type ShuttleSchedule struct {
	ID          string    `json:"id"`
	ShuttleID   string    `json:"shuttle_id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type SeatBooking struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	CustomerID string    `json:"customer_id"`
	Seats      int       `json:"seats"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}
