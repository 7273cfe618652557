package booking

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, store *Store, authMiddleware fiber.Handler) {
	r.Post("/bookings", authMiddleware, func(c *fiber.Ctx) error {
		var req DriverBooking
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.CustomerID == "" || req.DriverID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "customer_id and driver_id required")
		}
		created, err := store.CreateBooking(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	r.Get("/bookings/:id", authMiddleware, func(c *fiber.Ctx) error {
		b, err := store.GetBooking(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "booking not found")
		}
		return c.JSON(b)
	})

	r.Post("/schedules", authMiddleware, func(c *fiber.Ctx) error {
		var req ShuttleSchedule
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.ShuttleID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "shuttle_id required")
		}
		created, err := store.CreateSchedule(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	r.Post("/schedules/:id/seats", authMiddleware, func(c *fiber.Ctx) error {
		var req SeatBooking
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.ScheduleID = c.Params("id")
		if req.CustomerID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "customer_id required")
		}
		created, err := store.BookSeat(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})
}
