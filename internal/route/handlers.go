package route

import (
	"encoding/json"

	"github.com/SAI-RANDIVE/rydo-web-app1-sub002/internal/tracking"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, broker *tracking.Broker, authMiddleware fiber.Handler) {
	// Providers publish or replace the planned route; customers on the
	// live session receive it immediately as a route_data frame.
	r.Put("/route/:sessionId", authMiddleware, func(c *fiber.Ctx) error {
		roleStr, _ := c.Locals("role").(string)
		role, err := tracking.ParseRole(roleStr)
		if err != nil || !role.Provider() {
			return fiber.NewError(fiber.StatusForbidden, "only providers publish routes")
		}

		var req Route
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.SessionID = c.Params("sessionId")

		saved, err := svc.SetRoute(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		if data, err := json.Marshal(saved); err == nil {
			broker.PushRoute(saved.SessionID, data)
		}
		return c.JSON(saved)
	})

	r.Get("/route/:sessionId", authMiddleware, func(c *fiber.Ctx) error {
		rt, err := svc.GetRoute(c.Context(), c.Params("sessionId"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "no route for session")
		}
		return c.JSON(rt)
	})

	// Server-computed ETA: estimated from the live snapshot and pushed to
	// the session as an eta_update.
	r.Get("/route/:sessionId/eta", authMiddleware, func(c *fiber.Ctx) error {
		sessionID := c.Params("sessionId")
		rt, err := svc.GetRoute(c.Context(), sessionID)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "no route for session")
		}
		snap, ok := broker.Snapshot(sessionID)
		if !ok || snap.LastLocation == nil {
			return fiber.NewError(fiber.StatusNotFound, "no live location for session")
		}

		eta := EstimateETAMinutes(*snap.LastLocation, rt)
		broker.PushETA(sessionID, eta)
		return c.JSON(fiber.Map{"session_id": sessionID, "eta_minutes": eta})
	})
}
