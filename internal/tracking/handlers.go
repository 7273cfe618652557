package tracking

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type createSessionRequest struct {
	SessionID   string `json:"session_id"`
	SessionType string `json:"session_type"`
}

func RegisterRoutes(r fiber.Router, b *Broker, authMiddleware fiber.Handler) {
	r.Post("/session", authMiddleware, func(c *fiber.Ctx) error {
		var req createSessionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if req.SessionID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "session_id required")
		}
		st, err := ParseSessionType(req.SessionType)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		role, userID, err := callerIdentity(c)
		if err != nil {
			return err
		}

		snap, err := b.CreateSession(c.Context(), req.SessionID, st, role, userID)
		if err != nil {
			return collaboratorError(err)
		}
		return c.JSON(fiber.Map{"session_id": snap.SessionID, "created_at": snap.CreatedAt})
	})

	r.Get("/session/:sessionId", authMiddleware, func(c *fiber.Ctx) error {
		sessionID := c.Params("sessionId")
		snap, ok := b.Snapshot(sessionID)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no live session")
		}
		role, userID, err := callerIdentity(c)
		if err != nil {
			return err
		}
		if _, err := b.Authorize(c.Context(), sessionID, snap.SessionType, role, userID); err != nil {
			return collaboratorError(err)
		}
		return c.JSON(snap)
	})

	r.Get("/connect/:sessionId", authMiddleware, func(c *fiber.Ctx) error {
		sessionID := c.Params("sessionId")
		role, userID, err := callerIdentity(c)
		if err != nil {
			return err
		}
		if _, err := b.Authorize(c.Context(), sessionID, "", role, userID); err != nil {
			return collaboratorError(err)
		}

		q := url.Values{}
		q.Set("session", sessionID)
		q.Set("role", string(role))
		q.Set("user_id", userID)
		return c.JSON(fiber.Map{"url": "/tracking/ws?" + q.Encode()})
	})

	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		serveChannel(b, c)
	}))
}

// callerIdentity maps the authenticated account onto a tracking role.
// Accounts whose role has no tracking channel (caretakers) are rejected.
func callerIdentity(c *fiber.Ctx) (Role, string, error) {
	userID, _ := c.Locals("user_id").(string)
	roleStr, _ := c.Locals("role").(string)
	role, err := ParseRole(roleStr)
	if err != nil || userID == "" {
		return "", "", fiber.NewError(fiber.StatusForbidden, "account has no tracking role")
	}
	return role, userID, nil
}

// collaboratorError distinguishes unauthorized, unknown session, and
// collaborator failure, as the error taxonomy requires.
func collaboratorError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return fiber.NewError(fiber.StatusForbidden, "not a session participant")
	case errors.Is(err, ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	default:
		return fiber.NewError(fiber.StatusBadGateway, "authorization check failed")
	}
}

// serveChannel runs one duplex connection through its lifecycle:
// Pending (parameter parsing), Authorizing, Active (pump + read loop),
// Closed (deregistration and final flush).
func serveChannel(b *Broker, c *websocket.Conn) {
	defer c.Close()

	sessionID := c.Query("session")
	roleStr := c.Query("role")
	userID := c.Query("user_id")
	if sessionID == "" || roleStr == "" || userID == "" {
		closeWith(c, CloseBadRequest, "missing parameters")
		return
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		closeWith(c, CloseBadRequest, err.Error())
		return
	}

	client, err := b.Connect(context.Background(), sessionID, role, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSessionNotFound):
			closeWith(c, CloseUnauthorized, "invalid session")
		default:
			closeWith(c, CloseAuthError, "authorization error")
		}
		return
	}

	// Writer pump: delivers relayed frames. Closing Send (leave or
	// eviction by a newer connection) tears the socket down, which also
	// unblocks the read loop below.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		_ = c.Close()
	}()

	c.SetReadLimit(1 << 20) // 1 MiB
	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			break
		}
		b.HandleMessage(client, payload)
	}

	b.Disconnect(client)
	<-done
}

func closeWith(c *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
