package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func stubAuth(role, userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("role", role)
		return c.Next()
	}
}

func newTestApp(t *testing.T, b *Broker, role, userID string) *fiber.App {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/tracking"), b, stubAuth(role, userID))
	return app
}

func startApp(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func dialChannel(t *testing.T, addr, sessionID, role, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws://" + addr + "/tracking/ws?session=" + sessionID + "&role=" + role + "&user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != code {
		t.Fatalf("expected close code %d, got %d", code, ce.Code)
	}
}

func TestCreateSessionEndpoint(t *testing.T) {
	b := newTestBroker(t, &fakeAuth{st: SessionDriverBooking}, nil, nil)
	app := newTestApp(t, b, string(RoleDriver), "drv-1")

	body, _ := json.Marshal(createSessionRequest{SessionID: "bk-1", SessionType: "driver_booking"})
	req := httptest.NewRequest(http.MethodPost, "/tracking/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("create session status: %v %d", err, resp.StatusCode)
	}

	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["session_id"] != "bk-1" {
		t.Fatalf("unexpected payload: %v", created)
	}

	// bad session type
	body, _ = json.Marshal(createSessionRequest{SessionID: "bk-1", SessionType: "van_pool"})
	req = httptest.NewRequest(http.MethodPost, "/tracking/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown type, got %d", resp.StatusCode)
	}

	// missing session id
	req = httptest.NewRequest(http.MethodPost, "/tracking/session", bytes.NewReader([]byte(`{"session_type":"driver_booking"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for missing id, got %d", resp.StatusCode)
	}
}

func TestCreateSessionErrorTaxonomy(t *testing.T) {
	body, _ := json.Marshal(createSessionRequest{SessionID: "bk-1", SessionType: "driver_booking"})

	// not a participant
	denied := &fakeAuth{st: SessionDriverBooking, denied: map[string]bool{"driver/drv-1": true}}
	app := newTestApp(t, newTestBroker(t, denied, nil, nil), string(RoleDriver), "drv-1")
	req := httptest.NewRequest(http.MethodPost, "/tracking/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", resp.StatusCode)
	}

	// booking store unavailable
	broken := &fakeAuth{st: SessionDriverBooking, authErr: errors.New("pg down")}
	app = newTestApp(t, newTestBroker(t, broken, nil, nil), string(RoleDriver), "drv-1")
	req = httptest.NewRequest(http.MethodPost, "/tracking/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected bad gateway, got %d", resp.StatusCode)
	}

	// caretakers have no tracking channel
	app = newTestApp(t, newTestBroker(t, nil, nil, nil), "caretaker", "care-1")
	req = httptest.NewRequest(http.MethodPost, "/tracking/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden for caretaker, got %d", resp.StatusCode)
	}
}

func TestGetSessionSnapshot(t *testing.T) {
	b := newTestBroker(t, &fakeAuth{st: SessionDriverBooking}, nil, nil)
	app := newTestApp(t, b, string(RoleCustomer), "cust-1")

	req := httptest.NewRequest(http.MethodGet, "/tracking/session/bk-1", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found before any participant, got %d", resp.StatusCode)
	}

	if _, err := b.CreateSession(context.Background(), "bk-1", SessionDriverBooking, RoleDriver, "drv-1"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/tracking/session/bk-1", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected snapshot, got %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SessionID != "bk-1" || snap.SessionType != SessionDriverBooking {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestConnectEndpointReturnsChannelURL(t *testing.T) {
	b := newTestBroker(t, &fakeAuth{st: SessionDriverBooking}, nil, nil)
	app := newTestApp(t, b, string(RoleDriver), "drv-1")

	req := httptest.NewRequest(http.MethodGet, "/tracking/connect/bk-1", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status: %v %d", err, resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["url"] == "" {
		t.Fatalf("expected channel url")
	}
}

func TestChannelUpgradeRequired(t *testing.T) {
	b := newTestBroker(t, nil, nil, nil)
	app := newTestApp(t, b, string(RoleDriver), "drv-1")

	req := httptest.NewRequest(http.MethodGet, "/tracking/ws?session=bk-1&role=driver&user_id=drv-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for non-websocket request")
	}
}

func TestChannelRelayEndToEnd(t *testing.T) {
	b := newTestBroker(t, nil, nil, nil)
	app := newTestApp(t, b, string(RoleDriver), "drv-1")
	addr := startApp(t, app)

	driver := dialChannel(t, addr, "bk-1", "driver", "drv-1")
	customer := dialChannel(t, addr, "bk-1", "customer", "cust-1")

	payload := frame(t, MsgLocationUpdate, Location{Latitude: -6.2, Longitude: 106.8, SpeedKmh: 35})
	if err := driver.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write error: %v", err)
	}

	_ = customer.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := customer.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Type != MsgLocationUpdate {
		t.Fatalf("unexpected relayed frame: %s %v", msg, err)
	}

	// late joiner gets the snapshot replayed without waiting for traffic
	late := dialChannel(t, addr, "bk-1", "customer", "cust-2")
	_ = late.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err = late.ReadMessage()
	if err != nil {
		t.Fatalf("late read error: %v", err)
	}
	if err := json.Unmarshal(msg, &env); err != nil || env.Type != MsgLocationUpdate {
		t.Fatalf("expected replayed location for late joiner, got %s", msg)
	}
}

func TestChannelCloseCodes(t *testing.T) {
	denied := &fakeAuth{st: SessionDriverBooking, denied: map[string]bool{"customer/stranger": true}}
	b := newTestBroker(t, denied, nil, nil)
	app := newTestApp(t, b, string(RoleDriver), "drv-1")
	addr := startApp(t, app)

	// missing query parameters
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/tracking/ws?session=bk-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	expectClose(t, conn, CloseBadRequest)

	// unknown role
	conn = dialChannel(t, addr, "bk-1", "caretaker", "care-1")
	expectClose(t, conn, CloseBadRequest)

	// not a participant
	conn = dialChannel(t, addr, "bk-1", "customer", "stranger")
	expectClose(t, conn, CloseUnauthorized)
}

func TestChannelCloseOnAuthInfraError(t *testing.T) {
	broken := &fakeAuth{st: SessionDriverBooking, authErr: errors.New("pg down")}
	b := newTestBroker(t, broken, nil, nil)
	app := newTestApp(t, b, string(RoleDriver), "drv-1")
	addr := startApp(t, app)

	conn := dialChannel(t, addr, "bk-1", "driver", "drv-1")
	expectClose(t, conn, CloseAuthError)
}

func TestChannelDuplicateIdentityEvicted(t *testing.T) {
	b := newTestBroker(t, nil, nil, nil)
	app := newTestApp(t, b, string(RoleDriver), "drv-1")
	addr := startApp(t, app)

	first := dialChannel(t, addr, "bk-1", "driver", "drv-1")
	_ = dialChannel(t, addr, "bk-1", "driver", "drv-1")

	// the older connection is torn down once its send channel closes
	_ = first.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected first connection closed after eviction")
	}

	if snap, ok := b.Snapshot("bk-1"); !ok || len(snap.Participants) != 1 {
		t.Fatalf("expected session alive with one participant")
	}
}
