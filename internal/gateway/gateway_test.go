// README: Gateway tests over a real websocket (httptest server + gorilla dialer).
package gateway

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"dispatch/internal/config"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/logging"
	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/ride"
	"dispatch/internal/types"
)

type testEnv struct {
	srv      *httptest.Server
	registry *presence.Registry
	cache    *location.Cache
}

// newTestEnv serves /ws behind the given middleware; none means unauthenticated.
func newTestEnv(t *testing.T, mw ...gin.HandlerFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.Discard()

	cache := location.NewCache(nil, nil, log)
	registry := presence.NewRegistry(cache, nil, log)
	cache.RequireOnline(registry)
	pr := pricing.NewService(config.PricingConfig{Currency: "XOF", StudentDiscountPct: 30, SharedDiscountPct: 20}, nil, log)
	rides := ride.NewService(ride.NewMemoryStore(), ride.Deps{
		Pricing:     pr,
		Notifier:    registry,
		Broadcaster: broadcast.New(registry, cache, nil, log),
		Locator:     cache,
	}, config.DispatchConfig{AvgSpeedKmh: 30}, log)

	gw := New(Deps{
		Presence:       registry,
		Locations:      cache,
		Rides:          rides,
		NearbyRadiusKm: 5,
	}, log)

	r := gin.New()
	r.GET("/ws", append(mw, gw.ServeWS)...)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, registry: registry, cache: cache}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *client {
	t.Helper()
	return e.dialToken(t, "")
}

func (e *testEnv) dialToken(t *testing.T, token string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if token != "" {
		url += "?access_token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(typ string, payload any) {
	c.t.Helper()
	b, _ := json.Marshal(payload)
	if err := c.ws.WriteJSON(Envelope{Type: typ, Payload: b}); err != nil {
		c.t.Fatalf("write %s: %v", typ, err)
	}
}

// expect reads frames until one of type typ arrives.
func (c *client) expect(typ string) json.RawMessage {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if env.Type == typ {
			return env.Payload
		}
	}
}

func (c *client) expectError(code string) {
	c.t.Helper()
	var p ErrorPayload
	if err := json.Unmarshal(c.expect(EventError), &p); err != nil {
		c.t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != code {
		c.t.Fatalf("error code = %q (%s), want %q", p.Code, p.Message, code)
	}
}

func TestGateway_RequestClaimFlow(t *testing.T) {
	env := newTestEnv(t)

	drv := env.dial(t)
	drv.send(MsgRegister, RegisterMsg{UserID: "d1", Role: "driver"})
	drv.expect(EventRegistered)
	drv.send(MsgOnline, map[string]bool{"isOnline": true})
	waitFor(t, func() bool { return env.registry.IsOnline("d1") })
	drv.send(MsgLocationUpdate, LocationMsg{Lat: 5.35, Lng: -4.0})
	waitFor(t, func() bool { _, ok := env.cache.Get("d1"); return ok })

	pax := env.dial(t)
	pax.send(MsgRegister, RegisterMsg{UserID: "p1", Role: "passenger"})
	pax.expect(EventRegistered)
	pax.send(MsgRideRequest, map[string]any{
		"pickup":      map[string]float64{"lat": 5.351, "lng": -4.001},
		"dropoff":     map[string]float64{"lat": 5.40, "lng": -4.05},
		"serviceType": "car",
	})

	var created ride.Ride
	if err := json.Unmarshal(pax.expect(EventRideCreated), &created); err != nil {
		t.Fatalf("decode ride: %v", err)
	}
	if created.Status != ride.StatusPending {
		t.Fatalf("status = %s, want pending", created.Status)
	}

	var nearby struct {
		Workers []location.DriverLocation `json:"workers"`
	}
	_ = json.Unmarshal(pax.expect(EventWorkersNearby), &nearby)
	if len(nearby.Workers) != 1 || nearby.Workers[0].DriverID != "d1" {
		t.Errorf("nearby = %+v, want d1", nearby.Workers)
	}

	var req broadcast.Request
	_ = json.Unmarshal(drv.expect(broadcast.EventNewRequest), &req)
	if req.RideID != created.ID {
		t.Fatalf("broadcast ride = %s, want %s", req.RideID, created.ID)
	}

	drv.send(MsgRideClaim, RideRefMsg{RequestID: string(created.ID)})
	var acc ride.AcceptedPayload
	_ = json.Unmarshal(pax.expect(ride.EventAccepted), &acc)
	if acc.DriverID != "d1" {
		t.Errorf("accepted driver = %s, want d1", acc.DriverID)
	}
	if acc.EtaMinutes == nil {
		t.Error("expected ETA from the cached driver position")
	}

	// Second claim by the same driver loses: the ride is no longer pending.
	drv.send(MsgRideClaim, RideRefMsg{RequestID: string(created.ID)})
	drv.expectError("already_claimed")
}

func TestGateway_RejectsBeforeRegister(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.send(MsgOnline, map[string]bool{"isOnline": true})
	c.expectError("not_registered")
}

func TestGateway_RoleChecks(t *testing.T) {
	env := newTestEnv(t)
	pax := env.dial(t)
	pax.send(MsgRegister, RegisterMsg{UserID: "p1", Role: "passenger"})
	pax.expect(EventRegistered)

	pax.send(MsgRideClaim, RideRefMsg{RequestID: "r1"})
	pax.expectError("forbidden")
	pax.send(MsgLocationUpdate, LocationMsg{Lat: 1, Lng: 1})
	pax.expectError("forbidden")
}

func TestGateway_InvalidFrames(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send("ride.teleport", map[string]string{})
	c.expectError("bad_request")

	c.send(MsgRegister, map[string]string{"userId": "u1", "role": "admin"})
	c.expectError("bad_request")

	if err := c.ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	c.expectError("bad_request")
}

func TestGateway_DisconnectLeavesPool(t *testing.T) {
	env := newTestEnv(t)
	drv := env.dial(t)
	drv.send(MsgRegister, RegisterMsg{UserID: "d9", Role: "driver"})
	drv.expect(EventRegistered)
	drv.send(MsgOnline, map[string]bool{"isOnline": true})
	waitFor(t, func() bool { return env.registry.IsOnline("d9") })
	drv.send(MsgLocationUpdate, LocationMsg{Lat: 5, Lng: -4})
	waitFor(t, func() bool { _, ok := env.cache.Get("d9"); return ok })

	_ = drv.ws.Close()
	waitFor(t, func() bool { return !env.registry.IsOnline("d9") })
	if _, ok := env.cache.Get("d9"); ok {
		t.Error("expected cached position purged on disconnect")
	}
}

func TestGateway_LocationAfterOfflineRejected(t *testing.T) {
	env := newTestEnv(t)
	drv := env.dial(t)
	drv.send(MsgRegister, RegisterMsg{UserID: "d1", Role: "driver"})
	drv.expect(EventRegistered)

	drv.send(MsgLocationUpdate, LocationMsg{Lat: 5.35, Lng: -4.0})
	drv.expectError("worker_offline")

	drv.send(MsgOnline, map[string]bool{"isOnline": true})
	waitFor(t, func() bool { return env.registry.IsOnline("d1") })
	drv.send(MsgLocationUpdate, LocationMsg{Lat: 5.35, Lng: -4.0})
	waitFor(t, func() bool { _, ok := env.cache.Get("d1"); return ok })

	drv.send(MsgOnline, map[string]bool{"isOnline": false})
	waitFor(t, func() bool { return !env.registry.IsOnline("d1") })
	drv.send(MsgLocationUpdate, LocationMsg{Lat: 5.35, Lng: -4.0})
	drv.expectError("worker_offline")

	if got := env.cache.Nearby(types.Point{Lat: 5.35, Lng: -4.0}, 5); len(got) != 0 {
		t.Fatalf("offline driver listed as nearby: %+v", got)
	}
	if len(env.cache.Snapshot()) != 0 {
		t.Fatal("offline driver kept in the cache")
	}
}

func TestGateway_RegisterRoleMustMatchToken(t *testing.T) {
	verifier, err := infra.NewJWTVerifier("gateway-test-secret")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	env := newTestEnv(t, middleware.Auth(verifier))
	sign := func(uid, role string) string {
		tok, err := verifier.Sign(uid, role, time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}

	pax := env.dialToken(t, sign("p-1", "passenger"))
	pax.send(MsgRegister, RegisterMsg{UserID: "p-1", Role: "driver"})
	pax.expectError("forbidden")
	pax.send(MsgOnline, map[string]bool{"isOnline": true})
	pax.expectError("not_registered")
	if env.registry.IsOnline("p-1") {
		t.Fatal("passenger token joined the driver pool")
	}

	noRole := env.dialToken(t, sign("p-2", ""))
	noRole.send(MsgRegister, RegisterMsg{Role: "driver"})
	noRole.expectError("forbidden")
	noRole.send(MsgRegister, RegisterMsg{Role: "passenger"})
	noRole.expect(EventRegistered)

	drv := env.dialToken(t, sign("d-1", "driver"))
	drv.send(MsgRegister, RegisterMsg{UserID: "d-1", Role: "driver"})
	drv.expect(EventRegistered)
	drv.send(MsgOnline, map[string]bool{"isOnline": true})
	waitFor(t, func() bool { return env.registry.IsOnline("d-1") })
}

func TestDecode(t *testing.T) {
	v := validator.New(validator.WithRequiredStructEnabled())
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"register", `{"type":"register","payload":{"userId":"u","role":"driver"}}`, false},
		{"online missing flag", `{"type":"worker.online","payload":{}}`, true},
		{"online false", `{"type":"worker.online","payload":{"isOnline":false}}`, false},
		{"lat out of range", `{"type":"worker.locationUpdate","payload":{"lat":91,"lng":0}}`, true},
		{"request without pickup", `{"type":"ride.request","payload":{"dropoff":{"lat":1,"lng":1},"serviceType":"car"}}`, true},
		{"request bad service", `{"type":"ride.request","payload":{"pickup":{"lat":1,"lng":1},"dropoff":{"lat":1,"lng":1},"serviceType":"bus"}}`, true},
		{"cancel", `{"type":"ride.cancel","payload":{"requestId":"r","reason":"late"}}`, false},
		{"claim without id", `{"type":"ride.claim","payload":{}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(v, []byte(tc.raw))
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
	if _, _, err := Decode(v, []byte(`{"type":"nope"}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
