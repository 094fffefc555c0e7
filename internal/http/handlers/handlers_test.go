// README: Handler tests for authorization checks, ride flow and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"dispatch/internal/config"
	"dispatch/internal/http/handlers"
	httpmiddleware "dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/logging"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/ride"
	"dispatch/internal/modules/subscription"
	"dispatch/internal/modules/wallet"
	"dispatch/internal/modules/worker"
)

// tokenVerifier maps the bearer token to a caller: "Bearer <uid>:<role>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, tok string) (*infra.FirebaseToken, error) {
	uid, role := tok, ""
	for i := range tok {
		if tok[i] == ':' {
			uid, role = tok[:i], tok[i+1:]
			break
		}
	}
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &infra.FirebaseToken{UID: uid, Claims: claims}, nil
}

type fixture struct {
	router   *gin.Engine
	wallet   *wallet.Service
	rides    *ride.Service
	registry *presence.Registry
	subs     *subscription.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.Discard()

	cache := location.NewCache(nil, nil, log)
	registry := presence.NewRegistry(cache, nil, log)
	cache.RequireOnline(registry)
	walletSvc := wallet.NewService(wallet.NewMemoryStore(), "XOF", log)
	workers := worker.NewService(worker.NewMemoryStore(), log)
	subs := subscription.NewService(subscription.NewMemoryStore(), log)
	pr := pricing.NewService(config.PricingConfig{Currency: "XOF", StudentDiscountPct: 30, SharedDiscountPct: 20}, nil, log)
	rides := ride.NewService(ride.NewMemoryStore(), ride.Deps{
		Pricing:       pr,
		Workers:       workers,
		Wallet:        walletSvc,
		Subscriptions: subs,
		Notifier:      registry,
		Locator:       cache,
	}, config.DispatchConfig{AvgSpeedKmh: 30}, log)

	r := gin.New()
	api := r.Group("/api", httpmiddleware.Auth(tokenVerifier{}))
	rh := handlers.NewRideHandler(rides)
	api.POST("/rides", rh.Create)
	api.GET("/rides/:id", rh.Get)
	api.GET("/rides/:id/events", rh.Events)
	api.POST("/rides/:id/claim", rh.Claim)
	api.POST("/rides/:id/start", rh.Start)
	api.POST("/rides/:id/complete", rh.Complete)
	api.POST("/rides/:id/cancel", rh.Cancel)
	lh := handlers.NewLocationHandler(cache, 5)
	api.PUT("/drivers/:id/location", lh.Update)
	api.GET("/nearby/drivers", lh.Nearby)
	wh := handlers.NewWalletHandler(walletSvc)
	api.GET("/wallet", wh.Balance)
	api.POST("/admin/wallets/:owner/credit", wh.Credit)
	api.POST("/admin/wallets/:owner/debit", wh.Debit)
	ph := handlers.NewPricingHandler(pr, subs)
	api.POST("/pricing/estimate", ph.Estimate)
	sh := handlers.NewSubscriptionHandler(subs)
	api.POST("/subscriptions", sh.Subscribe)
	api.POST("/admin/lottery/draws/:drawId", sh.Draw)

	return &fixture{router: r, wallet: walletSvc, rides: rides, registry: registry, subs: subs}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

var rideBody = map[string]any{
	"pickup":      map[string]float64{"lat": 5.30, "lng": -4.00},
	"dropoff":     map[string]float64{"lat": 5.35, "lng": -4.02},
	"serviceType": "car",
}

func TestCreate_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/api/rides", "", rideBody); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestCreate_DriverForbidden(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/api/rides", "d1:driver", rideBody); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	bad := map[string]any{"pickup": map[string]float64{"lat": 5, "lng": -4}, "serviceType": "bus"}
	if w := f.do(http.MethodPost, "/api/rides", "p1", bad); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRideFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/rides", "p1", rideBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode[ride.Ride](t, w)

	// A second active ride for the same passenger conflicts.
	if w := f.do(http.MethodPost, "/api/rides", "p1", rideBody); w.Code != http.StatusConflict {
		t.Errorf("second create: expected 409, got %d", w.Code)
	}

	base := "/api/rides/" + string(created.ID)
	if w := f.do(http.MethodPost, base+"/start", "d1:driver", nil); w.Code != http.StatusConflict {
		t.Errorf("start on pending: expected 409, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, base+"/claim", "p1", nil); w.Code != http.StatusForbidden {
		t.Errorf("passenger claim: expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, base+"/claim", "d1:driver", nil); w.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, base+"/claim", "d2:driver", nil); w.Code != http.StatusConflict {
		t.Errorf("second claim: expected 409, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, base, "d2:driver", nil); w.Code != http.StatusForbidden {
		t.Errorf("outsider get: expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, base+"/start", "d1:driver", nil); w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	w = f.do(http.MethodPost, base+"/complete", "d1:driver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	done := decode[ride.Ride](t, w)
	if done.Status != ride.StatusCompleted || done.DriverNet == nil {
		t.Fatalf("unexpected completed ride %+v", done)
	}

	bal, err := f.wallet.Balance(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Amount != done.DriverNet.Amount {
		t.Errorf("driver balance = %d, want %d", bal.Amount, done.DriverNet.Amount)
	}

	w = f.do(http.MethodGet, base+"/events", "p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d", w.Code)
	}
	evs := decode[struct {
		Events []ride.Event `json:"events"`
	}](t, w)
	if len(evs.Events) != 4 {
		t.Errorf("events = %d, want 4 (create, claim, start, complete)", len(evs.Events))
	}
}

func TestCancel_ByPassenger(t *testing.T) {
	f := newFixture(t)
	created := decode[ride.Ride](t, f.do(http.MethodPost, "/api/rides", "p1", rideBody))

	w := f.do(http.MethodPost, "/api/rides/"+string(created.ID)+"/cancel", "p1", map[string]string{"reason": "changed plans"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	if got := decode[ride.Ride](t, w); got.Status != ride.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if w := f.do(http.MethodPost, "/api/rides/"+string(created.ID)+"/claim", "d1:driver", nil); w.Code != http.StatusConflict {
		t.Errorf("claim after cancel: expected 409, got %d", w.Code)
	}
}

func TestGet_NotFoundAndInvalidID(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/api/rides/missing", "p1", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/rides/bad$id", "p1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLocationUpdate_SelfOnly(t *testing.T) {
	f := newFixture(t)
	pos := map[string]float64{"lat": 5.3, "lng": -4}
	if w := f.do(http.MethodPut, "/api/drivers/d1/location", "d2:driver", pos); w.Code != http.StatusForbidden {
		t.Errorf("other driver: expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodPut, "/api/drivers/d1/location", "d1", pos); w.Code != http.StatusForbidden {
		t.Errorf("no driver role: expected 403, got %d", w.Code)
	}
	if err := f.registry.SetOnline(context.Background(), "d1", true); err != nil {
		t.Fatalf("online: %v", err)
	}
	if w := f.do(http.MethodPut, "/api/drivers/d1/location", "d1:driver", pos); w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	w := f.do(http.MethodGet, "/api/nearby/drivers?lat=5.301&lng=-4.001", "p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: %d", w.Code)
	}
	got := decode[struct {
		Workers []location.DriverLocation `json:"workers"`
	}](t, w)
	if len(got.Workers) != 1 || got.Workers[0].DriverID != "d1" {
		t.Errorf("nearby = %+v", got.Workers)
	}
	if w := f.do(http.MethodGet, "/api/nearby/drivers?lat=100&lng=0", "p1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad origin: expected 400, got %d", w.Code)
	}
}

func TestLocationUpdate_OfflineDriverRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos := map[string]float64{"lat": 5.3, "lng": -4}

	if w := f.do(http.MethodPut, "/api/drivers/d1/location", "d1:driver", pos); w.Code != http.StatusConflict {
		t.Errorf("never online: expected 409, got %d", w.Code)
	}
	if err := f.registry.SetOnline(ctx, "d1", true); err != nil {
		t.Fatalf("online: %v", err)
	}
	if w := f.do(http.MethodPut, "/api/drivers/d1/location", "d1:driver", pos); w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	if err := f.registry.SetOnline(ctx, "d1", false); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if w := f.do(http.MethodPut, "/api/drivers/d1/location", "d1:driver", pos); w.Code != http.StatusConflict {
		t.Errorf("after offline: expected 409, got %d", w.Code)
	}

	got := decode[struct {
		Workers []location.DriverLocation `json:"workers"`
	}](t, f.do(http.MethodGet, "/api/nearby/drivers?lat=5.301&lng=-4.001", "p1", nil))
	if len(got.Workers) != 0 {
		t.Errorf("offline driver listed as nearby: %+v", got.Workers)
	}
}

func TestWallet_AdminAdjustments(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"amount": 1000, "reference": "topup-1"}

	if w := f.do(http.MethodPost, "/api/admin/wallets/d1/credit", "d1:driver", body); w.Code != http.StatusForbidden {
		t.Errorf("non-admin credit: expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/admin/wallets/d1/credit", "ops:admin", body); w.Code != http.StatusCreated {
		t.Fatalf("credit: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/api/admin/wallets/d1/credit", "ops:admin", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate reference: expected 409, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/admin/wallets/d1/debit", "ops:admin", map[string]any{"amount": 5000}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("overdraft: expected 422, got %d", w.Code)
	}

	w := f.do(http.MethodGet, "/api/wallet", "d1:driver", nil)
	got := decode[struct {
		Balance struct {
			Amount int64 `json:"amount"`
		} `json:"balance"`
	}](t, w)
	if got.Balance.Amount != 1000 {
		t.Errorf("balance = %d, want 1000", got.Balance.Amount)
	}
}

func TestEstimate_StudentDiscount(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"pickup":      map[string]float64{"lat": 0, "lng": 0},
		"dropoff":     map[string]float64{"lat": 0, "lng": 0.0899},
		"serviceType": "car",
	}
	plain := decode[pricing.Quote](t, f.do(http.MethodPost, "/api/pricing/estimate", "p1", body))

	if w := f.do(http.MethodPost, "/api/subscriptions", "p1", map[string]string{"plan": "student"}); w.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d %s", w.Code, w.Body.String())
	}
	student := decode[pricing.Quote](t, f.do(http.MethodPost, "/api/pricing/estimate", "p1", body))
	if !student.StudentDiscount || student.Total.Amount >= plain.Total.Amount {
		t.Errorf("student quote %+v not discounted from %+v", student, plain)
	}
	if w := f.do(http.MethodPost, "/api/subscriptions", "p1", map[string]string{"plan": "gold"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown plan: expected 400, got %d", w.Code)
	}
}

func TestEstimate_ExhaustedStudentQuotaPaysFullPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := map[string]any{
		"pickup":      map[string]float64{"lat": 0, "lng": 0},
		"dropoff":     map[string]float64{"lat": 0, "lng": 0.0899},
		"serviceType": "car",
	}
	plain := decode[pricing.Quote](t, f.do(http.MethodPost, "/api/pricing/estimate", "p1", body))

	if _, err := f.subs.Subscribe(ctx, "p1", subscription.PlanStudent); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for {
		if _, err := f.subs.ConsumeRide(ctx, "p1"); err != nil {
			break
		}
	}
	got := decode[pricing.Quote](t, f.do(http.MethodPost, "/api/pricing/estimate", "p1", body))
	if got.StudentDiscount || got.Total.Amount != plain.Total.Amount {
		t.Errorf("exhausted student quote %+v, want full price %+v", got, plain)
	}

	w := f.do(http.MethodPost, "/api/rides", "p1", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode[ride.Ride](t, w)
	if created.Student || created.EstimatedPrice.Amount != got.Total.Amount {
		t.Errorf("ride price %+v differs from estimate %+v", created.EstimatedPrice, got.Total)
	}
}

func TestDraw(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/api/admin/lottery/draws/d-1", "ops:admin", nil); w.Code != http.StatusNotFound {
		t.Errorf("empty draw: expected 404, got %d", w.Code)
	}
	f.do(http.MethodPost, "/api/subscriptions", "p1", map[string]string{"plan": "standard"})
	w := f.do(http.MethodPost, "/api/admin/lottery/draws/d-1", "ops:admin", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("draw: %d %s", w.Code, w.Body.String())
	}
	if got := decode[subscription.Ticket](t, w); got.UserID != "p1" {
		t.Errorf("winner = %s, want p1", got.UserID)
	}
}
