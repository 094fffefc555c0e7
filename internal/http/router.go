// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dispatch/internal/gateway"
	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/ride"
	"dispatch/internal/modules/subscription"
	"dispatch/internal/modules/wallet"
	"dispatch/internal/modules/worker"
)

type RouterDeps struct {
	Verifier       infra.TokenVerifier
	Rides          *ride.Service
	Presence       *presence.Registry
	Locations      *location.Cache
	Workers        *worker.Service
	Wallet         *wallet.Service
	Pricing        *pricing.Service
	Subscriptions  *subscription.Service
	Gateway        *gateway.Gateway
	NearbyRadiusKm float64
}

func NewRouter(deps RouterDeps, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(deps.Verifier)
	if deps.Gateway != nil {
		r.GET("/ws", auth, deps.Gateway.ServeWS)
	}

	api := r.Group("/api", auth)

	rideHandler := handlers.NewRideHandler(deps.Rides)
	api.POST("/rides", rideHandler.Create)
	api.GET("/rides/:id", rideHandler.Get)
	api.GET("/rides/:id/events", rideHandler.Events)
	api.POST("/rides/:id/claim", rideHandler.Claim)
	api.POST("/rides/:id/start", rideHandler.Start)
	api.POST("/rides/:id/complete", rideHandler.Complete)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)

	passengerHandler := handlers.NewPassengerHandler(deps.Rides)
	api.GET("/passengers/me/rides", passengerHandler.ListRides)

	driverHandler := handlers.NewDriverHandler(deps.Presence, deps.Workers)
	api.POST("/driver/availability", driverHandler.SetAvailability)
	api.GET("/driver/profile", driverHandler.GetProfile)
	api.PUT("/driver/profile", driverHandler.UpdateProfile)

	locationHandler := handlers.NewLocationHandler(deps.Locations, deps.NearbyRadiusKm)
	api.PUT("/drivers/:id/location", locationHandler.Update)
	api.GET("/nearby/drivers", locationHandler.Nearby)

	walletHandler := handlers.NewWalletHandler(deps.Wallet)
	api.GET("/wallet", walletHandler.Balance)
	api.GET("/wallet/transactions", walletHandler.Transactions)
	api.POST("/admin/wallets/:owner/credit", walletHandler.Credit)
	api.POST("/admin/wallets/:owner/debit", walletHandler.Debit)

	pricingHandler := handlers.NewPricingHandler(deps.Pricing, deps.Subscriptions)
	api.POST("/pricing/estimate", pricingHandler.Estimate)
	api.GET("/pricing/tiers", pricingHandler.Tiers)

	subHandler := handlers.NewSubscriptionHandler(deps.Subscriptions)
	api.GET("/subscriptions/plans", subHandler.Plans)
	api.POST("/subscriptions", subHandler.Subscribe)
	api.GET("/subscriptions/active", subHandler.Active)
	api.GET("/lottery/tickets", subHandler.Tickets)
	api.POST("/admin/lottery/referrals", subHandler.GrantReferral)
	api.POST("/admin/lottery/draws/:drawId", subHandler.Draw)

	return r
}
