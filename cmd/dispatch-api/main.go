// README: Entry point; loads config, wires stores, brokers and services, serves HTTP and the websocket gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"dispatch/internal/config"
	"dispatch/internal/gateway"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/logging"
	"dispatch/internal/maps"
	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/ride"
	"dispatch/internal/modules/subscription"
	"dispatch/internal/modules/wallet"
	"dispatch/internal/modules/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fb *infra.Firebase
	if cfg.Firebase.ProjectID != "" {
		if fb, err = infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile); err != nil {
			log.WithError(err).Fatal("firebase init")
		}
	}

	verifier, err := newVerifier(ctx, cfg, fb)
	if err != nil {
		log.WithError(err).Fatal("auth init")
	}

	var dbPool *pgxpool.Pool
	if cfg.DB.DSN != "" {
		if dbPool, err = infra.NewDB(ctx, cfg.DB.DSN); err != nil {
			log.WithError(err).Fatal("postgres init")
		}
		defer dbPool.Close()
	} else {
		log.Warn("DISPATCH_DB_DSN not set; using in-memory stores")
	}
	stores := newStores(dbPool)

	var distance pricing.DistanceProvider
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Fatal("maps init")
		}
		distance = routes
	}
	pricingSvc := pricing.NewService(cfg.Pricing, distance, log.WithField("module", "pricing"))
	if dbPool != nil {
		if err := pricingSvc.LoadRates(ctx, pricing.NewStore(dbPool)); err != nil {
			log.WithError(err).Warn("service rates not loaded; using defaults")
		}
	}

	var mirror location.GeoMirror
	if cfg.Redis.Addr != "" {
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.WithError(err).Fatal("redis init")
		}
		defer client.Close()
		mirror = location.NewRedisGeo(client, cfg.Redis.GeoKey)
	}
	var locationStream location.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := infra.NewLocationProducer(cfg.Kafka.Brokers, cfg.Kafka.LocationTopic)
		defer producer.Close()
		locationStream = producer
	}
	cache := location.NewCache(mirror, locationStream, log.WithField("module", "location"))

	var push presence.Notifier
	if fb != nil {
		fcm, err := fb.Notifier(ctx)
		if err != nil {
			log.WithError(err).Warn("push notifications disabled")
		} else {
			push = fcm
		}
	}

	var rideEvents ride.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		pub, err := infra.NewRidePublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log.WithField("module", "rabbitmq"))
		if err != nil {
			log.WithError(err).Fatal("rabbitmq init")
		}
		defer pub.Close()
		rideEvents = pub
	}

	walletSvc := wallet.NewService(stores.wallet, cfg.Pricing.Currency, log.WithField("module", "wallet"))
	workerSvc := worker.NewService(stores.worker, log.WithField("module", "worker"))
	subSvc := subscription.NewService(stores.subscription, log.WithField("module", "subscription"))

	registry := presence.NewRegistry(cache, push, log.WithField("module", "presence"))
	cache.RequireOnline(registry)
	if cfg.Wallet.MinOperatingBalance > 0 {
		registry.RequireBalance(walletSvc, cfg.Wallet.MinOperatingBalance)
	}

	eligible, err := broadcast.FromConfig(cfg.Dispatch.BroadcastFilter, cfg.Dispatch.FilterRadiusKm)
	if err != nil {
		log.WithError(err).Fatal("broadcast filter")
	}
	broadcaster := broadcast.New(registry, cache, eligible, log.WithField("module", "broadcast"))

	rideSvc := ride.NewService(stores.ride, ride.Deps{
		Pricing:       pricingSvc,
		Workers:       workerSvc,
		Wallet:        walletSvc,
		Subscriptions: subSvc,
		Notifier:      registry,
		Broadcaster:   broadcaster,
		Locator:       cache,
		Events:        rideEvents,
	}, cfg.Dispatch, log.WithField("module", "ride"))

	gw := gateway.New(gateway.Deps{
		Presence:       registry,
		Locations:      cache,
		Rides:          rideSvc,
		Profiles:       workerSvc,
		NearbyRadiusKm: cfg.Dispatch.NearbyRadiusKm,
	}, log.WithField("module", "gateway"))

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:       verifier,
		Rides:          rideSvc,
		Presence:       registry,
		Locations:      cache,
		Workers:        workerSvc,
		Wallet:         walletSvc,
		Pricing:        pricingSvc,
		Subscriptions:  subSvc,
		Gateway:        gw,
		NearbyRadiusKm: cfg.Dispatch.NearbyRadiusKm,
	}, log.WithField("module", "http"))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go rideSvc.RunExpiryMonitor(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("dispatch api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	log.Info("dispatch api stopped")
}

func newVerifier(ctx context.Context, cfg config.Config, fb *infra.Firebase) (infra.TokenVerifier, error) {
	if cfg.Auth.Provider == "firebase" {
		if fb == nil {
			return nil, infra.ErrFirebaseProject
		}
		return fb.Verifier(ctx)
	}
	return infra.NewJWTVerifier(cfg.Auth.JWTSecret)
}

type storeSet struct {
	ride         ride.Store
	wallet       wallet.Store
	worker       worker.Store
	subscription subscription.Store
}

// newStores picks Postgres when a pool is available and process memory otherwise.
func newStores(db *pgxpool.Pool) storeSet {
	if db == nil {
		return storeSet{
			ride:         ride.NewMemoryStore(),
			wallet:       wallet.NewMemoryStore(),
			worker:       worker.NewMemoryStore(),
			subscription: subscription.NewMemoryStore(),
		}
	}
	return storeSet{
		ride:         ride.NewPGStore(db),
		wallet:       wallet.NewPGStore(db),
		worker:       worker.NewPGStore(db),
		subscription: subscription.NewPGStore(db),
	}
}
