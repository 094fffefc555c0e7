// README: Websocket gateway; decodes inbound frames and routes them to presence, location and rides.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/presence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/ride"
	"dispatch/internal/modules/wallet"
	"dispatch/internal/modules/worker"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

var (
	errNotRegistered = errors.New("register first")
	errForbidden     = errors.New("not allowed for this role")
	errIdentity      = errors.New("userId does not match the authenticated caller")
	errRoleMismatch  = errors.New("role does not match the authenticated caller")
)

type Presence interface {
	Register(userID types.ID, conn presence.Conn, role presence.Role) error
	Unregister(ctx context.Context, conn presence.Conn) []types.ID
	SetOnline(ctx context.Context, workerID types.ID, online bool) error
	SetProfile(userID types.ID, p worker.Profile)
}

type Locations interface {
	UpdateLocation(ctx context.Context, workerID types.ID, lat, lng float64) error
	Nearby(origin types.Point, radiusKm float64) []location.DriverLocation
}

type Rides interface {
	Create(ctx context.Context, cmd ride.CreateCommand) (*ride.Ride, error)
	Claim(ctx context.Context, cmd ride.ClaimCommand) (*ride.Ride, error)
	Start(ctx context.Context, cmd ride.StartCommand) (*ride.Ride, error)
	Complete(ctx context.Context, cmd ride.CompleteCommand) (*ride.Ride, error)
	Cancel(ctx context.Context, cmd ride.CancelCommand) (*ride.Ride, error)
}

type Profiles interface {
	Profile(ctx context.Context, id types.ID) (worker.Profile, error)
}

type Deps struct {
	Presence       Presence
	Locations      Locations
	Rides          Rides
	Profiles       Profiles
	NearbyRadiusKm float64
}

type Gateway struct {
	deps     Deps
	validate *validator.Validate
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func New(deps Deps, log logrus.FieldLogger) *Gateway {
	return &Gateway{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// session is the per-connection identity established by register. caller and callerRole
// come from the verified token and are empty on an unauthenticated route.
type session struct {
	conn       *wsConn
	caller     types.ID
	callerRole presence.Role
	userID     types.ID
	role       presence.Role
}

// ServeWS upgrades the request. When the route is behind Auth, register must name the
// authenticated caller and the role carried by the token.
func (g *Gateway) ServeWS(c *gin.Context) {
	caller := types.ID(middleware.CallerUID(c))
	var role presence.Role
	if caller != "" {
		role = presence.Role(middleware.CallerRole(c))
		if role == "" {
			role = presence.RolePassenger
		}
	}
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	g.serve(ws, caller, role)
}

func (g *Gateway) serve(ws *websocket.Conn, caller types.ID, callerRole presence.Role) {
	observability.ConnectionsActive.Inc()
	s := &session{conn: newConn(ws), caller: caller, callerRole: callerRole}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		removed := g.deps.Presence.Unregister(context.Background(), s.conn)
		s.conn.close()
		observability.ConnectionsActive.Dec()
		g.log.WithFields(logrus.Fields{"user_id": s.userID, "removed": len(removed)}).Debug("connection closed")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go g.keepAlive(ctx, s.conn)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.WithError(err).WithField("user_id", s.userID).Info("websocket read failed")
			}
			return
		}
		typ, msg, err := Decode(g.validate, raw)
		if err != nil {
			g.sendError(s, typ, "bad_request", err)
			continue
		}
		if err := g.handle(ctx, s, typ, msg); err != nil {
			g.sendError(s, typ, errorCode(err), err)
		}
	}
}

func (g *Gateway) keepAlive(ctx context.Context, c *wsConn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) handle(ctx context.Context, s *session, typ string, msg any) error {
	if typ == MsgRegister {
		return g.register(ctx, s, msg.(*RegisterMsg))
	}
	if s.userID == "" {
		return errNotRegistered
	}

	switch m := msg.(type) {
	case *LocationMsg:
		if s.role != presence.RoleWorker {
			return errForbidden
		}
		return g.deps.Locations.UpdateLocation(ctx, s.userID, m.Lat, m.Lng)
	case *OnlineMsg:
		if s.role != presence.RoleWorker {
			return errForbidden
		}
		return g.deps.Presence.SetOnline(ctx, s.userID, *m.IsOnline)
	case *RideRequestMsg:
		return g.requestRide(ctx, s, m)
	case *RideCancelMsg:
		actor := ride.ActorPassenger
		if s.role == presence.RoleWorker {
			actor = ride.ActorDriver
		}
		_, err := g.deps.Rides.Cancel(ctx, ride.CancelCommand{
			RideID:    types.ID(m.RequestID),
			ActorType: actor,
			ActorID:   s.userID,
			Reason:    m.Reason,
		})
		return err
	case *RideRefMsg:
		if s.role != presence.RoleWorker {
			return errForbidden
		}
		return g.driverCommand(ctx, s, typ, types.ID(m.RequestID))
	}
	return ErrUnknownType
}

func (g *Gateway) register(ctx context.Context, s *session, m *RegisterMsg) error {
	userID := types.ID(m.UserID)
	if s.caller != "" {
		if userID != "" && userID != s.caller {
			return errIdentity
		}
		userID = s.caller
	}
	if userID == "" {
		return presence.ErrBadRequest
	}
	role := presence.Role(m.Role)
	if s.caller != "" && role != s.callerRole {
		return errRoleMismatch
	}
	if err := g.deps.Presence.Register(userID, s.conn, role); err != nil {
		return err
	}
	s.userID, s.role = userID, role

	if role == presence.RoleWorker && g.deps.Profiles != nil {
		p, err := g.deps.Profiles.Profile(ctx, userID)
		switch {
		case err == nil:
			g.deps.Presence.SetProfile(userID, p)
		case !errors.Is(err, worker.ErrNotFound):
			g.log.WithError(err).WithField("driver_id", userID).Warn("load worker profile")
		}
	}
	return s.conn.Send(EventRegistered, map[string]any{"userId": userID, "role": role})
}

func (g *Gateway) requestRide(ctx context.Context, s *session, m *RideRequestMsg) error {
	if s.role != presence.RolePassenger {
		return errForbidden
	}
	pickup := types.Point{Lat: m.Pickup.Lat, Lng: m.Pickup.Lng}
	r, err := g.deps.Rides.Create(ctx, ride.CreateCommand{
		PassengerID:    s.userID,
		Pickup:         pickup,
		Dropoff:        types.Point{Lat: m.Dropoff.Lat, Lng: m.Dropoff.Lng},
		PickupAddress:  m.PickupAddress,
		DropoffAddress: m.DropoffAddress,
		ServiceType:    m.ServiceType,
		CounterOffer:   m.CounterOffer,
		WomenOnly:      m.WomenOnly,
		Shared:         m.Shared,
		PaymentMethod:  ride.PaymentMethod(m.PaymentMethod),
	})
	if err != nil {
		return err
	}
	if err := s.conn.Send(EventRideCreated, r); err != nil {
		return err
	}
	nearby := g.deps.Locations.Nearby(pickup, g.deps.NearbyRadiusKm)
	return s.conn.Send(EventWorkersNearby, map[string]any{"rideId": r.ID, "workers": nearby})
}

func (g *Gateway) driverCommand(ctx context.Context, s *session, typ string, rideID types.ID) error {
	var err error
	switch typ {
	case MsgRideClaim:
		_, err = g.deps.Rides.Claim(ctx, ride.ClaimCommand{RideID: rideID, DriverID: s.userID})
	case MsgRideStart:
		_, err = g.deps.Rides.Start(ctx, ride.StartCommand{RideID: rideID, DriverID: s.userID})
	case MsgRideComplete:
		_, err = g.deps.Rides.Complete(ctx, ride.CompleteCommand{RideID: rideID, DriverID: s.userID})
	default:
		err = ErrUnknownType
	}
	return err
}

func (g *Gateway) sendError(s *session, typ, code string, err error) {
	if code == "internal" {
		g.log.WithError(err).WithFields(logrus.Fields{"user_id": s.userID, "type": typ}).Error("gateway command failed")
	}
	msg := err.Error()
	if code == "internal" {
		msg = "internal error"
	}
	if sendErr := s.conn.Send(EventError, ErrorPayload{Code: code, Message: msg, For: typ}); sendErr != nil {
		g.log.WithError(sendErr).WithField("user_id", s.userID).Debug("error event not delivered")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ride.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ride.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ride.ErrActiveRide):
		return "active_ride"
	case errors.Is(err, ride.ErrWorkerBusy):
		return "worker_busy"
	case errors.Is(err, location.ErrWorkerOffline):
		return "worker_offline"
	case errors.Is(err, ride.ErrNotFound):
		return "not_found"
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, presence.ErrBelowMinimumBalance):
		return "below_minimum_balance"
	case errors.Is(err, errNotRegistered):
		return "not_registered"
	case errors.Is(err, errForbidden), errors.Is(err, errIdentity), errors.Is(err, errRoleMismatch):
		return "forbidden"
	case errors.Is(err, ride.ErrBadRequest), errors.Is(err, presence.ErrBadRequest),
		errors.Is(err, location.ErrBadRequest), errors.Is(err, pricing.ErrBadRequest),
		errors.Is(err, pricing.ErrUnknownServiceType), errors.Is(err, types.ErrInvalidPoint),
		errors.Is(err, ErrUnknownType):
		return "bad_request"
	}
	return "internal"
}
