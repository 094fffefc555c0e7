// README: Ride service implements the lifecycle transitions, claim resolution and settlement.
package ride

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/config"
	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/subscription"
	"dispatch/internal/modules/wallet"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

var (
	ErrNotFound          = errors.New("ride not found")
	ErrAlreadyClaimed    = errors.New("ride already claimed")
	ErrInvalidTransition = errors.New("invalid ride state transition")
	ErrActiveRide        = errors.New("passenger has an active ride")
	ErrWorkerBusy        = errors.New("driver already has an active ride")
	ErrBadRequest        = errors.New("bad request")
)

const (
	EventAccepted     = "ride.accepted"
	EventStatusUpdate = "ride.statusUpdate"
	EventCancelled    = "ride.cancelled"
)

type Pricer interface {
	Estimate(ctx context.Context, req pricing.EstimateRequest) (pricing.Quote, error)
	Commission(fare, completedRides int64) pricing.Split
}

type WorkerStats interface {
	CompletedRides(ctx context.Context, id types.ID) (int, error)
	RecordCompletion(ctx context.Context, id types.ID) (int, error)
}

type Ledger interface {
	Credit(ctx context.Context, owner types.ID, amount int64, description, reference string) (*wallet.Transaction, error)
	Debit(ctx context.Context, owner types.ID, amount int64, description, reference string) (*wallet.Transaction, error)
}

type Subscriptions interface {
	IsStudent(ctx context.Context, userID types.ID) (bool, error)
	ConsumeRide(ctx context.Context, userID types.ID) (int, error)
	EarnTicket(ctx context.Context, userID types.ID, source subscription.TicketSource, ref string) (bool, error)
}

// Notifier delivers events to users; it is the presence registry in production.
type Notifier interface {
	SendTo(ctx context.Context, userID types.ID, event string, payload any) bool
	SetActiveRide(userID, rideID types.ID)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, req broadcast.Request) int
}

type Locator interface {
	DistanceTo(workerID types.ID, p types.Point) (float64, bool)
}

type EventPublisher interface {
	PublishRideEvent(ctx context.Context, e Event) error
}

// Deps are the collaborators of the ride service. Only Pricing is required.
type Deps struct {
	Pricing       Pricer
	Workers       WorkerStats
	Wallet        Ledger
	Subscriptions Subscriptions
	Notifier      Notifier
	Broadcaster   Broadcaster
	Locator       Locator
	Events        EventPublisher
}

type Service struct {
	store Store
	deps  Deps
	cfg   config.DispatchConfig
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Store, deps Deps, cfg config.DispatchConfig, log logrus.FieldLogger) *Service {
	return &Service{
		store: store,
		deps:  deps,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type CreateCommand struct {
	PassengerID    types.ID
	Pickup         types.Point
	Dropoff        types.Point
	PickupAddress  string
	DropoffAddress string
	ServiceType    string
	CounterOffer   *int64
	WomenOnly      bool
	Shared         bool
	PaymentMethod  PaymentMethod
}

type ClaimCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type StartCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	RideID    types.ID
	ActorType string
	ActorID   types.ID
	Reason    string
}

// AcceptedPayload is sent to the passenger when a driver claims the ride.
type AcceptedPayload struct {
	RideID     types.ID    `json:"rideId"`
	DriverID   types.ID    `json:"driverId"`
	FinalPrice types.Money `json:"finalPrice"`
	DistanceKm *float64    `json:"distanceKm,omitempty"`
	EtaMinutes *int        `json:"etaMinutes,omitempty"`
}

type StatusPayload struct {
	RideID types.ID `json:"rideId"`
	Status Status   `json:"status"`
	Ride   *Ride    `json:"ride"`
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if cmd.PassengerID == "" || cmd.ServiceType == "" {
		return nil, ErrBadRequest
	}
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = PaymentWallet
	}
	if !cmd.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrBadRequest, cmd.PaymentMethod)
	}
	if cmd.CounterOffer != nil && *cmd.CounterOffer <= 0 {
		return nil, fmt.Errorf("%w: counter offer must be positive", ErrBadRequest)
	}

	student := s.studentDiscount(ctx, cmd.PassengerID)
	quote, err := s.deps.Pricing.Estimate(ctx, pricing.EstimateRequest{
		Pickup:      cmd.Pickup,
		Dropoff:     cmd.Dropoff,
		ServiceType: pricing.ServiceType(cmd.ServiceType),
		Student:     student,
		Shared:      cmd.Shared,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	now := s.now()
	r := &Ride{
		ID:             types.NewID(),
		PassengerID:    cmd.PassengerID,
		Status:         StatusPending,
		StatusVersion:  0,
		Pickup:         cmd.Pickup,
		Dropoff:        cmd.Dropoff,
		PickupAddress:  cmd.PickupAddress,
		DropoffAddress: cmd.DropoffAddress,
		ServiceType:    cmd.ServiceType,
		DistanceKm:     quote.DistanceKm,
		EstimatedPrice: quote.Total,
		WomenOnly:      cmd.WomenOnly,
		Shared:         cmd.Shared,
		Student:        student,
		PaymentMethod:  cmd.PaymentMethod,
		CreatedAt:      now,
	}
	if cmd.CounterOffer != nil {
		r.CounterOffer = &types.Money{Amount: *cmd.CounterOffer, Currency: quote.Total.Currency}
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	if student {
		s.consumeStudentRide(ctx, r)
	}
	observability.RidesRequested.Inc()
	s.record(ctx, r, StatusNone, StatusPending, ActorPassenger, &r.PassengerID, now)
	if s.deps.Notifier != nil {
		s.deps.Notifier.SetActiveRide(r.PassengerID, r.ID)
	}

	reached := 0
	if s.deps.Broadcaster != nil {
		reached = s.deps.Broadcaster.Broadcast(ctx, broadcastRequest(r))
	}
	s.log.WithFields(logrus.Fields{
		"ride_id":      r.ID,
		"passenger_id": r.PassengerID,
		"service_type": r.ServiceType,
		"price":        r.Price().Amount,
		"reached":      reached,
	}).Info("ride requested")
	return r, nil
}

// studentDiscount applies only while the passenger's student plan still has ride quota.
// studentDiscount reports whether the passenger's student plan still has rides left.
// The quota is only spent once the ride is stored.
func (s *Service) studentDiscount(ctx context.Context, passengerID types.ID) bool {
	if s.deps.Subscriptions == nil {
		return false
	}
	student, err := s.deps.Subscriptions.IsStudent(ctx, passengerID)
	if err != nil {
		s.log.WithError(err).WithField("passenger_id", passengerID).Warn("subscription lookup failed")
		return false
	}
	return student
}

// consumeStudentRide spends one ride of the quota. A quota emptied by a concurrent request
// keeps the quoted discount.
func (s *Service) consumeStudentRide(ctx context.Context, r *Ride) {
	if _, err := s.deps.Subscriptions.ConsumeRide(ctx, r.PassengerID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"ride_id": r.ID, "passenger_id": r.PassengerID}).Warn("student ride not consumed")
	}
}

// Claim is the only path from pending to accepted. Of concurrent claims exactly one wins.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*Ride, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, s.claimLost(r, cmd.DriverID)
	}
	busy, err := s.store.HasActiveByDriver(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if busy {
		observability.ClaimsTotal.WithLabelValues("busy").Inc()
		return nil, ErrWorkerBusy
	}

	completed := 0
	if s.deps.Workers != nil {
		if completed, err = s.deps.Workers.CompletedRides(ctx, cmd.DriverID); err != nil {
			return nil, err
		}
	}
	price := r.Price()
	split := s.deps.Pricing.Commission(price.Amount, int64(completed))

	now := s.now()
	ok, err := s.store.Transition(ctx, Transition{
		RideID:       r.ID,
		From:         StatusPending,
		To:           StatusAccepted,
		Version:      r.StatusVersion,
		At:           now,
		DriverID:     &cmd.DriverID,
		FinalPrice:   &split.Fare,
		Commission:   &split.Commission,
		DriverNet:    &split.Net,
		CommissionBP: split.Tier.RateBP,
		DriverTier:   split.Tier.Name,
	})
	if errors.Is(err, ErrWorkerBusy) {
		observability.ClaimsTotal.WithLabelValues("busy").Inc()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		latest, gerr := s.store.Get(ctx, r.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, s.claimLost(latest, cmd.DriverID)
	}
	observability.ClaimsTotal.WithLabelValues("won").Inc()

	claimed, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, claimed, StatusPending, StatusAccepted, ActorDriver, &cmd.DriverID, now)

	if s.deps.Notifier != nil {
		s.deps.Notifier.SetActiveRide(cmd.DriverID, claimed.ID)
		s.deps.Notifier.SendTo(ctx, claimed.PassengerID, EventAccepted, s.acceptedPayload(claimed, cmd.DriverID))
	}
	s.log.WithFields(logrus.Fields{
		"ride_id":    claimed.ID,
		"driver_id":  cmd.DriverID,
		"tier":       split.Tier.Name,
		"commission": split.Commission,
	}).Info("ride claimed")
	return claimed, nil
}

func (s *Service) claimLost(r *Ride, driverID types.ID) error {
	if r.Status == StatusCancelled {
		observability.ClaimsTotal.WithLabelValues("invalid").Inc()
		return ErrInvalidTransition
	}
	observability.ClaimsTotal.WithLabelValues("lost").Inc()
	s.log.WithFields(logrus.Fields{"ride_id": r.ID, "driver_id": driverID, "status": r.Status}).Debug("claim lost")
	return ErrAlreadyClaimed
}

func (s *Service) acceptedPayload(r *Ride, driverID types.ID) AcceptedPayload {
	p := AcceptedPayload{RideID: r.ID, DriverID: driverID}
	if r.FinalPrice != nil {
		p.FinalPrice = *r.FinalPrice
	}
	if s.deps.Locator == nil {
		return p
	}
	if km, ok := s.deps.Locator.DistanceTo(driverID, r.Pickup); ok {
		p.DistanceKm = &km
		if s.cfg.AvgSpeedKmh > 0 {
			mins := int(math.Ceil(km / s.cfg.AvgSpeedKmh * 60))
			p.EtaMinutes = &mins
		}
	}
	return p
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusInProgress) || !r.IsDriver(cmd.DriverID) {
		return nil, ErrInvalidTransition
	}
	now := s.now()
	if err := s.transition(ctx, Transition{
		RideID: r.ID, From: r.Status, To: StatusInProgress, Version: r.StatusVersion, At: now,
	}); err != nil {
		return nil, err
	}
	started, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, started, StatusAccepted, StatusInProgress, ActorDriver, &cmd.DriverID, now)
	s.notifyParties(ctx, started, r.DriverID, EventStatusUpdate)
	return started, nil
}

// Complete finishes the trip and settles the driver wallet. The status CAS makes a second
// call fail, and wallet references keyed by ride id guard against a repeated credit.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusCompleted) || !r.IsDriver(cmd.DriverID) {
		return nil, ErrInvalidTransition
	}
	now := s.now()
	if err := s.transition(ctx, Transition{
		RideID: r.ID, From: r.Status, To: StatusCompleted, Version: r.StatusVersion, At: now,
	}); err != nil {
		return nil, err
	}
	done, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, done, StatusInProgress, StatusCompleted, ActorDriver, &cmd.DriverID, now)

	if pending := s.settle(ctx, done, cmd.DriverID); pending {
		if err := s.store.MarkSettlementPending(ctx, done.ID, true); err != nil {
			s.log.WithError(err).WithField("ride_id", done.ID).Error("flag settlement pending failed")
		}
		done.SettlementPending = true
	}
	if s.deps.Workers != nil {
		if _, err := s.deps.Workers.RecordCompletion(ctx, cmd.DriverID); err != nil {
			s.log.WithError(err).WithField("driver_id", cmd.DriverID).Error("ride count not incremented")
		}
	}
	if s.deps.Subscriptions != nil {
		if _, err := s.deps.Subscriptions.EarnTicket(ctx, done.PassengerID, subscription.SourceRideCompleted, string(done.ID)); err != nil {
			s.log.WithError(err).WithField("ride_id", done.ID).Warn("lottery ticket not issued")
		}
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.SetActiveRide(done.PassengerID, "")
		s.deps.Notifier.SetActiveRide(cmd.DriverID, "")
	}
	s.notifyParties(ctx, done, done.DriverID, EventStatusUpdate)
	return done, nil
}

// settle moves money for a completed ride and reports whether it must be retried later.
func (s *Service) settle(ctx context.Context, r *Ride, driverID types.ID) bool {
	if s.deps.Wallet == nil || r.FinalPrice == nil {
		return false
	}
	fields := logrus.Fields{"ride_id": r.ID, "driver_id": driverID, "payment": r.PaymentMethod}
	var err error
	switch r.PaymentMethod {
	case PaymentCash:
		if r.Commission != nil && r.Commission.Amount > 0 {
			_, err = s.deps.Wallet.Debit(ctx, driverID, r.Commission.Amount,
				"commission for ride "+string(r.ID), settlementRef(r.ID, "commission"))
		}
	default:
		if r.DriverNet != nil && r.DriverNet.Amount > 0 {
			_, err = s.deps.Wallet.Credit(ctx, driverID, r.DriverNet.Amount,
				"earnings for ride "+string(r.ID), settlementRef(r.ID, "earnings"))
		}
	}
	switch {
	case err == nil:
		s.log.WithFields(fields).Info("ride settled")
		return false
	case errors.Is(err, wallet.ErrDuplicateReference):
		s.log.WithFields(fields).Warn("ride already settled")
		return false
	default:
		s.log.WithFields(fields).WithError(err).Warn("settlement deferred")
		return true
	}
}

func settlementRef(id types.ID, kind string) string {
	return "ride:" + string(id) + ":" + kind
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Ride, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusCancelled) || !s.mayCancel(r, cmd) {
		return nil, ErrInvalidTransition
	}
	var actorID *types.ID
	if cmd.ActorID != "" {
		actorID = &cmd.ActorID
	}
	prevDriver := r.DriverID
	now := s.now()
	if err := s.transition(ctx, Transition{
		RideID:       r.ID,
		From:         r.Status,
		To:           StatusCancelled,
		Version:      r.StatusVersion,
		At:           now,
		ClearDriver:  true,
		CancelReason: cmd.Reason,
		CancelActor:  cmd.ActorType,
		CancelledBy:  actorID,
	}); err != nil {
		return nil, err
	}
	cancelled, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, cancelled, r.Status, StatusCancelled, cmd.ActorType, actorID, now)
	if s.deps.Notifier != nil {
		s.deps.Notifier.SetActiveRide(r.PassengerID, "")
		if prevDriver != nil {
			s.deps.Notifier.SetActiveRide(*prevDriver, "")
		}
	}
	s.notifyParties(ctx, cancelled, prevDriver, EventCancelled)
	return cancelled, nil
}

func (s *Service) mayCancel(r *Ride, cmd CancelCommand) bool {
	switch cmd.ActorType {
	case ActorPassenger:
		return cmd.ActorID == r.PassengerID
	case ActorDriver:
		return r.IsDriver(cmd.ActorID)
	case ActorSystem:
		return true
	}
	return false
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByPassenger(ctx context.Context, passengerID types.ID, limit int) ([]Ride, error) {
	if passengerID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListByPassenger(ctx, passengerID, limit)
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// RunExpiryMonitor cancels pending rides older than the configured timeout. It returns
// immediately when no timeout is configured.
func (s *Service) RunExpiryMonitor(ctx context.Context) {
	if s.cfg.PendingTimeout <= 0 {
		return
	}
	tick := s.cfg.ExpiryTick
	if tick <= 0 {
		tick = 10 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ExpirePending(ctx); err != nil {
				s.log.WithError(err).Error("pending expiry sweep failed")
			} else if n > 0 {
				s.log.WithField("expired", n).Info("pending rides expired")
			}
		}
	}
}

// ExpirePending runs one expiry sweep and returns how many rides it cancelled.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	if s.cfg.PendingTimeout <= 0 {
		return 0, nil
	}
	stale, err := s.store.ListPendingBefore(ctx, s.now().Add(-s.cfg.PendingTimeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range stale {
		_, err := s.Cancel(ctx, CancelCommand{RideID: r.ID, ActorType: ActorSystem, Reason: "expired"})
		if err == nil {
			n++
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return n, err
		}
	}
	return n, nil
}

// transition applies t; a lost CAS means another transition got there first.
func (s *Service) transition(ctx context.Context, t Transition) error {
	ok, err := s.store.Transition(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	return nil
}

func (s *Service) record(ctx context.Context, r *Ride, from, to Status, actorType string, actorID *types.ID, at time.Time) {
	e := Event{
		RideID:     r.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  at,
	}
	if err := s.store.AppendEvent(ctx, &e); err != nil {
		s.log.WithError(err).WithField("ride_id", r.ID).Error("append ride event failed")
	}
	observability.TransitionsTotal.WithLabelValues(string(to)).Inc()
	if s.deps.Events != nil {
		if err := s.deps.Events.PublishRideEvent(ctx, e); err != nil {
			s.log.WithError(err).WithField("ride_id", r.ID).Warn("publish ride event failed")
		}
	}
}

func (s *Service) notifyParties(ctx context.Context, r *Ride, driverID *types.ID, event string) {
	if s.deps.Notifier == nil {
		return
	}
	payload := StatusPayload{RideID: r.ID, Status: r.Status, Ride: r}
	s.deps.Notifier.SendTo(ctx, r.PassengerID, event, payload)
	if driverID != nil {
		s.deps.Notifier.SendTo(ctx, *driverID, event, payload)
	}
}

func broadcastRequest(r *Ride) broadcast.Request {
	return broadcast.Request{
		RideID:         r.ID,
		PassengerID:    r.PassengerID,
		Pickup:         r.Pickup,
		Dropoff:        r.Dropoff,
		PickupAddress:  r.PickupAddress,
		DropoffAddress: r.DropoffAddress,
		ServiceType:    r.ServiceType,
		EstimatedPrice: r.EstimatedPrice,
		CounterOffer:   r.CounterOffer,
		WomenOnly:      r.WomenOnly,
		Shared:         r.Shared,
		PaymentMethod:  string(r.PaymentMethod),
		CreatedAt:      r.CreatedAt,
	}
}
