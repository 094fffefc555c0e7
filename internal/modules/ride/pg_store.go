// README: Ride store backed by PostgreSQL; transitions are guarded UPDATEs on status_version.
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

const (
	uniqueViolation           = "23505"
	activePassengerConstraint = "rides_one_active_per_passenger"
	activeDriverConstraint    = "rides_one_active_per_driver"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const rideColumns = `
	id, passenger_id, driver_id, status, status_version,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, pickup_address, dropoff_address,
	service_type, distance_km, currency, estimated_price, counter_offer,
	women_only, shared, student, payment_method,
	final_price, commission, driver_net, commission_bp, driver_tier,
	created_at, accepted_at, started_at, completed_at, cancelled_at,
	cancel_reason, cancel_actor, cancelled_by, settlement_pending`

func (s *PGStore) Create(ctx context.Context, r *Ride) error {
	var counter *int64
	if r.CounterOffer != nil {
		v := r.CounterOffer.Amount
		counter = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (
			id, passenger_id, status, status_version,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, pickup_address, dropoff_address,
			service_type, distance_km, currency, estimated_price, counter_offer,
			women_only, shared, student, payment_method, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20
		)`,
		string(r.ID), string(r.PassengerID), string(r.Status), r.StatusVersion,
		r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng, r.PickupAddress, r.DropoffAddress,
		r.ServiceType, r.DistanceKm, r.EstimatedPrice.Currency, r.EstimatedPrice.Amount, counter,
		r.WomenOnly, r.Shared, r.Student, string(r.PaymentMethod), r.CreatedAt,
	)
	if isUniqueViolation(err, activePassengerConstraint) {
		return ErrActiveRide
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := scanRide(s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) Transition(ctx context.Context, t Transition) (bool, error) {
	var driverID, cancelledBy *string
	if t.DriverID != nil {
		v := string(*t.DriverID)
		driverID = &v
	}
	if t.CancelledBy != nil {
		v := string(*t.CancelledBy)
		cancelledBy = &v
	}
	var bp *int64
	if t.CommissionBP != 0 {
		bp = &t.CommissionBP
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $1,
			status_version = status_version + 1,
			driver_id = CASE WHEN $2::boolean THEN NULL ELSE COALESCE($3, driver_id) END,
			final_price = COALESCE($4, final_price),
			commission = COALESCE($5, commission),
			driver_net = COALESCE($6, driver_net),
			commission_bp = COALESCE($7, commission_bp),
			driver_tier = COALESCE(NULLIF($8, ''), driver_tier),
			accepted_at = CASE WHEN $1 = 'accepted' THEN $9 ELSE accepted_at END,
			started_at = CASE WHEN $1 = 'in_progress' THEN $9 ELSE started_at END,
			completed_at = CASE WHEN $1 = 'completed' THEN $9 ELSE completed_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $9 ELSE cancelled_at END,
			cancel_reason = COALESCE(NULLIF($10, ''), cancel_reason),
			cancel_actor = COALESCE(NULLIF($11, ''), cancel_actor),
			cancelled_by = COALESCE($12, cancelled_by)
		WHERE id = $13 AND status = $14 AND status_version = $15`,
		string(t.To),
		t.ClearDriver,
		driverID,
		t.FinalPrice,
		t.Commission,
		t.DriverNet,
		bp,
		t.DriverTier,
		t.At,
		t.CancelReason,
		t.CancelActor,
		cancelledBy,
		string(t.RideID),
		string(t.From),
		t.Version,
	)
	if isUniqueViolation(err, activeDriverConstraint) {
		return false, ErrWorkerBusy
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) MarkSettlementPending(ctx context.Context, id types.ID, pending bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE rides SET settlement_pending = $2 WHERE id = $1`, string(id), pending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	var actor *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actor = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID), string(e.FromStatus), string(e.ToStatus), e.ActorType, actor, e.CreatedAt,
	)
	return err
}

func (s *PGStore) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, actor_type, actor_id, created_at
		FROM ride_state_events WHERE ride_id = $1 ORDER BY id`, string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var from, to string
		var actor *string
		if err := rows.Scan(&e.ID, &e.RideID, &from, &to, &e.ActorType, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus, e.ToStatus = Status(from), Status(to)
		if actor != nil {
			a := types.ID(*actor)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) HasActiveByDriver(ctx context.Context, driverID types.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rides
			WHERE driver_id = $1 AND status IN ('accepted','in_progress')
		)`, string(driverID),
	).Scan(&exists)
	return exists, err
}

func (s *PGStore) ListByPassenger(ctx context.Context, passengerID types.ID, limit int) ([]Ride, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, `SELECT `+rideColumns+` FROM rides WHERE passenger_id = $1 ORDER BY created_at DESC LIMIT $2`,
		string(passengerID), limit)
}

func (s *PGStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Ride, error) {
	return s.list(ctx, `SELECT `+rideColumns+` FROM rides WHERE status = 'pending' AND created_at < $1 ORDER BY created_at`,
		cutoff)
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]Ride, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var driverID, cancelledBy *string
	var status, payment, currency string
	var estimated int64
	var counter, final, commission, net, bp *int64
	var tier, cancelReason, cancelActor *string

	err := row.Scan(
		&r.ID, &r.PassengerID, &driverID, &status, &r.StatusVersion,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng, &r.PickupAddress, &r.DropoffAddress,
		&r.ServiceType, &r.DistanceKm, &currency, &estimated, &counter,
		&r.WomenOnly, &r.Shared, &r.Student, &payment,
		&final, &commission, &net, &bp, &tier,
		&r.CreatedAt, &r.AcceptedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&cancelReason, &cancelActor, &cancelledBy, &r.SettlementPending,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.PaymentMethod = PaymentMethod(payment)
	r.EstimatedPrice = types.Money{Amount: estimated, Currency: currency}
	r.CounterOffer = toMoney(counter, currency)
	r.FinalPrice = toMoney(final, currency)
	r.Commission = toMoney(commission, currency)
	r.DriverNet = toMoney(net, currency)
	if bp != nil {
		r.CommissionBP = *bp
	}
	if tier != nil {
		r.DriverTier = *tier
	}
	if cancelReason != nil {
		r.CancelReason = *cancelReason
	}
	if cancelActor != nil {
		r.CancelActor = *cancelActor
	}
	r.DriverID = toID(driverID)
	r.CancelledBy = toID(cancelledBy)
	return &r, nil
}

func toMoney(v *int64, currency string) *types.Money {
	if v == nil {
		return nil
	}
	return &types.Money{Amount: *v, Currency: currency}
}

func toID(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

var _ Store = (*PGStore)(nil)
