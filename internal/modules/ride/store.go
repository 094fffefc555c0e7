// README: Ride store contract and the in-memory implementation.
package ride

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/types"
)

// Store persists rides. Transition is a compare-and-swap on (status, status_version) and
// reports false when the ride moved on. Create enforces one active ride per passenger
// (ErrActiveRide); accepting enforces one active ride per driver (ErrWorkerBusy).
type Store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	Transition(ctx context.Context, t Transition) (bool, error)
	MarkSettlementPending(ctx context.Context, id types.ID, pending bool) error
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, id types.ID) ([]Event, error)
	HasActiveByDriver(ctx context.Context, driverID types.ID) (bool, error)
	ListByPassenger(ctx context.Context, passengerID types.ID, limit int) ([]Ride, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Ride, error)
}

type MemoryStore struct {
	mu     sync.Mutex
	rides  map[types.ID]*Ride
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[types.ID]*Ride)}
}

func (s *MemoryStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.rides {
		if cur.PassengerID == r.PassengerID && IsActive(cur.Status) {
			return ErrActiveRide
		}
	}
	s.rides[r.ID] = cloneRide(r)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRide(r), nil
}

func (s *MemoryStore) Transition(_ context.Context, t Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[t.RideID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != t.From || r.StatusVersion != t.Version {
		return false, nil
	}
	if t.To == StatusAccepted && t.DriverID != nil {
		for _, cur := range s.rides {
			if cur.ID != r.ID && cur.IsDriver(*t.DriverID) && (cur.Status == StatusAccepted || cur.Status == StatusInProgress) {
				return false, ErrWorkerBusy
			}
		}
	}
	applyTransition(r, t)
	return true, nil
}

func (s *MemoryStore) MarkSettlementPending(_ context.Context, id types.ID, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return ErrNotFound
	}
	r.SettlementPending = pending
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := *e
	cp.ID = s.nextID
	s.events = append(s.events, cp)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, id types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.RideID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) HasActiveByDriver(_ context.Context, driverID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rides {
		if r.IsDriver(driverID) && (r.Status == StatusAccepted || r.Status == StatusInProgress) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListByPassenger(_ context.Context, passengerID types.ID, limit int) ([]Ride, error) {
	s.mu.Lock()
	var out []Ride
	for _, r := range s.rides {
		if r.PassengerID == passengerID {
			out = append(out, *cloneRide(r))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ride
	for _, r := range s.rides {
		if r.Status == StatusPending && r.CreatedAt.Before(cutoff) {
			out = append(out, *cloneRide(r))
		}
	}
	return out, nil
}

func applyTransition(r *Ride, t Transition) {
	r.Status = t.To
	r.StatusVersion++
	at := t.At
	switch t.To {
	case StatusAccepted:
		r.AcceptedAt = &at
	case StatusInProgress:
		r.StartedAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
	}
	if t.DriverID != nil {
		d := *t.DriverID
		r.DriverID = &d
	}
	if t.ClearDriver {
		r.DriverID = nil
	}
	cur := r.EstimatedPrice.Currency
	if t.FinalPrice != nil {
		r.FinalPrice = &types.Money{Amount: *t.FinalPrice, Currency: cur}
	}
	if t.Commission != nil {
		r.Commission = &types.Money{Amount: *t.Commission, Currency: cur}
	}
	if t.DriverNet != nil {
		r.DriverNet = &types.Money{Amount: *t.DriverNet, Currency: cur}
	}
	if t.CommissionBP != 0 {
		r.CommissionBP = t.CommissionBP
	}
	if t.DriverTier != "" {
		r.DriverTier = t.DriverTier
	}
	if t.CancelReason != "" {
		r.CancelReason = t.CancelReason
	}
	if t.CancelActor != "" {
		r.CancelActor = t.CancelActor
	}
	if t.CancelledBy != nil {
		by := *t.CancelledBy
		r.CancelledBy = &by
	}
}

func cloneRide(r *Ride) *Ride {
	cp := *r
	if r.DriverID != nil {
		d := *r.DriverID
		cp.DriverID = &d
	}
	if r.CancelledBy != nil {
		c := *r.CancelledBy
		cp.CancelledBy = &c
	}
	cp.CounterOffer = cloneMoney(r.CounterOffer)
	cp.FinalPrice = cloneMoney(r.FinalPrice)
	cp.Commission = cloneMoney(r.Commission)
	cp.DriverNet = cloneMoney(r.DriverNet)
	cp.AcceptedAt = cloneTime(r.AcceptedAt)
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.CancelledAt = cloneTime(r.CancelledAt)
	return &cp
}

func cloneMoney(m *types.Money) *types.Money {
	if m == nil {
		return nil
	}
	v := *m
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ Store = (*MemoryStore)(nil)
