// README: Presence registry; maps users to live connections and tracks the available pool.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"dispatch/internal/modules/worker"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

// Registry is safe for concurrent use. No connection or network I/O happens under mu.
type Registry struct {
	mu       sync.RWMutex
	sessions map[types.ID]*Session
	pool     map[types.ID]struct{}

	location   LocationPurger
	notifier   Notifier
	balances   BalanceReader
	minBalance int64
	log        logrus.FieldLogger
}

// NewRegistry builds a registry. location and notifier may be nil.
func NewRegistry(location LocationPurger, notifier Notifier, log logrus.FieldLogger) *Registry {
	return &Registry{
		sessions: make(map[types.ID]*Session),
		pool:     make(map[types.ID]struct{}),
		location: location,
		notifier: notifier,
		log:      log,
	}
}

// RequireBalance refuses SetOnline for workers whose balance is below min. min <= 0 disables it.
func (r *Registry) RequireBalance(balances BalanceReader, min int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = balances
	r.minBalance = min
}

// Register binds userID to conn. A later Register for the same user replaces the binding.
func (r *Registry) Register(userID types.ID, conn Conn, role Role) error {
	if userID == "" || conn == nil || !role.Valid() {
		return ErrBadRequest
	}
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if !ok {
		s = &Session{UserID: userID}
		r.sessions[userID] = s
	}
	s.Role = role
	s.Conn = conn
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"user_id": userID, "role": role}).Info("connection registered")
	return nil
}

// Unregister drops every session still bound to conn, takes those users out of the pool
// and purges their cached positions.
func (r *Registry) Unregister(ctx context.Context, conn Conn) []types.ID {
	var removed []types.ID
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.Conn != conn {
			continue
		}
		delete(r.sessions, id)
		delete(r.pool, id)
		removed = append(removed, id)
	}
	observability.WorkersOnline.Set(float64(len(r.pool)))
	r.mu.Unlock()

	for _, id := range removed {
		if r.location != nil {
			r.location.Remove(ctx, id)
		}
		r.log.WithField("user_id", id).Info("connection unregistered")
	}
	return removed
}

// SetOnline adds or removes a worker from the available pool.
func (r *Registry) SetOnline(ctx context.Context, workerID types.ID, online bool) error {
	if workerID == "" {
		return ErrBadRequest
	}
	if online {
		if err := r.checkBalance(ctx, workerID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	s, ok := r.sessions[workerID]
	if !ok {
		s = &Session{UserID: workerID, Role: RoleWorker}
		r.sessions[workerID] = s
	}
	s.Online = online
	if online {
		r.pool[workerID] = struct{}{}
	} else {
		delete(r.pool, workerID)
	}
	observability.WorkersOnline.Set(float64(len(r.pool)))
	r.mu.Unlock()

	if !online && r.location != nil {
		r.location.Remove(ctx, workerID)
	}
	r.log.WithFields(logrus.Fields{"driver_id": workerID, "online": online}).Info("worker availability changed")
	return nil
}

func (r *Registry) checkBalance(ctx context.Context, workerID types.ID) error {
	r.mu.RLock()
	balances, min := r.balances, r.minBalance
	r.mu.RUnlock()
	if balances == nil || min <= 0 {
		return nil
	}
	bal, err := balances.Balance(ctx, workerID)
	if err != nil {
		return err
	}
	if bal.Amount < min {
		return ErrBelowMinimumBalance
	}
	return nil
}

// SendTo delivers to the user's live connection. Without one the event is dropped and the
// notifier is asked to push instead. It reports whether a live connection accepted the event.
func (r *Registry) SendTo(ctx context.Context, userID types.ID, event string, payload any) bool {
	r.mu.RLock()
	var conn Conn
	if s, ok := r.sessions[userID]; ok {
		conn = s.Conn
	}
	r.mu.RUnlock()

	fields := logrus.Fields{"user_id": userID, "event": event}
	if conn != nil {
		err := conn.Send(event, payload)
		if err == nil {
			return true
		}
		r.log.WithFields(fields).WithError(err).Warn("send to live connection failed")
	} else {
		r.log.WithFields(fields).Info("no live connection; event dropped")
	}
	observability.EventsDropped.WithLabelValues(event).Inc()

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, userID, event, payload); err != nil {
			r.log.WithFields(fields).WithError(err).Warn("push notification failed")
		}
	}
	return false
}

// Pool returns the online worker ids in a stable order.
func (r *Registry) Pool() []types.ID {
	r.mu.RLock()
	out := make([]types.ID, 0, len(r.pool))
	for id := range r.pool {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) IsOnline(workerID types.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pool[workerID]
	return ok
}

// Session returns a copy of the user's session.
func (r *Registry) Session(userID types.ID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetProfile records the worker's declared capabilities on an existing session.
func (r *Registry) SetProfile(userID types.ID, p worker.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		s.Profile = p
	}
}

// SetActiveRide records the ride a user is engaged in; an empty id clears it.
func (r *Registry) SetActiveRide(userID, rideID types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		s.ActiveRide = rideID
	}
}
