// README: Subscription and ticket store contract plus the in-memory implementation.
package subscription

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"dispatch/internal/types"
)

type Store interface {
	// Replace expires every active subscription of the user and inserts sub, atomically.
	Replace(ctx context.Context, sub *Subscription) error
	Active(ctx context.Context, userID types.ID, now time.Time) (*Subscription, error)
	// ConsumeRide decrements the quota of the active subscription and returns what is left.
	ConsumeRide(ctx context.Context, userID types.ID, now time.Time) (int, error)
	// InsertTicket reports false when a ticket for (source, ref) already exists.
	InsertTicket(ctx context.Context, t *Ticket) (bool, error)
	Tickets(ctx context.Context, userID types.ID) ([]Ticket, error)
	// Draw consumes one unconsumed ticket chosen at random. A repeated drawID returns the same ticket.
	Draw(ctx context.Context, drawID string, at time.Time) (*Ticket, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	subs    []*Subscription
	tickets []*Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Replace(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.subs {
		if cur.UserID == sub.UserID && cur.Status == StatusActive {
			cur.Status = StatusExpired
		}
	}
	cp := *sub
	s.subs = append(s.subs, &cp)
	return nil
}

func (s *MemoryStore) activeLocked(userID types.ID, now time.Time) *Subscription {
	for _, cur := range s.subs {
		if cur.UserID == userID && cur.Status == StatusActive && now.Before(cur.ExpiresAt) {
			return cur
		}
	}
	return nil
}

func (s *MemoryStore) Active(_ context.Context, userID types.ID, now time.Time) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.activeLocked(userID, now)
	if cur == nil {
		return nil, ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (s *MemoryStore) ConsumeRide(_ context.Context, userID types.ID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.activeLocked(userID, now)
	if cur == nil {
		return 0, ErrNotFound
	}
	if cur.RidesRemaining <= 0 {
		return 0, ErrQuotaExhausted
	}
	cur.RidesRemaining--
	return cur.RidesRemaining, nil
}

func (s *MemoryStore) InsertTicket(_ context.Context, t *Ticket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.tickets {
		if cur.Source == t.Source && cur.SourceRef == t.SourceRef && cur.UserID == t.UserID {
			return false, nil
		}
	}
	cp := *t
	s.tickets = append(s.tickets, &cp)
	return true, nil
}

func (s *MemoryStore) Tickets(_ context.Context, userID types.ID) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ticket
	for _, t := range s.tickets {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *MemoryStore) Draw(_ context.Context, drawID string, at time.Time) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*Ticket
	for _, t := range s.tickets {
		if t.DrawID == drawID {
			cp := *t
			return &cp, nil
		}
		if t.ConsumedAt == nil {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return nil, ErrNoTickets
	}
	win := open[rand.IntN(len(open))]
	consumed := at
	win.ConsumedAt = &consumed
	win.DrawID = drawID
	cp := *win
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
