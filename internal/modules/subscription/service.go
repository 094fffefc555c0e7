// README: Subscription service (plans, quotas) and lottery ticket issuance and draws.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/types"
)

type Service struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Subscribe replaces the user's active subscription with a fresh one and grants a ticket.
func (s *Service) Subscribe(ctx context.Context, userID types.ID, plan string) (*Subscription, error) {
	if userID == "" {
		return nil, ErrBadRequest
	}
	p, ok := Plans[plan]
	if !ok {
		return nil, ErrUnknownPlan
	}
	now := s.now()
	sub := &Subscription{
		ID:             types.NewID(),
		UserID:         userID,
		Plan:           p.Name,
		Status:         StatusActive,
		RidesRemaining: p.Rides,
		DiscountPct:    p.DiscountPct,
		StartedAt:      now,
		ExpiresAt:      now.Add(p.Duration),
	}
	if err := s.store.Replace(ctx, sub); err != nil {
		return nil, err
	}
	if _, err := s.EarnTicket(ctx, userID, SourceSubscription, string(sub.ID)); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("subscription ticket not issued")
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "plan": p.Name}).Info("subscription started")
	return sub, nil
}

func (s *Service) Active(ctx context.Context, userID types.ID) (*Subscription, error) {
	return s.store.Active(ctx, userID, s.now())
}

func (s *Service) ConsumeRide(ctx context.Context, userID types.ID) (int, error) {
	return s.store.ConsumeRide(ctx, userID, s.now())
}

// IsStudent reports whether the user holds an active student subscription with rides left.
func (s *Service) IsStudent(ctx context.Context, userID types.ID) (bool, error) {
	sub, err := s.Active(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Plan == PlanStudent && sub.RidesRemaining > 0, nil
}

// EarnTicket is idempotent per (user, source, ref); a repeat returns false.
func (s *Service) EarnTicket(ctx context.Context, userID types.ID, source TicketSource, ref string) (bool, error) {
	if userID == "" || ref == "" || !source.Valid() {
		return false, ErrBadRequest
	}
	return s.store.InsertTicket(ctx, &Ticket{
		ID:        types.NewID(),
		UserID:    userID,
		Source:    source,
		SourceRef: ref,
		EarnedAt:  s.now(),
	})
}

func (s *Service) Tickets(ctx context.Context, userID types.ID) ([]Ticket, error) {
	return s.store.Tickets(ctx, userID)
}

func (s *Service) Draw(ctx context.Context, drawID string) (*Ticket, error) {
	if drawID == "" {
		return nil, ErrBadRequest
	}
	t, err := s.store.Draw(ctx, drawID, s.now())
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"draw_id": drawID, "ticket_id": t.ID, "user_id": t.UserID}).Info("lottery drawn")
	return t, nil
}
