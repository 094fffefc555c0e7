// README: Worker service; completed-ride counts feed the commission tier.
package worker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"dispatch/internal/types"
)

type Service struct {
	store Store
	log   logrus.FieldLogger
}

func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log}
}

// Profile returns the stored profile, or an empty one for a worker never seen before.
func (s *Service) Profile(ctx context.Context, id types.ID) (Profile, error) {
	p, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Profile{ID: id}, nil
	}
	if err != nil {
		return Profile{}, err
	}
	return *p, nil
}

func (s *Service) UpdateProfile(ctx context.Context, p Profile) error {
	if p.ID == "" {
		return ErrBadRequest
	}
	return s.store.Upsert(ctx, p)
}

func (s *Service) CompletedRides(ctx context.Context, id types.ID) (int, error) {
	p, err := s.Profile(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.CompletedRides, nil
}

func (s *Service) RecordCompletion(ctx context.Context, id types.ID) (int, error) {
	n, err := s.store.IncrementCompleted(ctx, id)
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"driver_id": id, "completed_rides": n}).Debug("worker ride count incremented")
	return n, nil
}
