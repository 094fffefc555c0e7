// README: Worker profile stores (memory and PostgreSQL drivers table).
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

type Store interface {
	Get(ctx context.Context, id types.ID) (*Profile, error)
	Upsert(ctx context.Context, p Profile) error
	// IncrementCompleted bumps the counter and returns the new value, creating the row if needed.
	IncrementCompleted(ctx context.Context, id types.ID) (int, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	profiles map[types.ID]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[types.ID]Profile)}
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.ServiceTypes = append([]string(nil), p.ServiceTypes...)
	return &p, nil
}

func (s *MemoryStore) Upsert(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.profiles[p.ID]; ok {
		p.CompletedRides = cur.CompletedRides
	}
	p.ServiceTypes = append([]string(nil), p.ServiceTypes...)
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.ID] = p
	return nil
}

func (s *MemoryStore) IncrementCompleted(_ context.Context, id types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[id]
	p.ID = id
	p.CompletedRides++
	p.UpdatedAt = time.Now().UTC()
	s.profiles[id] = p
	return p.CompletedRides, nil
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, `
		SELECT id, service_types, women_only_eligible, completed_rides, updated_at
		FROM drivers WHERE id = $1`, string(id),
	).Scan(&p.ID, &p.ServiceTypes, &p.WomenOnlyEligible, &p.CompletedRides, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) Upsert(ctx context.Context, p Profile) error {
	if p.ServiceTypes == nil {
		p.ServiceTypes = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id, service_types, women_only_eligible, completed_rides, updated_at)
		VALUES ($1, $2, $3, 0, NOW())
		ON CONFLICT (id) DO UPDATE SET
			service_types = EXCLUDED.service_types,
			women_only_eligible = EXCLUDED.women_only_eligible,
			updated_at = NOW()`,
		string(p.ID), p.ServiceTypes, p.WomenOnlyEligible,
	)
	return err
}

func (s *PGStore) IncrementCompleted(ctx context.Context, id types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		INSERT INTO drivers (id, service_types, women_only_eligible, completed_rides, updated_at)
		VALUES ($1, '{}', FALSE, 1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			completed_rides = drivers.completed_rides + 1,
			updated_at = NOW()
		RETURNING completed_rides`, string(id),
	).Scan(&n)
	return n, err
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PGStore)(nil)
)
