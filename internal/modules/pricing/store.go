// README: Pricing store backed by PostgreSQL (optional per-service rate overrides).
package pricing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ListRates(ctx context.Context) ([]Rate, error) {
	rows, err := s.db.Query(ctx, `SELECT service_type, base_fare, per_km FROM service_rates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rate
	for rows.Next() {
		var r Rate
		var st string
		if err := rows.Scan(&st, &r.BaseFare, &r.PerKm); err != nil {
			return nil, err
		}
		r.ServiceType = ServiceType(st)
		out = append(out, r)
	}
	return out, rows.Err()
}
