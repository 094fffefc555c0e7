// README: Subscription and lottery store backed by PostgreSQL.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Replace(ctx context.Context, sub *Subscription) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions SET status = 'expired'
		WHERE user_id = $1 AND status = 'active'`, string(sub.UserID),
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (
			id, user_id, plan, status, rides_remaining, discount_pct, started_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(sub.ID), string(sub.UserID), sub.Plan, string(sub.Status),
		sub.RidesRemaining, sub.DiscountPct, sub.StartedAt, sub.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Active(ctx context.Context, userID types.ID, now time.Time) (*Subscription, error) {
	var sub Subscription
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, plan, status, rides_remaining, discount_pct, started_at, expires_at
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY started_at DESC
		LIMIT 1`, string(userID), now,
	).Scan(&sub.ID, &sub.UserID, &sub.Plan, &status, &sub.RidesRemaining, &sub.DiscountPct, &sub.StartedAt, &sub.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Status = Status(status)
	return &sub, nil
}

// ConsumeRide decrements in a single guarded UPDATE; zero rows means no quota or no subscription.
func (s *PGStore) ConsumeRide(ctx context.Context, userID types.ID, now time.Time) (int, error) {
	var remaining int
	err := s.db.QueryRow(ctx, `
		UPDATE subscriptions SET rides_remaining = rides_remaining - 1
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2 AND rides_remaining > 0
		RETURNING rides_remaining`, string(userID), now,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, aerr := s.Active(ctx, userID, now); aerr != nil {
			return 0, aerr
		}
		return 0, ErrQuotaExhausted
	}
	return remaining, err
}

func (s *PGStore) InsertTicket(ctx context.Context, t *Ticket) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO lottery_tickets (id, user_id, source, source_ref, earned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, source, source_ref) DO NOTHING`,
		string(t.ID), string(t.UserID), string(t.Source), t.SourceRef, t.EarnedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Tickets(ctx context.Context, userID types.ID) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, source, source_ref, earned_at, consumed_at, COALESCE(draw_id, '')
		FROM lottery_tickets WHERE user_id = $1
		ORDER BY earned_at`, string(userID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PGStore) Draw(ctx context.Context, drawID string, at time.Time) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, source, source_ref, earned_at, consumed_at, COALESCE(draw_id, '')
		FROM lottery_tickets WHERE draw_id = $1`, drawID,
	)
	if t, err := scanTicket(row); err == nil {
		return t, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	row = s.db.QueryRow(ctx, `
		UPDATE lottery_tickets SET consumed_at = $2, draw_id = $1
		WHERE id = (
			SELECT id FROM lottery_tickets
			WHERE consumed_at IS NULL
			ORDER BY random()
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND consumed_at IS NULL
		RETURNING id, user_id, source, source_ref, earned_at, consumed_at, COALESCE(draw_id, '')`,
		drawID, at,
	)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTickets
	}
	return t, err
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	var source string
	if err := row.Scan(&t.ID, &t.UserID, &source, &t.SourceRef, &t.EarnedAt, &t.ConsumedAt, &t.DrawID); err != nil {
		return nil, err
	}
	t.Source = TicketSource(source)
	return &t, nil
}

var _ Store = (*PGStore)(nil)
