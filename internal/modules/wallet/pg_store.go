// README: Wallet store backed by PostgreSQL; one transaction per mutation with a row lock.
package wallet

import (
	"context"
	"errors"

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

func (s *PGStore) Get(ctx context.Context, owner types.ID) (*Wallet, error) {
	var w Wallet
	err := s.db.QueryRow(ctx, `
		SELECT owner_id, balance, currency, updated_at
		FROM wallets WHERE owner_id = $1`, string(owner),
	).Scan(&w.OwnerID, &w.Balance, &w.Currency, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PGStore) Apply(ctx context.Context, m Mutation) (*Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (owner_id, balance, currency, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (owner_id) DO NOTHING`,
		string(m.OwnerID), m.Currency, m.At,
	); err != nil {
		return nil, err
	}

	var balance int64
	if err := tx.QueryRow(ctx, `
		SELECT balance FROM wallets WHERE owner_id = $1 FOR UPDATE`, string(m.OwnerID),
	).Scan(&balance); err != nil {
		return nil, err
	}

	if m.Reference != "" {
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM wallet_transactions WHERE owner_id = $1 AND reference = $2
			)`, string(m.OwnerID), m.Reference,
		).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateReference
		}
	}
	if m.Type == TxDebit && m.Amount > balance {
		return nil, ErrInsufficientFunds
	}

	balance += m.delta()
	if _, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = $2, updated_at = $3 WHERE owner_id = $1`,
		string(m.OwnerID), balance, m.At,
	); err != nil {
		return nil, err
	}

	row := Transaction{
		ID:           types.NewID(),
		OwnerID:      m.OwnerID,
		Type:         m.Type,
		Amount:       m.Amount,
		Delta:        m.delta(),
		Description:  m.Description,
		Reference:    m.Reference,
		BalanceAfter: balance,
		CreatedAt:    m.At,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, owner_id, type, amount, delta, description, reference, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		string(row.ID), string(row.OwnerID), string(row.Type), row.Amount, row.Delta,
		row.Description, row.Reference, row.BalanceAfter, row.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *PGStore) Transactions(ctx context.Context, owner types.ID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, type, amount, delta, description, COALESCE(reference, ''), balance_after, created_at
		FROM wallet_transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(owner), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.OwnerID, &typ, &t.Amount, &t.Delta, &t.Description, &t.Reference, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = TxType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

var _ Store = (*PGStore)(nil)
var _ Store = (*MemoryStore)(nil)
