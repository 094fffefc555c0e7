// README: Wallet service exposes credit/debit as the only balance mutators.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"dispatch/internal/observability"
	"dispatch/internal/types"
)

var (
	ErrNotFound           = errors.New("wallet not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrDuplicateReference = errors.New("transaction reference already applied")
	ErrBadRequest         = errors.New("bad request")
)

type Service struct {
	store    Store
	currency string
	log      logrus.FieldLogger
}

func NewService(store Store, currency string, log logrus.FieldLogger) *Service {
	return &Service{store: store, currency: currency, log: log}
}

func (s *Service) Credit(ctx context.Context, owner types.ID, amount int64, description, reference string) (*Transaction, error) {
	return s.apply(ctx, Mutation{OwnerID: owner, Type: TxCredit, Amount: amount, Description: description, Reference: reference})
}

func (s *Service) Debit(ctx context.Context, owner types.ID, amount int64, description, reference string) (*Transaction, error) {
	return s.apply(ctx, Mutation{OwnerID: owner, Type: TxDebit, Amount: amount, Description: description, Reference: reference})
}

// Balance never creates a wallet; an unknown owner has a zero balance.
func (s *Service) Balance(ctx context.Context, owner types.ID) (types.Money, error) {
	w, err := s.store.Get(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		return types.Money{Amount: 0, Currency: s.currency}, nil
	}
	if err != nil {
		return types.Money{}, err
	}
	cur := w.Currency
	if cur == "" {
		cur = s.currency
	}
	return types.Money{Amount: w.Balance, Currency: cur}, nil
}

func (s *Service) Transactions(ctx context.Context, owner types.ID, limit int) ([]Transaction, error) {
	if owner == "" {
		return nil, ErrBadRequest
	}
	return s.store.Transactions(ctx, owner, limit)
}

func (s *Service) apply(ctx context.Context, m Mutation) (*Transaction, error) {
	if m.OwnerID == "" {
		return nil, ErrBadRequest
	}
	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.Currency = s.currency
	m.At = nowUTC()

	tx, err := s.store.Apply(ctx, m)
	if err != nil {
		observability.WalletOps.WithLabelValues(string(m.Type), resultLabel(err)).Inc()
		s.log.WithFields(logrus.Fields{
			"owner_id":  m.OwnerID,
			"type":      m.Type,
			"amount":    m.Amount,
			"reference": m.Reference,
		}).WithError(err).Warn("wallet mutation rejected")
		return nil, err
	}
	observability.WalletOps.WithLabelValues(string(m.Type), "ok").Inc()
	s.log.WithFields(logrus.Fields{
		"owner_id":      m.OwnerID,
		"type":          m.Type,
		"amount":        m.Amount,
		"balance_after": tx.BalanceAfter,
	}).Info("wallet mutated")
	return tx, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate"
	default:
		return "error"
	}
}

func nowUTC() time.Time { return time.Now().UTC() }
