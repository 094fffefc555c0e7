// README: Wallet aggregate and append-only ledger rows.
package wallet

import (
	"time"

	"dispatch/internal/types"
)

type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

type Wallet struct {
	OwnerID   types.ID  `json:"ownerId"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Transaction struct {
	ID           types.ID  `json:"id"`
	OwnerID      types.ID  `json:"ownerId"`
	Type         TxType    `json:"type"`
	Amount       int64     `json:"amount"`
	Delta        int64     `json:"delta"`
	Description  string    `json:"description"`
	Reference    string    `json:"reference,omitempty"`
	BalanceAfter int64     `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Mutation is one credit or debit request. Reference, when set, makes it idempotent per owner.
type Mutation struct {
	OwnerID     types.ID
	Type        TxType
	Amount      int64
	Description string
	Reference   string
	Currency    string
	At          time.Time
}

func (m Mutation) delta() int64 {
	if m.Type == TxDebit {
		return -m.Amount
	}
	return m.Amount
}
