// README: Presence sessions for connected passengers and workers.
package presence

import (
	"context"
	"errors"

	"dispatch/internal/modules/worker"
	"dispatch/internal/types"
)

var (
	ErrBelowMinimumBalance = errors.New("wallet balance below minimum operating balance")
	ErrBadRequest          = errors.New("bad request")
)

type Role string

const (
	RolePassenger Role = "passenger"
	RoleWorker    Role = "driver"
)

func (r Role) Valid() bool {
	return r == RolePassenger || r == RoleWorker
}

// Conn is a live, bidirectional connection. Send must be safe for concurrent use.
type Conn interface {
	Send(event string, payload any) error
}

// Notifier pushes an event to a user without a live connection.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, event string, payload any) error
}

// LocationPurger drops the cached position of a worker.
type LocationPurger interface {
	Remove(ctx context.Context, workerID types.ID)
}

// BalanceReader reports a wallet balance.
type BalanceReader interface {
	Balance(ctx context.Context, owner types.ID) (types.Money, error)
}

type Session struct {
	UserID     types.ID
	Role       Role
	Online     bool
	Conn       Conn
	Profile    worker.Profile
	ActiveRide types.ID
}
