// README: Wallet ledger tests (consistency, insufficient funds, idempotency, concurrency).
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"dispatch/internal/logging"
	"dispatch/internal/types"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), "XOF", logging.Discard())
}

func TestBalanceOfUnknownOwnerIsZeroAndNotCreated(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, "XOF", logging.Discard())
	ctx := context.Background()

	bal, err := svc.Balance(ctx, "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Amount != 0 || bal.Currency != "XOF" {
		t.Fatalf("unexpected balance %+v", bal)
	}
	if _, err := store.Get(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected reading to leave no wallet, got %v", err)
	}
}

func TestLedgerMatchesBalance(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	owner := types.ID("w1")

	ops := []struct {
		credit bool
		amount int64
	}{
		{true, 5000}, {false, 1200}, {true, 300}, {false, 4100},
	}
	for i, op := range ops {
		var err error
		if op.credit {
			_, err = svc.Credit(ctx, owner, op.amount, "topup", "")
		} else {
			_, err = svc.Debit(ctx, owner, op.amount, "commission", "")
		}
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	bal, _ := svc.Balance(ctx, owner)
	txs, err := svc.Transactions(ctx, owner, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != len(ops) {
		t.Fatalf("expected %d rows, got %d", len(ops), len(txs))
	}
	var sum int64
	for _, tx := range txs {
		sum += tx.Delta
	}
	if sum != bal.Amount || bal.Amount != 0 {
		t.Fatalf("sum of deltas %d, balance %d", sum, bal.Amount)
	}
	if txs[0].BalanceAfter != bal.Amount {
		t.Fatalf("newest row balance_after %d, want %d", txs[0].BalanceAfter, bal.Amount)
	}
}

func TestDebitInsufficientFundsAppliesNothing(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "w1", 100, "topup", ""); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Debit(ctx, "w1", 300, "commission", ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	bal, _ := svc.Balance(ctx, "w1")
	if bal.Amount != 100 {
		t.Fatalf("balance changed to %d", bal.Amount)
	}
	txs, _ := svc.Transactions(ctx, "w1", 0)
	if len(txs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(txs))
	}
}

func TestRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService()
	for _, amount := range []int64{0, -5} {
		if _, err := svc.Credit(context.Background(), "w1", amount, "x", ""); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestDuplicateReferenceIsNotApplied(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "w1", 2125, "ride earnings", "ride-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Credit(ctx, "w1", 2125, "ride earnings", "ride-1"); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
	bal, _ := svc.Balance(ctx, "w1")
	if bal.Amount != 2125 {
		t.Fatalf("expected single credit, balance %d", bal.Amount)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "w1", 1000, "topup", ""); err != nil {
		t.Fatalf("credit: %v", err)
	}

	const attempts = 25
	start := make(chan struct{})
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Debit(ctx, "w1", 100, "commission", "")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 10 {
		t.Fatalf("expected 10 successful debits, got %d", success)
	}
	bal, _ := svc.Balance(ctx, "w1")
	if bal.Amount != 0 {
		t.Fatalf("expected zero balance, got %d", bal.Amount)
	}
}

func TestConcurrentSameReferenceCreditsOnce(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, "w1", 500, "ride earnings", "ride-42")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one credit, got %d", success)
	}
}

func TestTransactionsLimitNewestFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if _, err := svc.Credit(ctx, "w1", int64(i*100), fmt.Sprintf("c%d", i), ""); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	txs, err := svc.Transactions(ctx, "w1", 2)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 || txs[0].Amount != 500 || txs[1].Amount != 400 {
		t.Fatalf("unexpected rows %+v", txs)
	}
}
