package credits

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"content-autopilot/internal/adapters/memstore"
	"content-autopilot/internal/domain"
)

func newLedger(t *testing.T, subscription, topUp int64) (*Ledger, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	if _, err := store.SetSubscriptionBalance(ctx, 1, subscription); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if topUp > 0 {
		if _, err := store.AddCredits(ctx, 1, domain.CreditPoolTopUp, topUp, true); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	return NewLedger(store, zerolog.Nop()), store
}

func TestCheckAndReserveDrainsSubscriptionFirst(t *testing.T) {
	ledger, _ := newLedger(t, 3, 5)
	ctx := context.Background()

	res, err := ledger.CheckAndReserve(ctx, 1, 10, 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.Granted || res.Reservation.FromSubscription != 2 || res.Reservation.FromTopUp != 0 {
		t.Fatalf("ожидали списание из подписки, получили %+v", res)
	}

	res, err = ledger.CheckAndReserve(ctx, 1, 11, 4)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.Granted || res.Reservation.FromSubscription != 1 || res.Reservation.FromTopUp != 3 {
		t.Fatalf("ожидали 1 из подписки и 3 из пополнений, получили %+v", res.Reservation)
	}

	acc, err := ledger.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if acc.SubscriptionBalance != 0 || acc.TopUpBalance != 2 || acc.TotalConsumed != 6 {
		t.Fatalf("неожиданный счёт: %+v", acc)
	}
}

func TestCheckAndReserveDenialIsNotError(t *testing.T) {
	ledger, _ := newLedger(t, 1, 1)
	res, err := ledger.CheckAndReserve(context.Background(), 1, 10, 5)
	if err != nil {
		t.Fatalf("отказ не должен быть ошибкой: %v", err)
	}
	if res.Granted {
		t.Fatalf("ожидали отказ")
	}
	acc, _ := ledger.Balance(context.Background(), 1)
	if acc.SubscriptionBalance != 1 || acc.TopUpBalance != 1 {
		t.Fatalf("отказ не должен менять счёт: %+v", acc)
	}
}

func TestCheckAndReserveRejectsNonPositiveCost(t *testing.T) {
	ledger, _ := newLedger(t, 10, 0)
	if _, err := ledger.CheckAndReserve(context.Background(), 1, 10, 0); !errors.Is(err, domain.ErrInvalidCost) {
		t.Fatalf("ожидали ErrInvalidCost, получили %v", err)
	}
}

func TestUnlimitedBypassesBalances(t *testing.T) {
	ledger, _ := newLedger(t, 0, 0)
	ctx := context.Background()
	if _, err := ledger.SetUnlimited(ctx, 1, true); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := ledger.CheckAndReserve(ctx, 1, 10, 100)
	if err != nil || !res.Granted {
		t.Fatalf("безлимит должен разрешать: %+v %v", res, err)
	}
	acc, _ := ledger.Balance(ctx, 1)
	if acc.SubscriptionBalance != 0 || acc.TopUpBalance != 0 || acc.TotalConsumed != 0 {
		t.Fatalf("безлимит не должен трогать балансы: %+v", acc)
	}
}

func TestNoDoubleSpend(t *testing.T) {
	for round := 0; round < 50; round++ {
		ledger, _ := newLedger(t, 10, 0)
		var (
			wg      sync.WaitGroup
			granted atomic.Int32
		)
		start := make(chan struct{})
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(articleID int64) {
				defer wg.Done()
				<-start
				res, err := ledger.CheckAndReserve(context.Background(), 1, articleID, 8)
				if err != nil {
					t.Errorf("не ожидали ошибку: %v", err)
					return
				}
				if res.Granted {
					granted.Add(1)
				}
			}(int64(i))
		}
		close(start)
		wg.Wait()
		if granted.Load() != 1 {
			t.Fatalf("раунд %d: ожидали ровно одно успешное резервирование, получили %d", round, granted.Load())
		}
		acc, _ := ledger.Balance(context.Background(), 1)
		if acc.SubscriptionBalance != 2 {
			t.Fatalf("раунд %d: ожидали остаток 2, получили %+v", round, acc)
		}
	}
}

func TestRefundIsIdempotent(t *testing.T) {
	ledger, _ := newLedger(t, 3, 5)
	ctx := context.Background()
	res, err := ledger.CheckAndReserve(ctx, 1, 10, 6)
	if err != nil || !res.Granted {
		t.Fatalf("ожидали резервирование: %+v %v", res, err)
	}

	refunded, err := ledger.Refund(ctx, res.Reservation.ID)
	if err != nil || !refunded {
		t.Fatalf("ожидали возврат: %v %v", refunded, err)
	}
	refunded, err = ledger.Refund(ctx, res.Reservation.ID)
	if err != nil || refunded {
		t.Fatalf("повторный возврат должен быть пустым: %v %v", refunded, err)
	}

	acc, _ := ledger.Balance(ctx, 1)
	if acc.SubscriptionBalance != 3 || acc.TopUpBalance != 5 {
		t.Fatalf("возврат должен восстановить пулы: %+v", acc)
	}
}

func TestTopUpAndSubscription(t *testing.T) {
	ledger, _ := newLedger(t, 0, 0)
	ctx := context.Background()
	acc, err := ledger.TopUp(ctx, 1, 20)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if acc.TopUpBalance != 20 || acc.TotalPurchased != 20 {
		t.Fatalf("неожиданный счёт после пополнения: %+v", acc)
	}
	acc, err = ledger.GrantSubscription(ctx, 1, 50)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if acc.SubscriptionBalance != 50 || acc.TopUpBalance != 20 {
		t.Fatalf("неожиданный счёт после подписки: %+v", acc)
	}
	if _, err := ledger.TopUp(ctx, 1, -1); !errors.Is(err, domain.ErrInvalidCost) {
		t.Fatalf("ожидали ErrInvalidCost, получили %v", err)
	}
}
