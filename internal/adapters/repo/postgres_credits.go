package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const accountColumns = `project_id, subscription_balance, top_up_balance, unlimited, total_consumed, total_purchased, updated_at`

func scanAccount(row rowScanner) (domain.CreditAccount, error) {
	var acc domain.CreditAccount
	err := row.Scan(&acc.ProjectID, &acc.SubscriptionBalance, &acc.TopUpBalance, &acc.Unlimited, &acc.TotalConsumed, &acc.TotalPurchased, &acc.UpdatedAt)
	return acc, err
}

// GetCreditAccount возвращает счёт проекта; отсутствующий счёт считается пустым.
func (p *Postgres) GetCreditAccount(ctx context.Context, projectID int64) (domain.CreditAccount, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	acc, err := scanAccount(p.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE project_id = $1`, projectID))
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_get", "credit_accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CreditAccount{ProjectID: projectID}, nil
	}
	return acc, err
}

// lockAccount создаёт счёт при необходимости и блокирует строку до конца транзакции.
func lockAccount(ctx context.Context, tx pgx.Tx, projectID int64) (domain.CreditAccount, error) {
	start := time.Now()
	_, err := tx.Exec(ctx, `INSERT INTO credit_accounts (project_id) VALUES ($1) ON CONFLICT (project_id) DO NOTHING`, projectID)
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_ensure", "credit_accounts", start, err)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	start = time.Now()
	acc, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE project_id = $1 FOR UPDATE`, projectID))
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_lock", "credit_accounts", start, err)
	return acc, err
}

func saveAccount(ctx context.Context, tx pgx.Tx, acc domain.CreditAccount) (domain.CreditAccount, error) {
	start := time.Now()
	updated, err := scanAccount(tx.QueryRow(ctx, `
UPDATE credit_accounts
SET subscription_balance = $2, top_up_balance = $3, unlimited = $4, total_consumed = $5, total_purchased = $6, updated_at = now()
WHERE project_id = $1
RETURNING `+accountColumns,
		acc.ProjectID, acc.SubscriptionBalance, acc.TopUpBalance, acc.Unlimited, acc.TotalConsumed, acc.TotalPurchased))
	metrics.ObserveNetworkRequest("postgres", "credit_accounts_update", "credit_accounts", start, err)
	return updated, err
}

// withAccount выполняет изменение счёта под блокировкой строки.
func (p *Postgres) withAccount(ctx context.Context, projectID int64, fn func(acc domain.CreditAccount) domain.CreditAccount) (domain.CreditAccount, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "credit_accounts", start, err)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := lockAccount(ctx, tx, projectID)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	acc, err = saveAccount(ctx, tx, fn(acc))
	if err != nil {
		return domain.CreditAccount{}, err
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "credit_accounts", start, err)
	return acc, err
}

// ReserveCredits атомарно проверяет баланс и списывает стоимость.
func (p *Postgres) ReserveCredits(ctx context.Context, req domain.ReservationRequest) (domain.Reservation, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "credit_reservations", start, err)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := lockAccount(ctx, tx, req.ProjectID)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	split, ok := acc.Split(req.Cost)
	if !ok {
		return domain.Reservation{}, false, nil
	}
	if !split.Unlimited {
		if _, err := saveAccount(ctx, tx, acc.Apply(split)); err != nil {
			return domain.Reservation{}, false, err
		}
	}

	res := domain.Reservation{
		ID:               req.ID,
		ProjectID:        req.ProjectID,
		ArticleID:        req.ArticleID,
		Cost:             req.Cost,
		FromSubscription: split.FromSubscription,
		FromTopUp:        split.FromTopUp,
		Unlimited:        split.Unlimited,
		CreatedAt:        req.At,
	}
	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO credit_reservations (id, project_id, article_id, cost, from_subscription, from_top_up, unlimited, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, res.ID, res.ProjectID, res.ArticleID, res.Cost, res.FromSubscription, res.FromTopUp, res.Unlimited, res.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "credit_reservations_insert", "credit_reservations", start, err)
	if err != nil {
		return domain.Reservation{}, false, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "credit_reservations", start, err)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	return res, true, nil
}

// RefundReservation возвращает кредиты один раз; повторный вызов возвращает false.
func (p *Postgres) RefundReservation(ctx context.Context, reservationID string, at time.Time) (domain.Reservation, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "credit_reservations", start, err)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var res domain.Reservation
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT id, project_id, article_id, cost, from_subscription, from_top_up, unlimited, created_at, refunded_at
FROM credit_reservations WHERE id = $1 FOR UPDATE
`, reservationID).Scan(&res.ID, &res.ProjectID, &res.ArticleID, &res.Cost, &res.FromSubscription, &res.FromTopUp, &res.Unlimited, &res.CreatedAt, &res.RefundedAt)
	metrics.ObserveNetworkRequest("postgres", "credit_reservations_lock", "credit_reservations", start, err)
	if err != nil {
		return domain.Reservation{}, false, notFound(err)
	}
	if res.RefundedAt != nil {
		return res, false, nil
	}

	acc, err := lockAccount(ctx, tx, res.ProjectID)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	if _, err := saveAccount(ctx, tx, acc.Restore(res)); err != nil {
		return domain.Reservation{}, false, err
	}
	start = time.Now()
	_, err = tx.Exec(ctx, `UPDATE credit_reservations SET refunded_at = $2 WHERE id = $1 AND refunded_at IS NULL`, reservationID, at)
	metrics.ObserveNetworkRequest("postgres", "credit_reservations_refund", "credit_reservations", start, err)
	if err != nil {
		return domain.Reservation{}, false, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "credit_reservations", start, err)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	res.RefundedAt = &at
	return res, true, nil
}

// AddCredits пополняет выбранный пул.
func (p *Postgres) AddCredits(ctx context.Context, projectID int64, pool domain.CreditPool, amount int64, purchased bool) (domain.CreditAccount, error) {
	if pool != domain.CreditPoolSubscription && pool != domain.CreditPoolTopUp {
		return domain.CreditAccount{}, fmt.Errorf("неизвестный пул кредитов %q", pool)
	}
	return p.withAccount(ctx, projectID, func(acc domain.CreditAccount) domain.CreditAccount {
		if pool == domain.CreditPoolSubscription {
			acc.SubscriptionBalance += amount
		} else {
			acc.TopUpBalance += amount
		}
		if purchased {
			acc.TotalPurchased += amount
		}
		return acc
	})
}

// SetSubscriptionBalance заменяет баланс подписки при новом периоде.
func (p *Postgres) SetSubscriptionBalance(ctx context.Context, projectID int64, amount int64) (domain.CreditAccount, error) {
	return p.withAccount(ctx, projectID, func(acc domain.CreditAccount) domain.CreditAccount {
		acc.SubscriptionBalance = amount
		return acc
	})
}

// SetUnlimited включает или выключает безлимитный режим.
func (p *Postgres) SetUnlimited(ctx context.Context, projectID int64, unlimited bool) (domain.CreditAccount, error) {
	return p.withAccount(ctx, projectID, func(acc domain.CreditAccount) domain.CreditAccount {
		acc.Unlimited = unlimited
		return acc
	})
}
