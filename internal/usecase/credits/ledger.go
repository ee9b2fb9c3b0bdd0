package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

// ReserveResult описывает результат проверки и резервирования кредитов.
type ReserveResult struct {
	Granted     bool
	Reservation domain.Reservation
}

// Ledger единственный изменяет кредитные балансы.
type Ledger struct {
	store  domain.CreditStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewLedger создаёт кредитный журнал.
func NewLedger(store domain.CreditStore, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With().Str("component", "credits").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckAndReserve атомарно проверяет баланс и списывает стоимость.
// Отказ возвращается как Granted=false без ошибки.
func (l *Ledger) CheckAndReserve(ctx context.Context, projectID, articleID, cost int64) (ReserveResult, error) {
	if cost <= 0 {
		return ReserveResult{}, fmt.Errorf("%w: %d", domain.ErrInvalidCost, cost)
	}
	req := domain.ReservationRequest{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ArticleID: articleID,
		Cost:      cost,
		At:        l.now(),
	}
	reservation, granted, err := l.store.ReserveCredits(ctx, req)
	if err != nil {
		metrics.ObserveReservation("error")
		return ReserveResult{}, fmt.Errorf("резервирование кредитов: %w", err)
	}
	if !granted {
		metrics.ObserveReservation("denied")
		l.logger.Debug().Int64("project_id", projectID).Int64("article_id", articleID).Int64("cost", cost).Msg("credits: недостаточно кредитов")
		return ReserveResult{}, nil
	}
	if reservation.Unlimited {
		metrics.ObserveReservation("unlimited")
	} else {
		metrics.ObserveReservation("granted")
	}
	return ReserveResult{Granted: true, Reservation: reservation}, nil
}

// Refund возвращает резервирование в исходные пулы. Повторный возврат ничего не меняет.
func (l *Ledger) Refund(ctx context.Context, reservationID string) (bool, error) {
	if reservationID == "" {
		return false, nil
	}
	reservation, refunded, err := l.store.RefundReservation(ctx, reservationID, l.now())
	if err != nil {
		return false, fmt.Errorf("возврат кредитов: %w", err)
	}
	if refunded {
		metrics.CreditRefundsTotal.Inc()
		l.logger.Info().Str("reservation_id", reservationID).Int64("project_id", reservation.ProjectID).Int64("cost", reservation.Cost).Msg("credits: кредиты возвращены")
	}
	return refunded, nil
}

// Balance возвращает текущий счёт проекта.
func (l *Ledger) Balance(ctx context.Context, projectID int64) (domain.CreditAccount, error) {
	account, err := l.store.GetCreditAccount(ctx, projectID)
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("получение счёта: %w", err)
	}
	return account, nil
}

// TopUp зачисляет купленные кредиты в пул пополнений.
func (l *Ledger) TopUp(ctx context.Context, projectID, amount int64) (domain.CreditAccount, error) {
	if amount <= 0 {
		return domain.CreditAccount{}, fmt.Errorf("%w: %d", domain.ErrInvalidCost, amount)
	}
	account, err := l.store.AddCredits(ctx, projectID, domain.CreditPoolTopUp, amount, true)
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("пополнение счёта: %w", err)
	}
	l.logger.Info().Int64("project_id", projectID).Int64("amount", amount).Msg("credits: счёт пополнен")
	return account, nil
}

// GrantSubscription устанавливает баланс подписки на новый расчётный период.
func (l *Ledger) GrantSubscription(ctx context.Context, projectID, amount int64) (domain.CreditAccount, error) {
	if amount < 0 {
		return domain.CreditAccount{}, fmt.Errorf("%w: %d", domain.ErrInvalidCost, amount)
	}
	account, err := l.store.SetSubscriptionBalance(ctx, projectID, amount)
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("начисление подписки: %w", err)
	}
	return account, nil
}

// SetUnlimited включает или выключает безлимитный тариф.
func (l *Ledger) SetUnlimited(ctx context.Context, projectID int64, unlimited bool) (domain.CreditAccount, error) {
	account, err := l.store.SetUnlimited(ctx, projectID, unlimited)
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("смена тарифа: %w", err)
	}
	return account, nil
}
