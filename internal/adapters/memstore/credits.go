package memstore

import (
	"context"
	"time"

	"content-autopilot/internal/domain"
)

// GetCreditAccount возвращает счёт проекта; отсутствующий счёт пуст.
func (s *Store) GetCreditAccount(_ context.Context, projectID int64) (domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account(projectID), nil
}

// ReserveCredits проверяет и списывает стоимость под общей блокировкой.
func (s *Store) ReserveCredits(_ context.Context, req domain.ReservationRequest) (domain.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(req.ProjectID)
	split, ok := acc.Split(req.Cost)
	if !ok {
		return domain.Reservation{}, false, nil
	}
	acc = acc.Apply(split)
	acc.UpdatedAt = req.At
	s.accounts[req.ProjectID] = acc

	r := domain.Reservation{
		ID:               req.ID,
		ProjectID:        req.ProjectID,
		ArticleID:        req.ArticleID,
		Cost:             req.Cost,
		FromSubscription: split.FromSubscription,
		FromTopUp:        split.FromTopUp,
		Unlimited:        split.Unlimited,
		CreatedAt:        req.At,
	}
	s.reservations[r.ID] = r
	return r, true, nil
}

// RefundReservation возвращает резервирование один раз.
func (s *Store) RefundReservation(_ context.Context, reservationID string, at time.Time) (domain.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, false, domain.ErrNotFound
	}
	if r.RefundedAt != nil {
		return r, false, nil
	}
	acc := s.account(r.ProjectID).Restore(r)
	acc.UpdatedAt = at
	s.accounts[r.ProjectID] = acc
	r.RefundedAt = &at
	s.reservations[r.ID] = r
	return r, true, nil
}

// AddCredits зачисляет кредиты в указанный пул.
func (s *Store) AddCredits(_ context.Context, projectID int64, pool domain.CreditPool, amount int64, purchased bool) (domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(projectID)
	switch pool {
	case domain.CreditPoolSubscription:
		acc.SubscriptionBalance += amount
	default:
		acc.TopUpBalance += amount
	}
	if purchased {
		acc.TotalPurchased += amount
	}
	acc.UpdatedAt = s.now()
	s.accounts[projectID] = acc
	return acc, nil
}

// SetSubscriptionBalance заменяет баланс подписки.
func (s *Store) SetSubscriptionBalance(_ context.Context, projectID int64, amount int64) (domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(projectID)
	acc.SubscriptionBalance = amount
	acc.UpdatedAt = s.now()
	s.accounts[projectID] = acc
	return acc, nil
}

// SetUnlimited меняет признак безлимитного тарифа.
func (s *Store) SetUnlimited(_ context.Context, projectID int64, unlimited bool) (domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(projectID)
	acc.Unlimited = unlimited
	acc.UpdatedAt = s.now()
	s.accounts[projectID] = acc
	return acc, nil
}

// Reservations возвращает резервирования проекта.
func (s *Store) Reservations(projectID int64) []domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) account(projectID int64) domain.CreditAccount {
	acc, ok := s.accounts[projectID]
	if !ok {
		acc = domain.CreditAccount{ProjectID: projectID}
	}
	return acc
}
