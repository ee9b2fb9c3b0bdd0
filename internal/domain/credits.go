package domain

import "time"

// CreditAccount представляет снимок кредитного счёта проекта.
// Балансы меняются только через CreditStore, вызываемый из credits.Ledger.
type CreditAccount struct {
	ProjectID           int64     `json:"project_id"`
	SubscriptionBalance int64     `json:"subscription_balance"`
	TopUpBalance        int64     `json:"top_up_balance"`
	Unlimited           bool      `json:"unlimited"`
	TotalConsumed       int64     `json:"total_consumed"`
	TotalPurchased      int64     `json:"total_purchased"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Available возвращает суммарный доступный баланс.
func (a CreditAccount) Available() int64 {
	return a.SubscriptionBalance + a.TopUpBalance
}

// CreditSplit описывает, из каких пулов списывается стоимость.
type CreditSplit struct {
	FromSubscription int64
	FromTopUp        int64
	Unlimited        bool
}

// Split рассчитывает списание: сначала подписка, затем пополнения.
// Второе значение false означает отказ без изменений счёта.
func (a CreditAccount) Split(cost int64) (CreditSplit, bool) {
	if a.Unlimited {
		return CreditSplit{Unlimited: true}, true
	}
	if cost <= 0 {
		return CreditSplit{}, false
	}
	if a.SubscriptionBalance >= cost {
		return CreditSplit{FromSubscription: cost}, true
	}
	if a.Available() >= cost {
		sub := max(a.SubscriptionBalance, 0)
		return CreditSplit{FromSubscription: sub, FromTopUp: cost - sub}, true
	}
	return CreditSplit{}, false
}

// Apply списывает рассчитанную сумму со счёта.
func (a CreditAccount) Apply(split CreditSplit) CreditAccount {
	if split.Unlimited {
		return a
	}
	a.SubscriptionBalance -= split.FromSubscription
	a.TopUpBalance -= split.FromTopUp
	a.TotalConsumed += split.FromSubscription + split.FromTopUp
	return a
}

// Restore возвращает списанное по резервации в исходные пулы.
func (a CreditAccount) Restore(r Reservation) CreditAccount {
	if r.Unlimited {
		return a
	}
	a.SubscriptionBalance += r.FromSubscription
	a.TopUpBalance += r.FromTopUp
	a.TotalConsumed -= r.FromSubscription + r.FromTopUp
	if a.TotalConsumed < 0 {
		a.TotalConsumed = 0
	}
	return a
}

// Reservation фиксирует одно резервирование кредитов.
type Reservation struct {
	ID               string     `json:"id"`
	ProjectID        int64      `json:"project_id"`
	ArticleID        int64      `json:"article_id"`
	Cost             int64      `json:"cost"`
	FromSubscription int64      `json:"from_subscription"`
	FromTopUp        int64      `json:"from_top_up"`
	Unlimited        bool       `json:"unlimited"`
	CreatedAt        time.Time  `json:"created_at"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
}

// CreditPool называет пул баланса.
type CreditPool string

const (
	CreditPoolSubscription CreditPool = "subscription"
	CreditPoolTopUp        CreditPool = "top_up"
)
