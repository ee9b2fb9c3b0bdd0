package domain

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ArticleStatus
		to   ArticleStatus
		want bool
	}{
		{name: "planned to generating", from: StatusPlanned, to: StatusGenerating, want: true},
		{name: "generating to generated", from: StatusGenerating, to: StatusGenerated, want: true},
		{name: "generating to failed", from: StatusGenerating, to: StatusFailed, want: true},
		{name: "generated to published", from: StatusGenerated, to: StatusPublished, want: true},
		{name: "generated to failed on publish", from: StatusGenerated, to: StatusFailed, want: true},
		{name: "published to failed on republish", from: StatusPublished, to: StatusFailed, want: true},
		{name: "failed to generating retry", from: StatusFailed, to: StatusGenerating, want: true},
		{name: "generated back to generating", from: StatusGenerated, to: StatusGenerating, want: false},
		{name: "generating cannot be archived", from: StatusGenerating, to: StatusArchived, want: false},
		{name: "generating cannot return to planned", from: StatusGenerating, to: StatusPlanned, want: false},
		{name: "archived is terminal", from: StatusArchived, to: StatusPlanned, want: false},
		{name: "idea needs planning first", from: StatusIdea, to: StatusGenerating, want: false},
		{name: "planned archived", from: StatusPlanned, to: StatusArchived, want: true},
		{name: "idea approved", from: StatusIdea, to: StatusPlanned, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestGeneratingAlwaysEndsInGeneratedOrFailed(t *testing.T) {
	for _, next := range transitions[StatusGenerating] {
		if next != StatusGenerated && next != StatusFailed {
			t.Fatalf("из generating допустим только generated или failed, найден %s", next)
		}
	}
}

func TestValidateTransitionWrapsSentinel(t *testing.T) {
	err := ValidateTransition(StatusGenerated, StatusGenerating)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("ожидали ErrIllegalTransition, получили %v", err)
	}
}

func TestParseArticleStatus(t *testing.T) {
	status, err := ParseArticleStatus("  Failed ")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status != StatusFailed {
		t.Fatalf("ожидали failed, получили %s", status)
	}
	if _, err := ParseArticleStatus("done"); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного статуса")
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !StatusPublished.IsTerminal() || !StatusArchived.IsTerminal() {
		t.Fatalf("published и archived должны быть терминальными")
	}
	if StatusFailed.IsTerminal() {
		t.Fatalf("failed допускает повтор и не терминален")
	}
}

func TestCreditSplit(t *testing.T) {
	tests := []struct {
		name    string
		account CreditAccount
		cost    int64
		want    CreditSplit
		granted bool
	}{
		{name: "subscription covers", account: CreditAccount{SubscriptionBalance: 10, TopUpBalance: 5}, cost: 4, want: CreditSplit{FromSubscription: 4}, granted: true},
		{name: "subscription drained first", account: CreditAccount{SubscriptionBalance: 3, TopUpBalance: 5}, cost: 6, want: CreditSplit{FromSubscription: 3, FromTopUp: 3}, granted: true},
		{name: "not enough", account: CreditAccount{SubscriptionBalance: 3, TopUpBalance: 2}, cost: 6, granted: false},
		{name: "unlimited bypass", account: CreditAccount{Unlimited: true}, cost: 100, want: CreditSplit{Unlimited: true}, granted: true},
		{name: "zero cost denied", account: CreditAccount{SubscriptionBalance: 3}, cost: 0, granted: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.account.Split(tt.cost)
			if ok != tt.granted {
				t.Fatalf("granted = %v, want %v", ok, tt.granted)
			}
			if got != tt.want {
				t.Fatalf("split = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCreditApplyRestoreRoundTrip(t *testing.T) {
	acc := CreditAccount{SubscriptionBalance: 3, TopUpBalance: 5}
	split, ok := acc.Split(6)
	if !ok {
		t.Fatalf("ожидали успешное списание")
	}
	after := acc.Apply(split)
	if after.SubscriptionBalance != 0 || after.TopUpBalance != 2 || after.TotalConsumed != 6 {
		t.Fatalf("неожиданный баланс после списания: %+v", after)
	}
	restored := after.Restore(Reservation{FromSubscription: split.FromSubscription, FromTopUp: split.FromTopUp})
	if restored.SubscriptionBalance != 3 || restored.TopUpBalance != 5 || restored.TotalConsumed != 0 {
		t.Fatalf("возврат не восстановил пулы: %+v", restored)
	}
}
