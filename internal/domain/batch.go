package domain

import "time"

// ItemOutcome описывает результат обработки одной статьи в пакете.
type ItemOutcome string

const (
	OutcomeSucceeded     ItemOutcome = "succeeded"
	OutcomeFailed        ItemOutcome = "failed"
	OutcomeCreditBlocked ItemOutcome = "credit_blocked"
	OutcomeSkipped       ItemOutcome = "skipped"
)

// BatchItemResult описывает обработку одной статьи.
type BatchItemResult struct {
	ArticleID int64         `json:"article_id"`
	Outcome   ItemOutcome   `json:"outcome"`
	Status    ArticleStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// GenerationBatch описывает один проход оркестратора по автоматизации.
type GenerationBatch struct {
	ID            string            `json:"id"`
	AutomationID  int64             `json:"automation_id"`
	ProjectID     int64             `json:"project_id"`
	ArticleIDs    []int64           `json:"article_ids"`
	Due           bool              `json:"due"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Succeeded     int               `json:"succeeded"`
	Failed        int               `json:"failed"`
	CreditBlocked int               `json:"credit_blocked"`
	Skipped       int               `json:"skipped"`
	Items         []BatchItemResult `json:"items"`
}

// Record учитывает результат статьи в счётчиках пакета.
func (b *GenerationBatch) Record(res BatchItemResult) {
	switch res.Outcome {
	case OutcomeSucceeded:
		b.Succeeded++
	case OutcomeFailed:
		b.Failed++
	case OutcomeCreditBlocked:
		b.CreditBlocked++
	default:
		b.Skipped++
	}
	b.Items = append(b.Items, res)
}
