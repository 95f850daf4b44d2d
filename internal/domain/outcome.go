package domain

import "time"

// OutcomeStatus is the terminal state of one recipient in one run.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// ReasonCancelled is recorded for recipients whose processing was cut
// short by cancellation.
const ReasonCancelled = "cancelled"

// DeliveryOutcome is the recorded result of attempting delivery to one
// recipient. It is created exactly once per recipient per run and never
// mutated afterwards.
type DeliveryOutcome struct {
	ID          string        `json:"id" db:"id"`
	CampaignID  string        `json:"campaign_id" db:"campaign_id"`
	RecipientID string        `json:"recipient_id" db:"recipient_id"`
	Email       string        `json:"email" db:"email"`
	Status      OutcomeStatus `json:"status" db:"status"`
	Reason      string        `json:"reason,omitempty" db:"reason"`
	Attempts    int           `json:"attempts" db:"attempts"`
	Provider    ProviderType  `json:"provider" db:"provider"`
	MessageID   string        `json:"message_id,omitempty" db:"message_id"`
	RecordedAt  time.Time     `json:"recorded_at" db:"recorded_at"`
}

// CampaignResult aggregates the outcomes of one run, in input order.
type CampaignResult struct {
	CampaignID string            `json:"campaign_id"`
	Provider   ProviderType      `json:"provider"`
	Sent       int               `json:"sent"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Outcomes   []DeliveryOutcome `json:"outcomes"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Add counts o and appends it to the outcome list.
func (r *CampaignResult) Add(o DeliveryOutcome) {
	switch o.Status {
	case OutcomeSent:
		r.Sent++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Total returns the number of recipients with an outcome.
func (r *CampaignResult) Total() int { return r.Sent + r.Failed + r.Skipped }

// SuccessRate returns the sent share of all outcomes as a percentage.
func (r *CampaignResult) SuccessRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Sent) / float64(r.Total()) * 100
}

// CampaignSummary holds per-status counts for a stored campaign.
type CampaignSummary struct {
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	Sent       int       `json:"sent" db:"sent"`
	Failed     int       `json:"failed" db:"failed"`
	Skipped    int       `json:"skipped" db:"skipped"`
	LastSeen   time.Time `json:"last_seen" db:"last_seen"`
}
