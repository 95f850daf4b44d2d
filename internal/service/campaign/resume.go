package campaign

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// FilterUnsent drops recipients that already have a sent outcome
// recorded for the campaign. Running the returned list again under the same
// campaign id resumes an interrupted run without duplicate deliveries.
// Rows without an id column value or address are always kept.
func (r *Runner) FilterUnsent(ctx context.Context, campaignID string, recipients []domain.Recipient) ([]domain.Recipient, error) {
	if campaignID == "" {
		return nil, &ValidationError{Field: "campaign_id", Err: fmt.Errorf("required for resume")}
	}
	sent, err := r.store.SentRecipients(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load sent recipients: %w", err)
	}
	if len(sent) == 0 {
		return recipients, nil
	}

	out := make([]domain.Recipient, 0, len(recipients))
	for _, rcpt := range recipients {
		if id, ok := stableID(rcpt, r.idColumn, r.emailColumn); ok && sent[id] {
			continue
		}
		out = append(out, rcpt)
	}
	return out, nil
}
