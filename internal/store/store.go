package store

import (
	"context"
	"errors"

	"github.com/ignite/campaign-mailer/internal/domain"
)

var (
	// ErrPersistence wraps every failure to durably record an outcome.
	ErrPersistence = errors.New("store: persistence failed")
	// ErrInvalidOutcome is returned for outcomes missing required fields.
	ErrInvalidOutcome = errors.New("store: invalid outcome")
	// ErrNotFound is returned when a campaign has no recorded outcomes.
	ErrNotFound = errors.New("store: campaign not found")
)

// Store persists delivery outcomes.
type Store interface {
	// Record appends o. It returns only after the write is durable.
	Record(ctx context.Context, o domain.DeliveryOutcome) error
	// QueryByCampaign returns every outcome of the campaign in record order.
	QueryByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryOutcome, error)
	// LatestByCampaign returns the most recent outcome per recipient.
	LatestByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryOutcome, error)
	// SentRecipients returns the recipient ids with at least one sent outcome.
	SentRecipients(ctx context.Context, campaignID string) (map[string]bool, error)
	// Summary counts the latest outcome per recipient by status.
	Summary(ctx context.Context, campaignID string) (*domain.CampaignSummary, error)
	// Campaigns summarizes every campaign, most recently active first.
	Campaigns(ctx context.Context) ([]domain.CampaignSummary, error)
	Close() error
}
