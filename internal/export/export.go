// Package export writes campaign outcomes as CSV or a JSON log and can
// upload the file to S3.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

var csvHeader = []string{
	"campaign_id", "recipient_id", "email", "status", "reason",
	"attempts", "provider", "message_id", "recorded_at",
}

// WriteCSV writes one row per outcome with a header row.
func WriteCSV(w io.Writer, outcomes []domain.DeliveryOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := cw.Write([]string{
			o.CampaignID,
			o.RecipientID,
			o.Email,
			string(o.Status),
			o.Reason,
			strconv.Itoa(o.Attempts),
			string(o.Provider),
			o.MessageID,
			o.RecordedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Log is the JSON export document.
type Log struct {
	CampaignID string                   `json:"campaign_id"`
	ExportedAt time.Time                `json:"exported_at"`
	Summary    domain.CampaignSummary   `json:"summary"`
	Outcomes   []domain.DeliveryOutcome `json:"outcomes"`
}

// NewLog summarizes outcomes. Counts use the latest outcome per recipient.
func NewLog(campaignID string, outcomes []domain.DeliveryOutcome, now time.Time) Log {
	latest := make(map[string]domain.DeliveryOutcome, len(outcomes))
	sum := domain.CampaignSummary{CampaignID: campaignID}
	for _, o := range outcomes {
		latest[o.RecipientID] = o
		if o.RecordedAt.After(sum.LastSeen) {
			sum.LastSeen = o.RecordedAt
		}
	}
	for _, o := range latest {
		switch o.Status {
		case domain.OutcomeSent:
			sum.Sent++
		case domain.OutcomeFailed:
			sum.Failed++
		case domain.OutcomeSkipped:
			sum.Skipped++
		}
	}
	if outcomes == nil {
		outcomes = []domain.DeliveryOutcome{}
	}
	return Log{CampaignID: campaignID, ExportedAt: now.UTC(), Summary: sum, Outcomes: outcomes}
}

// WriteJSON writes the indented JSON log.
func WriteJSON(w io.Writer, l Log) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}

// Write encodes outcomes in format f.
func Write(w io.Writer, f Format, campaignID string, outcomes []domain.DeliveryOutcome, now time.Time) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, outcomes)
	case FormatJSON:
		return WriteJSON(w, NewLog(campaignID, outcomes, now))
	}
	return fmt.Errorf("unknown export format %q", f)
}
