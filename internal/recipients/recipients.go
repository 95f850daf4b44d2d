// Package recipients loads campaign recipient rows from CSV.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// SelectedColumn marks rows chosen for a campaign.
const SelectedColumn = "email_campaign_selected"

// ErrNoHeader is returned for an empty input.
var ErrNoHeader = errors.New("recipients: csv has no header row")

// placeholders are values the research pipeline writes when no address
// was found.
var placeholders = map[string]bool{
	"not found":         true,
	"research required": true,
	"api billing error": true,
}

// Load reads a CSV file with a header row.
func Load(path string) ([]domain.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// Read parses CSV from r. Header names are trimmed; a UTF-8 BOM is
// dropped. Short rows leave the missing columns absent.
func Read(r io.Reader) ([]domain.Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var out []domain.Recipient
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if blank(rec) {
			continue
		}
		row := make(domain.Recipient, len(header))
		for i, name := range header {
			if i < len(rec) && name != "" {
				row[name] = rec[i]
			}
		}
		out = append(out, row)
	}
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Selected keeps the rows chosen for a campaign. When the selection
// column is present it decides; otherwise a row is selected when its
// address looks deliverable.
func Selected(rows []domain.Recipient, emailColumn string) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(rows))
	for _, r := range rows {
		if isSelected(r, emailColumn) {
			out = append(out, r)
		}
	}
	return out
}

func isSelected(r domain.Recipient, emailColumn string) bool {
	if v, ok := r.Lookup(SelectedColumn); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	}
	email, ok := r.Email(emailColumn)
	if !ok || email == "" || placeholders[strings.ToLower(email)] {
		return false
	}
	return strings.Contains(email, "@")
}
