package domain

import "strings"

// DefaultEmailColumn is the column consulted first for a recipient address.
const DefaultEmailColumn = "email"

// emailColumnAliases are tried, case-insensitively, when the configured
// column is absent from a row.
var emailColumnAliases = []string{"email", "email_address", "e-mail", "mail"}

// Recipient is one row of business-contact data: column name to value.
type Recipient map[string]string

// Lookup returns the value of column name, matching exactly first and then
// case-insensitively.
func (r Recipient) Lookup(name string) (string, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Email resolves the recipient address from column, falling back to the
// common aliases. The returned value is trimmed.
func (r Recipient) Email(column string) (string, bool) {
	if column == "" {
		column = DefaultEmailColumn
	}
	if v, ok := r.Lookup(column); ok {
		return strings.TrimSpace(v), true
	}
	for _, alias := range emailColumnAliases {
		if v, ok := r.Lookup(alias); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Merge returns a new Recipient holding base overlaid with r. Values in r
// win over base.
func (r Recipient) Merge(base map[string]string) Recipient {
	out := make(Recipient, len(base)+len(r))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range r {
		out[k] = v
	}
	return out
}
