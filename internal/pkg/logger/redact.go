package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
// A display-name form keeps the name: "Jo <john@x.com>" → "Jo <jo***@x.com>".
func RedactEmail(email string) string {
	if open := strings.LastIndex(email, "<"); open >= 0 && strings.HasSuffix(email, ">") {
		return email[:open+1] + RedactEmail(email[open+1:len(email)-1]) + ">"
	}
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
