package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// smtpPresets are the submission endpoints of common mailbox providers.
var smtpPresets = map[string]domain.SMTPSettings{
	"gmail":     {Host: "smtp.gmail.com", Port: 587, Security: domain.SMTPStartTLS},
	"outlook":   {Host: "smtp-mail.outlook.com", Port: 587, Security: domain.SMTPStartTLS},
	"office365": {Host: "smtp.office365.com", Port: 587, Security: domain.SMTPStartTLS},
	"yahoo":     {Host: "smtp.mail.yahoo.com", Port: 587, Security: domain.SMTPStartTLS},
}

// SMTPPresets lists the known preset names.
func SMTPPresets() []string {
	names := make([]string, 0, len(smtpPresets))
	for name := range smtpPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplySMTPPreset fills host, port and security from the named preset
// where s leaves them empty. Credentials are never touched.
func ApplySMTPPreset(name string, s domain.SMTPSettings) (domain.SMTPSettings, error) {
	preset, ok := smtpPresets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return s, fmt.Errorf("unknown smtp preset %q", name)
	}
	if s.Host == "" {
		s.Host = preset.Host
	}
	if s.Port == 0 {
		s.Port = preset.Port
	}
	if s.Security == "" {
		s.Security = preset.Security
	}
	return s, nil
}
