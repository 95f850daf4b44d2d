package domain

import (
	"fmt"
	"time"
)

// ProviderType identifies the delivery mechanism used for a campaign run.
type ProviderType string

const (
	ProviderSMTP     ProviderType = "smtp"
	ProviderSendGrid ProviderType = "sendgrid"
	ProviderMailgun  ProviderType = "mailgun"
	ProviderSES      ProviderType = "ses"
)

// Valid reports whether t is one of the supported provider variants.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderSMTP, ProviderSendGrid, ProviderMailgun, ProviderSES:
		return true
	}
	return false
}

// SMTPSecurity selects how the SMTP connection is secured.
type SMTPSecurity string

const (
	SMTPStartTLS SMTPSecurity = "starttls"
	SMTPSSL      SMTPSecurity = "ssl"
	SMTPNone     SMTPSecurity = "none"
)

// SMTPSettings holds direct-SMTP credentials.
type SMTPSettings struct {
	Host     string       `json:"host" yaml:"host"`
	Port     int          `json:"port" yaml:"port"`
	Username string       `json:"username" yaml:"username"`
	Password string       `json:"-" yaml:"password"`
	Security SMTPSecurity `json:"security" yaml:"security"`
	// Insecure skips certificate verification. Only for private relays.
	Insecure bool `json:"insecure" yaml:"insecure"`
}

// SendGridSettings holds SendGrid v3 API credentials.
type SendGridSettings struct {
	APIKey  string `json:"-" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// MailgunSettings holds Mailgun Messages API credentials.
type MailgunSettings struct {
	APIKey  string `json:"-" yaml:"api_key"`
	Domain  string `json:"domain" yaml:"domain"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// SESSettings holds AWS SES v2 credentials. Empty keys fall back to the
// default AWS credential chain.
type SESSettings struct {
	Region           string `json:"region" yaml:"region"`
	AccessKey        string `json:"-" yaml:"access_key"`
	SecretKey        string `json:"-" yaml:"secret_key"`
	ConfigurationSet string `json:"configuration_set" yaml:"configuration_set"`
}

// ProviderConfig selects exactly one provider variant for a campaign run,
// together with the sender identity. It is immutable for the duration of
// a run.
type ProviderConfig struct {
	Type      ProviderType  `json:"type" yaml:"type"`
	FromEmail string        `json:"from_email" yaml:"from_email"`
	FromName  string        `json:"from_name" yaml:"from_name"`
	ReplyTo   string        `json:"reply_to" yaml:"reply_to"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`

	SMTP     SMTPSettings     `json:"smtp" yaml:"smtp"`
	SendGrid SendGridSettings `json:"sendgrid" yaml:"sendgrid"`
	Mailgun  MailgunSettings  `json:"mailgun" yaml:"mailgun"`
	SES      SESSettings      `json:"ses" yaml:"ses"`
}

// Validate checks that the selected variant carries the fields it needs.
func (c ProviderConfig) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("unsupported provider %q", c.Type)
	}
	if c.FromEmail == "" {
		return fmt.Errorf("from_email is required")
	}
	switch c.Type {
	case ProviderSMTP:
		if c.SMTP.Host == "" || c.SMTP.Port == 0 {
			return fmt.Errorf("smtp host and port are required")
		}
	case ProviderSendGrid:
		if c.SendGrid.APIKey == "" {
			return fmt.Errorf("sendgrid api_key is required")
		}
	case ProviderMailgun:
		if c.Mailgun.APIKey == "" || c.Mailgun.Domain == "" {
			return fmt.Errorf("mailgun api_key and domain are required")
		}
	case ProviderSES:
		if c.SES.Region == "" {
			return fmt.Errorf("ses region is required")
		}
	}
	return nil
}

// EmailMessage is the fully-resolved message ready for a provider.
// By the time a message reaches this struct, all template substitution
// and header generation is complete.
type EmailMessage struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	RecipientID string            `json:"recipient_id"`
	To          string            `json:"to"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// DeliveryAck is returned by a provider after it accepted a message.
type DeliveryAck struct {
	Provider   ProviderType `json:"provider"`
	MessageID  string       `json:"message_id"`
	AcceptedAt time.Time    `json:"accepted_at"`
}
