package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

const mailgunBaseURL = "https://api.mailgun.net/v3"

// MailgunProvider sends emails via the Mailgun Messages API.
type MailgunProvider struct {
	apiKey  string
	domain  string
	baseURL string
	sender
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
}

// NewMailgun creates a Mailgun provider targeting the configured domain.
func NewMailgun(cfg domain.ProviderConfig, client *http.Client) *MailgunProvider {
	if client == nil {
		client = &http.Client{}
	}
	base := strings.TrimRight(cfg.Mailgun.BaseURL, "/")
	if base == "" {
		base = mailgunBaseURL
	}
	return &MailgunProvider{
		apiKey:  cfg.Mailgun.APIKey,
		domain:  cfg.Mailgun.Domain,
		baseURL: base,
		sender:  senderOf(cfg),
		timeout: timeoutOf(cfg),
		client:  client,
		now:     time.Now,
	}
}

// Name implements Provider.
func (s *MailgunProvider) Name() domain.ProviderType { return domain.ProviderMailgun }

// Deliver sends a single message through Mailgun.
func (s *MailgunProvider) Deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	if err := checkMessage(domain.ProviderMailgun, msg); err != nil {
		return nil, err
	}
	if s.apiKey == "" || s.domain == "" {
		return nil, newError(domain.ProviderMailgun, KindAuth, ErrNotConfigured)
	}
	fromEmail, fromName, replyTo := s.resolve(msg)

	form := url.Values{}
	form.Add("from", (&mail.Address{Name: fromName, Address: fromEmail}).String())
	form.Add("to", msg.To)
	form.Add("subject", msg.Subject)
	if msg.HTMLContent != "" {
		form.Add("html", msg.HTMLContent)
	}
	if msg.TextContent != "" || msg.HTMLContent == "" {
		form.Add("text", msg.TextContent)
	}
	if replyTo != "" {
		form.Add("h:Reply-To", replyTo)
	}
	for k, v := range msg.Headers {
		form.Add("h:"+k, v)
	}
	form.Add("v:campaign_id", msg.CampaignID)
	form.Add("v:recipient_id", msg.RecipientID)

	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.domain)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newError(domain.ProviderMailgun, KindRequest, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, domain.ProviderMailgun, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 300 {
		return nil, statusError(domain.ProviderMailgun, resp.StatusCode, body, resp.Header.Get("Retry-After"))
	}

	var result struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		logger.Warn("[Mailgun] Unparseable response body", "error", err)
	}
	messageID := strings.Trim(result.ID, "<>")

	logger.Debug("[Mailgun] Sent", "to", msg.To, "message_id", messageID)
	return &domain.DeliveryAck{
		Provider:   domain.ProviderMailgun,
		MessageID:  messageID,
		AcceptedAt: s.now(),
	}, nil
}

// Verify checks the configuration locally.
func (s *MailgunProvider) Verify(ctx context.Context) error {
	if s.apiKey == "" || s.domain == "" {
		return newError(domain.ProviderMailgun, KindAuth, ErrNotConfigured)
	}
	if s.fromEmail == "" {
		return newError(domain.ProviderMailgun, KindRequest, fmt.Errorf("from address is empty"))
	}
	return ctx.Err()
}
