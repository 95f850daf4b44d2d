package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

const sendGridBaseURL = "https://api.sendgrid.com/v3"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// SendGridProvider sends emails via the SendGrid v3 Mail Send API.
type SendGridProvider struct {
	apiKey  string
	baseURL string
	sender
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
}

// NewSendGrid creates a SendGrid provider. A nil client uses a default
// http.Client; the per-attempt timeout is applied through the context.
func NewSendGrid(cfg domain.ProviderConfig, client *http.Client) *SendGridProvider {
	if client == nil {
		client = &http.Client{}
	}
	base := strings.TrimRight(cfg.SendGrid.BaseURL, "/")
	if base == "" {
		base = sendGridBaseURL
	}
	return &SendGridProvider{
		apiKey:  cfg.SendGrid.APIKey,
		baseURL: base,
		sender:  senderOf(cfg),
		timeout: timeoutOf(cfg),
		client:  client,
		now:     time.Now,
	}
}

// Name implements Provider.
func (s *SendGridProvider) Name() domain.ProviderType { return domain.ProviderSendGrid }

// Deliver sends a single message through SendGrid.
func (s *SendGridProvider) Deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	if err := checkMessage(domain.ProviderSendGrid, msg); err != nil {
		return nil, err
	}
	if s.apiKey == "" {
		return nil, newError(domain.ProviderSendGrid, KindAuth, ErrNotConfigured)
	}
	fromEmail, fromName, replyTo := s.resolve(msg)

	personalization := map[string]interface{}{
		"to": []map[string]string{{"email": msg.To}},
		"custom_args": map[string]string{
			"campaign_id":  msg.CampaignID,
			"recipient_id": msg.RecipientID,
		},
	}
	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{personalization},
		"from":             map[string]string{"email": fromEmail, "name": fromName},
		"subject":          msg.Subject,
		"content":          sendGridContent(msg),
	}
	if replyTo != "" {
		payload["reply_to"] = map[string]string{"email": replyTo}
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(domain.ProviderSendGrid, KindRequest, fmt.Errorf("marshal: %w", err))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewReader(jsonData))
	if err != nil {
		return nil, newError(domain.ProviderSendGrid, KindRequest, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, domain.ProviderSendGrid, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 300 {
		return nil, statusError(domain.ProviderSendGrid, resp.StatusCode, body, resp.Header.Get("Retry-After"))
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	logger.Debug("[SendGrid] Sent", "to", msg.To, "message_id", messageID)
	return &domain.DeliveryAck{
		Provider:   domain.ProviderSendGrid,
		MessageID:  messageID,
		AcceptedAt: s.now(),
	}, nil
}

// Verify checks the configuration locally.
func (s *SendGridProvider) Verify(ctx context.Context) error {
	if s.apiKey == "" {
		return newError(domain.ProviderSendGrid, KindAuth, ErrNotConfigured)
	}
	if s.fromEmail == "" {
		return newError(domain.ProviderSendGrid, KindRequest, fmt.Errorf("from address is empty"))
	}
	return ctx.Err()
}

// sendGridContent lists text/plain before text/html as the API requires.
func sendGridContent(msg *domain.EmailMessage) []map[string]string {
	var content []map[string]string
	if msg.TextContent != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.TextContent})
	}
	if msg.HTMLContent != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTMLContent})
	}
	if len(content) == 0 {
		content = append(content, map[string]string{"type": "text/plain", "value": " "})
	}
	return content
}
