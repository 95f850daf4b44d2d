package provider

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends emails via AWS SES using the SDK v2.
type SESProvider struct {
	client           SESAPI
	configurationSet string
	sender
	timeout time.Duration
	now     func() time.Time
}

// NewSES loads AWS configuration for the configured region. Static keys
// are used when both are set, otherwise the default credential chain.
// SDK-level retries are disabled: one Deliver is one attempt.
func NewSES(ctx context.Context, cfg domain.ProviderConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.SES.Region)}
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SES.AccessKey, cfg.SES.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.Retryer = aws.NopRetryer{}
	})
	return NewSESWithClient(cfg, client), nil
}

// NewSESWithClient wraps an existing SES client.
func NewSESWithClient(cfg domain.ProviderConfig, client SESAPI) *SESProvider {
	return &SESProvider{
		client:           client,
		configurationSet: cfg.SES.ConfigurationSet,
		sender:           senderOf(cfg),
		timeout:          timeoutOf(cfg),
		now:              time.Now,
	}
}

// Name implements Provider.
func (s *SESProvider) Name() domain.ProviderType { return domain.ProviderSES }

// Deliver sends a single message through SES.
func (s *SESProvider) Deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	if err := checkMessage(domain.ProviderSES, msg); err != nil {
		return nil, err
	}
	if s.client == nil {
		return nil, newError(domain.ProviderSES, KindAuth, ErrNotConfigured)
	}
	fromEmail, fromName, replyTo := s.resolve(msg)

	body := &types.Body{}
	if msg.HTMLContent != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")}
	}
	if msg.TextContent != "" || msg.HTMLContent == "" {
		body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String((&mail.Address{Name: fromName, Address: fromEmail}).String()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(tagValue(msg.CampaignID))},
		},
	}
	if replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.client.SendEmail(attemptCtx, input)
	if err != nil {
		return nil, sesError(ctx, err)
	}

	messageID := aws.ToString(result.MessageId)
	logger.Debug("[SES] Sent", "to", msg.To, "message_id", messageID)
	return &domain.DeliveryAck{
		Provider:   domain.ProviderSES,
		MessageID:  messageID,
		AcceptedAt: s.now(),
	}, nil
}

// Verify checks the configuration locally.
func (s *SESProvider) Verify(ctx context.Context) error {
	if s.client == nil {
		return newError(domain.ProviderSES, KindAuth, ErrNotConfigured)
	}
	if s.fromEmail == "" {
		return newError(domain.ProviderSES, KindRequest, fmt.Errorf("from address is empty"))
	}
	return ctx.Err()
}

// sesError classifies an SES failure by its API error code.
func sesError(parent context.Context, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return transportError(parent, domain.ProviderSES, err)
	}
	kind := KindSend
	switch apiErr.ErrorCode() {
	case "Throttling", "ThrottlingException", "TooManyRequestsException", "LimitExceededException":
		kind = KindRateLimit
	case "AccessDenied", "AccessDeniedException", "UnrecognizedClient", "UnrecognizedClientException",
		"InvalidClientTokenId", "SignatureDoesNotMatch", "ExpiredToken", "ExpiredTokenException":
		kind = KindAuth
	case "InternalFailure", "InternalServerError", "ServiceUnavailable", "ServiceUnavailableException":
		kind = KindUnavailable
	case "BadRequestException", "NotFoundException":
		kind = KindRequest
	}
	return &DeliveryError{Kind: kind, Provider: domain.ProviderSES, Err: err}
}

// tagValue keeps SES tag values within the allowed character set.
func tagValue(v string) string {
	if v == "" {
		return "none"
	}
	out := make([]rune, 0, len(v))
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
