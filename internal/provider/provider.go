package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// DefaultTimeout bounds a single delivery attempt when the configuration
// does not set one.
const DefaultTimeout = 30 * time.Second

// Provider sends one message per call. Implementations make exactly one
// attempt and report failures as *DeliveryError.
type Provider interface {
	Name() domain.ProviderType
	Deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error)
}

// Verifier is implemented by providers that can check their configuration
// without sending a message.
type Verifier interface {
	Verify(ctx context.Context) error
}

// New builds the provider variant selected by cfg.Type.
func New(ctx context.Context, cfg domain.ProviderConfig) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	switch cfg.Type {
	case domain.ProviderSMTP:
		return NewSMTP(cfg), nil
	case domain.ProviderSendGrid:
		return NewSendGrid(cfg, nil), nil
	case domain.ProviderMailgun:
		return NewMailgun(cfg, nil), nil
	case domain.ProviderSES:
		return NewSES(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: unsupported provider %q", ErrNotConfigured, cfg.Type)
}

// Verify checks that p is usable. Providers without a Verify method are
// assumed valid once constructed.
func Verify(ctx context.Context, p Provider) error {
	if v, ok := p.(Verifier); ok {
		return v.Verify(ctx)
	}
	return nil
}

func timeoutOf(cfg domain.ProviderConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return DefaultTimeout
}

// sender carries the identity shared by every variant.
type sender struct {
	fromEmail string
	fromName  string
	replyTo   string
}

func senderOf(cfg domain.ProviderConfig) sender {
	return sender{fromEmail: cfg.FromEmail, fromName: cfg.FromName, replyTo: cfg.ReplyTo}
}

// resolve fills the sender identity on msg where the message leaves it empty.
func (s sender) resolve(msg *domain.EmailMessage) (fromEmail, fromName, replyTo string) {
	fromEmail, fromName, replyTo = msg.FromEmail, msg.FromName, msg.ReplyTo
	if fromEmail == "" {
		fromEmail = s.fromEmail
	}
	if fromName == "" {
		fromName = s.fromName
	}
	if replyTo == "" {
		replyTo = s.replyTo
	}
	return fromEmail, fromName, replyTo
}

func checkMessage(p domain.ProviderType, msg *domain.EmailMessage) error {
	if msg == nil {
		return newError(p, KindRequest, fmt.Errorf("nil message"))
	}
	if msg.To == "" {
		return newError(p, KindRequest, fmt.Errorf("message has no recipient"))
	}
	return nil
}
