package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// SMTPProvider delivers through a direct SMTP submission server.
type SMTPProvider struct {
	settings domain.SMTPSettings
	sender
	timeout time.Duration
	now     func() time.Time
}

// NewSMTP creates an SMTP provider. Presets are resolved by the caller.
func NewSMTP(cfg domain.ProviderConfig) *SMTPProvider {
	s := cfg.SMTP
	if s.Security == "" {
		s.Security = domain.SMTPStartTLS
	}
	return &SMTPProvider{
		settings: s,
		sender:   senderOf(cfg),
		timeout:  timeoutOf(cfg),
		now:      time.Now,
	}
}

// Name implements Provider.
func (p *SMTPProvider) Name() domain.ProviderType { return domain.ProviderSMTP }

// Deliver runs one SMTP transaction: connect, secure, authenticate,
// MAIL/RCPT/DATA, QUIT. The connection is closed on every path.
func (p *SMTPProvider) Deliver(ctx context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	if err := checkMessage(domain.ProviderSMTP, msg); err != nil {
		return nil, err
	}
	fromEmail, fromName, replyTo := p.resolve(msg)
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(fromEmail))

	raw, err := mimeMessage{
		From:      mail.Address{Name: fromName, Address: fromEmail},
		To:        msg.To,
		ReplyTo:   replyTo,
		Subject:   msg.Subject,
		MessageID: messageID,
		Date:      p.now(),
		Text:      msg.TextContent,
		HTML:      msg.HTMLContent,
		Headers:   msg.Headers,
	}.build()
	if err != nil {
		return nil, newError(domain.ProviderSMTP, KindRequest, fmt.Errorf("build message: %w", err))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	s, err := p.open(ctx, attemptCtx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	c := s.client
	if err := c.Mail(fromEmail); err != nil {
		return nil, p.replyError(ctx, "MAIL FROM", err, true)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return nil, p.replyError(ctx, "RCPT TO", err, true)
	}
	w, err := c.Data()
	if err != nil {
		return nil, p.replyError(ctx, "DATA", err, true)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, p.replyError(ctx, "write body", err, false)
	}
	if err := w.Close(); err != nil {
		return nil, p.replyError(ctx, "end of data", err, false)
	}
	if err := c.Quit(); err != nil {
		// The message was already accepted by the 250 after DATA.
		logger.Warn("[SMTP] QUIT failed after accepted message", "error", err)
	}

	logger.Debug("[SMTP] Sent", "to", msg.To, "message_id", messageID)
	return &domain.DeliveryAck{
		Provider:   domain.ProviderSMTP,
		MessageID:  messageID,
		AcceptedAt: p.now(),
	}, nil
}

// Verify connects, negotiates security and authenticates without sending.
func (p *SMTPProvider) Verify(ctx context.Context) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	s, err := p.open(ctx, attemptCtx)
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.client.Quit(); err != nil {
		return p.replyError(ctx, "QUIT", err, true)
	}
	return nil
}

type smtpSession struct {
	client *smtp.Client
	stop   func() bool
}

func (s *smtpSession) close() {
	s.stop()
	s.client.Close()
}

// open dials the server and leaves the session ready for MAIL FROM.
func (p *SMTPProvider) open(parent, attemptCtx context.Context) (*smtpSession, error) {
	host := p.settings.Host
	addr := net.JoinHostPort(host, strconv.Itoa(p.settings.Port))
	tlsCfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: p.settings.Insecure,
		MinVersion:         tls.VersionTLS12,
	}

	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if p.settings.Security == domain.SMTPSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(attemptCtx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(attemptCtx, "tcp", addr)
	}
	if err != nil {
		return nil, transportError(parent, domain.ProviderSMTP, fmt.Errorf("connect %s: %w", addr, err))
	}
	if deadline, ok := attemptCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock pending reads and writes as soon as the attempt is cancelled.
	stop := context.AfterFunc(attemptCtx, func() {
		_ = conn.SetDeadline(time.Now())
	})

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		stop()
		conn.Close()
		return nil, p.replyError(parent, "greeting", err, true)
	}
	s := &smtpSession{client: c, stop: stop}

	if p.settings.Security == domain.SMTPStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			s.close()
			return nil, newError(domain.ProviderSMTP, KindConnection, fmt.Errorf("%s does not advertise STARTTLS", addr))
		}
		if err := c.StartTLS(tlsCfg); err != nil {
			s.close()
			return nil, p.replyError(parent, "STARTTLS", err, true)
		}
	}

	if p.settings.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			s.close()
			return nil, newError(domain.ProviderSMTP, KindAuth, fmt.Errorf("%s does not support AUTH", addr))
		}
		auth := smtp.PlainAuth("", p.settings.Username, p.settings.Password, host)
		if err := c.Auth(auth); err != nil {
			s.close()
			if parent.Err() != nil {
				return nil, fmt.Errorf("%s: %w", domain.ProviderSMTP, parent.Err())
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, newError(domain.ProviderSMTP, KindTimeout, err)
			}
			return nil, newError(domain.ProviderSMTP, KindAuth, err)
		}
	}
	return s, nil
}

// replyError classifies a failure during the SMTP dialogue. 4xx replies
// are temporary, 5xx permanent. An I/O failure is only retryable while
// the message body has not been handed over.
func (p *SMTPProvider) replyError(parent context.Context, stage string, err error, beforeBody bool) error {
	var te *textproto.Error
	if errors.As(err, &te) {
		kind := KindSend
		if te.Code >= 400 && te.Code < 500 {
			kind = KindRateLimit
		}
		return &DeliveryError{
			Kind:       kind,
			Provider:   domain.ProviderSMTP,
			StatusCode: te.Code,
			Err:        fmt.Errorf("%s: %w", stage, err),
		}
	}
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", domain.ProviderSMTP, parent.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(domain.ProviderSMTP, KindTimeout, fmt.Errorf("%s: %w", stage, err))
	}
	if beforeBody {
		return newError(domain.ProviderSMTP, KindConnection, fmt.Errorf("%s: %w", stage, err))
	}
	return newError(domain.ProviderSMTP, KindSend, fmt.Errorf("%s: %w", stage, err))
}
