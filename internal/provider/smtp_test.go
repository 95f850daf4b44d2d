package provider

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// miniSMTPServer is a minimal SMTP server for testing. replies overrides
// the default answer for a command prefix.
type miniSMTPServer struct {
	listener net.Listener
	replies  map[string]string
	ehlo     string
	silent   bool

	mu       sync.Mutex
	messages []string
	closed   atomic.Int32
}

func startMiniSMTPServer(t *testing.T, opts ...func(*miniSMTPServer)) *miniSMTPServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start SMTP server")

	s := &miniSMTPServer{
		listener: listener,
		replies:  map[string]string{},
		ehlo:     "250-localhost\r\n250-SIZE 10240000\r\n250 HELP\r\n",
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.serve()
	t.Cleanup(func() { s.listener.Close() })
	return s
}

func (s *miniSMTPServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *miniSMTPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			defer func() {
				conn.Close()
				s.closed.Add(1)
			}()
			s.handle(conn)
		}()
	}
}

func (s *miniSMTPServer) reply(w *bufio.Writer, cmd, def string) {
	for prefix, r := range s.replies {
		if strings.HasPrefix(cmd, prefix) {
			def = r
			break
		}
	}
	w.WriteString(def)
	w.Flush()
}

func (s *miniSMTPServer) handle(conn net.Conn) {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	if s.silent {
		// Never greet; wait for the client to give up.
		_, _ = reader.ReadString('\n')
		return
	}
	writer.WriteString("220 localhost ESMTP Test Server\r\n")
	writer.Flush()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "EHLO") || strings.HasPrefix(line, "HELO"):
			s.reply(writer, line, s.ehlo)
		case strings.HasPrefix(line, "AUTH"):
			s.reply(writer, line, "235 Authentication successful\r\n")
		case strings.HasPrefix(line, "MAIL FROM:"), strings.HasPrefix(line, "RCPT TO:"):
			s.reply(writer, line, "250 OK\r\n")
		case line == "DATA":
			s.reply(writer, line, "354 End data with <CR><LF>.<CR><LF>\r\n")
			var msg strings.Builder
			for {
				text, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(text, "\r\n") == "." {
					break
				}
				msg.WriteString(text)
			}
			s.mu.Lock()
			s.messages = append(s.messages, msg.String())
			s.mu.Unlock()
			s.reply(writer, "END", "250 OK queued\r\n")
		case line == "QUIT":
			writer.WriteString("221 localhost closing connection\r\n")
			writer.Flush()
			return
		default:
			writer.WriteString("500 Syntax error\r\n")
			writer.Flush()
		}
	}
}

func (s *miniSMTPServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func smtpConfig(port int) domain.ProviderConfig {
	return domain.ProviderConfig{
		Type:      domain.ProviderSMTP,
		FromEmail: "sender@example.com",
		FromName:  "Sender",
		Timeout:   2 * time.Second,
		SMTP: domain.SMTPSettings{
			Host:     "127.0.0.1",
			Port:     port,
			Security: domain.SMTPNone,
		},
	}
}

func testMessage() *domain.EmailMessage {
	return &domain.EmailMessage{
		ID:          "msg-1",
		CampaignID:  "camp-1",
		RecipientID: "r-1",
		To:          "recipient@example.com",
		Subject:     "Hello Acme",
		HTMLContent: "<p>Hi Acme</p>",
		TextContent: "Hi Acme",
		Headers:     map[string]string{"X-Campaign-ID": "camp-1"},
	}
}

func TestSMTPProvider_Deliver_Success(t *testing.T) {
	server := startMiniSMTPServer(t)
	p := NewSMTP(smtpConfig(server.port()))

	ack, err := p.Deliver(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderSMTP, ack.Provider)
	assert.True(t, strings.HasSuffix(ack.MessageID, "@example.com>"))

	msgs := server.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Subject: Hello Acme")
	assert.Contains(t, msgs[0], "To: recipient@example.com")
	assert.Contains(t, msgs[0], "From: \"Sender\" <sender@example.com>")
	assert.Contains(t, msgs[0], "X-Campaign-Id: camp-1")
	assert.Contains(t, msgs[0], "multipart/alternative")
	assert.Contains(t, msgs[0], "Message-ID: "+ack.MessageID)
}

func TestSMTPProvider_Deliver_RejectedRecipient(t *testing.T) {
	server := startMiniSMTPServer(t, func(s *miniSMTPServer) {
		s.replies["RCPT TO:"] = "550 5.1.1 User unknown\r\n"
	})
	p := NewSMTP(smtpConfig(server.port()))

	_, err := p.Deliver(context.Background(), testMessage())
	require.Error(t, err)

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindSend, de.Kind)
	assert.Equal(t, 550, de.StatusCode)
	assert.False(t, de.Transient())
	assert.Empty(t, server.received())

	// The connection is released even though the transaction failed.
	assert.Eventually(t, func() bool { return server.closed.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSMTPProvider_Deliver_TemporaryFailure(t *testing.T) {
	server := startMiniSMTPServer(t, func(s *miniSMTPServer) {
		s.replies["MAIL FROM:"] = "451 4.7.1 Try again later\r\n"
	})
	p := NewSMTP(smtpConfig(server.port()))

	_, err := p.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, IsTransient(err))
}

func TestSMTPProvider_Deliver_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	p := NewSMTP(smtpConfig(port))
	_, err = p.Deliver(context.Background(), testMessage())
	require.Error(t, err)

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindConnection, de.Kind)
	assert.True(t, de.Transient())
}

func TestSMTPProvider_Deliver_Timeout(t *testing.T) {
	server := startMiniSMTPServer(t, func(s *miniSMTPServer) { s.silent = true })
	cfg := smtpConfig(server.port())
	cfg.Timeout = 100 * time.Millisecond
	p := NewSMTP(cfg)

	start := time.Now()
	_, err := p.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSMTPProvider_Deliver_CancelledContext(t *testing.T) {
	server := startMiniSMTPServer(t, func(s *miniSMTPServer) { s.silent = true })
	p := NewSMTP(smtpConfig(server.port()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := p.Deliver(ctx, testMessage())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestSMTPProvider_StartTLSRequired(t *testing.T) {
	server := startMiniSMTPServer(t)
	cfg := smtpConfig(server.port())
	cfg.SMTP.Security = domain.SMTPStartTLS
	p := NewSMTP(cfg)

	_, err := p.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindConnection, de.Kind)
	assert.Contains(t, err.Error(), "STARTTLS")
}

func TestSMTPProvider_AuthRejected(t *testing.T) {
	server := startMiniSMTPServer(t, func(s *miniSMTPServer) {
		s.ehlo = "250-localhost\r\n250-AUTH PLAIN LOGIN\r\n250 HELP\r\n"
		s.replies["AUTH"] = "535 5.7.8 Authentication credentials invalid\r\n"
	})
	cfg := smtpConfig(server.port())
	cfg.SMTP.Username = "user"
	cfg.SMTP.Password = "wrong"
	p := NewSMTP(cfg)

	_, err := p.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.False(t, IsTransient(err))
	assert.Empty(t, server.received())
}

func TestSMTPProvider_Verify(t *testing.T) {
	server := startMiniSMTPServer(t, func(s *miniSMTPServer) {
		s.ehlo = "250-localhost\r\n250-AUTH PLAIN\r\n250 HELP\r\n"
	})
	cfg := smtpConfig(server.port())
	cfg.SMTP.Username = "user"
	cfg.SMTP.Password = "secret"

	require.NoError(t, Verify(context.Background(), NewSMTP(cfg)))
	assert.Empty(t, server.received())
}

func TestSMTPProvider_Deliver_NoRecipient(t *testing.T) {
	p := NewSMTP(smtpConfig(1))
	msg := testMessage()
	msg.To = ""

	_, err := p.Deliver(context.Background(), msg)
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindRequest, de.Kind)
}
