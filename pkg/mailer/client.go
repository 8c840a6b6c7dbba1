package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Client delivers composed messages.
type Client interface {
	// Send composes m and submits it. Transient relay failures are retried.
	Send(ctx context.Context, m Message) error
}

// Security selects how the SMTP connection is protected.
type Security int

const (
	// StartTLS upgrades a plain connection (port 587).
	StartTLS Security = iota
	// ImplicitTLS dials TLS directly (port 465).
	ImplicitTLS
	// Plain sends without TLS. Only for local relays and tests.
	Plain
)

// Option configures the SMTP client.
type Option func(*smtpClient)

// WithSecurity sets the connection security mode.
func WithSecurity(s Security) Option {
	return func(c *smtpClient) {
		c.security = s
	}
}

// WithTimeout bounds the dial and each SMTP command.
func WithTimeout(d time.Duration) Option {
	return func(c *smtpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *smtpClient) {
		c.retry = cfg
	}
}

// WithTLSConfig sets a custom TLS configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *smtpClient) {
		c.tlsConfig = cfg
	}
}

type smtpClient struct {
	host      string
	port      int
	username  string
	password  string
	security  Security
	timeout   time.Duration
	retry     resilience.RetryConfig
	tlsConfig *tls.Config
}

// NewClient creates an SMTP client that authenticates with PLAIN using
// username and password. Each Send opens its own session.
func NewClient(host string, port int, username, password string, opts ...Option) Client {
	c := &smtpClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  30 * time.Second,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tlsConfig == nil {
		c.tlsConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	c.retry.ShouldRetry = resilience.IsTransient
	c.retry.OnRetry = resilience.RetryLogger("mailer", "smtp send")
	return c
}

func (c *smtpClient) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

func (c *smtpClient) Send(ctx context.Context, m Message) error {
	raw, err := Bytes(m)
	if err != nil {
		return err
	}
	rcpts := m.Recipients()
	from, err := envelopeAddress(m.From)
	if err != nil {
		return err
	}

	err = resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.deliver(ctx, from, rcpts, raw)
	})
	if err != nil {
		return eris.Wrapf(err, "mailer: send to %v", rcpts)
	}
	zap.L().Debug("mailer: message sent", zap.Strings("recipients", rcpts), zap.Int("bytes", len(raw)))
	return nil
}

// ErrOutcomeUnknown reports that the connection failed after the message
// body was terminated, so the relay may already have queued it. Such
// failures are never retried.
var ErrOutcomeUnknown = eris.New("mailer: delivery outcome unknown")

// deliver runs one SMTP session. Relay 4xx replies come back as
// resilience.TransientError.
func (c *smtpClient) deliver(ctx context.Context, from string, rcpts []string, raw []byte) error {
	sc, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer sc.Close() //nolint:errcheck
	stop := context.AfterFunc(ctx, func() { _ = sc.Close() })
	defer stop()

	fail := func(err error, op string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(err, op)
	}

	if c.username != "" {
		if err := sc.Auth(sasl.NewPlainClient("", c.username, c.password)); err != nil {
			return fail(err, "auth")
		}
	}
	if err := sc.Mail(from, nil); err != nil {
		return fail(err, "mail from")
	}
	for _, rcpt := range rcpts {
		if err := sc.Rcpt(rcpt, nil); err != nil {
			return fail(err, "rcpt to")
		}
	}
	w, err := sc.Data()
	if err != nil {
		return fail(err, "data")
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fail(err, "data")
	}
	if err := w.Close(); err != nil {
		var se *smtp.SMTPError
		if errors.As(err, &se) {
			return classify(err, "data")
		}
		zap.L().Warn("mailer: connection lost after end of data",
			zap.Strings("recipients", rcpts), zap.Error(err))
		return eris.Wrap(ErrOutcomeUnknown, "mailer: data")
	}
	if err := sc.Quit(); err != nil {
		zap.L().Debug("mailer: quit", zap.Error(err))
	}
	return nil
}

func (c *smtpClient) dial(ctx context.Context) (*smtp.Client, error) {
	d := &net.Dialer{Timeout: c.timeout}
	var (
		conn net.Conn
		err  error
	)
	if c.security == ImplicitTLS {
		td := &tls.Dialer{NetDialer: d, Config: c.tlsConfig}
		conn, err = td.DialContext(ctx, "tcp", c.addr())
	} else {
		conn, err = d.DialContext(ctx, "tcp", c.addr())
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "mailer: dial %s", c.addr()), 0)
	}

	var sc *smtp.Client
	if c.security == StartTLS {
		sc, err = smtp.NewClientStartTLS(conn, c.tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, classify(err, "starttls")
		}
	} else {
		sc = smtp.NewClient(conn)
	}
	sc.CommandTimeout = c.timeout
	sc.SubmissionTimeout = c.timeout
	return sc, nil
}

// classify wraps err, marking 4xx replies and network blips as transient.
func classify(err error, op string) error {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		wrapped := eris.Wrapf(err, "mailer: %s: %d", op, se.Code)
		if resilience.IsTransientSMTPCode(se.Code) {
			return resilience.NewTransientError(wrapped, se.Code)
		}
		return wrapped
	}
	wrapped := eris.Wrapf(err, "mailer: %s", op)
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}

func envelopeAddress(raw string) (string, error) {
	addrs, err := parseList([]string{raw})
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", eris.New("mailer: message has no sender")
	}
	return addrs[0].Address, nil
}
