package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned while the SMTP breaker is open
var ErrUnavailable = errors.New("mail transport unavailable")

// Transport delivers a rendered message
type Transport interface {
	Send(ctx context.Context, m *Message) error
}

// SMTPConfig holds the relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// Addr is host:port
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SMTPTransport sends over SMTP with STARTTLS and PLAIN auth, behind a
// circuit breaker
type SMTPTransport struct {
	cfg     SMTPConfig
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewSMTPTransport builds a transport for cfg. The breaker opens after five
// consecutive failures and probes again after a minute.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Mail circuit breaker state changed")
		},
	}
	return &SMTPTransport{cfg: cfg, breaker: gobreaker.NewCircuitBreaker[struct{}](st)}
}

// Send delivers m
func (t *SMTPTransport) Send(ctx context.Context, m *Message) error {
	raw, err := m.Bytes(time.Now())
	if err != nil {
		return err
	}
	_, err = t.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, t.deliver(ctx, m.From, m.To, raw)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (t *SMTPTransport) deliver(ctx context.Context, from string, to []string, raw []byte) error {
	c, err := t.Dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(envelopeAddr(from)); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(envelopeAddr(rcpt)); err != nil {
			return fmt.Errorf("smtp RCPT %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA close: %w", err)
	}
	return c.Quit()
}

// Dial connects, upgrades with STARTTLS and authenticates. The caller owns
// the returned client.
func (t *SMTPTransport) Dial(ctx context.Context) (*smtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("smtp connect %s: %w", t.cfg.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline.Add(t.cfg.Timeout))
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp greeting: %w", err)
	}
	if err := c.Hello("localhost"); err != nil {
		c.Close()
		return nil, fmt.Errorf("smtp EHLO: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		c.Close()
		return nil, fmt.Errorf("smtp server %s does not offer STARTTLS", t.cfg.Host)
	}
	if err := c.StartTLS(&tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
		c.Close()
		return nil, fmt.Errorf("smtp STARTTLS: %w", err)
	}
	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp AUTH: %w", err)
		}
	}
	return c, nil
}

func envelopeAddr(addr string) string {
	if a, err := parseAddress(addr); err == nil {
		return a
	}
	return addr
}

// ConsoleTransport logs messages instead of sending them
type ConsoleTransport struct{}

// Send logs m at info level
func (ConsoleTransport) Send(_ context.Context, m *Message) error {
	log.Info().
		Str("from", m.From).
		Strs("to", m.To).
		Str("subject", m.Subject).
		Str("body", m.Text).
		Msg("Email (console transport)")
	return nil
}

// RecordingTransport keeps sent messages in memory
type RecordingTransport struct {
	mu   sync.Mutex
	sent []*Message
	Err  error
}

// Send records m, or returns Err when set
func (r *RecordingTransport) Send(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, m)
	return nil
}

// Sent returns the recorded messages
func (r *RecordingTransport) Sent() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Message(nil), r.sent...)
}
